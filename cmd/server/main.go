package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/physicalrisk/apietl/api/handler"
	"github.com/physicalrisk/apietl/api/router"
	"github.com/physicalrisk/apietl/internal/config"
	"github.com/physicalrisk/apietl/internal/database"
	"github.com/physicalrisk/apietl/internal/service"
	"github.com/physicalrisk/apietl/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := logger.Init(cfg.Log.Logger()); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Infof("Starting Public API ETL server %s", router.Version)

	live := config.NewHolder(cfg)
	orch, err := service.NewFromHolder(live, nil)
	if err != nil {
		logger.Fatalf("Failed to build pipelines: %v", err)
	}
	logger.Infof("%d pipelines registered, fail policy %s", len(orch.Entries()), orch.Policy())

	// 定时运行
	scheduler := service.NewScheduler(orch)
	if err := scheduler.Start(cfg.Schedule.Cron, cfg.Schedule.SampleLimit); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}
	defer scheduler.Stop()

	monitor := database.NewMonitor(func() config.WarehouseConfig { return live.Load().Warehouse })
	defer monitor.Close()
	pipelines := handler.NewPipelineHandler(orch, monitor.Check, func() int { return live.Load().Pipeline.SampleLimit })
	r := router.SetupRouter(cfg.Server.Mode, pipelines, handler.NewLogsHandler(orch.Last))

	server := &http.Server{
		Addr:           cfg.GetServerAddr(),
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		logger.Infof("Server listening on %s (mode %s)", server.Addr, cfg.Server.Mode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 配置文件监听与热更新
	go watchConfig(*configPath, live, scheduler)

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	} else {
		logger.Info("Server shutdown complete")
	}
	orch.Shutdown()
}

// watchConfig 配置变更后刷新日志与调度；新配置整体替换，HTTP 与分页参数从下一次运行生效
func watchConfig(path string, live *config.Holder, scheduler *service.Scheduler) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warnf("Config watch init failed: %v", err)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		logger.Warnf("Config watch add failed: %v", err)
		return
	}

	var debounce *time.Timer
	debounceInterval := 300 * time.Millisecond
	trigger := func() {
		newCfg, err := config.Load(path)
		if err != nil {
			logger.Warnf("Config reload failed: %v", err)
			return
		}
		live.Store(newCfg)
		// 进行中运行的日志文件在重新初始化后保留
		if err := logger.Init(newCfg.Log.Logger()); err != nil {
			logger.Warnf("Logger reload failed: %v", err)
		}
		if err := scheduler.Reschedule(newCfg.Schedule.Cron, newCfg.Schedule.SampleLimit); err != nil {
			logger.Warnf("Schedule reload failed: %v", err)
		}
		logger.Info("Config reloaded")
	}
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceInterval, trigger)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("Config watch error: %v", err)
		}
	}
}
