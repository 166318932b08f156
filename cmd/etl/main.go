package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/physicalrisk/apietl/addone/source"
	"github.com/physicalrisk/apietl/internal/config"
	"github.com/physicalrisk/apietl/internal/service"
	"github.com/physicalrisk/apietl/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（默认搜索 ./configs/config.yaml）")
	sources := flag.String("source", "", "逗号分隔的数据源名称，为空时运行全部已启用数据源")
	sampleLimit := flag.Int("sample-limit", -1, "每个数据源的采样上限，0 表示不限制；默认取配置或 SAMPLE_LIMIT")
	list := flag.Bool("list", false, "列出已注册的数据源后退出")
	flag.Parse()

	if *list {
		for _, r := range source.All() {
			fmt.Printf("%-22s %s\n", r.Name, r.Description)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(2)
	}
	if err := logger.Init(cfg.Log.Logger()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(2)
	}

	limit := cfg.Pipeline.SampleLimit
	if *sampleLimit >= 0 {
		limit = *sampleLimit
	}

	var names []string
	for _, n := range strings.Split(*sources, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}

	orch, err := service.NewFromConfig(cfg, names)
	if err != nil {
		logger.Errorf("Failed to build pipelines: %v", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	report := orch.RunAll(ctx, limit)
	stop()

	code := report.ExitCode(orch.Policy())
	if report.LogFile != "" {
		logger.Infof("run log written to %s", report.LogFile)
	}
	os.Exit(code)
}
