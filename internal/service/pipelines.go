package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/physicalrisk/apietl/addone/source"
	"github.com/physicalrisk/apietl/internal/archive"
	"github.com/physicalrisk/apietl/internal/config"
	"github.com/physicalrisk/apietl/internal/pipeline"
	"github.com/physicalrisk/apietl/pkg/apiclient"
	"github.com/physicalrisk/apietl/pkg/logger"
)

// httpOverrider 数据源级别的 HTTP 覆盖项
type httpOverrider interface {
	HTTPOverrides() (time.Duration, bool)
}

// sourceRunner 每次运行创建独立的 HTTP 客户端与仓库连接
// 运行开始时取一次配置快照，热加载只影响之后的运行
type sourceRunner struct {
	src       pipeline.Source
	live      *config.Holder
	openStore pipeline.StoreFactory
	archive   archive.StorageWriter
}

// Run 实现 Runner
func (r *sourceRunner) Run(ctx context.Context, sampleLimit int) (*pipeline.Result, error) {
	cfg := r.live.Load()
	opts := apiclient.Options{
		Timeout:            cfg.HTTP.Timeout,
		MaxRetries:         cfg.HTTP.MaxRetries,
		BaseDelay:          cfg.HTTP.BaseDelay,
		UserAgent:          cfg.HTTP.UserAgent,
		InsecureSkipVerify: cfg.HTTP.InsecureSkipVerify,
	}
	if ov, ok := r.src.(httpOverrider); ok {
		timeout, insecure := ov.HTTPOverrides()
		if timeout > 0 {
			opts.Timeout = timeout
		}
		if insecure {
			opts.InsecureSkipVerify = true
		}
	}
	client := apiclient.New(opts)
	defer client.Close()

	driver := pipeline.NewDriver(r.src, client, r.openStore, pipeline.Options{
		MaxPages:    cfg.Pipeline.MaxPages,
		BatchSize:   cfg.Warehouse.BatchSize,
		AutoMigrate: cfg.Warehouse.AutoMigrate,
		RunID:       pipeline.RunIDFrom(ctx),
		Archive:     r.archive,
	})
	return driver.Run(ctx, sampleLimit)
}

// BuildEntries 按注册顺序构造编排列表
// names 为空时包含全部已启用的数据源；显式指定的数据源即使被禁用也会执行
func BuildEntries(cfg *config.Config, names []string, openStore pipeline.StoreFactory) ([]Entry, error) {
	return buildEntries(config.NewHolder(cfg), names, openStore)
}

func buildEntries(live *config.Holder, names []string, openStore pipeline.StoreFactory) ([]Entry, error) {
	cfg := live.Load()
	var regs []source.Registration
	if len(names) == 0 {
		for _, r := range source.All() {
			if !cfg.SourceEnabled(r.Name) {
				logger.WithField("pipeline", r.Name).Info("source disabled by config")
				continue
			}
			regs = append(regs, r)
		}
	} else {
		for _, n := range names {
			r, ok := source.Get(strings.TrimSpace(n))
			if !ok {
				return nil, fmt.Errorf("unknown source %q", n)
			}
			regs = append(regs, r)
		}
	}

	writer := archive.NewStorageWriter(cfg.Archive)
	entries := make([]Entry, 0, len(regs))
	for _, reg := range regs {
		reg := reg
		src, err := reg.Factory(cfg)
		if err != nil {
			// 构造失败也进入编排，以 FAILED 记录
			entries = append(entries, Entry{
				Name:        reg.Name,
				Description: reg.Description,
				Runner: RunnerFunc(func(ctx context.Context, _ int) (*pipeline.Result, error) {
					return nil, fmt.Errorf("build source %s: %w", reg.Name, err)
				}),
			})
			continue
		}
		desc := reg.Description
		if d, ok := src.(pipeline.Describer); ok && d.Description() != "" {
			desc = d.Description()
		}
		entries = append(entries, Entry{
			Name:        reg.Name,
			Description: desc,
			Table:       src.Table(),
			Runner:      &sourceRunner{src: src, live: live, openStore: openStore, archive: writer},
		})
	}
	return entries, nil
}

// NewFromConfig 以配置构造编排器
func NewFromConfig(cfg *config.Config, names []string) (*Orchestrator, error) {
	return NewFromHolder(config.NewHolder(cfg), names)
}

// NewFromHolder 以可热加载的配置构造编排器
// 数据源定义与仓库连接参数在构造时确定，HTTP、分页与批量参数在每次运行开始时读取
func NewFromHolder(live *config.Holder, names []string) (*Orchestrator, error) {
	cfg := live.Load()
	openStore := pipeline.OpenWarehouse(cfg.Warehouse)
	entries, err := buildEntries(live, names, openStore)
	if err != nil {
		return nil, err
	}
	return NewOrchestrator(entries, openStore, ParseFailPolicy(cfg.Orchestrator.FailPolicy), cfg.Log.RunDir), nil
}
