package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/physicalrisk/apietl/internal/pipeline"
	"github.com/physicalrisk/apietl/pkg/logger"
)

// Runner 可被编排器执行的流水线
type Runner interface {
	Run(ctx context.Context, sampleLimit int) (*pipeline.Result, error)
}

// RunnerFunc 函数适配器
type RunnerFunc func(ctx context.Context, sampleLimit int) (*pipeline.Result, error)

// Run 实现 Runner
func (f RunnerFunc) Run(ctx context.Context, sampleLimit int) (*pipeline.Result, error) {
	return f(ctx, sampleLimit)
}

// Entry 编排列表中的一项
type Entry struct {
	Name        string
	Description string
	Table       string
	Runner      Runner
}

// FailPolicy 退出码策略
type FailPolicy string

const (
	// FailNever 始终返回 0
	FailNever FailPolicy = "never"
	// FailAny 任一流水线失败即返回 1
	FailAny FailPolicy = "any"
	// FailAll 全部流水线失败才返回 1
	FailAll FailPolicy = "all"
)

// ParseFailPolicy 解析策略，未知值返回 FailAny
func ParseFailPolicy(s string) FailPolicy {
	switch FailPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case FailNever:
		return FailNever
	case FailAll:
		return FailAll
	default:
		return FailAny
	}
}

// TableCount 汇总阶段的表行数
type TableCount struct {
	Table string `json:"table"`
	Count int64  `json:"count"`
	Error string `json:"error,omitempty"`
}

// Report 一次全量运行的报告
type Report struct {
	RunID     string             `json:"run_id"`
	StartedAt time.Time          `json:"started_at"`
	Duration  time.Duration      `json:"duration"`
	Results   []*pipeline.Result `json:"results"`
	Counts    []TableCount       `json:"counts"`
	LogFile   string             `json:"log_file,omitempty"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Skipped   int                `json:"skipped"`
}

// ExitCode 按策略计算进程退出码；SKIPPED 不计为失败
func (r *Report) ExitCode(policy FailPolicy) int {
	if r == nil {
		return 1
	}
	switch policy {
	case FailNever:
		return 0
	case FailAll:
		if r.Failed > 0 && r.Failed == len(r.Results) {
			return 1
		}
		return 0
	default:
		if r.Failed > 0 {
			return 1
		}
		return 0
	}
}

// Orchestrator 顺序执行全部流水线并汇总结果
type Orchestrator struct {
	entries   []Entry
	openStore pipeline.StoreFactory
	policy    FailPolicy
	runDir    string

	// base 为 Trigger 发起的共享运行所用的上下文，只由 Shutdown 取消
	base     context.Context
	shutdown context.CancelFunc

	group   singleflight.Group
	running atomic.Bool
	mu      sync.RWMutex
	last    *Report
}

// NewOrchestrator 创建编排器；openStore 用于汇总阶段统计表行数，可为 nil
func NewOrchestrator(entries []Entry, openStore pipeline.StoreFactory, policy FailPolicy, runDir string) *Orchestrator {
	base, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		entries:   entries,
		openStore: openStore,
		policy:    policy,
		runDir:    runDir,
		base:      base,
		shutdown:  cancel,
	}
}

// Shutdown 取消进行中的共享运行，之后的 Trigger 会立即以取消结束各流水线
func (o *Orchestrator) Shutdown() {
	o.shutdown()
}

// Entries 返回编排列表
func (o *Orchestrator) Entries() []Entry {
	out := make([]Entry, len(o.entries))
	copy(out, o.entries)
	return out
}

// Policy 返回退出码策略
func (o *Orchestrator) Policy() FailPolicy {
	return o.policy
}

// Last 返回最近一次运行的报告
func (o *Orchestrator) Last() *Report {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last
}

// Running 是否有运行进行中
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Trigger 合并并发触发：已有运行进行中时等待并共享其报告
// 运行本身使用编排器的上下文，ctx 只控制本调用方的等待；ctx 结束时返回其错误，运行继续
func (o *Orchestrator) Trigger(ctx context.Context, sampleLimit int) (*Report, bool, error) {
	ch := o.group.DoChan("run-all", func() (interface{}, error) {
		return o.RunAll(o.base, sampleLimit), nil
	})
	select {
	case res := <-ch:
		return res.Val.(*Report), res.Shared, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// RunAll 依次执行全部流水线；单个流水线的错误或 panic 记录为 FAILED，后续照常执行
func (o *Orchestrator) RunAll(ctx context.Context, sampleLimit int) *Report {
	o.running.Store(true)
	defer o.running.Store(false)

	report := &Report{RunID: uuid.NewString(), StartedAt: time.Now()}
	ctx = pipeline.WithRunID(ctx, report.RunID)

	path, detach, err := logger.StartRunFile(o.runDir, "run_all", report.RunID[:8])
	if err != nil {
		logger.Warnf("run log file unavailable: %v", err)
	} else {
		report.LogFile = path
		defer detach()
	}

	log := logger.WithField("run_id", report.RunID)
	log.Infof("run-all started: %d pipelines, sample_limit=%d", len(o.entries), sampleLimit)

	for i, e := range o.entries {
		if ctx.Err() != nil {
			res := &pipeline.Result{Name: e.Name, Description: e.Description, Table: e.Table, Status: pipeline.StatusFailed, Error: ctx.Err().Error()}
			report.Results = append(report.Results, res)
			continue
		}
		log.Infof("[%d/%d] %s: %s", i+1, len(o.entries), e.Name, e.Description)
		res := o.runOne(ctx, e, sampleLimit)
		report.Results = append(report.Results, res)
	}

	for _, res := range report.Results {
		switch res.Status {
		case pipeline.StatusSuccess:
			report.Succeeded++
		case pipeline.StatusSkipped:
			report.Skipped++
		default:
			report.Failed++
		}
	}

	report.Counts = o.countTables(ctx)
	report.Duration = time.Since(report.StartedAt)
	o.logSummary(log, report)

	o.mu.Lock()
	o.last = report
	o.mu.Unlock()
	return report
}

func (o *Orchestrator) runOne(ctx context.Context, e Entry, sampleLimit int) (res *pipeline.Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{"pipeline": e.Name, "stack": string(debug.Stack())}).Errorf("pipeline panicked: %v", r)
			res = &pipeline.Result{Name: e.Name, Description: e.Description, Table: e.Table, StartedAt: start,
				Status: pipeline.StatusFailed, Error: fmt.Sprintf("panic: %v", r)}
		}
		res.Duration = time.Since(start)
	}()

	r, err := e.Runner.Run(ctx, sampleLimit)
	if r == nil {
		r = &pipeline.Result{Name: e.Name, Table: e.Table, StartedAt: start}
	}
	if r.Description == "" {
		r.Description = e.Description
	}
	if r.Table == "" {
		r.Table = e.Table
	}
	if err != nil {
		r.Status = pipeline.StatusFailed
		r.Error = err.Error()
	} else if r.Status == "" {
		r.Status = pipeline.StatusSuccess
	}
	return r
}

// countTables 统计每个目标表的行数；单表失败以内联错误记录
func (o *Orchestrator) countTables(ctx context.Context) []TableCount {
	seen := map[string]bool{}
	var tables []string
	for _, e := range o.entries {
		if e.Table != "" && !seen[e.Table] {
			seen[e.Table] = true
			tables = append(tables, e.Table)
		}
	}
	if len(tables) == 0 || o.openStore == nil {
		return nil
	}

	counts := make([]TableCount, 0, len(tables))
	store, err := o.openStore(ctx)
	if err != nil {
		for _, t := range tables {
			counts = append(counts, TableCount{Table: t, Error: err.Error()})
		}
		return counts
	}
	defer store.Close()

	for _, t := range tables {
		n, err := store.TableCount(ctx, t)
		tc := TableCount{Table: t, Count: n}
		if err != nil {
			tc.Error = err.Error()
		}
		counts = append(counts, tc)
	}
	return counts
}

func (o *Orchestrator) logSummary(log *logrus.Entry, r *Report) {
	log.Info("==================== run-all summary ====================")
	for _, res := range r.Results {
		line := fmt.Sprintf("%-22s %-8s %6.1fs written=%d", res.Name, res.Status, res.Duration.Seconds(), res.Written)
		if res.Error != "" {
			line += " error=" + res.Error
		}
		if res.Status == pipeline.StatusFailed {
			log.Error(line)
		} else {
			log.Info(line)
		}
	}
	for _, c := range r.Counts {
		if c.Error != "" {
			log.Warnf("%-28s count failed: %s", c.Table, c.Error)
			continue
		}
		log.Infof("%-28s %d rows", c.Table, c.Count)
	}
	log.Infof("total %d: %d succeeded, %d failed, %d skipped in %.1fs",
		len(r.Results), r.Succeeded, r.Failed, r.Skipped, r.Duration.Seconds())
}
