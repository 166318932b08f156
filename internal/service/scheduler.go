package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/physicalrisk/apietl/pkg/logger"
)

// Scheduler 按 cron 表达式周期触发全量运行
type Scheduler struct {
	orch *Orchestrator

	mu          sync.Mutex
	cron        *cron.Cron
	expr        string
	sampleLimit int
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewScheduler 创建调度器
func NewScheduler(orch *Orchestrator) *Scheduler {
	return &Scheduler{orch: orch}
}

// Start 以给定表达式启动调度；表达式为空时不启用
func (s *Scheduler) Start(expr string, sampleLimit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(expr, sampleLimit)
}

// Reschedule 表达式或采样上限变化时重建调度
func (s *Scheduler) Reschedule(expr string, sampleLimit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	expr = strings.TrimSpace(expr)
	if expr == s.expr && sampleLimit == s.sampleLimit && (s.cron != nil || expr == "") {
		return nil
	}
	s.stopLocked()
	return s.startLocked(expr, sampleLimit)
}

// Stop 停止调度并取消进行中的定时运行
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Expr 当前生效的表达式
func (s *Scheduler) Expr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return ""
	}
	return s.expr
}

func (s *Scheduler) startLocked(expr string, sampleLimit int) error {
	expr = strings.TrimSpace(expr)
	s.expr = expr
	s.sampleLimit = sampleLimit
	if expr == "" {
		logger.Info("schedule disabled")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New()
	_, err := c.AddFunc(expr, func() {
		logger.WithField("cron", expr).Info("scheduled run-all triggered")
		report, shared, err := s.orch.Trigger(ctx, sampleLimit)
		if err != nil {
			logger.WithField("cron", expr).Infof("stopped waiting for run: %v", err)
			return
		}
		if shared {
			logger.WithField("run_id", report.RunID).Info("joined run already in progress")
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	c.Start()
	s.cron, s.ctx, s.cancel = c, ctx, cancel
	logger.WithField("cron", expr).Info("schedule started")
	return nil
}

func (s *Scheduler) stopLocked() {
	if s.cron == nil {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.cron, s.ctx, s.cancel = nil, nil, nil
}
