package database

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/physicalrisk/apietl/internal/config"
)

// Monitor 服务进程的健康检查连接：首次检查时打开，之后复用；仓库配置变化时重新打开
type Monitor struct {
	mu     sync.Mutex
	cfg    func() config.WarehouseConfig
	db     *gorm.DB
	opened config.WarehouseConfig
}

// NewMonitor 创建健康检查器，cfg 每次检查时读取当前仓库配置
func NewMonitor(cfg func() config.WarehouseConfig) *Monitor {
	return &Monitor{cfg: cfg}
}

// Check 探测仓库连通性，并返回连接池统计
func (m *Monitor) Check(ctx context.Context) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := m.cfg()
	if m.db != nil && m.opened != want {
		_ = Close(m.db)
		m.db = nil
	}
	if m.db == nil {
		db, err := Open(want)
		if err != nil {
			return nil, err
		}
		m.db, m.opened = db, want
	}

	if err := Health(ctx, m.db); err != nil {
		return nil, fmt.Errorf("ping warehouse: %w", err)
	}
	return GetStats(m.db), nil
}

// Close 释放健康检查连接
func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := Close(m.db)
	m.db = nil
	return err
}
