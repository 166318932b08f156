package source

import (
	"sort"
	"sync"

	"github.com/physicalrisk/apietl/internal/config"
	"github.com/physicalrisk/apietl/internal/pipeline"
)

// Factory 按配置构造数据源
type Factory func(cfg *config.Config) (pipeline.Source, error)

// Registration 数据源注册信息；Order 决定全量运行顺序
type Registration struct {
	Name        string
	Description string
	Order       int
	Factory     Factory
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Registration{}
)

// Register 注册数据源，重复注册时后者覆盖前者
func Register(r Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[r.Name] = r
}

// Get 获取指定名称的数据源
func Get(name string) (Registration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	r, ok := registry[name]
	return r, ok
}

// All 按 Order、Name 排序返回全部数据源
func All() []Registration {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Registration, 0, len(registry))
	for _, r := range registry {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Name < out[j].Name
	})
	return out
}
