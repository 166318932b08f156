package pipeline

import (
	"context"

	"github.com/physicalrisk/apietl/internal/config"
	"github.com/physicalrisk/apietl/internal/database"
	"github.com/physicalrisk/apietl/internal/warehouse"
)

// OpenWarehouse 返回按配置打开数据仓库连接的工厂
func OpenWarehouse(cfg config.WarehouseConfig) StoreFactory {
	return func(ctx context.Context) (Store, error) {
		db, err := database.Open(cfg)
		if err != nil {
			return nil, err
		}
		return warehouse.New(db, warehouse.WithCachedAtColumn(cfg.CachedAtColumn)), nil
	}
}
