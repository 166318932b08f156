// Package pipeline 驱动单个数据源的 抓取 -> 解析 -> 累积 -> 批量写入 流程
package pipeline

import (
	"context"
	"errors"
	"net/url"

	"github.com/physicalrisk/apietl/internal/record"
	"github.com/physicalrisk/apietl/pkg/apiclient"
)

var (
	// ErrMissingAPIKey 数据源需要的认证键未配置
	ErrMissingAPIKey = errors.New("missing API key")
	// ErrStoreUnavailable 数据仓库不可用
	ErrStoreUnavailable = errors.New("warehouse unavailable")
)

// Cursor 分页游标
type Cursor struct {
	Partition   string
	Page        int
	PageSize    int
	Accumulated int
}

// Request 一次 GET 请求
type Request struct {
	URL    string
	Params url.Values
	// Ext 归档文件扩展名（json/xml/txt）
	Ext string
}

// Source 数据源声明
type Source interface {
	Name() string
	Table() string
	UniqueKey() []string
	// PageSize 0 表示单次请求即可取全
	PageSize() int
	Request(c Cursor) (Request, error)
	Parser() record.Parser
}

// Partitioned 按分区（地区、年份、行政代码等）分别分页的数据源
type Partitioned interface {
	Partitions() []string
}

// Discoverer 分区依赖前置请求的数据源（如先取台风列表，再逐个取路径）
// 实现后取代 Partitioned；返回空列表表示本次没有可抓取的分区
type Discoverer interface {
	Discover(ctx context.Context, f Fetcher) ([]string, error)
}

// Validator 运行前校验（如认证键是否存在）
type Validator interface {
	Validate() error
}

// Describer 数据源说明
type Describer interface {
	Description() string
}

// Fetcher 抓取接口，由 apiclient.Client 实现
type Fetcher interface {
	Get(ctx context.Context, rawURL string, params url.Values) (*apiclient.Payload, error)
}

// Store 记录写入接口，由 warehouse.Writer 实现
type Store interface {
	UpsertMany(ctx context.Context, table string, recs []*record.Record, keyCols []string, batchSize int) int
	TableCount(ctx context.Context, table string) (int64, error)
	Close() error
}

// Migrator 可选：按记录自动建表
type Migrator interface {
	EnsureTable(ctx context.Context, table string, keyCols []string, sample []*record.Record) error
}

// StoreFactory 为一次运行打开存储连接
type StoreFactory func(ctx context.Context) (Store, error)
