package source

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/physicalrisk/apietl/internal/config"
	"github.com/physicalrisk/apietl/internal/pipeline"
	"github.com/physicalrisk/apietl/internal/record"
)

// Definition 声明式数据源：端点、认证、分页参数、分区与解析器
type Definition struct {
	SourceName string
	Desc       string
	TableName  string

	Endpoint string
	// KeyEnv 认证键的环境变量名；为空表示开放接口
	KeyEnv string
	// KeyParam 认证键的查询参数名（serviceKey / ServiceKey / authKey）
	KeyParam string

	PageParam string
	SizeParam string
	Size      int

	// Static 每次请求都携带的参数
	Static url.Values
	// PartitionList 默认分区，可被 sources.<name>.partitions 覆盖
	PartitionList []string
	// PartitionsAt 未配置 PartitionList 时按运行时间计算分区（如最近 N 年）
	PartitionsAt func(now time.Time) []string
	// PartitionParams 把分区标签转换为查询参数
	PartitionParams func(partition string) url.Values
	// Dynamic 按运行时计算的参数（如查询起始日期）
	Dynamic func(now time.Time) url.Values

	// Ext 归档扩展名
	Ext string
	// Timeout / Insecure 覆盖全局 HTTP 参数
	Timeout  time.Duration
	Insecure bool

	// Parse 解析器；唯一键取自解析器映射声明的 Key
	Parse record.Parser

	apiKey string
	now    func() time.Time
}

// Configure 应用配置覆盖项并解析认证键，返回新的定义
func (d Definition) Configure(cfg *config.Config) *Definition {
	out := d
	out.now = time.Now
	if cfg == nil {
		return &out
	}
	sc := cfg.Source(d.SourceName)
	if sc.Endpoint != "" {
		out.Endpoint = sc.Endpoint
	}
	if sc.PageSize > 0 && out.Size > 0 {
		out.Size = sc.PageSize
	}
	if len(sc.Partitions) > 0 {
		out.PartitionList = append([]string(nil), sc.Partitions...)
	}
	if sc.Timeout > 0 {
		out.Timeout = sc.Timeout
	}
	if d.KeyEnv != "" {
		out.apiKey = cfg.APIKey(d.KeyEnv)
	}
	return &out
}

// Name 实现 pipeline.Source
func (d *Definition) Name() string { return d.SourceName }

// Table 实现 pipeline.Source
func (d *Definition) Table() string { return d.TableName }

// UniqueKey 实现 pipeline.Source
func (d *Definition) UniqueKey() []string {
	k, ok := d.Parse.(record.Keyed)
	if !ok {
		return nil
	}
	return append([]string(nil), k.UniqueKey()...)
}

// PageSize 实现 pipeline.Source
func (d *Definition) PageSize() int { return d.Size }

// Parser 实现 pipeline.Source
func (d *Definition) Parser() record.Parser { return d.Parse }

// Partitions 实现 pipeline.Partitioned
func (d *Definition) Partitions() []string {
	if len(d.PartitionList) == 0 && d.PartitionsAt != nil {
		return d.PartitionsAt(d.clock())
	}
	return d.PartitionList
}

func (d *Definition) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now()
}

// Description 实现 pipeline.Describer
func (d *Definition) Description() string { return d.Desc }

// HTTPOverrides 返回数据源级别的超时与 TLS 设置
func (d *Definition) HTTPOverrides() (time.Duration, bool) {
	return d.Timeout, d.Insecure
}

// Validate 实现 pipeline.Validator
func (d *Definition) Validate() error {
	if d.Endpoint == "" {
		return fmt.Errorf("source %s: endpoint not configured", d.SourceName)
	}
	if len(d.UniqueKey()) == 0 {
		return fmt.Errorf("source %s: no unique key declared", d.SourceName)
	}
	if d.KeyEnv != "" && d.apiKey == "" {
		return fmt.Errorf("%w: %s", pipeline.ErrMissingAPIKey, d.KeyEnv)
	}
	return nil
}

// Request 实现 pipeline.Source
func (d *Definition) Request(c pipeline.Cursor) (pipeline.Request, error) {
	if d.KeyEnv != "" && d.apiKey == "" {
		return pipeline.Request{}, fmt.Errorf("%w: %s", pipeline.ErrMissingAPIKey, d.KeyEnv)
	}
	params := url.Values{}
	merge(params, d.Static)
	if d.KeyParam != "" && d.apiKey != "" {
		params.Set(d.KeyParam, d.apiKey)
	}
	if d.PageParam != "" {
		params.Set(d.PageParam, strconv.Itoa(c.Page))
	}
	if d.SizeParam != "" && c.PageSize > 0 {
		params.Set(d.SizeParam, strconv.Itoa(c.PageSize))
	}
	if d.Dynamic != nil {
		merge(params, d.Dynamic(d.clock()))
	}
	if c.Partition != "" && d.PartitionParams != nil {
		merge(params, d.PartitionParams(c.Partition))
	}
	ext := d.Ext
	if ext == "" {
		ext = "json"
	}
	return pipeline.Request{URL: d.Endpoint, Params: params, Ext: ext}, nil
}

func merge(dst, src url.Values) {
	for k, vs := range src {
		dst.Del(k)
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
