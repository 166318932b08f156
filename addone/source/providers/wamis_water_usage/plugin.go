package wamis_water_usage

import (
	"net/url"

	"github.com/physicalrisk/apietl/addone/source"
	"github.com/physicalrisk/apietl/internal/config"
	"github.com/physicalrisk/apietl/internal/pipeline"
	"github.com/physicalrisk/apietl/internal/record"
	"github.com/physicalrisk/apietl/pkg/apiclient"
)

const (
	Name     = "wamis_water_usage"
	Endpoint = "http://www.wamis.go.kr:8080/wamis/openapi/wks/wks_wiawtaa_lst"
	apiType  = "water_usage"
	// allAreas 条目未给出行政区代码时的占位值
	allAreas = "ALL"
)

// Basins 권역코드：1 한강、2 낙동강、3 금강、4 섬진강、5 영산강、6 제주도
var Basins = []string{"1", "2", "3", "4", "5", "6"}

var mapping = record.Mapping{
	Fields: []record.Field{
		record.F("admcd", record.Trimmed),
		record.F("basin", record.Trimmed),
		record.F("year", record.Trimmed),
	},
	Key:         []string{"api_type", "basin", "admcd", "year"},
	KeyDefaults: []record.KeyDefault{{Column: "admcd", Build: func(*record.Record) any { return allAreas }}},
	Derive: []record.DeriveFunc{func(r *record.Record, _ map[string]any) error {
		r.Set("api_type", apiType)
		r.Set("output_format", "json")
		return nil
	}},
	RawColumn: "response_data",
}

// Parser 용수이용량 응답；条目缺少 basin 时取请求的 권역코드
type Parser struct {
	base *record.JSONParser
}

// NewParser 创建解析器
func NewParser() *Parser {
	return &Parser{base: &record.JSONParser{
		Source:    Name,
		ItemsPath: "list",
		Status:    &record.StatusCheck{Path: "result.code", OK: []string{"success"}, MessagePath: "result.msg"},
		Mapping:   mapping,
	}}
}

// UniqueKey 实现 record.Keyed
func (p *Parser) UniqueKey() []string { return p.base.UniqueKey() }

// Parse 实现 record.Parser
func (p *Parser) Parse(pl *apiclient.Payload) []*record.Record {
	jp := *p.base
	basin, endpoint := requestInfo(pl)
	jp.Mapping.KeyDefaults = append([]record.KeyDefault{{
		Column: "basin",
		Build:  func(*record.Record) any { return basin },
	}}, mapping.KeyDefaults...)

	recs := jp.Parse(pl)
	for _, r := range recs {
		r.Set("api_endpoint", endpoint)
		r.Set("http_status", int64(pl.Status))
	}
	return recs
}

// requestInfo 从请求 URL 取 basin 参数与不含查询串的端点
func requestInfo(pl *apiclient.Payload) (basin, endpoint string) {
	if pl == nil {
		return "", Endpoint
	}
	u, err := url.Parse(pl.URL)
	if err != nil || pl.URL == "" {
		return "", Endpoint
	}
	basin = u.Query().Get("basin")
	u.RawQuery = ""
	return basin, u.String()
}

// Definition 数据源定义（开放接口，按권역分区，单次请求取全）
func Definition() source.Definition {
	return source.Definition{
		SourceName:    Name,
		Desc:          "WAMIS 용수이용량 (권역별)",
		TableName:     "api_wamis",
		Endpoint:      Endpoint,
		Static:        url.Values{"output": {"json"}},
		PartitionList: Basins,
		PartitionParams: func(basin string) url.Values {
			return url.Values{"basin": {basin}}
		},
		Parse: NewParser(),
	}
}

func init() {
	source.Register(source.Registration{
		Name:        Name,
		Description: "WAMIS 용수이용량",
		Order:       35,
		Factory: func(cfg *config.Config) (pipeline.Source, error) {
			return Definition().Configure(cfg), nil
		},
	})
}
