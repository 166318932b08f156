package wamis_stations

import (
	"net/url"
	"strings"

	"github.com/physicalrisk/apietl/addone/source"
	"github.com/physicalrisk/apietl/internal/config"
	"github.com/physicalrisk/apietl/internal/pipeline"
	"github.com/physicalrisk/apietl/internal/record"
)

const Name = "wamis_stations"

var mapping = record.Mapping{
	Fields: []record.Field{
		record.F("obs_code", record.Trimmed, "obscd"),
		record.F("obs_name", record.Trimmed, "obsnm"),
		record.F("river_name", record.Trimmed, "rvnm"),
		record.F("basin_code", record.Trimmed, "wlobscd"),
		record.F("basin_name", record.Trimmed, "bbsnm"),
		record.F("address", record.Trimmed, "addr"),
		record.F("latitude", record.Float, "lat"),
		record.F("longitude", record.Float, "lon"),
	},
	Key: []string{"obs_code"},
	Derive: []record.DeriveFunc{func(r *record.Record, _ map[string]any) error {
		// 地址的第一段为市道名
		var sido any
		if fields := strings.Fields(r.String("address")); len(fields) > 0 {
			sido = fields[0]
		}
		r.Set("sido_name", sido)
		// 目录中出现即视为运行中
		r.Set("is_active", true)
		return nil
	}},
	RawColumn: "api_response",
}

// Definition 数据源定义（开放接口，无需认证键，单次请求取全）
func Definition() source.Definition {
	return source.Definition{
		SourceName: Name,
		Desc:       "WAMIS 수위관측소 목록",
		TableName:  "api_wamis_stations",
		Endpoint:   "http://www.wamis.go.kr:8080/wamis/openapi/wkw/flw_dubobsif",
		Static:     url.Values{"output": {"json"}},
		Parse: &record.JSONParser{
			Source:    Name,
			ItemsPath: "list",
			Status:    &record.StatusCheck{Path: "result.code", OK: []string{"success"}, MessagePath: "result.msg"},
			Mapping:   mapping,
		},
	}
}

func init() {
	source.Register(source.Registration{
		Name:        Name,
		Description: "WAMIS 관측소",
		Order:       30,
		Factory: func(cfg *config.Config) (pipeline.Source, error) {
			return Definition().Configure(cfg), nil
		},
	})
}
