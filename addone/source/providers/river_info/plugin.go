package river_info

import (
	"net/url"

	"github.com/physicalrisk/apietl/addone/source"
	"github.com/physicalrisk/apietl/internal/config"
	"github.com/physicalrisk/apietl/internal/pipeline"
	"github.com/physicalrisk/apietl/internal/record"
)

const Name = "river_info"

// mapping 하천정보（재난안전데이터공유플랫폼 DSSP-IF-10720）
var mapping = record.Mapping{
	Fields: []record.Field{
		record.F("river_code", record.Trimmed, "RVR_CD"),
		record.F("river_name", record.Trimmed, "RVR_NM"),
		record.F("river_grade", record.Int, "RVR_GRD_CD"),
		record.F("watershed_area_km2", record.Float, "DRAR"),
		record.F("river_length_km", record.Float, "RVR_PRLG_LEN"),
		record.F("start_point", record.Trimmed, "ORG_PT"),
		record.F("end_point", record.Trimmed, "CNFLS_PT"),
		record.F("management_org", record.Trimmed, "MGMT_ORG"),
		record.F("basin_name", record.Trimmed, "WTRSHD_NM"),
		record.F("sido_name", record.Trimmed, "CTPV_NM"),
		record.F("sigungu_name", record.Trimmed, "SGG_NM"),
	},
	Key: []string{"river_code"},
	// 没有河川代码时用 名称_等级 合成
	KeyDefaults: []record.KeyDefault{{Column: "river_code", Build: func(r *record.Record) any {
		if r.IsBlank("river_name") {
			return nil
		}
		grade := r.String("river_grade")
		if grade == "" {
			grade = "0"
		}
		return r.String("river_name") + "_" + grade
	}}},
	RawColumn: "api_response",
}

// Definition 数据源定义
func Definition() source.Definition {
	return source.Definition{
		SourceName: Name,
		Desc:       "하천정보 (safetydata.go.kr)",
		TableName:  "api_river_info",
		Endpoint:   "https://www.safetydata.go.kr/V2/api/DSSP-IF-10720",
		KeyEnv:     "RIVER_API_KEY",
		KeyParam:   "serviceKey",
		PageParam:  "pageNo",
		SizeParam:  "numOfRows",
		Size:       100,
		Static:     url.Values{"returnType": {"json"}},
		Parse: &record.JSONParser{
			Source:    Name,
			ItemsPath: "body",
			Status:    &record.StatusCheck{Path: "header.resultCode", OK: []string{"00"}, MessagePath: "header.resultMsg"},
			Mapping:   mapping,
		},
	}
}

func init() {
	source.Register(source.Registration{
		Name:        Name,
		Description: "하천정보",
		Order:       10,
		Factory: func(cfg *config.Config) (pipeline.Source, error) {
			return Definition().Configure(cfg), nil
		},
	})
}
