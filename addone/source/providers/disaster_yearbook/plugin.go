package disaster_yearbook

import (
	"strings"

	"github.com/physicalrisk/apietl/addone/source"
	"github.com/physicalrisk/apietl/internal/config"
	"github.com/physicalrisk/apietl/internal/pipeline"
	"github.com/physicalrisk/apietl/internal/record"
)

const Name = "disaster_yearbook"

// damageColumns 参与主要灾害类型判断的列，按同额时的优先顺序排列
var damageColumns = []struct {
	Column string
	Type   string
}{
	{"typhoon_damage", "태풍"},
	{"heavy_rain_damage", "호우"},
	{"heavy_snow_damage", "대설"},
	{"strong_wind_damage", "강풍"},
	{"wind_wave_damage", "풍랑"},
	{"earthquake_damage", "지진"},
}

// DamageLevel 按总损失额（亿韩元）分级
func DamageLevel(total any) any {
	v, ok := total.(float64)
	if !ok {
		return nil
	}
	switch {
	case v < 100:
		return "경미"
	case v < 1000:
		return "보통"
	case v < 5000:
		return "심각"
	default:
		return "대재해"
	}
}

// MajorType 损失额最大的灾害类型；全部为 0 或缺失时为 nil
func MajorType(r *record.Record) any {
	best, bestVal := "", 0.0
	for _, dc := range damageColumns {
		v, _ := r.Get(dc.Column)
		f, _ := v.(float64)
		if f > bestVal {
			best, bestVal = dc.Type, f
		}
	}
	if best == "" {
		return nil
	}
	return best
}

var mapping = record.Mapping{
	Fields: []record.Field{
		record.F("year", record.Int, "wrttimeid"),
		record.F("typhoon_damage", record.Float, "typhoon"),
		record.F("heavy_rain_damage", record.Float, "heavy_rain"),
		record.F("heavy_snow_damage", record.Float, "heavy_snow"),
		record.F("strong_wind_damage", record.Float, "strong_wind"),
		record.F("wind_wave_damage", record.Float, "wind_wave"),
		record.F("earthquake_damage", record.Float, "earthquake"),
		record.F("other_damage", record.Float, "etc"),
		record.F("total_damage", record.Float, "tot"),
	},
	Key: []string{"year"},
	Derive: []record.DeriveFunc{func(r *record.Record, _ map[string]any) error {
		total, _ := r.Get("total_damage")
		r.Set("damage_level", DamageLevel(total))
		r.Set("major_disaster_type", MajorType(r))
		return nil
	}},
	RawColumn: "api_response",
}

// acceptStatus 结果信息含 NOMAL（接口原文拼写）或 SUCCESS 时视为正常
func acceptStatus(msg string) bool {
	return strings.Contains(msg, "NOMAL") || strings.Contains(strings.ToUpper(msg), "SUCCESS")
}

// Definition 数据源定义（XML 响应）
func Definition() source.Definition {
	return source.Definition{
		SourceName: Name,
		Desc:       "재해연보 자연재난 피해 (행정안전부)",
		TableName:  "api_disaster_yearbook",
		Endpoint:   "https://apis.data.go.kr/1741000/NaturalDisasterDamageByYear/getNaturalDisasterDamageByYear",
		KeyEnv:     "PUBLICDATA_API_KEY",
		KeyParam:   "ServiceKey",
		PageParam:  "pageNo",
		SizeParam:  "numOfRows",
		Size:       100,
		Ext:        "xml",
		Parse: &record.XMLParser{
			Source:  Name,
			RowTag:  "row",
			Status:  &record.StatusCheck{Path: "resultMsg", Accept: acceptStatus, MessagePath: "resultMsg"},
			Mapping: mapping,
		},
	}
}

func init() {
	source.Register(source.Registration{
		Name:        Name,
		Description: "재해연보",
		Order:       40,
		Factory: func(cfg *config.Config) (pipeline.Source, error) {
			return Definition().Configure(cfg), nil
		},
	})
}
