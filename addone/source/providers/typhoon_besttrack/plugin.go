package typhoon_besttrack

import (
	"net/url"
	"strconv"
	"time"

	"github.com/physicalrisk/apietl/addone/source"
	"github.com/physicalrisk/apietl/internal/config"
	"github.com/physicalrisk/apietl/internal/pipeline"
	"github.com/physicalrisk/apietl/internal/record"
)

const Name = "typhoon_besttrack"

// FirstYear / LastYear 最佳路径资料的收录年份
const (
	FirstYear = 2015
	LastYear  = 2022
)

// Columns 响应文本的列顺序
var Columns = []string{
	"grade", "tcid", "year", "month", "day", "hour", "lon", "lat",
	"max_wind_speed", "central_pressure",
	"gale_long", "gale_short", "gale_dir", "storm_long", "storm_short", "storm_dir",
	"typhoon_name",
}

var (
	num  = record.Nullable(record.Float, "-", "-999", "-999.9")
	text = record.Nullable(record.Trimmed, "-", "-999.9")
	ival = record.Nullable(record.Int, "-")
)

var mapping = record.Mapping{
	Fields: []record.Field{
		record.F("grade", text),
		record.F("tcid", record.Trimmed),
		record.F("year", ival),
		record.F("month", ival),
		record.F("day", ival),
		record.F("hour", ival),
		record.F("lon", num),
		record.F("lat", num),
		record.F("max_wind_speed", num),
		record.F("central_pressure", num),
		record.F("gale_long", num),
		record.F("gale_short", num),
		record.F("gale_dir", text),
		record.F("storm_long", num),
		record.F("storm_short", num),
		record.F("storm_dir", text),
		record.F("typhoon_name", text),
	},
	Key: []string{"tcid", "year", "month", "day", "hour"},
	Derive: []record.DeriveFunc{func(r *record.Record, _ map[string]any) error {
		r.Set("obs_datetime", obsTime(r))
		return nil
	}},
}

// obsTime 由 年/月/日/时 组成观测时间；任一缺失或日期非法时为 nil
func obsTime(r *record.Record) any {
	parts := make([]int, 4)
	for i, col := range []string{"year", "month", "day", "hour"} {
		v, _ := r.Get(col)
		n, ok := v.(int64)
		if !ok {
			return nil
		}
		parts[i] = int(n)
	}
	t := time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], 0, 0, 0, time.Local)
	if t.Year() != parts[0] || int(t.Month()) != parts[1] || t.Day() != parts[2] || t.Hour() != parts[3] {
		return nil
	}
	return t
}

// Years 默认分区：每年一次请求
func Years() []string {
	out := make([]string, 0, LastYear-FirstYear+1)
	for y := FirstYear; y <= LastYear; y++ {
		out = append(out, strconv.Itoa(y))
	}
	return out
}

// Definition 数据源定义（空白分隔文本）
func Definition() source.Definition {
	return source.Definition{
		SourceName:    Name,
		Desc:          "태풍 베스트트랙 (기상청 API허브)",
		TableName:     "api_typhoon_besttrack",
		Endpoint:      "https://apihub.kma.go.kr/api/typ01/url/typ_besttrack.php",
		KeyEnv:        "TYPHOON_API_KEY",
		KeyParam:      "authKey",
		Static:        url.Values{"help": {"0"}},
		PartitionList: Years(),
		PartitionParams: func(year string) url.Values {
			return url.Values{"year": {year}}
		},
		Ext:     "txt",
		Timeout: 60 * time.Second,
		Parse: &record.TextParser{
			Source:        Name,
			Columns:       Columns,
			CommentPrefix: "#",
			MinFields:     10,
			Mapping:       mapping,
		},
	}
}

func init() {
	source.Register(source.Registration{
		Name:        Name,
		Description: "태풍 베스트트랙",
		Order:       50,
		Factory: func(cfg *config.Config) (pipeline.Source, error) {
			return Definition().Configure(cfg), nil
		},
	})
}
