// Package typhoon 气象厅 API허브 台风数据：年度台风列表、逐台风路径与热带低压（TD）列表
package typhoon

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/physicalrisk/apietl/addone/source"
	"github.com/physicalrisk/apietl/internal/config"
	"github.com/physicalrisk/apietl/internal/pipeline"
	"github.com/physicalrisk/apietl/internal/record"
	"github.com/physicalrisk/apietl/pkg/logger"
)

const (
	InfoName  = "typhoon_info"
	TrackName = "typhoon_track"
	TDName    = "typhoon_td"

	baseURL = "https://apihub.kma.go.kr/api/typ01/url/"
	keyEnv  = "TYPHOON_API_KEY"

	// YearsBack 默认回溯的年数（含当年）
	YearsBack = 5
)

// minuteTime 列表与路径中的时刻（YYYYMMDDHHMI）
var minuteTime = record.Time("200601021504")

// RecentYears 从 now 所在年份起向前 YearsBack 年，按年份倒序
func RecentYears(now time.Time) []string {
	out := make([]string, 0, YearsBack)
	for y := now.Year(); y > now.Year()-YearsBack; y-- {
		out = append(out, strconv.Itoa(y))
	}
	return out
}

// Grade 按最大风速（m/s）划分等级
func Grade(windSpeed float64) string {
	switch {
	case windSpeed < 17.2:
		return "TD"
	case windSpeed < 24.5:
		return "TS"
	case windSpeed < 32.7:
		return "STS"
	default:
		return "TY"
	}
}

// flagOne "1" 为 true，其余为 false
func flagOne(v any) any {
	return strings.TrimSpace(fmt.Sprint(v)) == "1"
}

// positive 要求列为正整数，否则丢弃该行
func positive(col string) record.DeriveFunc {
	return func(r *record.Record, _ map[string]any) error {
		v, _ := r.Get(col)
		if n, ok := v.(int64); !ok || n <= 0 {
			return fmt.Errorf("%s must be a positive number, got %v", col, v)
		}
		return nil
	}
}

func zeroDefault(col string) record.KeyDefault {
	return record.KeyDefault{Column: col, Build: func(*record.Record) any { return int64(0) }}
}

var infoMapping = record.Mapping{
	Fields: []record.Field{
		record.F("year", record.Int, "yy"),
		record.F("typ_seq", record.Int, "seq"),
		record.F("now_status", flagOne, "now"),
		record.F("eff_korea", flagOne, "eff"),
		record.F("tm_st", minuteTime),
		record.F("tm_ed", minuteTime),
		record.F("typ_name", record.Trimmed),
		record.F("typ_en", record.Trimmed),
	},
	Key:       []string{"year", "typ_seq"},
	Derive:    []record.DeriveFunc{positive("typ_seq")},
	RawColumn: "api_response",
}

var trackMapping = record.Mapping{
	Fields: []record.Field{
		record.F("year", record.Int, "yy"),
		record.F("typ_seq", record.Int, "typ"),
		record.F("ft_type", record.Int, "ft"),
		record.F("seq", record.Int),
		record.F("tmd", record.Int),
		record.F("typ_tm", minuteTime),
		record.F("ft_tm", minuteTime),
		record.F("latitude", record.Float, "lat"),
		record.F("longitude", record.Float, "lon"),
		record.F("direction", record.Trimmed, "dir"),
		record.F("speed_kmh", record.Float, "sp"),
		record.F("pressure_hpa", record.Int, "ps"),
		record.F("wind_speed_ms", record.Float, "ws"),
		record.F("rad15_km", record.Float, "rad15"),
		record.F("rad25_km", record.Float, "rad25"),
	},
	Key:         []string{"year", "typ_seq", "seq", "ft_type", "tmd"},
	KeyDefaults: []record.KeyDefault{zeroDefault("ft_type"), zeroDefault("seq"), zeroDefault("tmd")},
	Derive: []record.DeriveFunc{func(r *record.Record, _ map[string]any) error {
		ws, ok := r.Get("wind_speed_ms")
		f, isNum := ws.(float64)
		if !ok || !isNum {
			f = 0
			r.Set("wind_speed_ms", f)
		}
		r.Set("grade", Grade(f))
		return nil
	}},
	RawColumn: "api_response",
}

var tdMapping = record.Mapping{
	Fields: []record.Field{
		record.F("year", record.Int, "yy"),
		record.F("td_num", record.Int, "td"),
		record.F("typhoon_typ_seq", record.Int, "typ"),
		record.F("tm_st", minuteTime),
		record.F("tm_ed", minuteTime),
		record.F("remark", record.Trimmed, "rem"),
	},
	Key: []string{"year", "td_num"},
	Derive: []record.DeriveFunc{
		positive("td_num"),
		func(r *record.Record, _ map[string]any) error {
			// 有对应台风编号即视为已发展为台风
			seq, _ := r.Get("typhoon_typ_seq")
			n, ok := seq.(int64)
			r.Set("upgraded_to_typhoon", ok && n > 0)
			return nil
		},
	},
	RawColumn: "api_response",
}

func yearParam(name string) func(string) url.Values {
	return func(year string) url.Values {
		return url.Values{name: {year}}
	}
}

// InfoDefinition 年度台风列表（typ_lst.php，逗号分隔）
func InfoDefinition() source.Definition {
	return source.Definition{
		SourceName:      InfoName,
		Desc:            "태풍 목록 (기상청 API허브)",
		TableName:       "api_typhoon_info",
		Endpoint:        baseURL + "typ_lst.php",
		KeyEnv:          keyEnv,
		KeyParam:        "authKey",
		Static:          url.Values{"disp": {"1"}, "help": {"0"}},
		PartitionsAt:    RecentYears,
		PartitionParams: yearParam("yy"),
		Ext:             "txt",
		Timeout:         30 * time.Second,
		Parse: &record.TextParser{
			Source:        InfoName,
			Columns:       []string{"yy", "seq", "now", "eff", "tm_st", "tm_ed", "typ_name", "typ_en"},
			Delimiter:     ",",
			CommentPrefix: "#",
			Mapping:       infoMapping,
		},
	}
}

// TrackDefinition 逐台风路径（typ_data.php），分区为 "<年份>:<台风编号>"
func TrackDefinition() source.Definition {
	return source.Definition{
		SourceName:   TrackName,
		Desc:         "태풍 경로 (기상청 API허브)",
		TableName:    "api_typhoon_track",
		Endpoint:     baseURL + "typ_data.php",
		KeyEnv:       keyEnv,
		KeyParam:     "authKey",
		Static:       url.Values{"mode": {"0"}, "disp": {"1"}, "help": {"0"}},
		PartitionsAt: RecentYears,
		PartitionParams: func(partition string) url.Values {
			year, typ, _ := strings.Cut(partition, ":")
			return url.Values{"YY": {year}, "typ": {typ}}
		},
		Ext:     "txt",
		Timeout: 30 * time.Second,
		Parse: &record.TextParser{
			Source: TrackName,
			Columns: []string{
				"ft", "yy", "typ", "seq", "tmd", "typ_tm", "ft_tm", "lat", "lon",
				"dir", "sp", "ps", "ws", "rad15", "rad25",
			},
			Delimiter:     ",",
			CommentPrefix: "#",
			MinFields:     15,
			Mapping:       trackMapping,
		},
	}
}

// TDDefinition 年度热带低压列表（td_lst.php）
func TDDefinition() source.Definition {
	return source.Definition{
		SourceName:      TDName,
		Desc:            "열대저압부 목록 (기상청 API허브)",
		TableName:       "api_typhoon_td",
		Endpoint:        baseURL + "td_lst.php",
		KeyEnv:          keyEnv,
		KeyParam:        "authKey",
		Static:          url.Values{"disp": {"1"}, "help": {"0"}},
		PartitionsAt:    RecentYears,
		PartitionParams: yearParam("YY"),
		Ext:             "txt",
		Timeout:         30 * time.Second,
		Parse: &record.TextParser{
			Source:        TDName,
			Columns:       []string{"yy", "td", "typ", "tm_st", "tm_ed", "rem"},
			Delimiter:     ",",
			CommentPrefix: "#",
			MinFields:     6,
			Mapping:       tdMapping,
		},
	}
}

// TrackSource 路径依赖台风列表：先按年份请求 typ_lst，再逐个台风请求 typ_data
type TrackSource struct {
	*source.Definition
	list *source.Definition
}

// Discover 实现 pipeline.Discoverer；单个年份的列表请求失败时跳过该年份
func (s *TrackSource) Discover(ctx context.Context, f pipeline.Fetcher) ([]string, error) {
	var out []string
	for _, year := range s.Partitions() {
		req, err := s.list.Request(pipeline.Cursor{Partition: year, Page: 1})
		if err != nil {
			return nil, err
		}
		p, err := f.Get(ctx, req.URL, req.Params)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.WithFields(logrus.Fields{"pipeline": s.Name(), "year": year}).Warnf("typhoon list unavailable: %v", err)
			continue
		}
		for _, r := range s.list.Parser().Parse(p) {
			out = append(out, r.String("year")+":"+r.String("typ_seq"))
		}
	}
	return out, nil
}

// NewTrackSource 组合路径定义与列表定义；年份取 typhoon_track 的分区配置，列表端点取 typhoon_info 的配置
func NewTrackSource(cfg *config.Config) *TrackSource {
	return &TrackSource{
		Definition: TrackDefinition().Configure(cfg),
		list:       InfoDefinition().Configure(cfg),
	}
}

func init() {
	source.Register(source.Registration{
		Name:        InfoName,
		Description: "태풍 목록",
		Order:       45,
		Factory: func(cfg *config.Config) (pipeline.Source, error) {
			return InfoDefinition().Configure(cfg), nil
		},
	})
	source.Register(source.Registration{
		Name:        TrackName,
		Description: "태풍 경로",
		Order:       46,
		Factory: func(cfg *config.Config) (pipeline.Source, error) {
			return NewTrackSource(cfg), nil
		},
	})
	source.Register(source.Registration{
		Name:        TDName,
		Description: "열대저압부",
		Order:       47,
		Factory: func(cfg *config.Config) (pipeline.Source, error) {
			return TDDefinition().Configure(cfg), nil
		},
	})
}
