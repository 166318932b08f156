package emergency_messages

import (
	"net/url"
	"strings"
	"time"

	"github.com/physicalrisk/apietl/addone/source"
	"github.com/physicalrisk/apietl/internal/config"
	"github.com/physicalrisk/apietl/internal/pipeline"
	"github.com/physicalrisk/apietl/internal/record"
)

const Name = "emergency_messages"

// LookbackYears 查询起始日期为当前时间往前推的年数
const LookbackYears = 5

// Regions 17 个广域自治团体，按地区分别分页
var Regions = []string{
	"서울특별시", "부산광역시", "대구광역시", "인천광역시",
	"광주광역시", "대전광역시", "울산광역시", "세종특별자치시",
	"경기도", "강원특별자치도", "충청북도", "충청남도",
	"전북특별자치도", "전라남도", "경상북도", "경상남도", "제주특별자치도",
}

// keywords 灾害类型关键词，顺序决定标志列的顺序
var keywords = []struct {
	Column string
	Words  []string
}{
	{"is_flood_related", []string{"침수", "홍수", "범람", "하천범람", "도로침수", "지하침수", "배수불량"}},
	{"is_typhoon_related", []string{"태풍", "강풍", "폭풍", "해일"}},
	{"is_heat_related", []string{"폭염", "고온", "열사병", "온열질환", "더위"}},
	{"is_cold_related", []string{"한파", "저온", "동파", "동상", "추위"}},
	{"is_fire_related", []string{"산불", "화재", "실화", "산림화재"}},
}

// Classify 按关键词给消息打上灾害类型标志
func Classify(r *record.Record, _ map[string]any) error {
	content := r.String("msg_cn")
	for _, k := range keywords {
		hit := false
		for _, w := range k.Words {
			if content != "" && strings.Contains(content, w) {
				hit = true
				break
			}
		}
		r.Set(k.Column, hit)
	}
	return nil
}

var mapping = record.Mapping{
	Fields: []record.Field{
		record.F("msg_sn", record.Trimmed, "SN"),
		record.F("msg_cn", record.String, "MSG_CN"),
		record.F("msg_se_cd", record.Trimmed, "MSG_SE_CD"),
		record.F("msg_se_nm", record.Trimmed, "MSG_SE_NM"),
		record.F("rcptn_rgn_nm", record.Trimmed, "RCPTN_RGN_NM", "RGN_NM"),
		record.F("rgn_cd", record.Trimmed, "RGN_CD"),
		record.F("crt_dt", record.Time("20060102150405", "2006/01/02 15:04:05"), "CRT_DT"),
		record.F("mdf_dt", record.Time("20060102150405", "2006/01/02 15:04:05"), "MDF_DT"),
		record.F("emrg_step_nm", record.Trimmed, "EMRG_STEP_NM"),
		record.F("dst_se_nm", record.Trimmed, "DST_SE_NM"),
	},
	Key:       []string{"msg_sn"},
	Derive:    []record.DeriveFunc{Classify},
	RawColumn: "api_response",
}

// Definition 数据源定义
func Definition() source.Definition {
	return source.Definition{
		SourceName:    Name,
		Desc:          "긴급재난문자 (safetydata.go.kr)",
		TableName:     "api_emergency_messages",
		Endpoint:      "https://www.safetydata.go.kr/V2/api/DSSP-IF-00247",
		KeyEnv:        "EMERGENCYMESSAGE_API_KEY",
		KeyParam:      "serviceKey",
		PageParam:     "pageNo",
		SizeParam:     "numOfRows",
		Size:          100,
		Static:        url.Values{"returnType": {"json"}},
		PartitionList: Regions,
		PartitionParams: func(region string) url.Values {
			return url.Values{"rgnNm": {region}}
		},
		Dynamic: func(now time.Time) url.Values {
			return url.Values{"crtDt": {now.AddDate(-LookbackYears, 0, 0).Format("20060102")}}
		},
		// 该平台证书链不完整
		Insecure: true,
		Parse: &record.JSONParser{
			Source:    Name,
			ItemsPath: "body",
			Mapping:   mapping,
		},
	}
}

func init() {
	source.Register(source.Registration{
		Name:        Name,
		Description: "긴급재난문자",
		Order:       20,
		Factory: func(cfg *config.Config) (pipeline.Source, error) {
			return Definition().Configure(cfg), nil
		},
	})
}
