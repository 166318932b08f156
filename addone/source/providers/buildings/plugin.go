package buildings

import (
	"net/url"
	"strings"

	"github.com/physicalrisk/apietl/addone/source"
	"github.com/physicalrisk/apietl/internal/config"
	"github.com/physicalrisk/apietl/internal/pipeline"
	"github.com/physicalrisk/apietl/internal/record"
)

const Name = "buildings"

// DefaultAreas 默认分区：<시군구코드>-<법정동코드>
var DefaultAreas = []string{
	"11110-10100", // 서울 종로구 청운동
	"11680-10100", // 서울 강남구 역삼동
	"26350-10100", // 부산 해운대구 우동
}

// dateOnly 解析使用批准日与许可日，无法解析时为 nil
var dateOnly = record.Time("20060102", "2006-01-02")

var mapping = record.Mapping{
	Fields: []record.Field{
		record.F("mgm_bld_pk", record.Trimmed, "mgmBldrgstPk"),
		record.F("platgb_cd", record.Trimmed, "platGbCd"),
		record.F("sigungu_cd", record.Trimmed, "sigunguCd"),
		record.F("bjdong_cd", record.Trimmed, "bjdongCd"),
		record.F("bun", record.Trimmed, "bun"),
		record.F("ji", record.Trimmed, "ji"),
		record.F("na_ugrnd_cd", record.Trimmed, "naUgrndCd"),
		record.F("na_bjdong_nm", record.Trimmed, "naBjdongNm"),
		record.F("na_road_nm", record.Trimmed, "naRoadNm"),
		record.F("dong_nm", record.Trimmed, "dongNm"),
		record.F("ho_nm", record.Trimmed, "hoNm"),
		record.F("main_atch_gb_cd", record.Trimmed, "mainAtchGbCd"),
		record.F("strct_cd", record.Trimmed, "strctCd"),
		record.F("strct_nm", record.Trimmed, "strctCdNm"),
		record.F("etc_purps", record.Trimmed, "etcPurps"),
		record.F("main_purp_cd", record.Trimmed, "mainPurpsCd"),
		record.F("main_purp_cd_nm", record.Trimmed, "mainPurpsCdNm"),
		record.F("use_apr_day", dateOnly, "useAprDay"),
		record.F("pmsday", dateOnly, "pmsDay"),
		record.F("plat_area", record.Float, "platArea"),
		record.F("arch_area", record.Float, "archArea"),
		record.F("bc_rat", record.Float, "bcRat"),
		record.F("tot_area", record.Float, "totArea"),
		record.F("vlr_rat", record.Float, "vlRat"),
		record.F("grnd_flr_cnt", record.Int, "grndFlrCnt"),
		record.F("ugrnd_flr_cnt", record.Int, "ugrndFlrCnt"),
		record.F("heit", record.Float, "heit"),
	},
	Key:       []string{"mgm_bld_pk"},
	RawColumn: "api_response",
}

// AreaParams 把 "시군구-법정동" 分区拆成查询参数
func AreaParams(area string) url.Values {
	sigungu, bjdong, _ := strings.Cut(area, "-")
	v := url.Values{"sigunguCd": {strings.TrimSpace(sigungu)}}
	if b := strings.TrimSpace(bjdong); b != "" {
		v.Set("bjdongCd", b)
	}
	return v
}

// Definition 数据源定义
func Definition() source.Definition {
	return source.Definition{
		SourceName:      Name,
		Desc:            "건축물대장 표제부 (공공데이터포털)",
		TableName:       "api_buildings",
		Endpoint:        "https://apis.data.go.kr/1613000/BldRgstHubService/getBrTitleInfo",
		KeyEnv:          "PUBLICDATA_API_KEY",
		KeyParam:        "serviceKey",
		PageParam:       "pageNo",
		SizeParam:       "numOfRows",
		Size:            100,
		Static:          url.Values{"_type": {"json"}},
		PartitionList:   DefaultAreas,
		PartitionParams: AreaParams,
		Parse: &record.JSONParser{
			Source:    Name,
			ItemsPath: "response.body.items.item",
			Status:    &record.StatusCheck{Path: "response.header.resultCode", OK: []string{"00"}, MessagePath: "response.header.resultMsg"},
			Mapping:   mapping,
		},
	}
}

func init() {
	source.Register(source.Registration{
		Name:        Name,
		Description: "건축물대장",
		Order:       60,
		Factory: func(cfg *config.Config) (pipeline.Source, error) {
			return Definition().Configure(cfg), nil
		},
	})
}
