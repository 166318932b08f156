package vworld_geocode

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/physicalrisk/apietl/addone/source"
	"github.com/physicalrisk/apietl/internal/config"
	"github.com/physicalrisk/apietl/internal/pipeline"
	"github.com/physicalrisk/apietl/internal/record"
	"github.com/physicalrisk/apietl/pkg/apiclient"
	"github.com/physicalrisk/apietl/pkg/logger"
)

const Name = "vworld_geocode"

// DefaultPoints 默认分区："<위도>,<경도>"
var DefaultPoints = []string{
	"37.5665,126.9780", // 서울시청
	"37.5172,127.0473", // 강남역
	"35.1796,129.0756", // 부산시청
	"35.8714,128.6014", // 대구시청
	"37.4563,126.7052", // 인천시청
	"35.1595,126.8526", // 광주시청
	"36.3504,127.3845", // 대전시청
	"35.5384,129.3114", // 울산시청
	"36.4800,127.2890", // 세종시청
	"37.2750,127.0094", // 수원시청
	"37.8813,127.7298", // 춘천시청
	"36.6424,127.4890", // 청주시청
	"36.8065,127.1467", // 천안시청
	"35.8242,127.1480", // 전주시청
	"34.8118,126.3922", // 목포시청
	"35.8683,128.5986", // 경주시청
	"35.2285,128.6811", // 창원시청
	"33.4996,126.5312", // 제주시청
}

// PointParams 把 "위도,경도" 转成 point=경도,위도
func PointParams(partition string) url.Values {
	lat, lon, _ := strings.Cut(partition, ",")
	return url.Values{"point": {strings.TrimSpace(lon) + "," + strings.TrimSpace(lat)}}
}

// Parser 역지오코딩 응답：每个坐标一条记录，지번 결과为主，도로명 주소为辅
type Parser struct{}

// UniqueKey 实现 record.Keyed
func (Parser) UniqueKey() []string { return []string{"latitude", "longitude"} }

// Parse 实现 record.Parser
func (Parser) Parse(p *apiclient.Payload) []*record.Record {
	log := logger.WithField("source", Name)
	if p == nil || p.Kind != apiclient.KindJSON {
		log.WithField("fragment", record.Fragment(p.Body())).Warn("empty or non-JSON response")
		return []*record.Record{}
	}
	root, _ := p.JSON.(map[string]any)
	if root == nil {
		log.WithField("fragment", record.Fragment(p.JSON)).Warn("unexpected JSON shape")
		return []*record.Record{}
	}
	if status, _ := record.Lookup(root, "response.status"); fmt.Sprint(status) != "OK" {
		log.WithField("status", fmt.Sprint(status)).Warn("geocoder returned non-OK status")
		return []*record.Record{}
	}

	lat, lon, err := pointOf(p.URL)
	if err != nil {
		log.Errorf("record skipped: %v", err)
		return []*record.Record{}
	}

	results, _ := record.Lookup(root, "response.result")
	list, _ := results.([]any)
	var parcel, road map[string]any
	for _, it := range list {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		switch fmt.Sprint(m["type"]) {
		case "parcel":
			parcel = m
		case "road":
			road = m
		}
	}
	if parcel == nil {
		log.WithFields(logrus.Fields{"latitude": lat, "longitude": lon}).Warn("no parcel address for point")
		return []*record.Record{}
	}

	str := func(m map[string]any, path string) string {
		v, _ := record.Lookup(m, path)
		if v == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(v))
	}

	bun, ji := str(parcel, "structure.number1"), str(parcel, "structure.number2")
	if bun == "" {
		// number1 缺失时从 level5（如 "31-1"）拆分
		bun, ji, _ = strings.Cut(str(parcel, "structure.level5"), "-")
	}
	dongCode := str(parcel, "structure.level4LC")
	var sigunguCd, bjdongCd string
	if len(dongCode) >= 5 {
		sigunguCd = dongCode[:5]
	}
	if len(dongCode) >= 10 {
		bjdongCd = dongCode[5:10]
	}
	roadAddr := ""
	if road != nil {
		roadAddr = str(road, "text")
	}

	r := record.FromPairs(
		"latitude", lat,
		"longitude", lon,
		"sido", str(parcel, "structure.level1"),
		"sigungu", str(parcel, "structure.level2"),
		"sigungu_cd", sigunguCd,
		"dong", str(parcel, "structure.level4L"),
		"bjdong_cd", bjdongCd,
		"dong_code", dongCode,
		"bun", bun,
		"ji", ji,
		"zipcode", str(parcel, "zipcode"),
		"full_address", str(parcel, "text"),
		"parcel_address", str(parcel, "text"),
		"road_address", roadAddr,
		"api_response", root,
	)
	return []*record.Record{r}
}

// pointOf 从请求 URL 的 point=경도,위도 取回坐标
func pointOf(rawURL string) (float64, float64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, 0, fmt.Errorf("parse request url: %w", err)
	}
	lonS, latS, ok := strings.Cut(u.Query().Get("point"), ",")
	if !ok {
		return 0, 0, fmt.Errorf("request url has no point parameter")
	}
	lon, lonOK := record.Float(lonS).(float64)
	lat, latOK := record.Float(latS).(float64)
	if !lonOK || !latOK {
		return 0, 0, fmt.Errorf("invalid point %q", u.Query().Get("point"))
	}
	return lat, lon, nil
}

// Definition 数据源定义（每个坐标一次请求）
func Definition() source.Definition {
	return source.Definition{
		SourceName: Name,
		Desc:       "VWorld 역지오코딩 (좌표 -> 주소)",
		TableName:  "api_vworld_geocode",
		Endpoint:   "https://api.vworld.kr/req/address",
		KeyEnv:     "VWORLD_API_KEY",
		KeyParam:   "key",
		Static: url.Values{
			"service": {"address"},
			"request": {"getAddress"},
			"version": {"2.0"},
			"crs":     {"EPSG:4326"},
			"format":  {"json"},
			"type":    {"BOTH"},
			"zipcode": {"true"},
			"simple":  {"false"},
		},
		PartitionList:   DefaultPoints,
		PartitionParams: PointParams,
		Parse:           Parser{},
	}
}

func init() {
	source.Register(source.Registration{
		Name:        Name,
		Description: "VWorld 역지오코딩",
		Order:       55,
		Factory: func(cfg *config.Config) (pipeline.Source, error) {
			return Definition().Configure(cfg), nil
		},
	})
}
