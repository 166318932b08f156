package vworld_geocode

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physicalrisk/apietl/internal/config"
	"github.com/physicalrisk/apietl/internal/pipeline"
	"github.com/physicalrisk/apietl/pkg/apiclient"
)

const cityHall = `{"response":{"status":"OK","result":[
  {"type":"parcel","zipcode":"04524","text":"서울특별시 중구 태평로1가 31",
   "structure":{"level1":"서울특별시","level2":"중구","level4L":"태평로1가","level4LC":"1114010300","level5":"31","number1":"31","number2":""}},
  {"type":"road","zipcode":"04524","text":"서울특별시 중구 세종대로 110","structure":{"level1":"서울특별시"}}
]}}`

func payload(t *testing.T, point, body string) *apiclient.Payload {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return &apiclient.Payload{
		Kind: apiclient.KindJSON,
		JSON: v,
		Text: body,
		URL:  "https://api.vworld.kr/req/address?key=%2A%2A%2A&point=" + point + "&type=BOTH",
	}
}

func TestParseParcelAndRoad(t *testing.T) {
	recs := Parser{}.Parse(payload(t, "126.9780%2C37.5665", cityHall))
	require.Len(t, recs, 1)
	r := recs[0]

	lat, _ := r.Get("latitude")
	lon, _ := r.Get("longitude")
	assert.Equal(t, 37.5665, lat)
	assert.Equal(t, 126.978, lon)
	assert.Equal(t, "서울특별시", r.String("sido"))
	assert.Equal(t, "중구", r.String("sigungu"))
	assert.Equal(t, "11140", r.String("sigungu_cd"))
	assert.Equal(t, "10300", r.String("bjdong_cd"))
	assert.Equal(t, "31", r.String("bun"))
	assert.Equal(t, "", r.String("ji"))
	assert.Equal(t, "04524", r.String("zipcode"))
	assert.Equal(t, "서울특별시 중구 태평로1가 31", r.String("parcel_address"))
	assert.Equal(t, "서울특별시 중구 세종대로 110", r.String("road_address"))
	assert.Contains(t, r.String("api_response"), "태평로1가")
}

// TestParseLevel5Fallback number1 缺失时从 level5 拆分 번지
func TestParseLevel5Fallback(t *testing.T) {
	body := `{"response":{"status":"OK","result":[{"type":"parcel","text":"부산광역시 연제구 연산동 1000-3",
	  "structure":{"level1":"부산광역시","level4LC":"2647010200","level5":"1000-3"}}]}}`
	recs := Parser{}.Parse(payload(t, "129.0756,35.1796", body))
	require.Len(t, recs, 1)
	assert.Equal(t, "1000", recs[0].String("bun"))
	assert.Equal(t, "3", recs[0].String("ji"))
	assert.Empty(t, recs[0].String("road_address"))
}

func TestParseNoResult(t *testing.T) {
	assert.Empty(t, Parser{}.Parse(payload(t, "126.9,37.5", `{"response":{"status":"NOT_FOUND"}}`)))
	assert.Empty(t, Parser{}.Parse(payload(t, "126.9,37.5", `{"response":{"status":"OK","result":[{"type":"road","text":"x"}]}}`)), "没有地番结果时不产出记录")

	p := payload(t, "126.9,37.5", cityHall)
	p.URL = "https://api.vworld.kr/req/address"
	assert.Empty(t, Parser{}.Parse(p), "无法取回坐标时跳过")
}

func TestRequestPerPoint(t *testing.T) {
	d := Definition().Configure(&config.Config{APIKeys: map[string]string{"VWORLD_API_KEY": "vk"}})
	assert.Len(t, d.Partitions(), 18)
	assert.Equal(t, []string{"latitude", "longitude"}, d.UniqueKey())

	req, err := d.Request(pipeline.Cursor{Partition: "33.4996,126.5312", Page: 1})
	require.NoError(t, err)
	assert.Equal(t, "126.5312,33.4996", req.Params.Get("point"))
	assert.Equal(t, "vk", req.Params.Get("key"))
	assert.Equal(t, "getAddress", req.Params.Get("request"))
	assert.Equal(t, "EPSG:4326", req.Params.Get("crs"))

	require.ErrorIs(t, Definition().Configure(&config.Config{}).Validate(), pipeline.ErrMissingAPIKey)
}
