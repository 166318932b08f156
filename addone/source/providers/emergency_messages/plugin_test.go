package emergency_messages

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physicalrisk/apietl/internal/config"
	"github.com/physicalrisk/apietl/internal/pipeline"
	"github.com/physicalrisk/apietl/pkg/apiclient"
)

const fixture = `{
  "header": {"resultCode": "00"},
  "body": [
    {"SN": 12345, "MSG_CN": "[행정안전부] 호우경보 발효, 하천범람 및 도로침수 주의", "RGN_NM": "서울특별시 전체", "CRT_DT": "20240710083000"},
    {"SN": "12346", "MSG_CN": "폭염경보, 온열질환 주의", "RCPTN_RGN_NM": "부산광역시", "RGN_NM": "ignored", "CRT_DT": "bad"},
    {"SN": "", "MSG_CN": "no serial"}
  ]
}`

func TestParse(t *testing.T) {
	var v any
	require.NoError(t, json.Unmarshal([]byte(fixture), &v))
	recs := Definition().Parse.Parse(&apiclient.Payload{Kind: apiclient.KindJSON, JSON: v})
	require.Len(t, recs, 2)

	first := recs[0]
	assert.Equal(t, "12345", first.String("msg_sn"), "数值型序号转为字符串")
	assert.Equal(t, "서울특별시 전체", first.String("rcptn_rgn_nm"))
	crt, _ := first.Get("crt_dt")
	require.IsType(t, time.Time{}, crt)
	assert.Equal(t, 8, crt.(time.Time).Hour())
	flood, _ := first.Get("is_flood_related")
	heat, _ := first.Get("is_heat_related")
	assert.Equal(t, true, flood)
	assert.Equal(t, false, heat)

	second := recs[1]
	assert.Equal(t, "부산광역시", second.String("rcptn_rgn_nm"), "RCPTN_RGN_NM 优先")
	crt, _ = second.Get("crt_dt")
	assert.Nil(t, crt)
	heat, _ = second.Get("is_heat_related")
	assert.Equal(t, true, heat)
}

func TestRequestParams(t *testing.T) {
	d := Definition().Configure(&config.Config{APIKeys: map[string]string{"EMERGENCYMESSAGE_API_KEY": "k"}})
	require.Len(t, d.Partitions(), 17)

	req, err := d.Request(pipeline.Cursor{Partition: "경기도", Page: 2, PageSize: 100})
	require.NoError(t, err)
	assert.Equal(t, "경기도", req.Params.Get("rgnNm"))
	assert.Equal(t, "2", req.Params.Get("pageNo"))
	assert.Len(t, req.Params.Get("crtDt"), 8)

	_, insecure := d.HTTPOverrides()
	assert.True(t, insecure)
}
