package river_info

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physicalrisk/apietl/addone/source"
	"github.com/physicalrisk/apietl/internal/config"
	"github.com/physicalrisk/apietl/pkg/apiclient"
)

const fixture = `{
  "header": {"resultCode": "00", "resultMsg": "NORMAL SERVICE"},
  "body": [
    {"RVR_CD": "1001", "RVR_NM": "한강", "RVR_GRD_CD": "1", "DRAR": "25953.6", "RVR_PRLG_LEN": "494.4"},
    {"RVR_CD": "", "RVR_NM": "중랑천", "RVR_GRD_CD": "2", "DRAR": "", "RVR_PRLG_LEN": "abc"},
    {"RVR_CD": "", "RVR_NM": ""}
  ]
}`

func payload(t *testing.T, body string) *apiclient.Payload {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return &apiclient.Payload{Kind: apiclient.KindJSON, JSON: v, Text: body}
}

func TestParse(t *testing.T) {
	recs := Definition().Parse.Parse(payload(t, fixture))
	require.Len(t, recs, 2, "河川代码与名称都为空的条目应被跳过")

	assert.Equal(t, "1001", recs[0].String("river_code"))
	v, _ := recs[0].Get("river_length_km")
	assert.Equal(t, 494.4, v)

	assert.Equal(t, "중랑천_2", recs[1].String("river_code"))
	v, _ = recs[1].Get("river_length_km")
	assert.Nil(t, v, "无法解析的数值应为 nil")

	raw, ok := recs[0].Get("api_response")
	require.True(t, ok)
	assert.IsType(t, map[string]any{}, raw)
}

func TestParseErrorStatus(t *testing.T) {
	recs := Definition().Parse.Parse(payload(t, `{"header":{"resultCode":"30","resultMsg":"SERVICE KEY IS NOT REGISTERED"},"body":[{"RVR_CD":"1"}]}`))
	assert.Empty(t, recs)
}

func TestRegistered(t *testing.T) {
	reg, ok := source.Get(Name)
	require.True(t, ok)
	src, err := reg.Factory(&config.Config{APIKeys: map[string]string{"RIVER_API_KEY": "k"}})
	require.NoError(t, err)
	assert.Equal(t, "api_river_info", src.Table())
	assert.Equal(t, []string{"river_code"}, src.UniqueKey())
	assert.Equal(t, 100, src.PageSize())
}
