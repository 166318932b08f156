package typhoon

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physicalrisk/apietl/internal/config"
	"github.com/physicalrisk/apietl/internal/pipeline"
	"github.com/physicalrisk/apietl/internal/record"
	"github.com/physicalrisk/apietl/pkg/apiclient"
)

const listFixture = `#START7777
# YY, SEQ, NOW, EFF, TM_ST, TM_ED, TYP_NAME, TYP_EN
2024, 3, 0, 1, 202407200000, 202407270600, 개미, GAEMI
2024, 11, 1, 0, 202409011200, , 야기, YAGI
2024, 0, 0, 0, 202401010000, 202401020000, 무효, INVALID
2024, 4
#7777END
`

const trackFixture = `#START7777
# FT, YY, TYP, SEQ, TMD, TYP_TM, FT_TM, LAT, LON, DIR, SP, PS, WS, RAD15, RAD25
0, 2024, 3, 1, 0, 202407200000, 202407200000, 15.2, 128.5, NW, 12, 998, 18.0, 150, 0
0, 2024, 3, 2, 0, 202407200600, 202407200600, 16.0, 127.9, NW, 15, 970.5, 33.0, 300, 120
0, 2024, 3, 3, 0, 202407201200, 202407201200, 16.5, 127.1, NW, 15, 985, , 200,
0, 2024, 3, 4, 0, 202407201800
#7777END
`

const tdFixture = `#START7777
# YY, TD, TYP, TM_ST, TM_ED, REM
2024, 1, 3, 202407190000, 202407200000, upgraded
2024, 2, , 202408010000, 202408020000, dissipated
2024, 0, , 202408010000, 202408020000, invalid
#7777END
`

func text(body string) *apiclient.Payload {
	return &apiclient.Payload{Kind: apiclient.KindText, Text: body}
}

func get(r *record.Record, col string) any {
	v, _ := r.Get(col)
	return v
}

func TestParseInfo(t *testing.T) {
	recs := InfoDefinition().Parse.Parse(text(listFixture))
	require.Len(t, recs, 2, "台风编号非正或字段不足的行应被跳过")

	gaemi := recs[0]
	assert.Equal(t, int64(2024), get(gaemi, "year"))
	assert.Equal(t, int64(3), get(gaemi, "typ_seq"))
	assert.Equal(t, false, get(gaemi, "now_status"))
	assert.Equal(t, true, get(gaemi, "eff_korea"))
	assert.Equal(t, "개미", gaemi.String("typ_name"))
	assert.Equal(t, time.Date(2024, 7, 20, 0, 0, 0, 0, time.Local), get(gaemi, "tm_st"))
	assert.Equal(t, time.Date(2024, 7, 27, 6, 0, 0, 0, time.Local), get(gaemi, "tm_ed"))

	yagi := recs[1]
	assert.Equal(t, true, get(yagi, "now_status"))
	assert.Nil(t, get(yagi, "tm_ed"), "进行中的台风没有结束时刻")
	def := InfoDefinition()
	assert.Equal(t, []string{"year", "typ_seq"}, def.UniqueKey())
}

func TestParseTrack(t *testing.T) {
	recs := TrackDefinition().Parse.Parse(text(trackFixture))
	require.Len(t, recs, 3, "少于 15 个字段的行应被跳过")

	first := recs[0]
	assert.Equal(t, int64(2024), get(first, "year"))
	assert.Equal(t, int64(3), get(first, "typ_seq"))
	assert.Equal(t, int64(0), get(first, "ft_type"))
	assert.Equal(t, int64(1), get(first, "seq"))
	assert.Equal(t, 15.2, get(first, "latitude"))
	assert.Equal(t, "NW", first.String("direction"))
	assert.Equal(t, "TS", first.String("grade"))
	assert.Equal(t, time.Date(2024, 7, 20, 0, 0, 0, 0, time.Local), get(first, "typ_tm"))

	second := recs[1]
	assert.Equal(t, int64(970), get(second, "pressure_hpa"), "气压取整")
	assert.Equal(t, "TY", second.String("grade"))

	third := recs[2]
	assert.Equal(t, 0.0, get(third, "wind_speed_ms"), "缺失风速按 0 处理")
	assert.Equal(t, "TD", third.String("grade"))
	assert.Nil(t, get(third, "rad25_km"))

	def := TrackDefinition()
	assert.Equal(t, []string{"year", "typ_seq", "seq", "ft_type", "tmd"}, def.UniqueKey())
}

func TestParseTD(t *testing.T) {
	recs := TDDefinition().Parse.Parse(text(tdFixture))
	require.Len(t, recs, 2)

	assert.Equal(t, int64(1), get(recs[0], "td_num"))
	assert.Equal(t, int64(3), get(recs[0], "typhoon_typ_seq"))
	assert.Equal(t, true, get(recs[0], "upgraded_to_typhoon"))

	assert.Nil(t, get(recs[1], "typhoon_typ_seq"))
	assert.Equal(t, false, get(recs[1], "upgraded_to_typhoon"))
	def := TDDefinition()
	assert.Equal(t, []string{"year", "td_num"}, def.UniqueKey())
}

func TestGrade(t *testing.T) {
	cases := map[float64]string{0: "TD", 17.1: "TD", 17.2: "TS", 24.4: "TS", 24.5: "STS", 32.6: "STS", 32.7: "TY", 60: "TY"}
	for ws, want := range cases {
		assert.Equal(t, want, Grade(ws), "风速 %.1f", ws)
	}
}

func TestRecentYears(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.Local)
	assert.Equal(t, []string{"2025", "2024", "2023", "2022", "2021"}, RecentYears(now))
}

func TestRequests(t *testing.T) {
	cfg := &config.Config{APIKeys: map[string]string{"TYPHOON_API_KEY": "k"}}

	info := InfoDefinition().Configure(cfg)
	assert.Len(t, info.Partitions(), YearsBack)
	req, err := info.Request(pipeline.Cursor{Partition: "2023", Page: 1})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(req.URL, "typ_lst.php"))
	assert.Equal(t, "2023", req.Params.Get("yy"))
	assert.Equal(t, "k", req.Params.Get("authKey"))
	assert.Equal(t, "1", req.Params.Get("disp"))

	track := NewTrackSource(cfg)
	req, err = track.Request(pipeline.Cursor{Partition: "2023:7", Page: 1})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(req.URL, "typ_data.php"))
	assert.Equal(t, "2023", req.Params.Get("YY"))
	assert.Equal(t, "7", req.Params.Get("typ"))
	assert.Equal(t, "0", req.Params.Get("mode"))

	td := TDDefinition().Configure(cfg)
	req, err = td.Request(pipeline.Cursor{Partition: "2023", Page: 1})
	require.NoError(t, err)
	assert.Equal(t, "2023", req.Params.Get("YY"))

	require.ErrorIs(t, NewTrackSource(&config.Config{}).Validate(), pipeline.ErrMissingAPIKey)
}

// listFetcher 按年份返回台风列表；未列出的年份请求失败
type listFetcher struct {
	lists map[string]string
	calls []string
}

func (f *listFetcher) Get(ctx context.Context, rawURL string, params url.Values) (*apiclient.Payload, error) {
	f.calls = append(f.calls, rawURL+"?yy="+params.Get("yy"))
	body, ok := f.lists[params.Get("yy")]
	if !ok {
		return nil, errors.New("upstream unavailable")
	}
	return text(body), nil
}

// TestDiscoverTracks 路径分区来自各年份的台风列表，单个年份失败不影响其它年份
func TestDiscoverTracks(t *testing.T) {
	cfg := &config.Config{
		APIKeys: map[string]string{"TYPHOON_API_KEY": "k"},
		Sources: map[string]config.SourceConfig{TrackName: {Partitions: []string{"2024", "2023"}}},
	}
	src := NewTrackSource(cfg)
	f := &listFetcher{lists: map[string]string{"2024": listFixture}}

	parts, err := src.Discover(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024:3", "2024:11"}, parts)
	require.Len(t, f.calls, 2)
	assert.Contains(t, f.calls[0], "typ_lst.php")

	var _ pipeline.Discoverer = src
}
