package source

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physicalrisk/apietl/internal/config"
	"github.com/physicalrisk/apietl/internal/pipeline"
	"github.com/physicalrisk/apietl/internal/record"
)

func sampleDefinition() Definition {
	return Definition{
		SourceName:    "sample",
		TableName:     "api_sample",
		Endpoint:      "https://api.test/sample",
		KeyEnv:        "SAMPLE_API_KEY",
		KeyParam:      "serviceKey",
		PageParam:     "pageNo",
		SizeParam:     "numOfRows",
		Size:          100,
		Static:        url.Values{"returnType": {"json"}},
		PartitionList: []string{"a", "b"},
		PartitionParams: func(p string) url.Values {
			return url.Values{"region": {p}}
		},
		Dynamic: func(now time.Time) url.Values {
			return url.Values{"since": {now.Format("2006")}}
		},
		Parse: &record.JSONParser{
			Source:    "sample",
			ItemsPath: "items",
			Mapping:   record.Mapping{Fields: []record.Field{record.F("id", record.Trimmed)}, Key: []string{"id"}},
		},
	}
}

func enabled(b bool) *bool { return &b }

func TestConfigureOverrides(t *testing.T) {
	cfg := &config.Config{
		APIKeys: map[string]string{"SAMPLE_API_KEY": "k1"},
		Sources: map[string]config.SourceConfig{
			"sample": {Endpoint: "http://localhost/override", PageSize: 20, Partitions: []string{"x"}, Enabled: enabled(true)},
		},
	}
	d := sampleDefinition().Configure(cfg)
	d.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, d.Validate())
	assert.Equal(t, 20, d.PageSize())
	assert.Equal(t, []string{"x"}, d.Partitions())

	req, err := d.Request(pipeline.Cursor{Partition: "x", Page: 3, PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost/override", req.URL)
	assert.Equal(t, "json", req.Ext)
	assert.Equal(t, url.Values{
		"returnType": {"json"},
		"serviceKey": {"k1"},
		"pageNo":     {"3"},
		"numOfRows":  {"20"},
		"since":      {"2024"},
		"region":     {"x"},
	}, req.Params)
}

func TestMissingKey(t *testing.T) {
	d := sampleDefinition().Configure(&config.Config{})
	err := d.Validate()
	assert.True(t, errors.Is(err, pipeline.ErrMissingAPIKey))
	_, err = d.Request(pipeline.Cursor{Page: 1})
	assert.True(t, errors.Is(err, pipeline.ErrMissingAPIKey))
}

func TestOpenAPIWithoutKey(t *testing.T) {
	def := sampleDefinition()
	def.KeyEnv = ""
	d := def.Configure(nil)
	require.NoError(t, d.Validate())
	req, err := d.Request(pipeline.Cursor{Page: 1, PageSize: 0})
	require.NoError(t, err)
	assert.Empty(t, req.Params.Get("serviceKey"))
	assert.Empty(t, req.Params.Get("numOfRows"), "页大小为 0 时不传页大小参数")
}

func TestRegistryOrder(t *testing.T) {
	Register(Registration{Name: "zz_test_b", Order: 1000})
	Register(Registration{Name: "zz_test_a", Order: 1000})
	Register(Registration{Name: "zz_test_first", Order: -1})

	all := All()
	require.GreaterOrEqual(t, len(all), 3)
	assert.Equal(t, "zz_test_first", all[0].Name)
	assert.Equal(t, "zz_test_a", all[len(all)-2].Name)
	assert.Equal(t, "zz_test_b", all[len(all)-1].Name)

	_, ok := Get("zz_test_a")
	assert.True(t, ok)
	_, ok = Get("nope")
	assert.False(t, ok)
}

// TestUniqueKeyFromMapping 唯一键只在映射中声明一次
func TestUniqueKeyFromMapping(t *testing.T) {
	def := sampleDefinition()
	def.KeyEnv = ""
	d := def.Configure(nil)
	assert.Equal(t, []string{"id"}, d.UniqueKey())

	keys := d.UniqueKey()
	keys[0] = "mutated"
	assert.Equal(t, []string{"id"}, d.UniqueKey(), "返回副本")

	def.Parse = &record.JSONParser{Source: "sample", Mapping: record.Mapping{Fields: []record.Field{record.F("id", record.Trimmed)}}}
	d = def.Configure(nil)
	assert.Empty(t, d.UniqueKey())
	assert.Error(t, d.Validate(), "未声明唯一键时校验失败")
}

// TestPartitionsAt 未配置分区时按当前时间计算
func TestPartitionsAt(t *testing.T) {
	def := sampleDefinition()
	def.PartitionList = nil
	def.PartitionsAt = func(now time.Time) []string { return []string{now.Format("2006")} }
	d := def.Configure(&config.Config{})
	d.now = func() time.Time { return time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC) }
	assert.Equal(t, []string{"2023"}, d.Partitions())

	d = def.Configure(&config.Config{Sources: map[string]config.SourceConfig{"sample": {Partitions: []string{"2019"}}}})
	assert.Equal(t, []string{"2019"}, d.Partitions(), "配置覆盖优先")
}
