package disaster_yearbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physicalrisk/apietl/internal/record"
	"github.com/physicalrisk/apietl/pkg/apiclient"
)

const fixture = `<?xml version="1.0" encoding="UTF-8"?>
<NaturalDisasterDamageByYear>
  <head>
    <totalCount>3</totalCount>
    <RESULT><resultCode>INFO-0</resultCode><resultMsg>NOMAL SERVICE.</resultMsg></RESULT>
  </head>
  <row><wrttimeid>2020</wrttimeid><typhoon>2200.5</typhoon><heavy_rain>10000</heavy_rain><tot>13182</tot></row>
  <row><wrttimeid>2021</wrttimeid><typhoon>0</typhoon><tot>85.2</tot></row>
  <row><wrttimeid></wrttimeid><tot>1</tot></row>
</NaturalDisasterDamageByYear>`

func TestParse(t *testing.T) {
	recs := Definition().Parse.Parse(&apiclient.Payload{Kind: apiclient.KindText, Text: fixture})
	require.Len(t, recs, 2, "缺少年份的行应被跳过")

	assert.Equal(t, int64(2020), get(recs[0], "year"))
	assert.Equal(t, "대재해", get(recs[0], "damage_level"))
	assert.Equal(t, "호우", get(recs[0], "major_disaster_type"))

	assert.Equal(t, "경미", get(recs[1], "damage_level"))
	assert.Nil(t, get(recs[1], "major_disaster_type"))
}

func TestParseErrorMessage(t *testing.T) {
	body := `<r><head><RESULT><resultMsg>SERVICE ERROR</resultMsg></RESULT></head><row><wrttimeid>2020</wrttimeid></row></r>`
	assert.Empty(t, Definition().Parse.Parse(&apiclient.Payload{Kind: apiclient.KindText, Text: body}))
}

func TestDamageLevel(t *testing.T) {
	assert.Nil(t, DamageLevel(nil))
	assert.Equal(t, "경미", DamageLevel(99.9))
	assert.Equal(t, "보통", DamageLevel(100.0))
	assert.Equal(t, "심각", DamageLevel(4999.0))
	assert.Equal(t, "대재해", DamageLevel(5000.0))
}

func get(r *record.Record, col string) any {
	v, _ := r.Get(col)
	return v
}
