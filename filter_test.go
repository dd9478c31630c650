package main

import (
	"testing"

	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yaml "gopkg.in/yaml.v2"
)

func mustTag(t *testing.T, s string) *Tag {
	tag, err := ParseTag(s)
	require.NoError(t, err)
	return tag
}

func TestParseTag(t *testing.T) {
	cases := []struct {
		in     string
		key    string
		value  string
		op     tagOp
		output string
	}{
		{"amenity=bench", "amenity", "bench", opEquals, "amenity=bench"},
		{"access!=private", "access", "private", opNotEquals, "access!=private"},
		{"shop~bakery|pastry", "shop", "bakery|pastry", opRegex, "shop~bakery|pastry"},
		{"name!~.*test.*", "name", ".*test.*", opNotRegex, "name!~.*test.*"},
		{"name=a~b", "name", "a~b", opEquals, "name=a~b"},
		{" leisure=park ", "leisure", "park", opEquals, "leisure=park"},
	}
	for _, c := range cases {
		tag := mustTag(t, c.in)
		assert.Equal(t, c.key, tag.Key, c.in)
		assert.Equal(t, c.value, tag.Value, c.in)
		assert.Equal(t, c.op, tag.op, c.in)
		assert.Equal(t, c.output, tag.String(), c.in)
	}

	for _, bad := range []string{"amenity", "=bench", "shop~(", ""} {
		_, err := ParseTag(bad)
		assert.Error(t, err, bad)
	}
}

func TestTagMatches(t *testing.T) {
	props := geojson.Properties{"amenity": "bench", "backrest": "yes", "seats": 3}
	assert.True(t, mustTag(t, "amenity=bench").Matches(props))
	assert.False(t, mustTag(t, "amenity=toilets").Matches(props))
	assert.True(t, mustTag(t, "amenity!=toilets").Matches(props))
	assert.True(t, mustTag(t, "backrest~yes|no").Matches(props))
	assert.False(t, mustTag(t, "backrest!~yes|no").Matches(props))
	assert.True(t, mustTag(t, "seats=3").Matches(props))
	// regexes are anchored
	assert.False(t, mustTag(t, "amenity~ben").Matches(props))
	// empty value means absent, != empty means present
	assert.True(t, mustTag(t, "colour=").Matches(props))
	assert.False(t, mustTag(t, "amenity=").Matches(props))
	assert.True(t, mustTag(t, "amenity!=").Matches(props))
}

func TestCompositeFilters(t *testing.T) {
	f := And{
		mustTag(t, "amenity=bench"),
		Or{mustTag(t, "backrest=yes"), mustTag(t, "seats~[2-9]")},
	}
	assert.True(t, f.Matches(geojson.Properties{"amenity": "bench", "backrest": "yes"}))
	assert.True(t, f.Matches(geojson.Properties{"amenity": "bench", "seats": "4"}))
	assert.False(t, f.Matches(geojson.Properties{"amenity": "bench"}))
	assert.False(t, f.Matches(geojson.Properties{"backrest": "yes"}))
	assert.Equal(t, "(amenity=bench & (backrest=yes | seats~[2-9]))", f.String())
}

func TestOverpassSelectors(t *testing.T) {
	f := Or{
		And{mustTag(t, "amenity=bench"), Or{mustTag(t, "backrest=yes"), mustTag(t, "backrest=no")}},
		mustTag(t, "leisure=picnic_table"),
		mustTag(t, "leisure=picnic_table"),
	}
	assert.Equal(t, []string{
		`["amenity"="bench"]["backrest"="no"]`,
		`["amenity"="bench"]["backrest"="yes"]`,
		`["leisure"="picnic_table"]`,
	}, OverpassSelectors(f))

	assert.Equal(t, []string{`[!"fixme"]`}, mustTag(t, "fixme=").Overpass())
	assert.Equal(t, []string{`["name"]`}, mustTag(t, "name!=").Overpass())
	assert.Equal(t, []string{`["shop"~"^(bakery|pastry)$"]`}, mustTag(t, "shop~bakery|pastry").Overpass())
	assert.Equal(t, []string{`["access"!="private"]`}, mustTag(t, "access!=private").Overpass())
}

func TestFilterExprYAML(t *testing.T) {
	src := `
and:
  - amenity=bench
  - or:
      - backrest=yes
      - seats~[2-9]
`
	var e FilterExpr
	require.NoError(t, yaml.Unmarshal([]byte(src), &e))
	and, ok := e.TagsFilter.(And)
	require.True(t, ok)
	require.Len(t, and, 2)
	_, ok = and[1].(Or)
	assert.True(t, ok)
	assert.True(t, e.Matches(geojson.Properties{"amenity": "bench", "backrest": "yes"}))

	var leaf FilterExpr
	require.NoError(t, yaml.Unmarshal([]byte(`"amenity=toilets"`), &leaf))
	assert.Equal(t, "amenity=toilets", leaf.String())

	var bad FilterExpr
	assert.Error(t, yaml.Unmarshal([]byte("and: []\n"), &bad))
	assert.Error(t, yaml.Unmarshal([]byte("and: [a=b]\nor: [c=d]\n"), &bad))
	assert.Error(t, yaml.Unmarshal([]byte(`"nooperator"`), &bad))
}
