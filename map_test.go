package main

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const benchesTheme = `
id: benches
title: Benches
layers:
  - id: bench
    source:
      osmTags:
        and:
          - amenity=bench
          - access!=private
    calculatedTags:
      - _size=feat.properties.seats
  - id: picnic_table
    source:
      osmTags: leisure=picnic_table
      geoJson: https://example.org/cache_picnic_{z}_{x}_{y}.geojson
      geoJsonZoomLevel: 12
      isOsmCache: true
  - id: memorials
    source:
      osmTags: historic=memorial
      geoJson: https://example.org/memorials.geojson
  - id: gps_location
    source:
      osmTags: id~gps
  - id: note_import_benches
    source:
      osmTags: id~note
  - id: notes
    source:
      osmTags: id~note
      geoJson: https://api.openstreetmap.org/api/0.6/notes.json?bbox=0,0,1,1
  - id: fixme
    doNotDownload: true
    source:
      osmTags: fixme~.+
`

func TestParseTheme(t *testing.T) {
	theme, err := ParseTheme([]byte(benchesTheme))
	require.NoError(t, err)
	assert.Equal(t, "benches", theme.ID)
	assert.Len(t, theme.Layers, 7)

	bench := theme.Layer("bench")
	require.NotNil(t, bench)
	assert.Equal(t, []string{"_size"}, bench.CalculatedTagKeys())
	assert.Equal(t, 14, bench.ZoomLevel(14))
	assert.False(t, bench.isExternalGeoJSON())

	picnic := theme.Layer("picnic_table")
	assert.Equal(t, 12, picnic.ZoomLevel(14))
	assert.True(t, picnic.Source.IsCacheLayer())
	assert.False(t, picnic.isExternalGeoJSON())

	assert.True(t, theme.Layer("memorials").isExternalGeoJSON())
	assert.Nil(t, theme.Layer("nope"))
}

func TestParseThemeInvalid(t *testing.T) {
	_, err := ParseTheme([]byte("title: no id\n"))
	assert.Error(t, err)
	_, err = ParseTheme([]byte("id: x\nlayers:\n  - id: a\n  - id: a\n"))
	assert.Error(t, err)
	_, err = ParseTheme([]byte("id: x\nunknown: field\n"))
	assert.Error(t, err)
	_, err = ParseTheme([]byte("id: x\nlayers:\n  - id: a\n    source:\n      osmTags: a=b\n      geoJsonZoomLevel: 22\n"))
	assert.True(t, errors.Is(err, ErrInvalidCoordinate))
	_, err = ParseTheme([]byte("id: x\nlayers:\n  - id: a\n    source:\n      osmTags: a=b\n      geoJsonZoomLevel: 20\n"))
	assert.NoError(t, err)
}

func TestRemovePrivilegedLayers(t *testing.T) {
	theme, err := ParseTheme([]byte(benchesTheme))
	require.NoError(t, err)
	theme.RemovePrivilegedLayers()
	assert.Equal(t, []string{"bench", "picnic_table", "memorials", "notes", "fixme"}, theme.LayerIDs())
}

func TestExtraSources(t *testing.T) {
	theme, err := ParseTheme([]byte(benchesTheme))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.org/memorials.geojson"}, theme.ExtraSources())
}

func TestDownloadFilter(t *testing.T) {
	theme, err := ParseTheme([]byte(benchesTheme))
	require.NoError(t, err)
	theme.RemovePrivilegedLayers()
	f, err := theme.DownloadFilter()
	require.NoError(t, err)
	assert.Equal(t, []string{
		`["amenity"="bench"]["access"!="private"]`,
		`["leisure"="picnic_table"]`,
	}, OverpassSelectors(f))

	empty := &Theme{ID: "empty", Layers: []*LayerSpec{{ID: "x", DoNotDownload: true}}}
	_, err = empty.DownloadFilter()
	assert.True(t, errors.Is(err, ErrNothingToDownload))
}

func TestForceZoomLevel(t *testing.T) {
	theme, err := ParseTheme([]byte(benchesTheme))
	require.NoError(t, err)
	theme.RemovePrivilegedLayers()
	theme.ForceZoomLevel(10)
	for _, l := range theme.Layers {
		assert.True(t, l.Source.IsCacheLayer(), l.ID)
		assert.False(t, l.isExternalGeoJSON(), l.ID)
		assert.Equal(t, 10, l.ZoomLevel(14), l.ID)
	}
	assert.Empty(t, theme.ExtraSources())

	f, err := theme.DownloadFilter()
	require.NoError(t, err)
	assert.Contains(t, OverpassSelectors(f), `["historic"="memorial"]`)
}

func TestLoadThemes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "benches.yaml"), []byte(benchesTheme), 0644))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "toilets.yml"), []byte("id: toilets\nlayers:\n  - id: toilet\n    source:\n      osmTags: amenity=toilets\n"), 0644))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "README.md"), []byte("# themes"), 0644))

	themes, err := LoadThemes(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"benches", "toilets"}, themes.IDs())

	theme, err := themes.Get("toilets")
	require.NoError(t, err)
	assert.Equal(t, "toilet", theme.Layers[0].ID)

	_, err = themes.Get("shops")
	assert.True(t, errors.Is(err, ErrUnknownTheme))
	assert.Contains(t, err.Error(), "benches, toilets")

	_, err = LoadThemes(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
