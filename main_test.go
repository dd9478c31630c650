package main

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	dir := t.TempDir()
	opts, err := parseArgs([]string{"benches", "14", dir, "51.06", "3.70", "51.04", "3.74"})
	require.NoError(t, err)
	assert.Equal(t, "benches", opts.Theme)
	assert.Equal(t, 14, opts.Zoom)
	assert.Equal(t, dir, opts.TargetDir)
	assert.Equal(t, 51.06, opts.Lat0)
	assert.Equal(t, 3.74, opts.Lon1)

	_, err = parseArgs([]string{"benches", "fourteen", dir, "51.06", "3.70", "51.04", "3.74"})
	assert.EqualError(t, err, `the zoomlevel ("fourteen") is not a valid number`)

	_, err = parseArgs([]string{"benches", "14", dir, "51.06", "east", "51.04", "3.74"})
	assert.EqualError(t, err, `the second number (a longitude) ("east") is not a valid number`)

	_, err = parseArgs([]string{"benches", "14", filepath.Join(dir, "missing"), "51.06", "3.70", "51.04", "3.74"})
	assert.Error(t, err)

	_, err = parseArgs([]string{"benches", "14"})
	assert.Error(t, err)

	_, err = parseArgs([]string{"benches", "21", dir, "51.06", "3.70", "51.04", "3.74"})
	assert.True(t, errors.Is(err, ErrInvalidCoordinate))
}

func TestPrepareTheme(t *testing.T) {
	theme, err := ParseTheme([]byte(benchesTheme))
	require.NoError(t, err)
	themes := Themes{theme.ID: theme}

	z := 11
	prepared, err := prepareTheme(themes, &Options{Theme: "benches", ForceZoom: &z})
	require.NoError(t, err)
	assert.NotContains(t, prepared.LayerIDs(), "gps_location")
	for _, l := range prepared.Layers {
		assert.Equal(t, 11, l.ZoomLevel(14))
	}

	_, err = prepareTheme(themes, &Options{Theme: "shops"})
	assert.True(t, errors.Is(err, ErrUnknownTheme))
}

func TestPrepareThemeRejectsForcedZoom(t *testing.T) {
	theme, err := ParseTheme([]byte(benchesTheme))
	require.NoError(t, err)
	themes := Themes{theme.ID: theme}

	for _, z := range []int{-1, 21, 25} {
		z := z
		_, err := prepareTheme(themes, &Options{Theme: "benches", ForceZoom: &z})
		assert.True(t, errors.Is(err, ErrInvalidCoordinate), "zoom %d", z)
	}
	// the theme is left untouched
	assert.Equal(t, 12, theme.Layer("picnic_table").ZoomLevel(14))
}

func TestNewTaskFromConfig(t *testing.T) {
	setDefaults()
	theme, err := ParseTheme([]byte(singleLayerTheme))
	require.NoError(t, err)
	opts := &Options{Theme: "benches", Zoom: 14, TargetDir: t.TempDir(), PointLayers: []string{"bench", " ", "nope"}, Clip: true}
	task, err := newTaskFromConfig(theme, TileRange{Zoom: 14, Total: 1}, opts)
	require.NoError(t, err)
	assert.Equal(t, DefaultEndpoints, task.Endpoints)
	assert.Equal(t, 90, task.Overpass.Timeout)
	assert.True(t, task.Clip)
	assert.True(t, task.pointsFor("bench"))
	assert.False(t, task.pointsFor(""))
	assert.False(t, task.pointsFor("nope"))
	assert.Len(t, task.PointLayers, 1)
	assert.Equal(t, "benches", task.Cache.Theme)
}
