package main

import (
	"path/filepath"
	"testing"

	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeLedger(t *testing.T) *Ledger {
	l, err := OpenLedger(filepath.Join(t.TempDir(), "test_ledger.db"))
	require.NoError(t, err)
	return l
}

func TestLedgerRecord(t *testing.T) {
	l := makeLedger(t)
	defer l.Close()

	tile := maptile.New(8361, 5470, 14)
	require.NoError(t, l.Record(tile, StatusFailed, 0))
	require.NoError(t, l.Record(tile, StatusFailed, 0))
	require.NoError(t, l.Record(tile, StatusCached, 42))

	td, err := l.Tile(tile)
	require.NoError(t, err)
	assert.Equal(t, TileData{Z: 14, X: 8361, Y: 5470, Status: StatusCached, Attempts: 3, Elements: 42}, *td)

	// a skipped tile keeps its element count and attempts
	require.NoError(t, l.Record(tile, StatusSkipped, 0))
	td, err = l.Tile(tile)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, td.Status)
	assert.Equal(t, 3, td.Attempts)
	assert.Equal(t, int64(42), td.Elements)

	_, err = l.Tile(maptile.New(0, 0, 0))
	assert.Error(t, err)
}

func TestLedgerGaps(t *testing.T) {
	l := makeLedger(t)
	defer l.Close()

	require.NoError(t, l.RecordGap("a", maptile.New(1, 1, 2), "x_2_1_1.json"))
	require.NoError(t, l.RecordGap("a", maptile.New(1, 2, 2), "x_2_1_2.json"))
	require.NoError(t, l.RecordGap("b", maptile.New(1, 1, 2), "x_2_1_1.json"))

	n, err := l.Gaps("a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = l.Gaps("c")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestNilLedger(t *testing.T) {
	var l *Ledger
	assert.NoError(t, l.Record(maptile.New(0, 0, 0), StatusCached, 1))
	assert.NoError(t, l.RecordGap("a", maptile.New(0, 0, 0), "p"))
	assert.NoError(t, l.Close())
}
