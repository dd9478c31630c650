package main

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/pkg/errors"
)

//TileCache 原始瓦片磁盘缓存，文件存在即视为已下载
type TileCache struct {
	Dir   string
	Theme string
}

func (c *TileCache) prefix() string {
	return filepath.Join(c.Dir, c.Theme)
}

//RawPath <dir>/<theme>_<z>_<x>_<y>.json
func (c *TileCache) RawPath(t maptile.Tile) string {
	return fmt.Sprintf("%s_%d_%d_%d.json", c.prefix(), t.Z, t.X, t.Y)
}

//TilePath <dir>/<theme>_<layer>_<z>_<x>_<y>.geojson
func (c *TileCache) TilePath(layer string, t maptile.Tile) string {
	return fmt.Sprintf("%s_%s_%d_%d_%d.geojson", c.prefix(), layer, t.Z, t.X, t.Y)
}

//OverviewPath <dir>/<theme>_<layer>_<z>_overview.json
func (c *TileCache) OverviewPath(layer string, z int) string {
	return fmt.Sprintf("%s_%s_%d_overview.json", c.prefix(), layer, z)
}

//PointsPath <dir>/<theme>_<layer>_points.geojson
func (c *TileCache) PointsPath(layer string) string {
	return fmt.Sprintf("%s_%s_points.geojson", c.prefix(), layer)
}

//LedgerPath <dir>/<theme>_ledger.db
func (c *TileCache) LedgerPath() string {
	return c.prefix() + "_ledger.db"
}

//Has 缓存文件是否存在（不检查是否过期）
func (c *TileCache) Has(t maptile.Tile) bool {
	_, err := os.Stat(c.RawPath(t))
	return err == nil
}

//Read 读取原始瓦片及其下载时间
func (c *TileCache) Read(t maptile.Tile) (*RawTile, time.Time, error) {
	path := c.RawPath(t)
	fi, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, errors.Wrapf(err, "read %s", path)
	}
	return &RawTile{T: t, C: data}, fi.ModTime(), nil
}

//Write 原样写入响应
func (c *TileCache) Write(tile *RawTile) error {
	return writeFileAtomic(c.RawPath(tile.T), tile.C)
}

// writeFileAtomic writes to a temp file and renames it, so an existing path is
// always a complete file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := ioutil.TempFile(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrapf(err, "create temp file for %s", path)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return errors.Wrapf(err, "chmod %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "rename to %s", path)
	}
	return nil
}
