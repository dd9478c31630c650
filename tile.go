package main

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/pkg/errors"
)

//ZoomMin 最小级别
const ZoomMin = 0

//ZoomMax 最大级别
const ZoomMax = 20

// web mercator latitude limit
const maxLatitude = 85.0511

//ErrInvalidCoordinate 瓦片坐标越界
var ErrInvalidCoordinate = errors.New("invalid tile coordinate")

//RawTile 原始瓦片数据
type RawTile struct {
	T maptile.Tile
	C []byte
}

//CheckZoom 级别须在 ZoomMin..ZoomMax 之间
func CheckZoom(z int) error {
	if z < ZoomMin || z > ZoomMax {
		return errors.Wrapf(ErrInvalidCoordinate, "zoom %d not in %d..%d", z, ZoomMin, ZoomMax)
	}
	return nil
}

func validTile(z, x, y int) bool {
	if CheckZoom(z) != nil {
		return false
	}
	n := 1 << uint(z)
	return x >= 0 && x < n && y >= 0 && y < n
}

//TileIndex 瓦片坐标转线性索引
func TileIndex(z, x, y int) (int64, error) {
	if !validTile(z, x, y) {
		return 0, errors.Wrapf(ErrInvalidCoordinate, "z=%d x=%d y=%d", z, x, y)
	}
	factor := int64(2) << uint(z)
	return (int64(x)*factor+int64(y))*100 + int64(z), nil
}

//TileFromIndex 线性索引转瓦片坐标
func TileFromIndex(index int64) (maptile.Tile, error) {
	if index < 0 {
		return maptile.Tile{}, errors.Wrapf(ErrInvalidCoordinate, "index %d", index)
	}
	z := int(index % 100)
	if z > ZoomMax {
		return maptile.Tile{}, errors.Wrapf(ErrInvalidCoordinate, "index %d", index)
	}
	factor := int64(2) << uint(z)
	i := index / 100
	x, y := i/factor, i%factor
	if !validTile(z, int(x), int(y)) {
		return maptile.Tile{}, errors.Wrapf(ErrInvalidCoordinate, "index %d", index)
	}
	return maptile.New(uint32(x), uint32(y), maptile.Zoom(z)), nil
}

//TileBounds 瓦片地理范围
func TileBounds(z, x, y int) (orb.Bound, error) {
	if !validTile(z, x, y) {
		return orb.Bound{}, errors.Wrapf(ErrInvalidCoordinate, "z=%d x=%d y=%d", z, x, y)
	}
	return maptile.New(uint32(x), uint32(y), maptile.Zoom(z)).Bound(), nil
}

func indexOfTile(t maptile.Tile) int64 {
	factor := int64(2) << uint(t.Z)
	return (int64(t.X)*factor+int64(t.Y))*100 + int64(t.Z)
}

//TileRange 瓦片范围
type TileRange struct {
	XStart int
	XEnd   int
	YStart int
	YEnd   int
	Zoom   int
	Total  int
}

func (r TileRange) String() string {
	return fmt.Sprintf("z%d x[%d..%d] y[%d..%d] (%d tiles)", r.Zoom, r.XStart, r.XEnd, r.YStart, r.YEnd, r.Total)
}

//Tiles 按行优先顺序（x 外层, y 内层）列出瓦片
func (r TileRange) Tiles() []maptile.Tile {
	tiles := make([]maptile.Tile, 0, r.Total)
	for x := r.XStart; x <= r.XEnd; x++ {
		for y := r.YStart; y <= r.YEnd; y++ {
			tiles = append(tiles, maptile.New(uint32(x), uint32(y), maptile.Zoom(r.Zoom)))
		}
	}
	return tiles
}

//Bound 范围
func (r TileRange) Bound() orb.Bound {
	z := maptile.Zoom(r.Zoom)
	min := maptile.New(uint32(r.XStart), uint32(r.YEnd), z).Bound()
	max := maptile.New(uint32(r.XEnd), uint32(r.YStart), z).Bound()
	return min.Union(max)
}

func clampLatLon(lat, lon float64) (float64, float64) {
	lat = math.Max(-maxLatitude, math.Min(maxLatitude, lat))
	lon = math.Max(-180, math.Min(180, lon))
	return lat, lon
}

func tileAt(lat, lon float64, zoom int) (int, int) {
	lat, lon = clampLatLon(lat, lon)
	t := maptile.At(orb.Point{lon, lat}, maptile.Zoom(zoom))
	n := 1 << uint(zoom)
	x, y := int(t.X), int(t.Y)
	if x >= n {
		x = n - 1
	}
	if y >= n {
		y = n - 1
	}
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	return x, y
}

//TileRangeBetween 计算两个角点之间的瓦片范围
func TileRangeBetween(zoom int, lat0, lon0, lat1, lon1 float64) (TileRange, error) {
	if err := CheckZoom(zoom); err != nil {
		return TileRange{}, err
	}
	for _, v := range []float64{lat0, lon0, lat1, lon1} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return TileRange{}, errors.Errorf("invalid corner coordinate %v", v)
		}
	}
	x0, y0 := tileAt(lat0, lon0, zoom)
	x1, y1 := tileAt(lat1, lon1, zoom)
	r := TileRange{
		XStart: minInt(x0, x1),
		XEnd:   maxInt(x0, x1),
		YStart: minInt(y0, y1),
		YEnd:   maxInt(y0, y1),
		Zoom:   zoom,
	}
	r.Total = (r.XEnd - r.XStart + 1) * (r.YEnd - r.YStart + 1)
	return r, nil
}

//RangeForBound 覆盖 bound 的瓦片范围
func RangeForBound(b orb.Bound, zoom int) (TileRange, error) {
	return TileRangeBetween(zoom, b.Max.Lat(), b.Min.Lon(), b.Min.Lat(), b.Max.Lon())
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
