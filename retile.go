package main

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/planar"
	log "github.com/sirupsen/logrus"
)

//LayerFeatures 某图层匹配到的要素
type LayerFeatures struct {
	Layer    *LayerSpec
	Features []*Feature
}

//SplitPerLayer 按图层过滤器分配要素；一个要素可属于多个图层
func SplitPerLayer(theme *Theme, features []*Feature) (perLayer []LayerFeatures, skipped []string) {
	for _, layer := range theme.Layers {
		if layer.isExternalGeoJSON() {
			log.Infof("skipping layer %s: not a caching layer ~", layer.ID)
			skipped = append(skipped, layer.ID)
			continue
		}
		filter := layer.Source.Filter()
		if filter == nil || layer.DoNotDownload {
			continue
		}
		lf := LayerFeatures{Layer: layer}
		for _, f := range features {
			if filter.Matches(f.Properties) {
				lf.Features = append(lf.Features, f)
			}
		}
		perLayer = append(perLayer, lf)
	}
	return perLayer, skipped
}

//TileBucket 一个输出瓦片中的要素
type TileBucket struct {
	Index    int64
	Tile     maptile.Tile
	Features []*Feature
}

//SpreadIntoBboxes 每个要素放入其外包框覆盖的所有瓦片，按瓦片索引升序返回
func SpreadIntoBboxes(features []*Feature, zoom int) ([]*TileBucket, error) {
	buckets := make(map[int64]*TileBucket)
	for _, f := range features {
		if f.Geometry == nil {
			continue
		}
		r, err := RangeForBound(f.Geometry.Bound(), zoom)
		if err != nil {
			return nil, err
		}
		for _, t := range r.Tiles() {
			i := indexOfTile(t)
			b, ok := buckets[i]
			if !ok {
				b = &TileBucket{Index: i, Tile: t}
				buckets[i] = b
			}
			b.Features = append(b.Features, f)
		}
	}
	result := make([]*TileBucket, 0, len(buckets))
	for _, b := range buckets {
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Index < result[j].Index })
	return result, nil
}

// normalizeCalculatedTags deletes and re-inserts every calculated key so that
// each one went through strict evaluation; absent keys stay absent.
func normalizeCalculatedTags(f *Feature, keys []string) int {
	n := 0
	for _, k := range keys {
		v, ok := f.Properties[k]
		delete(f.Properties, k)
		if ok {
			f.Properties[k] = v
		}
		n++
	}
	return n
}

func isEmptyGeometry(g orb.Geometry) bool {
	switch g := g.(type) {
	case nil:
		return true
	case orb.MultiPoint:
		return len(g) == 0
	case orb.LineString:
		return len(g) < 2
	case orb.MultiLineString:
		return len(g) == 0
	case orb.Ring:
		return len(g) == 0
	case orb.Polygon:
		return len(g) == 0 || len(g[0]) == 0
	case orb.MultiPolygon:
		return len(g) == 0
	case orb.Collection:
		return len(g) == 0
	}
	return false
}

//PrepareTile 复制要素、规范派生属性、去掉 bbox，并可选裁剪到瓦片范围
func PrepareTile(layer *LayerSpec, b *TileBucket, clipToTile bool) []*Feature {
	bound := b.Tile.Bound()
	keys := layer.CalculatedTagKeys()
	strict := 0
	out := make([]*Feature, 0, len(b.Features))
	for _, f := range b.Features {
		c := f.Copy()
		strict += normalizeCalculatedTags(c, keys)
		if strict > 0 && strict%100 == 0 {
			log.Debugf("strictly calculated %d values for tile %d ~", strict, b.Index)
		}
		c.BBox = nil
		if clipToTile {
			// clip works in place on its input
			g := clip.Geometry(bound, orb.Clone(c.Geometry))
			if isEmptyGeometry(g) {
				continue
			}
			c.Geometry = g
		}
		out = append(out, c)
	}
	return out
}

//CenterPoints 要素质心，用于低级别概览（不裁剪）
func CenterPoints(features []*Feature) []*Feature {
	points := make([]*Feature, 0, len(features))
	for _, f := range features {
		if f.Geometry == nil {
			continue
		}
		c, _ := planar.CentroidArea(f.Geometry)
		p := f.Copy()
		p.BBox = nil
		p.Geometry = c
		points = append(points, p)
	}
	return points
}
