package main

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
	"github.com/pkg/errors"
)

//Enricher 按图层计算派生属性
type Enricher interface {
	// Enrich must not modify the features; results are delivered through the handle.
	Enrich(ctx context.Context, layer *LayerSpec, features []*Feature) *Enrichment
}

//Enrichment 异步计算的句柄
type Enrichment struct {
	done chan struct{}
	tags []map[string]interface{}
	err  error
}

func newEnrichment() *Enrichment {
	return &Enrichment{done: make(chan struct{})}
}

func (e *Enrichment) finish(tags []map[string]interface{}, err error) {
	e.tags, e.err = tags, err
	close(e.done)
}

//ErrEnrichTimeout 派生属性计算超时
var ErrEnrichTimeout = errors.New("enrichment did not finish in time")

//Wait 等待完成，超时返回 ErrEnrichTimeout
func (e *Enrichment) Wait(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.done:
		return e.err
	case <-timer.C:
		return ErrEnrichTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

//Apply 将结果写回要素，Wait 成功后调用
func (e *Enrichment) Apply(features []*Feature) int {
	n := 0
	for i, tags := range e.tags {
		if i >= len(features) {
			break
		}
		for k, v := range tags {
			features[i].Properties[k] = v
			n++
		}
	}
	return n
}

//MetaTagger 内置元标签：_lat, _lon, _geometry:type, _length, _surface
type MetaTagger struct{}

//Enrich 在后台计算元标签
func (MetaTagger) Enrich(ctx context.Context, layer *LayerSpec, features []*Feature) *Enrichment {
	e := newEnrichment()
	geoms := make([]orb.Geometry, len(features))
	for i, f := range features {
		geoms[i] = f.Geometry
	}
	go func() {
		tags := make([]map[string]interface{}, len(geoms))
		for i, g := range geoms {
			if ctx.Err() != nil {
				e.finish(nil, ctx.Err())
				return
			}
			tags[i] = metaTags(g)
		}
		e.finish(tags, nil)
	}()
	return e
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func metaTags(g orb.Geometry) map[string]interface{} {
	if g == nil {
		return nil
	}
	c, _ := planar.CentroidArea(g)
	tags := map[string]interface{}{
		"_lat":           formatFloat(c.Lat(), 7),
		"_lon":           formatFloat(c.Lon(), 7),
		"_geometry:type": g.GeoJSONType(),
	}
	switch g.Dimensions() {
	case 1:
		tags["_length"] = formatFloat(geo.Length(g), 0)
	case 2:
		tags["_surface"] = formatFloat(math.Abs(geo.Area(g)), 0)
	}
	return tags
}
