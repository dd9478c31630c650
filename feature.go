package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/osm"
	"github.com/pkg/errors"
)

//Feature 带新鲜度的 geojson 要素
type Feature struct {
	*geojson.Feature
	Freshness time.Time
}

//NewFeature 创建要素
func NewFeature(g orb.Geometry, props geojson.Properties, freshness time.Time) *Feature {
	f := geojson.NewFeature(g)
	if props != nil {
		f.Properties = props
	}
	return &Feature{Feature: f, Freshness: freshness}
}

//Identity 要素稳定标识，取 properties.id
func (f *Feature) Identity() string {
	v, ok := f.Properties["id"]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

//SetIdentity 同时写入 properties.id 与 feature.id
func (f *Feature) SetIdentity(id string) {
	f.Properties["id"] = id
	f.ID = id
}

//Copy 浅拷贝（几何共享，属性复制）
func (f *Feature) Copy() *Feature {
	gf := *f.Feature
	gf.Properties = make(geojson.Properties, len(f.Properties))
	for k, v := range f.Properties {
		gf.Properties[k] = v
	}
	return &Feature{Feature: &gf, Freshness: f.Freshness}
}

//SeenIDSet 单次构建内已合并的要素标识
type SeenIDSet struct {
	ids map[string]struct{}
}

//NewSeenIDSet 创建空集合
func NewSeenIDSet() *SeenIDSet {
	return &SeenIDSet{ids: make(map[string]struct{})}
}

//Add 首次出现返回 true
func (s *SeenIDSet) Add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

//Len 集合大小
func (s *SeenIDSet) Len() int {
	return len(s.ids)
}

// overpass json, see https://wiki.openstreetmap.org/wiki/Overpass_API/Output_Formats#JSON
type overpassDoc struct {
	Remark   string            `json:"remark"`
	Elements []overpassElement `json:"elements"`
}

type latLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type overpassMember struct {
	Type string `json:"type"`
	Ref  int64  `json:"ref"`
	Role string `json:"role"`
}

type overpassElement struct {
	Type      string            `json:"type"`
	ID        int64             `json:"id"`
	Lat       *float64          `json:"lat"`
	Lon       *float64          `json:"lon"`
	Timestamp string            `json:"timestamp"`
	Tags      map[string]string `json:"tags"`
	Nodes     []int64           `json:"nodes"`
	Geometry  []*latLon         `json:"geometry"`
	Members   []overpassMember  `json:"members"`
}

func osmTags(m map[string]string) osm.Tags {
	tags := make(osm.Tags, 0, len(m))
	for k, v := range m {
		tags = append(tags, osm.Tag{Key: k, Value: v})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })
	return tags
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// elemRef points at one element of a raw tile in document order.
type elemRef struct {
	typ osm.Type
	id  int64
	// set for elements without an id
	obj interface{}
}

// osmData holds one decoded raw tile.
type osmData struct {
	order     []elemRef
	nodes     map[osm.NodeID]*osm.Node
	ways      map[osm.WayID]*osm.Way
	relations map[osm.RelationID]*osm.Relation
}

func decodeOverpass(data []byte) (*osmData, error) {
	var doc overpassDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decode overpass json")
	}
	d := &osmData{
		nodes:     make(map[osm.NodeID]*osm.Node),
		ways:      make(map[osm.WayID]*osm.Way),
		relations: make(map[osm.RelationID]*osm.Relation),
	}
	seen := make(map[elemRef]bool)
	// nodes first, so that ways can resolve their coordinates
	for _, e := range doc.Elements {
		if osm.Type(e.Type) != osm.TypeNode || e.Lat == nil || e.Lon == nil || e.ID == 0 {
			continue
		}
		n := &osm.Node{ID: osm.NodeID(e.ID), Lat: *e.Lat, Lon: *e.Lon, Tags: osmTags(e.Tags), Timestamp: parseTimestamp(e.Timestamp)}
		// `out skel` repeats nodes without their tags
		if old, ok := d.nodes[n.ID]; ok && len(old.Tags) >= len(n.Tags) {
			continue
		}
		d.nodes[n.ID] = n
	}
	for _, e := range doc.Elements {
		ref := elemRef{typ: osm.Type(e.Type), id: e.ID}
		switch ref.typ {
		case osm.TypeNode:
			if e.Lat == nil || e.Lon == nil {
				continue
			}
			if e.ID == 0 {
				ref.obj = &osm.Node{Lat: *e.Lat, Lon: *e.Lon, Tags: osmTags(e.Tags), Timestamp: parseTimestamp(e.Timestamp)}
			}
		case osm.TypeWay:
			w := &osm.Way{ID: osm.WayID(e.ID), Tags: osmTags(e.Tags), Timestamp: parseTimestamp(e.Timestamp)}
			for i, id := range e.Nodes {
				wn := osm.WayNode{ID: osm.NodeID(id)}
				if i < len(e.Geometry) && e.Geometry[i] != nil {
					wn.Lat, wn.Lon = e.Geometry[i].Lat, e.Geometry[i].Lon
				} else if n, ok := d.nodes[wn.ID]; ok {
					wn.Lat, wn.Lon = n.Lat, n.Lon
				}
				w.Nodes = append(w.Nodes, wn)
			}
			if len(e.Nodes) == 0 {
				for _, g := range e.Geometry {
					if g != nil {
						w.Nodes = append(w.Nodes, osm.WayNode{Lat: g.Lat, Lon: g.Lon})
					}
				}
			}
			if e.ID == 0 {
				ref.obj = w
			} else if old, ok := d.ways[w.ID]; !ok || len(old.Tags) < len(w.Tags) {
				d.ways[w.ID] = w
			}
		case osm.TypeRelation:
			r := &osm.Relation{ID: osm.RelationID(e.ID), Tags: osmTags(e.Tags), Timestamp: parseTimestamp(e.Timestamp)}
			for _, m := range e.Members {
				r.Members = append(r.Members, osm.Member{Type: osm.Type(m.Type), Ref: m.Ref, Role: m.Role})
			}
			if e.ID == 0 {
				ref.obj = r
			} else if old, ok := d.relations[r.ID]; !ok || len(old.Tags) < len(r.Tags) {
				d.relations[r.ID] = r
			}
		default:
			continue
		}
		if ref.obj == nil {
			if seen[ref] {
				continue
			}
			seen[ref] = true
		}
		d.order = append(d.order, ref)
	}
	return d, nil
}

func (d *osmData) object(ref elemRef) interface{} {
	if ref.obj != nil {
		return ref.obj
	}
	switch ref.typ {
	case osm.TypeNode:
		return d.nodes[osm.NodeID(ref.id)]
	case osm.TypeWay:
		return d.ways[osm.WayID(ref.id)]
	case osm.TypeRelation:
		return d.relations[osm.RelationID(ref.id)]
	}
	return nil
}

// keys whose presence turns a closed way into an area
var areaKeys = map[string]bool{
	"building": true, "landuse": true, "amenity": true, "leisure": true,
	"shop": true, "tourism": true, "place": true, "man_made": true,
	"historic": true, "military": true, "aeroway": true, "office": true,
	"craft": true, "area:highway": true, "building:part": true, "boundary": true,
}

var naturalLines = map[string]bool{"coastline": true, "tree_row": true, "ridge": true, "arete": true, "cliff": true}

func isArea(tags osm.Tags) bool {
	m := tags.Map()
	switch m["area"] {
	case "yes":
		return true
	case "no":
		return false
	}
	if v, ok := m["natural"]; ok && !naturalLines[v] {
		return true
	}
	if m["waterway"] == "riverbank" {
		return true
	}
	for k := range m {
		if areaKeys[k] {
			return true
		}
	}
	return false
}

func wayLine(w *osm.Way) orb.LineString {
	ls := make(orb.LineString, 0, len(w.Nodes))
	for _, n := range w.Nodes {
		if n.Lat == 0 && n.Lon == 0 {
			continue
		}
		ls = append(ls, orb.Point{n.Lon, n.Lat})
	}
	return ls
}

func wayClosed(w *osm.Way, ls orb.LineString) bool {
	if len(ls) < 4 {
		return false
	}
	if len(w.Nodes) > 1 && w.Nodes[0].ID != 0 {
		return w.Nodes[0].ID == w.Nodes[len(w.Nodes)-1].ID
	}
	return ls[0].Equal(ls[len(ls)-1])
}

func wayGeometry(w *osm.Way) orb.Geometry {
	ls := wayLine(w)
	if len(ls) < 2 {
		return nil
	}
	if wayClosed(w, ls) && isArea(w.Tags) {
		return orb.Polygon{orb.Ring(ls)}
	}
	return ls
}

// joinRings merges member ways sharing end points into closed rings;
// unclosed leftovers are dropped.
func joinRings(lines []orb.LineString) []orb.Ring {
	var rings []orb.Ring
	pending := make([]orb.LineString, 0, len(lines))
	for _, l := range lines {
		if len(l) >= 2 {
			pending = append(pending, l)
		}
	}
	for len(pending) > 0 {
		current := append(orb.LineString{}, pending[0]...)
		pending = pending[1:]
		for !current[0].Equal(current[len(current)-1]) {
			found := false
			for i, l := range pending {
				end := current[len(current)-1]
				switch {
				case l[0].Equal(end):
					current = append(current, l[1:]...)
				case l[len(l)-1].Equal(end):
					rev := l.Clone()
					rev.Reverse()
					current = append(current, rev[1:]...)
				default:
					continue
				}
				pending = append(pending[:i], pending[i+1:]...)
				found = true
				break
			}
			if !found {
				break
			}
		}
		if len(current) >= 4 && current[0].Equal(current[len(current)-1]) {
			rings = append(rings, orb.Ring(current))
		}
	}
	return rings
}

func (d *osmData) relationGeometry(r *osm.Relation) orb.Geometry {
	var outer, inner, lines []orb.LineString
	for _, m := range r.Members {
		if m.Type != osm.TypeWay {
			continue
		}
		w, ok := d.ways[osm.WayID(m.Ref)]
		if !ok {
			continue
		}
		ls := wayLine(w)
		if len(ls) < 2 {
			continue
		}
		switch m.Role {
		case "inner":
			inner = append(inner, ls)
		case "outer", "":
			outer = append(outer, ls)
		}
		lines = append(lines, ls)
	}
	switch r.Tags.Find("type") {
	case "multipolygon", "boundary":
		outers := joinRings(outer)
		if len(outers) == 0 {
			return nil
		}
		mp := make(orb.MultiPolygon, len(outers))
		for i, o := range outers {
			mp[i] = orb.Polygon{o}
		}
		for _, ring := range joinRings(inner) {
			for i := range mp {
				if planar.RingContains(mp[i][0], ring[0]) {
					mp[i] = append(mp[i], ring)
					break
				}
			}
		}
		if len(mp) == 1 {
			return mp[0]
		}
		return mp
	default:
		if len(lines) == 0 {
			return nil
		}
		return orb.MultiLineString(lines)
	}
}

func objectGeometry(d *osmData, obj interface{}) (orb.Geometry, osm.Tags, time.Time) {
	switch o := obj.(type) {
	case *osm.Node:
		return orb.Point{o.Lon, o.Lat}, o.Tags, o.Timestamp
	case *osm.Way:
		return wayGeometry(o), o.Tags, o.Timestamp
	case *osm.Relation:
		return d.relationGeometry(o), o.Tags, o.Timestamp
	}
	return nil, nil, time.Time{}
}

//ConvertRawTile overpass 原始数据转要素；无 id 的要素标识为 sourceURL/序号
func ConvertRawTile(data []byte, sourceURL string, downloaded time.Time) ([]*Feature, error) {
	d, err := decodeOverpass(data)
	if err != nil {
		return nil, err
	}
	var (
		features []*Feature
		counter  int
	)
	for _, ref := range d.order {
		g, tags, ts := objectGeometry(d, d.object(ref))
		if g == nil || len(tags) == 0 {
			continue
		}
		props := make(geojson.Properties, len(tags)+1)
		for _, t := range tags {
			props[t.Key] = t.Value
		}
		freshness := downloaded
		if !ts.IsZero() {
			freshness = ts
		}
		f := NewFeature(g, props, freshness)
		if ref.obj != nil {
			f.SetIdentity(fmt.Sprintf("%s/%d", sourceURL, counter))
			counter++
		} else {
			f.SetIdentity(fmt.Sprintf("%s/%d", ref.typ, ref.id))
		}
		features = append(features, f)
	}
	return features, nil
}

//ConvertGeoJSON 外部 geojson 数据源转要素
func ConvertGeoJSON(data []byte, sourceURL string, fetched time.Time) ([]*Feature, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode geojson from %s", sourceURL)
	}
	var (
		features []*Feature
		counter  int
	)
	for _, gf := range fc.Features {
		if gf.Properties == nil {
			gf.Properties = make(geojson.Properties)
		}
		f := &Feature{Feature: gf, Freshness: fetched}
		if ts, ok := gf.Properties["_timestamp"].(string); ok {
			if t := parseTimestamp(ts); !t.IsZero() {
				f.Freshness = t
			}
		}
		switch {
		case f.Identity() != "":
			f.SetIdentity(f.Identity())
		case gf.ID != nil:
			f.SetIdentity(fmt.Sprint(gf.ID))
		default:
			f.SetIdentity(fmt.Sprintf("%s/%d", sourceURL, counter))
			counter++
		}
		features = append(features, f)
	}
	return features, nil
}
