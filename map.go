package main

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"
)

// placeholder geojson source used by --force-zoom-level
const forcedCacheSource = "https://127.0.0.1/cache_{layer}_{z}_{x}_{y}.geojson"

// osm notes are never cached
const notesAPI = "https://api.openstreetmap.org/api/0.6/notes.json"

//ErrUnknownTheme 主题不存在
var ErrUnknownTheme = errors.New("unknown theme")

//ErrNothingToDownload 主题没有可下载图层
var ErrNothingToDownload = errors.New("nothing to download: the theme doesn't declare anything to download")

// layers that only exist in the editor UI
var privilegedLayers = map[string]bool{
	"gps_location":         true,
	"gps_location_history": true,
	"home_location":        true,
	"gps_track":            true,
	"type_node":            true,
	"note":                 true,
	"import_candidate":     true,
	"direction":            true,
	"current_view":         true,
	"split_point":          true,
	"range":                true,
	"last_click":           true,
	"selected_element":     true,
}

//Source 图层数据源
type Source struct {
	OsmTags          *FilterExpr `yaml:"osmTags"`
	GeoJSON          string      `yaml:"geoJson"`
	GeoJSONZoomLevel *int        `yaml:"geoJsonZoomLevel"`
	IsOsmCache       *bool       `yaml:"isOsmCache"`
}

//IsCacheLayer isOsmCache 显式为 true
func (s *Source) IsCacheLayer() bool {
	return s.IsOsmCache != nil && *s.IsOsmCache
}

//Filter 标签过滤器，可能为 nil
func (s *Source) Filter() TagsFilter {
	if s == nil || s.OsmTags == nil {
		return nil
	}
	return s.OsmTags.TagsFilter
}

//LayerSpec 图层定义
type LayerSpec struct {
	ID             string   `yaml:"id"`
	Source         *Source  `yaml:"source"`
	CalculatedTags []string `yaml:"calculatedTags"`
	DoNotDownload  bool     `yaml:"doNotDownload"`
}

//CalculatedTagKeys calculatedTags 中 "=" 或 ":=" 之前的键名
func (l *LayerSpec) CalculatedTagKeys() []string {
	var keys []string
	for _, ct := range l.CalculatedTags {
		key := strings.TrimSpace(strings.SplitN(ct, "=", 2)[0])
		key = strings.TrimSuffix(key, ":")
		if key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

//ZoomLevel 图层输出级别，未配置时使用 fallback
func (l *LayerSpec) ZoomLevel(fallback int) int {
	if l.Source != nil && l.Source.GeoJSONZoomLevel != nil {
		return *l.Source.GeoJSONZoomLevel
	}
	return fallback
}

// a geojson layer that is not flagged for caching is served from its own source
func (l *LayerSpec) isExternalGeoJSON() bool {
	return l.Source != nil && l.Source.GeoJSON != "" && !l.Source.IsCacheLayer()
}

//Theme 主题
type Theme struct {
	ID     string       `yaml:"id"`
	Title  string       `yaml:"title"`
	Layers []*LayerSpec `yaml:"layers"`
}

//Layer 按 id 查找图层
func (t *Theme) Layer(id string) *LayerSpec {
	for _, l := range t.Layers {
		if l.ID == id {
			return l
		}
	}
	return nil
}

//LayerIDs 图层 id 列表
func (t *Theme) LayerIDs() []string {
	ids := make([]string, len(t.Layers))
	for i, l := range t.Layers {
		ids[i] = l.ID
	}
	return ids
}

//RemovePrivilegedLayers 去掉编辑器内置图层
func (t *Theme) RemovePrivilegedLayers() {
	kept := t.Layers[:0]
	for _, l := range t.Layers {
		if privilegedLayers[l.ID] || strings.HasPrefix(l.ID, "note_import_") {
			continue
		}
		kept = append(kept, l)
	}
	t.Layers = kept
}

//ForceZoomLevel 所有图层按指定级别缓存
func (t *Theme) ForceZoomLevel(z int) {
	for _, l := range t.Layers {
		if l.Source == nil {
			l.Source = &Source{}
		}
		cache := true
		zoom := z
		l.Source.GeoJSON = forcedCacheSource
		l.Source.IsOsmCache = &cache
		l.Source.GeoJSONZoomLevel = &zoom
	}
}

//DownloadFilter 所有需从 overpass 下载的图层过滤器之并
func (t *Theme) DownloadFilter() (TagsFilter, error) {
	var filters Or
	for _, l := range t.Layers {
		if l.DoNotDownload || l.Source == nil {
			continue
		}
		if l.isExternalGeoJSON() {
			continue
		}
		if f := l.Source.Filter(); f != nil {
			filters = append(filters, f)
		}
	}
	if len(filters) == 0 {
		return nil, errors.Wrapf(ErrNothingToDownload, "theme %s", t.ID)
	}
	return filters, nil
}

//ExtraSources 不分片下载的 geojson 数据源
func (t *Theme) ExtraSources() []string {
	var sources []string
	for _, l := range t.Layers {
		if l.Source == nil || l.Source.GeoJSON == "" {
			continue
		}
		if l.Source.IsOsmCache != nil && *l.Source.IsOsmCache {
			continue
		}
		if strings.HasPrefix(l.Source.GeoJSON, notesAPI) {
			continue
		}
		sources = append(sources, l.Source.GeoJSON)
	}
	return sources
}

func (t *Theme) validate() error {
	if t.ID == "" {
		return errors.New("theme without id")
	}
	seen := make(map[string]bool)
	for i, l := range t.Layers {
		if l == nil || l.ID == "" {
			return errors.Errorf("theme %s: layer %d has no id", t.ID, i)
		}
		if seen[l.ID] {
			return errors.Errorf("theme %s: duplicate layer %s", t.ID, l.ID)
		}
		seen[l.ID] = true
		if l.Source != nil && l.Source.GeoJSONZoomLevel != nil {
			if err := CheckZoom(*l.Source.GeoJSONZoomLevel); err != nil {
				return errors.Wrapf(err, "theme %s: layer %s geoJsonZoomLevel", t.ID, l.ID)
			}
		}
	}
	return nil
}

//ParseTheme 解析 yaml 主题
func ParseTheme(data []byte) (*Theme, error) {
	var t Theme
	if err := yaml.UnmarshalStrict(data, &t); err != nil {
		return nil, errors.Wrap(err, "parse theme")
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

//Themes 已知主题
type Themes map[string]*Theme

//IDs 排序后的主题 id
func (ts Themes) IDs() []string {
	ids := make([]string, 0, len(ts))
	for id := range ts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

//Get 查找主题，不存在时错误信息列出所有主题
func (ts Themes) Get(id string) (*Theme, error) {
	t, ok := ts[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTheme, "the theme %s was not found; try one of %s", id, strings.Join(ts.IDs(), ", "))
	}
	return t, nil
}

//LoadThemes 读取目录下所有 yaml 主题
func LoadThemes(dir string) (Themes, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "theme directory %s", dir)
	}
	files, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read theme directory %s", dir)
	}
	themes := make(Themes)
	for _, fi := range files {
		ext := filepath.Ext(fi.Name())
		if fi.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, fi.Name())
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read theme %s", path)
		}
		t, err := ParseTheme(data)
		if err != nil {
			return nil, errors.Wrapf(err, "theme file %s", path)
		}
		if _, dup := themes[t.ID]; dup {
			return nil, errors.Errorf("theme %s defined twice (%s)", t.ID, path)
		}
		themes[t.ID] = t
		log.Debugf("loaded theme %s with %d layers from %s ~", t.ID, len(t.Layers), path)
	}
	return themes, nil
}
