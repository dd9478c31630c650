package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb/maptile"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

//ErrMissingTile 加载阶段缺少原始瓦片
var ErrMissingTile = errors.New("raw tile not found - and not downloaded, run again")

//Merger 合并去重，SeenIDSet 只在一次构建内有效
type Merger struct {
	Cache *TileCache
	// SourceURL is the identity prefix for elements without an id
	SourceURL func(t maptile.Tile) string
	Seen      *SeenIDSet
	Strict    bool
	Ledger    *Ledger
	Run       string

	Duplicates int
	Missing    int
}

//NewMerger 创建合并器
func NewMerger(cache *TileCache, sourceURL func(t maptile.Tile) string) *Merger {
	return &Merger{
		Cache:     cache,
		SourceURL: sourceURL,
		Seen:      NewSeenIDSet(),
	}
}

//Add 过滤已见过的要素，先到先得
func (m *Merger) Add(dst []*Feature, features []*Feature) ([]*Feature, int) {
	skipped := 0
	for _, f := range features {
		if !m.Seen.Add(f.Identity()) {
			skipped++
			continue
		}
		dst = append(dst, f)
	}
	m.Duplicates += skipped
	return dst, skipped
}

//LoadAllTiles 按行优先顺序读取缓存瓦片并合并
func (m *Merger) LoadAllTiles(r TileRange, extra []*Feature) ([]*Feature, error) {
	all, _ := m.Add(nil, extra)
	processed := 0
	for _, t := range r.Tiles() {
		processed++
		path := m.Cache.RawPath(t)
		log.Debugf("loading and processing %d/%d %s ~", processed, r.Total, path)
		raw, downloaded, err := m.Cache.Read(t)
		if os.IsNotExist(errors.Cause(err)) {
			m.Missing++
			if lerr := m.Ledger.RecordGap(m.Run, t, path); lerr != nil {
				log.Warnf("ledger: %s", lerr)
			}
			if m.Strict {
				return nil, errors.Wrapf(ErrMissingTile, "%s", path)
			}
			log.Errorf("not found - and not downloaded. Run this script again!: %s", path)
			continue
		}
		if err != nil {
			return nil, err
		}
		features, err := ConvertRawTile(raw.C, m.SourceURL(t), downloaded)
		if err != nil {
			return nil, errors.Wrapf(err, "convert %s", path)
		}
		var dup int
		all, dup = m.Add(all, features)
		log.Debugf("tile %v has %d features, %d already seen (%s) ~", t, len(features), dup, humanize.Bytes(uint64(len(raw.C))))
	}
	log.Infof("merged %s features, skipped %s duplicates, %d tiles missing ~",
		humanize.Comma(int64(len(all))), humanize.Comma(int64(m.Duplicates)), m.Missing)
	return all, nil
}

//DownloadExtraData 下载主题中不分片的 geojson 数据源
func DownloadExtraData(ctx context.Context, f *Fetcher, theme *Theme) ([]*Feature, error) {
	var all []*Feature
	for _, source := range theme.ExtraSources() {
		if strings.Contains(source, "{") {
			log.Warnf("extra source %s is tiled, not downloading it ~", source)
			continue
		}
		log.Infof("downloading extra data: %s ~", source)
		body, err := f.Get(ctx, source)
		if err != nil {
			return nil, errors.Wrapf(err, "download extra data %s", source)
		}
		features, err := ConvertGeoJSON(body, source, time.Now())
		if err != nil {
			return nil, err
		}
		all = append(all, features...)
	}
	return all, nil
}
