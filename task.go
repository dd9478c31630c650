package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb/maptile"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
	pb "gopkg.in/cheggaaa/pb.v1"
)

//Options 构建参数
type Options struct {
	Theme     string
	Zoom      int
	TargetDir string
	Lat0      float64
	Lon0      float64
	Lat1      float64
	Lon1      float64
	// layer ids, or "*" for all layers
	PointLayers []string
	ForceZoom   *int
	Clip        bool
	Strict      bool
}

//PassResult 一轮下载的统计
type PassResult struct {
	Downloaded int
	Failed     int
	Skipped    int
}

//Task 缓存构建任务
type Task struct {
	ID       string
	Theme    *Theme
	Range    TileRange
	Cache    *TileCache
	Overpass *Overpass
	Fetcher  *Fetcher
	Ledger   *Ledger
	Enricher Enricher

	Endpoints     []string
	FailureDelay  time.Duration
	PassDelay     time.Duration
	EnrichTimeout time.Duration
	Zoom          int
	Clip          bool
	Strict        bool
	PointLayers   map[string]bool
	Progress      bool

	sleep    func(ctx context.Context, d time.Duration) error
	failures int
	fetches  int
}

//NewTask 创建构建任务，主题需已完成图层预处理
func NewTask(theme *Theme, r TileRange, cache *TileCache, endpoints []string, timeout int) (*Task, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("no backend endpoints configured")
	}
	filter, err := theme.DownloadFilter()
	if err != nil {
		return nil, err
	}
	id, err := shortid.Generate()
	if err != nil {
		return nil, errors.Wrap(err, "generate task id")
	}
	return &Task{
		ID:            id,
		Theme:         theme,
		Range:         r,
		Cache:         cache,
		Overpass:      &Overpass{Filter: filter, Timeout: timeout},
		Fetcher:       NewFetcher(2 * time.Minute),
		Enricher:      MetaTagger{},
		Endpoints:     endpoints,
		FailureDelay:  time.Second,
		PassDelay:     30 * time.Second,
		EnrichTimeout: 5 * time.Minute,
		Zoom:          r.Zoom,
		PointLayers:   make(map[string]bool),
		sleep:         sleepContext,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// endpoint rotates with the cumulative failure count.
func (task *Task) endpoint() string {
	return task.Endpoints[task.failures%len(task.Endpoints)]
}

//RawTileURL 原始瓦片的稳定来源地址（始终基于第一个服务），用于生成要素标识
func (task *Task) RawTileURL(t maptile.Tile) string {
	return task.Overpass.URL(task.Endpoints[0], t.Bound())
}

func (task *Task) logger() *log.Entry {
	return log.WithField("task", task.ID)
}

func (task *Task) record(t maptile.Tile, status TileStatus, elements int64) {
	if err := task.Ledger.Record(t, status, elements); err != nil {
		task.logger().Warnf("ledger: %s", err)
	}
}

//DownloadPass 按行优先顺序下载一轮，已缓存的跳过
func (task *Task) DownloadPass(ctx context.Context) (PassResult, error) {
	var res PassResult
	r := task.Range
	var bar *pb.ProgressBar
	if task.Progress {
		bar = pb.New64(int64(r.Total)).Prefix(fmt.Sprintf("Zoom %d : ", r.Zoom))
		bar.Start()
	}
	start := time.Now()
	for _, t := range r.Tiles() {
		res.Downloaded++
		if bar != nil {
			bar.Increment()
		}
		filename := task.Cache.RawPath(t)
		if task.Cache.Has(t) {
			task.logger().Debugf("already exists (not downloading again): %s", filename)
			res.Skipped++
			task.record(t, StatusSkipped, 0)
			continue
		}
		running := time.Since(start)
		if fetched := res.Downloaded - res.Skipped; fetched > 1 {
			perTile := running / time.Duration(fetched-1)
			resting := res.Failed + (r.Total - res.Downloaded + 1)
			task.logger().Infof("total: %d/%d failed: %d skipped: %d running time: %s estimated left: %s (%.1fs/tile)",
				res.Downloaded, r.Total, res.Failed, res.Skipped, running.Round(time.Second),
				(perTile * time.Duration(resting)).Round(time.Second), perTile.Seconds())
		}

		u := task.Overpass.URL(task.endpoint(), t.Bound())
		task.fetches++
		resp := task.Fetcher.Query(ctx, u)
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		switch resp.kind {
		case responseRemarkError:
			task.logger().Errorf("got a runtime error for tile %v: %s", t, resp.Remark)
			res.Failed++
			task.failures++
			task.record(t, StatusFailed, 0)
			continue
		case responseTransportError:
			task.logger().Warnf("could not download %v - probably hit the rate limit; waiting a bit (%s) ~", t, resp.err)
			res.Failed++
			task.failures++
			task.record(t, StatusFailed, 0)
			if err := task.sleep(ctx, task.FailureDelay); err != nil {
				return res, err
			}
			continue
		}
		if resp.Elements == 0 {
			task.logger().Warnf("got an empty response for %v! Writing anyway", t)
		}
		if err := task.Cache.Write(&RawTile{T: t, C: resp.Body}); err != nil {
			return res, err
		}
		task.record(t, StatusCached, resp.Elements)
		task.logger().Infof("got the response - writing %s elements (%s) to %s",
			humanize.Comma(resp.Elements), humanize.Bytes(uint64(len(resp.Body))), filename)
	}
	if bar != nil {
		bar.FinishPrint(fmt.Sprintf("task %s zoom %d pass finished ~", task.ID, r.Zoom))
	}
	return res, nil
}

//Download 重复下载直到一轮无失败（不限次数）
func (task *Task) Download(ctx context.Context) error {
	for pass := 1; ; pass++ {
		res, err := task.DownloadPass(ctx)
		if err != nil {
			return err
		}
		task.logger().Infof("pass %d: %d tiles, %d failed, %d skipped ~", pass, res.Downloaded, res.Failed, res.Skipped)
		if res.Failed == 0 {
			return nil
		}
		if err := task.sleep(ctx, task.PassDelay); err != nil {
			return err
		}
	}
}

func (task *Task) pointsFor(layer string) bool {
	return task.PointLayers["*"] || task.PointLayers[layer]
}

func (task *Task) enrich(ctx context.Context, lf LayerFeatures) error {
	if task.Enricher == nil || len(lf.Features) == 0 {
		return nil
	}
	e := task.Enricher.Enrich(ctx, lf.Layer, lf.Features)
	err := e.Wait(ctx, task.EnrichTimeout)
	switch {
	case errors.Is(err, ErrEnrichTimeout):
		task.logger().Warnf("layer %s: derived properties not ready after %s, continuing without them", lf.Layer.ID, task.EnrichTimeout)
		return nil
	case err != nil:
		return errors.Wrapf(err, "enrich layer %s", lf.Layer.ID)
	}
	n := e.Apply(lf.Features)
	task.logger().Debugf("layer %s: %d derived values ~", lf.Layer.ID, n)
	return nil
}

//SliceLayer 将一个图层重新分片并写出，返回写出的瓦片
func (task *Task) SliceLayer(ctx context.Context, lf LayerFeatures) ([]maptile.Tile, error) {
	layer := lf.Layer
	zoom := layer.ZoomLevel(task.Zoom)
	logger := task.logger().WithField("layer", layer.ID)
	logger.Infof("handling layer %s which has %d features", layer.ID, len(lf.Features))
	if len(lf.Features) == 0 {
		return nil, nil
	}
	if err := task.enrich(ctx, lf); err != nil {
		return nil, err
	}
	buckets, err := SpreadIntoBboxes(lf.Features, zoom)
	if err != nil {
		return nil, err
	}
	var created []maptile.Tile
	for _, b := range buckets {
		features := PrepareTile(layer, b, task.Clip)
		if len(features) == 0 {
			continue
		}
		path := task.Cache.TilePath(layer.ID, b.Tile)
		n, err := writeFeatureCollection(path, features)
		if err != nil {
			return created, err
		}
		created = append(created, b.Tile)
		logger.Debugf("written tile %s with %d features (%s)", path, len(features), humanize.Bytes(uint64(n)))
	}

	overviewPath := task.Cache.OverviewPath(layer.ID, zoom)
	if err := writeOverview(overviewPath, NewOverview(created)); err != nil {
		return created, err
	}
	logger.Infof("written overview: %s with %d tiles", overviewPath, len(created))

	if task.pointsFor(layer.ID) {
		pointsPath := task.Cache.PointsPath(layer.ID)
		if _, err := writeFeatureCollection(pointsPath, CenterPoints(lf.Features)); err != nil {
			return created, err
		}
		logger.Infof("writing points overview for %s", layer.ID)
	}
	return created, nil
}

//Run 下载、合并、分图层、重新分片、写出
func (task *Task) Run(ctx context.Context) error {
	start := time.Now()
	logger := task.logger()
	logger.Infof("building cache for theme %s, %s ~", task.Theme.ID, task.Range)
	for _, l := range task.Theme.Layers {
		if err := CheckZoom(l.ZoomLevel(task.Zoom)); err != nil {
			return errors.Wrapf(err, "layer %s", l.ID)
		}
	}
	if err := task.Download(ctx); err != nil {
		return err
	}
	extra, err := DownloadExtraData(ctx, task.Fetcher, task.Theme)
	if err != nil {
		return err
	}
	merger := NewMerger(task.Cache, task.RawTileURL)
	merger.Strict = task.Strict
	merger.Ledger = task.Ledger
	merger.Run = task.ID
	features, err := merger.LoadAllTiles(task.Range, extra)
	if err != nil {
		return err
	}

	perLayer, skipped := SplitPerLayer(task.Theme, features)
	for _, lf := range perLayer {
		if _, err := task.SliceLayer(ctx, lf); err != nil {
			return err
		}
	}
	if len(skipped) > 0 {
		logger.Warnf("did not save any cache files for layers %s as these didn't set the flag `isOsmCache` to true", strings.Join(skipped, ", "))
	}
	if merger.Missing > 0 {
		logger.Warnf("%d raw tiles were missing, the cache is incomplete; run again to fill the gaps", merger.Missing)
	}
	logger.Infof("all done in %s, %d network fetches ~", time.Since(start).Round(time.Millisecond), task.fetches)
	return nil
}
