package main

import (
	"encoding/json"
	"io/ioutil"
	"sort"
	"strconv"

	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/pkg/errors"
)

func toFeatureCollection(features []*Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		fc.Append(f.Feature)
	}
	return fc
}

//writeFeatureCollection 写 FeatureCollection 文件
func writeFeatureCollection(path string, features []*Feature) (int, error) {
	data, err := json.MarshalIndent(toFeatureCollection(features), "", " ")
	if err != nil {
		return 0, errors.Wrapf(err, "marshal %s", path)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

//loadFeatureCollection 读取 FeatureCollection 文件
func loadFeatureCollection(path string) (*geojson.FeatureCollection, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, errors.Wrapf(err, "unmarshal %s", path)
	}
	return fc, nil
}

//Overview x -> 已写出的 y 列表
type Overview map[string][]int

//NewOverview 由已写出的瓦片生成概览
func NewOverview(tiles []maptile.Tile) Overview {
	perX := make(Overview)
	for _, t := range tiles {
		key := strconv.Itoa(int(t.X))
		perX[key] = append(perX[key], int(t.Y))
	}
	for _, ys := range perX {
		sort.Ints(ys)
	}
	return perX
}

//writeOverview 写概览索引
func writeOverview(path string, overview Overview) error {
	data, err := json.Marshal(overview)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", path)
	}
	return writeFileAtomic(path, data)
}

//loadOverview 读取概览索引
func loadOverview(path string) (Overview, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	var o Overview
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, errors.Wrapf(err, "unmarshal %s", path)
	}
	return o, nil
}
