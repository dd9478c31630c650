package main

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb/maptile"
	"github.com/pkg/errors"
)

//TileStatus 瓦片下载状态
type TileStatus string

// Constants representing TileStatus values
const (
	StatusCached  TileStatus = "cached"
	StatusSkipped TileStatus = "skipped"
	StatusFailed  TileStatus = "failed"
)

//TileData 账本中的瓦片记录
type TileData struct {
	Z        int
	X        int
	Y        int
	Status   TileStatus
	Attempts int
	Elements int64
}

//Ledger 构建账本，仅作记录，不参与断点续传判断
type Ledger struct {
	db *sql.DB
}

//OpenLedger 打开（或创建）sqlite 账本
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open ledger %s", path)
	}
	db.SetMaxOpenConns(1)
	if err := optimizeConnection(db); err != nil {
		db.Close()
		return nil, err
	}
	schema := []string{
		`CREATE TABLE IF NOT EXISTS tiles (
			z INTEGER,
			x INTEGER,
			y INTEGER,
			status TEXT,
			attempts INTEGER DEFAULT 0,
			elements INTEGER DEFAULT 0,
			updated TEXT
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS tile_index ON tiles(z, x, y);`,
		`CREATE TABLE IF NOT EXISTS gaps (
			run TEXT,
			z INTEGER,
			x INTEGER,
			y INTEGER,
			path TEXT,
			recorded TEXT
		);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "create ledger schema")
		}
	}
	return &Ledger{db: db}, nil
}

func optimizeConnection(db *sql.DB) error {
	_, err := db.Exec("PRAGMA synchronous=NORMAL")
	if err != nil {
		return errors.Wrap(err, "pragma synchronous")
	}
	_, err = db.Exec("PRAGMA journal_mode=DELETE")
	if err != nil {
		return errors.Wrap(err, "pragma journal_mode")
	}
	return nil
}

//Record 记录一次下载结果，失败次数累加
func (l *Ledger) Record(t maptile.Tile, status TileStatus, elements int64) error {
	if l == nil {
		return nil
	}
	attempt := 0
	if status != StatusSkipped {
		attempt = 1
	}
	_, err := l.db.Exec(`INSERT INTO tiles (z, x, y, status, attempts, elements, updated) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(z, x, y) DO UPDATE SET status = excluded.status, attempts = attempts + excluded.attempts,
		elements = CASE WHEN excluded.status = 'skipped' THEN elements ELSE excluded.elements END, updated = excluded.updated`,
		t.Z, t.X, t.Y, string(status), attempt, elements, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return errors.Wrapf(err, "record tile %v", t)
	}
	return nil
}

//RecordGap 记录加载阶段缺失的瓦片
func (l *Ledger) RecordGap(run string, t maptile.Tile, path string) error {
	if l == nil {
		return nil
	}
	_, err := l.db.Exec("INSERT INTO gaps (run, z, x, y, path, recorded) VALUES (?, ?, ?, ?, ?, ?)",
		run, t.Z, t.X, t.Y, path, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return errors.Wrapf(err, "record gap %v", t)
	}
	return nil
}

//Tile 读取瓦片记录
func (l *Ledger) Tile(t maptile.Tile) (*TileData, error) {
	row := l.db.QueryRow("SELECT z, x, y, status, attempts, elements FROM tiles WHERE z = ? AND x = ? AND y = ?", t.Z, t.X, t.Y)
	var (
		td     TileData
		status string
	)
	if err := row.Scan(&td.Z, &td.X, &td.Y, &status, &td.Attempts, &td.Elements); err != nil {
		return nil, err
	}
	td.Status = TileStatus(status)
	return &td, nil
}

//Gaps 某次运行缺失的瓦片数
func (l *Ledger) Gaps(run string) (int, error) {
	var n int
	err := l.db.QueryRow("SELECT COUNT(*) FROM gaps WHERE run = ?", run).Scan(&n)
	return n, err
}

//Close 关闭账本
func (l *Ledger) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}
