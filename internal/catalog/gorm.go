/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/friendsincode/mixroom/internal/config"
)

// trackRecord is the persisted shape of a Track.
type trackRecord struct {
	ID          string  `gorm:"primaryKey;size:64"`
	Title       string  `gorm:"size:512"`
	Artist      string  `gorm:"size:512"`
	DurationSec float64 `gorm:""`
	BPM         float64 `gorm:""`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (trackRecord) TableName() string { return "tracks" }

// DB is the gorm-backed catalog.
type DB struct {
	db *gorm.DB
}

// Connect opens a gorm connection for the configured backend, registers
// the telemetry callbacks, and migrates the schema.
func Connect(cfg *config.Config) (*DB, error) {
	var dialector gorm.Dialector

	switch cfg.DBBackend {
	case config.DatabasePostgres:
		dialector = postgres.Open(cfg.DBDSN)
	case config.DatabaseMySQL:
		dialector = mysql.Open(cfg.DBDSN)
	case config.DatabaseSQLite:
		dialector = sqlite.Open(cfg.DBDSN)
	default:
		return nil, fmt.Errorf("unknown database backend: %s", cfg.DBBackend)
	}

	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := registerCallbacks(db); err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&trackRecord{}); err != nil {
		return nil, err
	}

	return &DB{db: db}, nil
}

// Lookup fetches one track by id.
func (c *DB) Lookup(ctx context.Context, trackID string) (*Track, error) {
	var rec trackRecord
	err := c.db.WithContext(ctx).First(&rec, "id = ?", trackID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTrackNotFound
	}
	if err != nil {
		return nil, err
	}
	return &Track{
		ID:          rec.ID,
		Title:       rec.Title,
		Artist:      rec.Artist,
		DurationSec: rec.DurationSec,
		BPM:         rec.BPM,
	}, nil
}

// Save upserts a track.
func (c *DB) Save(ctx context.Context, track *Track) error {
	if track == nil || track.ID == "" {
		return errors.New("track id required")
	}
	rec := trackRecord{
		ID:          track.ID,
		Title:       track.Title,
		Artist:      track.Artist,
		DurationSec: track.DurationSec,
		BPM:         track.BPM,
	}
	return c.db.WithContext(ctx).Save(&rec).Error
}

// Search finds tracks whose title or artist contains the query.
func (c *DB) Search(ctx context.Context, query string, limit int) ([]Track, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var recs []trackRecord
	like := "%" + query + "%"
	err := c.db.WithContext(ctx).
		Where("title LIKE ? OR artist LIKE ?", like, like).
		Order("title").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]Track, 0, len(recs))
	for _, rec := range recs {
		out = append(out, Track{
			ID:          rec.ID,
			Title:       rec.Title,
			Artist:      rec.Artist,
			DurationSec: rec.DurationSec,
			BPM:         rec.BPM,
		})
	}
	return out, nil
}

// Close releases database resources.
func (c *DB) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
