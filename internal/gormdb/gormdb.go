package gormdb

import (
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"moul.io/zapgorm2"

	"github.com/alanbriolat/video-fetcher/internal/stats"
)

// Counter is one row per counter name.
type Counter struct {
	Name  string `gorm:"primaryKey"`
	Value int64
}

type Database struct {
	db *gorm.DB
}

func New(path string) (*Database, error) {
	logger := zapgorm2.New(zap.L().Named("gorm"))
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Counter{}); err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *Database) LoadCounters() (stats.Counters, error) {
	var rows []Counter
	if err := d.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	counters := make(stats.Counters, len(rows))
	for _, row := range rows {
		counters[row.Name] = row.Value
	}
	return counters, nil
}

func (d *Database) SaveCounters(counters stats.Counters) error {
	if len(counters) == 0 {
		return nil
	}
	rows := make([]Counter, 0, len(counters))
	for name, value := range counters {
		rows = append(rows, Counter{Name: name, Value: value})
	}
	return d.db.Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).Create(&rows).Error
	})
}
