package spooler

import (
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB opens (creating if needed) the ledger database and migrates it.
func OpenDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&ProcessedFile{}, &CaptureRun{}); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenQueryDB opens an existing ledger for reading without touching its
// schema.
func OpenQueryDB(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
}

// RecentRuns returns the latest runs of a ledger, newest first.
func RecentRuns(db *gorm.DB, limit int) ([]CaptureRun, error) {
	var runs []CaptureRun
	q := db.Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
