// Package audit records connection sessions in a SQLite database.
package audit

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Session is one connection's lifetime. Times are unix milliseconds and
// ClosedAt stays zero while the connection is live.
type Session struct {
	ID           uint   `gorm:"primaryKey"`
	ConnectionID string `gorm:"uniqueIndex;not null"`
	UserData     string
	OpenedAt     int64 `gorm:"index"`
	ClosedAt     int64
	EndState     string
}

func (s Session) Open() bool {
	return s.ClosedAt == 0
}

func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Session{}); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}
