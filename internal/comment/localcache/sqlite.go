package localcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type kvEntry struct {
	Client    string `gorm:"column:client_id;type:text;primaryKey"`
	Key       string `gorm:"column:cache_key;type:text;primaryKey"`
	Value     []byte `gorm:"column:value"`
	UpdatedAt time.Time
}

func (kvEntry) TableName() string {
	return "kv_entries"
}

// SQLiteKV persists cache values in a SQLite file so threads survive restarts.
// Rows are keyed by client and key; the value returned by OpenSQLite serves
// the anonymous client.
type SQLiteKV struct {
	db     *gorm.DB
	client string
}

// OpenSQLite opens (or creates) the database at path. Use ":memory:" for an ephemeral store.
func OpenSQLite(path string) (*SQLiteKV, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// one connection keeps ":memory:" databases shared and serialises writers
	sqlDB.SetMaxOpenConns(1)

	return NewSQLiteKV(db)
}

func NewSQLiteKV(db *gorm.DB) (*SQLiteKV, error) {
	if err := db.AutoMigrate(&kvEntry{}); err != nil {
		return nil, fmt.Errorf("migrate kv_entries: %w", err)
	}
	return &SQLiteKV{db: db}, nil
}

// Partition returns a view over the same database scoped to clientID.
// Closing a partition closes the shared database.
func (s *SQLiteKV) Partition(clientID string) KV {
	return &SQLiteKV{db: s.db, client: clientID}
}

func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var e kvEntry
	err := s.db.WithContext(ctx).Where("client_id = ? AND cache_key = ?", s.client, key).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e.Value, true, nil
}

func (s *SQLiteKV) Set(ctx context.Context, key string, value []byte) error {
	e := kvEntry{Client: s.client, Key: key, Value: value}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&e).Error
}

func (s *SQLiteKV) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
