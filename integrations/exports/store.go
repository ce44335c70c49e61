package exports

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrStoreClosed is returned by writes after Close.
var ErrStoreClosed = errors.New("exports: store closed")

// Store persists committed effects for indexers, audits and exports.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn. DSNs starting with postgres:// or postgresql:// use
// the postgres driver; anything else is treated as a sqlite path or URI.
func Open(dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, errors.New("exports: dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("exports: open %s: %w", dialector.Name(), err)
	}
	return NewStore(db)
}

// NewStore wraps an existing connection and migrates the schema.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("exports: database required")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("exports: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append inserts records in one transaction, assigning sequence numbers after
// the current maximum.
func (s *Store) Append(ctx context.Context, records ...Record) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	if len(records) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last uint64
		if err := tx.Model(&Record{}).Select("COALESCE(MAX(sequence), 0)").Scan(&last).Error; err != nil {
			return fmt.Errorf("exports: read sequence: %w", err)
		}
		for i := range records {
			last++
			records[i].Sequence = last
		}
		if err := tx.Create(&records).Error; err != nil {
			return fmt.Errorf("exports: insert: %w", err)
		}
		return nil
	})
}

// Filter narrows a Query. Zero values match everything.
type Filter struct {
	Type       string
	Market     string
	Account    string
	FromHeight uint64
	ToHeight   uint64
	Since      time.Time
	Limit      int
}

// Query returns matching records in commit order.
func (s *Store) Query(ctx context.Context, filter Filter) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	query := s.db.WithContext(ctx).Model(&Record{})
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Market != "" {
		query = query.Where("market = ?", filter.Market)
	}
	if filter.Account != "" {
		query = query.Where("account = ?", filter.Account)
	}
	if filter.FromHeight > 0 {
		query = query.Where("height >= ?", filter.FromHeight)
	}
	if filter.ToHeight > 0 {
		query = query.Where("height <= ?", filter.ToHeight)
	}
	if !filter.Since.IsZero() {
		query = query.Where("created_at >= ?", filter.Since.UTC())
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var out []Record
	if err := query.Order("sequence ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("exports: query: %w", err)
	}
	return out, nil
}

// Count returns the number of stored records of the given type, or of every
// type when eventType is empty.
func (s *Store) Count(ctx context.Context, eventType string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrStoreClosed
	}
	query := s.db.WithContext(ctx).Model(&Record{})
	if eventType != "" {
		query = query.Where("type = ?", eventType)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("exports: count: %w", err)
	}
	return count, nil
}
