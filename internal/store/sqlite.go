package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/teemow/inboxevents/internal/event"
)

// BackendSQLite is the name of the SQLite backend.
const BackendSQLite = "sqlite"

// SQLite stores records in a local SQLite database through gorm.
type SQLite struct {
	db    *gorm.DB
	table string
}

// OpenSQLite opens (and creates) the database at path.
func OpenSQLite(path, table string) (*SQLite, error) {
	if err := ensureSQLiteDirectory(path); err != nil {
		return nil, wrap(BackendSQLite, "open", err)
	}

	db, err := gorm.Open(gormsqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, wrap(BackendSQLite, "open", err)
	}
	return NewSQLite(db, table), nil
}

// NewSQLite creates a store on an open gorm handle.
func NewSQLite(db *gorm.DB, table string) *SQLite {
	return &SQLite{db: db, table: table}
}

func ensureSQLiteDirectory(dsn string) error {
	candidate := strings.TrimSpace(dsn)
	if candidate == "" || candidate == ":memory:" {
		return nil
	}
	if strings.HasPrefix(strings.ToLower(candidate), "file:") {
		candidate = candidate[len("file:"):]
	}
	if idx := strings.Index(candidate, "?"); idx >= 0 {
		candidate = candidate[:idx]
	}

	dir := filepath.Dir(candidate)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sqlite directory %q: %w", dir, err)
	}
	return nil
}

func (s *SQLite) tx(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.table)
}

// Backend implements Store.
func (s *SQLite) Backend() string { return BackendSQLite }

// Close implements Store.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return wrap(BackendSQLite, "close", err)
	}
	return wrap(BackendSQLite, "close", sqlDB.Close())
}

// EnsureSchema implements Store.
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	return wrap(BackendSQLite, "create_table", s.tx(ctx).AutoMigrate(&event.Record{}))
}

// Put implements Store.
func (s *SQLite) Put(ctx context.Context, rec event.Record) error {
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	err := s.tx(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	return wrap(BackendSQLite, "put", err)
}

// QueryByStartTime implements Store.
func (s *SQLite) QueryByStartTime(ctx context.Context, startTime string) ([]event.Record, error) {
	var recs []event.Record
	if err := s.tx(ctx).Where("start_time = ?", startTime).Find(&recs).Error; err != nil {
		return nil, wrap(BackendSQLite, "query", err)
	}
	return withTags(recs), nil
}

// ScanByEmailID implements Store. Rows are read in primary key batches.
func (s *SQLite) ScanByEmailID(ctx context.Context, emailID string) ([]event.Record, error) {
	var (
		recs  []event.Record
		batch []event.Record
	)
	err := s.tx(ctx).Where("email_id = ?", emailID).
		FindInBatches(&batch, scanPageSize, func(_ *gorm.DB, _ int) error {
			recs = append(recs, batch...)
			return nil
		}).Error
	if err != nil {
		return nil, wrap(BackendSQLite, "scan", err)
	}
	return withTags(recs), nil
}

func withTags(recs []event.Record) []event.Record {
	for i := range recs {
		if recs[i].Tags == nil {
			recs[i].Tags = []string{}
		}
	}
	return recs
}
