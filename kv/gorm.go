package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/jmgilman/go/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// record is the single table GormStore keeps its values in.
type record struct {
	CacheKey  string `gorm:"column:cache_key;primaryKey;size:255"`
	Value     []byte `gorm:"column:value"`
	UpdatedAt time.Time
}

func (record) TableName() string {
	return "contentcache_records"
}

// GormStore is a Store backed by a SQL database through GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open database and migrates the records table.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "database cannot be nil")
	}
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to migrate records table")
	}
	return &GormStore{db: db}, nil
}

// OpenSQLite opens (creating if needed) a SQLite database file at path.
func OpenSQLite(path string) (*GormStore, error) {
	if path == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "sqlite path cannot be empty")
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := open(sqlite.Open(dsn))
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to get sql.DB instance")
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return NewGormStore(db)
}

// OpenPostgres connects to a Postgres database using a libpq-style or URL DSN.
func OpenPostgres(dsn string) (*GormStore, error) {
	if dsn == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "postgres dsn cannot be empty")
	}
	db, err := open(postgres.Open(dsn))
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to get sql.DB instance")
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return NewGormStore(db)
}

func open(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to open database")
	}
	return db, nil
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, key string) ([]byte, error) {
	var rec record
	err := s.db.WithContext(ctx).Where("cache_key = ?", key).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, errors.CodeDatabase, "failed to get key %q", key)
	}
	return rec.Value, nil
}

// Set implements Store.
func (s *GormStore) Set(ctx context.Context, key string, value []byte) error {
	rec := record{CacheKey: key, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "failed to set key %q", key)
	}
	return nil
}

// Delete implements Store.
func (s *GormStore) Delete(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&record{}).Error
	if err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "failed to delete key %q", key)
	}
	return nil
}

// Close implements Store.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "failed to get sql.DB instance")
	}
	if err := sqlDB.Close(); err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "failed to close database")
	}
	return nil
}
