package config

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

const insertBatchSize = 200

// Schema creates and drops the tables the store holds.
// Create must be additive ("create if not exists") because it runs on every open.
type Schema interface {
	Create(db *gorm.DB) error
	Drop(db *gorm.DB) error
}

// WriteOptions tunes a single write outside RunInTransaction.
// SkipSave defers persisting the blob, for callers batching many statements.
type WriteOptions struct {
	SkipSave bool
}

// InsertOptions tunes InsertMany.
type InsertOptions struct {
	// IgnoreConflicts turns the insert into INSERT ... ON CONFLICT DO NOTHING.
	IgnoreConflicts bool
	SkipSave        bool
}

// Store owns the only handle to the embedded database. The database lives in
// memory on a single pooled connection and is persisted as a base64 encoded
// SQLite serialization under one key of a BlobStore.
type Store struct {
	settings StoreSettings
	blobs    BlobStore
	schema   Schema
	logger   *logrus.Logger

	mu sync.Mutex
	db *gorm.DB
}

func NewStore(settings StoreSettings, blobs BlobStore, schema Schema, logger *logrus.Logger) *Store {
	if settings.BlobKey == "" {
		settings.BlobKey = DefaultSettings().Store.BlobKey
	}
	if logger == nil {
		logger = NewDiscardLogger()
	}
	return &Store{
		settings: settings,
		blobs:    blobs,
		schema:   schema,
		logger:   logger,
	}
}

// Initialize opens the database on first use and returns the open handle on
// every later call. A stored blob that cannot be loaded is returned as an error
// and leaves the store closed.
func (s *Store) Initialize(ctx context.Context) (*gorm.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}

	db, err := gorm.Open(sqlite.Open(":memory:"), initConfig(s.settings.LogSql))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	// the in-memory database belongs to one connection, so the pool must never
	// open a second one or recycle the first
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)

	if pluginErr := db.Use(otelgorm.NewPlugin()); pluginErr != nil {
		log.Printf("db opened but failed to install otelgorm plugin: %v", pluginErr)
	}

	encoded, found, err := s.blobs.Get(ctx, s.settings.BlobKey)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("read stored database: %w", err)
	}
	if found && len(encoded) > 0 {
		raw, err := base64.StdEncoding.DecodeString(string(encoded))
		if err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("decode stored database: %w", err)
		}
		if err := deserialize(ctx, sqlDB, raw); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("load stored database: %w", err)
		}
	}

	if err := s.schema.Create(db.WithContext(ctx)); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"module":   "database.go",
		"restored": found,
		"key":      s.settings.BlobKey,
	}).Info("database initialized")

	s.db = db
	return s.db, nil
}

// GetDB returns the handle for reads. It initializes the store if needed.
func (s *Store) GetDB(ctx context.Context) (*gorm.DB, error) {
	db, err := s.Initialize(ctx)
	if err != nil {
		return nil, err
	}
	return db.WithContext(ctx), nil
}

// Query runs a read-only projection into dest.
func (s *Store) Query(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	db, err := s.GetDB(ctx)
	if err != nil {
		return err
	}
	return db.Raw(query, args...).Scan(dest).Error
}

// Exec runs a single write statement and persists unless opts.SkipSave is set.
func (s *Store) Exec(ctx context.Context, opts WriteOptions, query string, args ...interface{}) (int64, error) {
	db, err := s.GetDB(ctx)
	if err != nil {
		return 0, err
	}
	res := db.Exec(query, args...)
	if res.Error != nil {
		return 0, res.Error
	}
	if !opts.SkipSave {
		if err := s.Persist(ctx); err != nil {
			return res.RowsAffected, err
		}
	}
	return res.RowsAffected, nil
}

// Insert creates one row; the generated id is set on value.
func (s *Store) Insert(ctx context.Context, opts WriteOptions, value interface{}) error {
	db, err := s.GetDB(ctx)
	if err != nil {
		return err
	}
	if err := db.Create(value).Error; err != nil {
		return err
	}
	if !opts.SkipSave {
		return s.Persist(ctx)
	}
	return nil
}

// RunInTransaction runs fn inside one transaction, commits once and persists
// once. Any error from fn rolls back; a failed rollback is logged and the
// original error is returned.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	db, err := s.Initialize(ctx)
	if err != nil {
		return err
	}

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("begin transaction: %w", tx.Error)
	}

	defer func() {
		if r := recover(); r != nil {
			s.rollback(tx)
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		s.rollback(tx)
		return err
	}

	if err := tx.Commit().Error; err != nil {
		s.rollback(tx)
		return fmt.Errorf("commit: %w", err)
	}

	// the commit stays in memory; the next successful persist carries it
	if err := s.Persist(ctx); err != nil {
		LogError(s.logger, "database.go", "RunInTransaction", "persist after commit", nil, err)
		return fmt.Errorf("persist after commit: %w", err)
	}
	return nil
}

func (s *Store) rollback(tx *gorm.DB) {
	if err := tx.Rollback().Error; err != nil && !errors.Is(err, sql.ErrTxDone) {
		LogError(s.logger, "database.go", "RunInTransaction", "rollback", nil, err)
	}
}

// InsertMany inserts rows in batches. With tx nil it runs as its own
// transaction; with a tx a failure is returned to the enclosing transaction.
// IDs are only reliable when IgnoreConflicts is false.
func InsertMany[T any](ctx context.Context, s *Store, tx *gorm.DB, rows []T, opts InsertOptions) ([]T, error) {
	if len(rows) == 0 {
		return rows, nil
	}
	insert := func(tx *gorm.DB) error {
		q := tx
		if opts.IgnoreConflicts {
			q = q.Clauses(clause.OnConflict{DoNothing: true})
		}
		return q.CreateInBatches(&rows, insertBatchSize).Error
	}

	if tx != nil {
		if err := insert(tx); err != nil {
			return nil, err
		}
		return rows, nil
	}

	db, err := s.Initialize(ctx)
	if err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Transaction(insert); err != nil {
		return nil, err
	}
	if !opts.SkipSave {
		if err := s.Persist(ctx); err != nil {
			return rows, err
		}
	}
	return rows, nil
}

// Persist serializes the whole database and writes it to the blob store.
func (s *Store) Persist(ctx context.Context) error {
	db, err := s.Initialize(ctx)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	start := time.Now()
	raw, err := serialize(ctx, sqlDB)
	if err != nil {
		return fmt.Errorf("serialize database: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	if err := s.blobs.Put(ctx, s.settings.BlobKey, []byte(encoded)); err != nil {
		return fmt.Errorf("persist database: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"module":  "database.go",
		"bytes":   len(raw),
		"elapsed": time.Since(start).String(),
	}).Debug("database persisted")
	return nil
}

// Clear drops and recreates every table, then persists the empty database.
func (s *Store) Clear(ctx context.Context) error {
	db, err := s.Initialize(ctx)
	if err != nil {
		return err
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.schema.Drop(tx); err != nil {
			return fmt.Errorf("drop schema: %w", err)
		}
		if err := s.schema.Create(tx); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.Persist(ctx)
}

// Close releases the connection and the blob store. The store can not be reopened.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
		s.db = nil
	}
	if s.blobs != nil {
		errs = append(errs, s.blobs.Close())
	}
	return errors.Join(errs...)
}

func withSQLiteConn(ctx context.Context, sqlDB *sql.DB, fn func(c *sqlite3.SQLiteConn) error) error {
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	return conn.Raw(func(driverConn any) error {
		c, ok := driverConn.(*sqlite3.SQLiteConn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		return fn(c)
	})
}

func serialize(ctx context.Context, sqlDB *sql.DB) ([]byte, error) {
	var raw []byte
	err := withSQLiteConn(ctx, sqlDB, func(c *sqlite3.SQLiteConn) error {
		var err error
		raw, err = c.Serialize("main")
		return err
	})
	return raw, err
}

func deserialize(ctx context.Context, sqlDB *sql.DB, raw []byte) error {
	staging, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return err
	}
	defer staging.Close()

	// a deserialized image can not grow, so it is copied page by page into the
	// live connection instead of being attached to it
	err = withSQLiteConn(ctx, staging, func(src *sqlite3.SQLiteConn) error {
		if err := src.Deserialize(raw, "main"); err != nil {
			return err
		}
		return withSQLiteConn(ctx, sqlDB, func(dst *sqlite3.SQLiteConn) error {
			backup, err := dst.Backup("main", src, "main")
			if err != nil {
				return err
			}
			if _, err := backup.Step(-1); err != nil {
				_ = backup.Finish()
				return err
			}
			return backup.Finish()
		})
	})
	if err != nil {
		return err
	}

	var n int
	return sqlDB.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master").Scan(&n)
}

// InitConfig Initialize Config
func initConfig(logSql bool) *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(logSql),
		NamingStrategy: initNamingStrategy(),
	}
}

// InitLog Connection Log Configuration
func initLog(logSql bool) logger.Interface {
	level := logger.Silent
	if logSql {
		level = logger.Info
	}
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // Output to standard output
		logger.Config{
			Colorful:                  false,
			LogLevel:                  level,
			SlowThreshold:             time.Second,
			IgnoreRecordNotFoundError: true,
		},
	)
}

// InitNamingStrategy Init NamingStrategy
func initNamingStrategy() *schema.NamingStrategy {
	return &schema.NamingStrategy{
		SingularTable: false,
		TablePrefix:   "",
	}
}
