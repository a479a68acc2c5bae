package pg

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

type txContextKey string

const txKey txContextKey = "trx"

// DB splits reads and writes across two pools. Inside WithinTransaction both
// Read and Write resolve to the transaction so a unit of work sees its own
// writes.
type DB struct {
	read  *gorm.DB
	write *gorm.DB
}

// New wraps already opened handles, e.g. a single sqlite handle in tests.
func New(read, write *gorm.DB) *DB {
	return &DB{read: read, write: write}
}

func Create(config Config, withDebug bool) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		Logger: logger.Default.LogMode(logger.Warn),
	}
	db, err := gorm.Open(postgres.Open(config.DSN()), gormConfig)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if withDebug {
		db = db.Debug()
	}
	return db, nil
}

func CreateReadWrite(readConfig Config, writeConfig Config, withDebug bool) (*DB, error) {
	read, err := Create(readConfig, withDebug)
	if err != nil {
		return nil, fmt.Errorf("open read pool: %w", err)
	}
	write, err := Create(writeConfig, withDebug)
	if err != nil {
		return nil, fmt.Errorf("open write pool: %w", err)
	}
	return New(read, write), nil
}

// WithinTransaction runs fn in a write transaction. Nested calls reuse the
// outer transaction instead of opening a second one.
func (r *DB) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return fn(ctx)
	}
	return r.write.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey, tx))
	})
}

func (r *DB) Write(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return tx
	}
	return r.write.WithContext(ctx)
}

func (r *DB) Read(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return tx
	}
	return r.read.WithContext(ctx)
}

// Ping checks both pools; used by the health endpoint.
func (r *DB) Ping(ctx context.Context) error {
	for name, db := range map[string]*gorm.DB{"read": r.read, "write": r.write} {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("%s pool: %w", name, err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("%s pool: %w", name, err)
		}
	}
	return nil
}
