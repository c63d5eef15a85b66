package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/musicx/musicx-backend/pkg/config"
	"github.com/musicx/musicx-backend/pkg/logger"
)

// Client owns the pooled GORM handle shared by every repository.
type Client struct {
	conn *gorm.DB
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// New opens the Postgres pool and checks it with a ping before returning.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db: dsn is required")
	}

	conn, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN,
		PreferSimpleProtocol: true,
	}), GormConfig(logg, cfg.SlowQueryThreshold))
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	pool, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("db pool: %w", err)
	}
	tunePool(pool, cfg)

	client := &Client{conn: conn}
	if err := client.Ping(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "max_open_conns", cfg.MaxOpenConns), "db.connected")
	}
	return client, nil
}

// FromConn wraps a handle opened elsewhere, such as the sqlite databases
// used in tests.
func FromConn(conn *gorm.DB) *Client {
	return &Client{conn: conn}
}

// GormConfig returns the settings every connection shares. With a logger,
// statements slower than slow and failed statements are reported through it;
// without one GORM stays silent.
func GormConfig(logg *logger.Logger, slow time.Duration) *gorm.Config {
	gl := gormlogger.Discard
	if logg != nil {
		gl = gormlogger.New(gormWriter{logg: logg}, gormlogger.Config{
			SlowThreshold:             slow,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
		})
	}
	return &gorm.Config{
		Logger:                 gl,
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	}
}

// gormWriter forwards GORM's printf-style output to the structured logger.
type gormWriter struct {
	logg *logger.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	ctx := w.logg.WithField(context.Background(), "component", "gorm")
	w.logg.Warn(ctx, fmt.Sprintf(format, args...))
}

func tunePool(pool *sql.DB, cfg config.DBConfig) {
	if cfg.MaxOpenConns > 0 {
		pool.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pool.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

func (c *Client) DB() *gorm.DB {
	return c.conn
}

// SQL exposes the pool for goose.
func (c *Client) SQL() (*sql.DB, error) {
	return c.conn.DB()
}

func (c *Client) Ping(ctx context.Context) error {
	pool, err := c.conn.DB()
	if err != nil {
		return err
	}
	return pool.PingContext(ctx)
}

func (c *Client) Close() error {
	pool, err := c.conn.DB()
	if err != nil {
		return err
	}
	return pool.Close()
}

// WithTx runs fn in a transaction that commits when fn returns nil and rolls
// back on an error or a panic.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.conn.WithContext(ctx).Transaction(fn)
}
