package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("record not found")

type DB struct {
	conn   *sql.DB
	dbType string
	logger *zap.Logger
}

type Config struct {
	Type       string
	Host       string
	Port       int
	User       string
	Password   string
	Name       string
	URL        string
	SQLitePath string
}

func (c Config) dsn() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Name)
}

func NewDB(ctx context.Context, config Config, logger *zap.Logger) (*DB, error) {
	var conn *sql.DB
	var err error

	switch config.Type {
	case "sqlite":
		conn, err = sql.Open("sqlite3", config.SQLitePath)
	case "postgres":
		conn, err = sql.Open("pgx", config.dsn())
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	db := &DB{conn: conn, dbType: config.Type, logger: logger}

	// SQLite gets its schema directly; PostgreSQL goes through the migrator.
	if config.Type == "sqlite" {
		// One writer at a time keeps concurrent sessions from hitting SQLITE_BUSY.
		conn.SetMaxOpenConns(1)
		if err := db.createTables(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}

	return db, nil
}

func (db *DB) createTables(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS analyses (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		verdict TEXT NOT NULL,
		confidence REAL NOT NULL,
		frames_analyzed INTEGER NOT NULL,
		processing_time_seconds REAL NOT NULL,
		details TEXT NOT NULL,
		frame_verdicts TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses (created_at DESC);
	`

	_, err := db.conn.ExecContext(ctx, query)
	return err
}

// RunMigrations applies pending PostgreSQL migrations. It is a no-op for SQLite.
func (db *DB) RunMigrations(migrationsPath string) error {
	return NewMigrator(db.conn, db.dbType, db.logger).Run(migrationsPath)
}

func (db *DB) Type() string {
	return db.dbType
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Conn() *sql.DB {
	return db.conn
}
