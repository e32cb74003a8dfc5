package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx. Repositories
// are bound to a DBTX so the same code runs standalone or inside the
// emit transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SavepointTx is a nested transaction scope over a DBTX. Rolling it back
// discards only the writes made inside the scope; the outer transaction
// stays usable.
type SavepointTx interface {
	DBTX
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// SavepointStarter is a DBTX that can open nested savepoints. The pgx
// transactions handed out by RunInTx implement it via nested Begin.
type SavepointStarter interface {
	BeginSavepoint(ctx context.Context) (SavepointTx, error)
}

type pgxTx struct {
	pgx.Tx
}

func (t pgxTx) BeginSavepoint(ctx context.Context) (SavepointTx, error) {
	nested, err := t.Tx.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin savepoint: %w", err)
	}
	return pgxTx{nested}, nil
}

// Connection wraps the database connection pool
type Connection struct {
	Pool *pgxpool.Pool
}

// NewConnection creates a new database connection
func NewConnection(ctx context.Context, config Config) (*Connection, error) {
	poolConfig, err := pgxpool.ParseConfig(config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		var ltreeOID uint32
		err := conn.QueryRow(ctx, "select oid from pg_type where typname = 'ltree'").Scan(&ltreeOID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Extension not installed yet; skip registration so connection still succeeds.
				return nil
			}
			return fmt.Errorf("failed to look up ltree type: %w", err)
		}

		ltreeType := &pgtype.Type{Name: "ltree", OID: ltreeOID, Codec: pgtype.LtreeCodec{}}
		conn.TypeMap().RegisterType(ltreeType)

		var ltreeArrayOID uint32
		err = conn.QueryRow(ctx, "select oid from pg_type where typname = '_ltree'").Scan(&ltreeArrayOID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to look up _ltree type: %w", err)
		}

		conn.TypeMap().RegisterType(&pgtype.Type{
			Name:  "_ltree",
			OID:   ltreeArrayOID,
			Codec: &pgtype.ArrayCodec{ElementType: ltreeType},
		})

		return nil
	}

	// Conservative pool settings; emit transactions are short-lived.
	poolConfig.MaxConns = 5
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Minute * 30
	poolConfig.MaxConnIdleTime = time.Minute * 5
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Connection{Pool: pool}, nil
}

// Close closes the database connection pool
func (c *Connection) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// RunInTx executes fn within one database transaction. The value passed to
// fn satisfies DBTX and SavepointStarter, so transaction-bound repositories
// can be built from it and callers can scope parts of their work in nested
// savepoints.
func (c *Connection) RunInTx(ctx context.Context, fn func(DBTX) error) error {
	tx, err := c.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if err := tx.Rollback(ctx); err != nil {
				log.Printf("Failed to rollback transaction: %v", err)
			}
			panic(p)
		}
	}()

	if err := fn(pgxTx{tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("transaction error: %v, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// DSN renders the config as a keyword/value connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// MigrateURL renders the config as a URL for golang-migrate's pgx driver.
func (c Config) MigrateURL() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// DefaultConfig returns a default database configuration
func DefaultConfig() Config {
	return Config{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "admin",
		DBName:   "carebridge",
		SSLMode:  "disable",
	}
}
