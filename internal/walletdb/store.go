// Package walletdb persists wallet ownership state (wallets, roots, pins,
// display names) in SQLite, plus per-CID access usage in a second database
// file. Writes are serialized through a single connection; composite
// operations run inside an ambient BEGIN IMMEDIATE transaction carried on
// the context.
package walletdb

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	_ "github.com/mattn/go-sqlite3"
)

var log = logging.Logger("gateway/walletdb")

//go:embed schema.sql
var schemaSQL string

// Store is the wallet-ownership database.
type Store struct {
	writer *sql.DB
	reader *sql.DB
}

// Open opens (creating if needed) the wallet database at path in WAL mode.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	writer, reader, err := openPair(path, busyTimeout)
	if err != nil {
		return nil, err
	}
	if _, err := writer.Exec(schemaSQL); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("failed to initialize wallet schema: %w", err)
	}
	log.Infow("wallet store opened", "path", path)
	return &Store{writer: writer, reader: reader}, nil
}

// Close closes both connection pools.
func (s *Store) Close() error {
	rerr := s.reader.Close()
	if err := s.writer.Close(); err != nil {
		return err
	}
	return rerr
}

// openPair opens the single-writer connection and a small read pool against
// the same file. The writer DSN requests BEGIN IMMEDIATE transactions so
// write locks are taken up front instead of on first statement.
func openPair(path string, busyTimeout time.Duration) (*sql.DB, *sql.DB, error) {
	common := fmt.Sprintf("_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d", busyTimeout.Milliseconds())

	writer, err := sql.Open("sqlite3", "file:"+path+"?"+common+"&_txlock=immediate")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	// SQLite only supports one writer.
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(time.Hour)

	reader, err := sql.Open("sqlite3", "file:"+path+"?"+common)
	if err != nil {
		writer.Close()
		return nil, nil, fmt.Errorf("failed to open read pool: %w", err)
	}
	reader.SetMaxOpenConns(8)
	reader.SetMaxIdleConns(2)
	reader.SetConnMaxLifetime(time.Hour)

	return writer, reader, nil
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// WithTx runs fn inside one BEGIN IMMEDIATE transaction. Store calls made
// with the context fn receives join that transaction; a nested WithTx
// reuses the enclosing one, so composite operations stay atomic without
// the callee knowing who opened the scope.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// write returns the ambient transaction when present, else the writer pool.
func (s *Store) write(ctx context.Context) dbtx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.writer
}

// read prefers the ambient transaction (snapshot consistency inside a
// scope) and the read pool otherwise, so reads never queue behind writes.
func (s *Store) read(ctx context.Context) dbtx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.reader
}

// placeholders renders "?,?,...,?" for IN clauses.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// anyArgs widens a string slice for ExecContext/QueryContext varargs.
func anyArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func nowMs() int64 { return time.Now().UnixMilli() }
