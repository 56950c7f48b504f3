// Package sqlite persists gateway traces and quota state in a local SQLite
// file via modernc.org/sqlite (no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"runtime"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// gatewayPragmas tunes SQLite for a long-running single-process gateway:
// WAL lets trace inserts proceed while the admin API reads, busy_timeout
// absorbs writer contention during flush bursts, and NORMAL sync is enough
// for best-effort diagnostic data.
const gatewayPragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"

// Store implements storage.Store over two pools. SQLite allows one writer
// at a time, so the trace writer and quota exports share a single-connection
// pool while admin queries fan out over a reader pool.
type Store struct {
	write *sql.DB
	read  *sql.DB
}

// New opens (or creates) the gateway database at dsn, applies the embedded
// migrations, and returns a Store. dsn is a filesystem path such as
// "plexus.db"; ":memory:" keeps everything in process memory.
func New(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("sqlite: empty dsn")
	}

	write, err := open(dsn, 1)
	if err != nil {
		return nil, err
	}
	read, err := open(dsn, max(4, runtime.NumCPU()))
	if err != nil {
		write.Close()
		return nil, err
	}

	if err := migrate(write); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{write: write, read: read}, nil
}

func open(dsn string, maxConns int) (*sql.DB, error) {
	uri := "file:" + dsn + "?" + gatewayPragmas
	if dsn == ":memory:" {
		// Shared cache so the writer and reader pools see one database.
		uri = "file::memory:?mode=memory&cache=shared&" + gatewayPragmas
	}
	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(maxConns)
	return db, nil
}

// migrate applies the embedded schema with goose. fs.Sub strips the
// directory prefix so goose sees migration files at the FS root.
func migrate(db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("sub fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	_, err = provider.Up(context.Background())
	return err
}

// Ping checks the reader pool; the readiness endpoint uses it.
func (s *Store) Ping(ctx context.Context) error {
	return s.read.PingContext(ctx)
}

// Close releases both pools.
func (s *Store) Close() error {
	return errors.Join(s.write.Close(), s.read.Close())
}
