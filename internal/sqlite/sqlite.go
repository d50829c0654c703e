package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/myrjola/struggle/internal/errors"
)

//go:embed schema.sql
var schemaDefinition string

// Database holds a single-connection read-write pool and a pooled read-only handle to the same file.
//
// The read-write DSN uses _txlock=immediate, so every transaction on ReadWrite takes the write lock up front and
// read-modify-write sequences inside one transaction are serialized.
type Database struct {
	ReadWrite *sql.DB
	ReadOnly  *sql.DB
	logger    *slog.Logger
}

// NewDatabase connects to url, migrates it to the embedded schema and starts the periodic optimizer.
//
// url is a path to the database file or ":memory:" for a private in-memory database.
func NewDatabase(ctx context.Context, url string, logger *slog.Logger) (*Database, error) {
	db, err := connect(ctx, url, logger)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err = db.migrateTo(ctx, schemaDefinition); err != nil {
		return nil, errors.Join(fmt.Errorf("migrate: %w", err), db.Close())
	}
	go db.startOptimizer(ctx, time.Hour)
	return db, nil
}

//nolint:gochecknoglobals // the driver may only be registered once per process.
var registerDriver sync.Once

const driverName = "sqlite3struggle"

func register() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		Extensions: nil,
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if _, err := conn.Exec("PRAGMA temp_store = memory; PRAGMA mmap_size = 30000000000;", nil); err != nil {
				return fmt.Errorf("exec connection pragmas: %w", err)
			}
			return nil
		},
	})
}

func connect(ctx context.Context, url string, logger *slog.Logger) (*Database, error) {
	extra := ""
	if strings.Contains(url, ":memory:") {
		// Both pools must see the same in-memory database, and parallel tests must not share one.
		url = rand.Text()
		extra = "&mode=memory&cache=shared"
	}
	// Options prefixed with underscore are driver options, see https://pkg.go.dev/github.com/mattn/go-sqlite3.
	common := strings.Join([]string{
		"_loc=auto",
		"_defer_foreign_keys=1",
		"_journal_mode=wal",
		"_busy_timeout=5000",
		"_synchronous=normal",
		"_foreign_keys=on",
	}, "&")
	readWriteDSN := fmt.Sprintf("file:%s?mode=rwc&_txlock=immediate&%s%s", url, common, extra)
	readOnlyDSN := fmt.Sprintf("file:%s?mode=ro&_txlock=deferred&_query_only=true&%s%s", url, common, extra)
	if extra != "" {
		// mode=memory must win over rwc and ro.
		readWriteDSN = fmt.Sprintf("file:%s?_txlock=immediate&%s%s", url, common, extra)
		readOnlyDSN = fmt.Sprintf("file:%s?_txlock=deferred&_query_only=true&%s%s", url, common, extra)
	}

	registerDriver.Do(register)

	readWrite, err := sql.Open(driverName, readWriteDSN)
	if err != nil {
		return nil, fmt.Errorf("open read-write database: %w", err)
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "opened database", slog.String("sqlDsn", readWriteDSN))
	readWrite.SetMaxOpenConns(1)
	readWrite.SetMaxIdleConns(1)
	readWrite.SetConnMaxLifetime(time.Hour)
	readWrite.SetConnMaxIdleTime(time.Hour)

	// sql.Open is lazy. Ping creates the file so the read-only pool can open it.
	if err = readWrite.PingContext(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("ping read-write database: %w", err), readWrite.Close())
	}

	readOnly, err := sql.Open(driverName, readOnlyDSN)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open read-only database: %w", err), readWrite.Close())
	}
	const maxReadConns = 10
	readOnly.SetMaxOpenConns(maxReadConns)
	readOnly.SetMaxIdleConns(maxReadConns)
	readOnly.SetConnMaxLifetime(time.Hour)
	readOnly.SetConnMaxIdleTime(time.Hour)

	return &Database{ReadWrite: readWrite, ReadOnly: readOnly, logger: logger}, nil
}

// WithTx runs fn inside an immediate transaction on the read-write pool. The transaction is committed when fn
// returns nil and rolled back otherwise.
func (db *Database) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.ReadWrite.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer db.rollback(ctx, tx)
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes both pools.
func (db *Database) Close() error {
	return errors.Join(db.ReadOnly.Close(), db.ReadWrite.Close())
}
