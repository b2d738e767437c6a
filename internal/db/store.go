package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/Kamar-Folarin/mobile-sync/internal/models"
)

//go:embed migrations/*/*.sql
var migrations embed.FS

// goose keeps its dialect and filesystem in package globals
var migrateMu sync.Mutex

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// EntryFilter narrows a soup query. Zero values match everything.
type EntryFilter struct {
	States    []models.LocalState
	RecordIDs []string
	SyncID    int64
	Limit     int
}

// EntryStore holds the operations that may run inside a local transaction
type EntryStore interface {
	GetEntry(ctx context.Context, soup, recordID string) (*models.Entry, error)
	QueryEntries(ctx context.Context, soup string, filter EntryFilter) ([]*models.Entry, error)
	CountEntries(ctx context.Context, soup string, filter EntryFilter) (int, error)
	SaveEntry(ctx context.Context, entry *models.Entry) error
	SaveRemoteEntry(ctx context.Context, entry *models.Entry) (bool, error)
	DeleteEntries(ctx context.Context, soup string, entryIDs []int64) (int64, error)
	UpdateSyncState(ctx context.Context, state *models.SyncState) error
}

// Store defines the local store consumed by the sync engines
type Store interface {
	EntryStore

	// Transaction operations
	InTx(ctx context.Context, fn func(tx EntryStore) error) error

	// Sync state operations
	CreateSyncState(ctx context.Context, state *models.SyncState) error
	GetSyncState(ctx context.Context, id int64) (*models.SyncState, error)
	GetSyncStateByName(ctx context.Context, name string) (*models.SyncState, error)
	ListSyncStates(ctx context.Context) ([]*models.SyncState, error)

	// Local edits consumed by up-syncs
	CreateLocal(ctx context.Context, soup string, fields models.Record) (*models.Entry, error)
	UpdateLocal(ctx context.Context, soup, recordID string, fields models.Record) (*models.Entry, error)
	DeleteLocal(ctx context.Context, soup, recordID string) error

	Migrate(ctx context.Context) error
	Close() error
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SQLStore is the Store over an embedded SQLite file or a Postgres database
type SQLStore struct {
	entryOps
	db     *sql.DB
	logger *logrus.Logger
}

// Open connects to the database for the given driver
func Open(driver, connectionString string, logger *logrus.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	dsn := connectionString
	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(connectionString)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(8)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	return &SQLStore{
		entryOps: entryOps{q: db, driver: driver},
		db:       db,
		logger:   logger,
	}, nil
}

// busy_timeout and immediate transactions give SQLite one writer at a time
// while WAL keeps readers unblocked
func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_txlock=immediate", path)
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	dir := "migrations/postgres"
	if s.driver == DriverSQLite {
		dir = "migrations/sqlite"
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(s.logger)
	if err := goose.SetDialect(s.driver); err != nil {
		return err
	}

	if err := goose.Up(s.db, dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// InTx runs fn in a single local transaction, committing when it returns nil
func (s *SQLStore) InTx(ctx context.Context, fn func(tx EntryStore) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&entryOps{q: tx, driver: s.driver}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// entryOps runs statements against either the pool or an open transaction
type entryOps struct {
	q      querier
	driver string
}

// rebind turns ? placeholders into $n for Postgres
func (o *entryOps) rebind(query string) string {
	if o.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
