// Package engine wraps sqlx.DB with the database type and group id, and provides helpers
// to keep queries for several SQL dialects. Sqlite and Postgres are supported.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver
)

// Type is a type of database engine
type Type string

// enum of supported database engines
const (
	Unknown  Type = ""
	Sqlite   Type = "sqlite"
	Postgres Type = "postgres"
)

// SQL is a wrapper for sqlx.DB with type and group id.
// Group id allows keeping several independent corpora in the same database.
type SQL struct {
	*sqlx.DB
	gid    string
	dbType Type
}

// New makes a database engine from connection url. postgres:// and postgresql:// urls
// open postgres, file:, file://, sqlite:// prefixes, .db and .sqlite files and :memory: open sqlite.
func New(ctx context.Context, url, gid string) (*SQL, error) {
	switch {
	case url == "":
		return nil, fmt.Errorf("connection URL is empty")
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return NewPostgres(ctx, url, gid)
	case strings.HasPrefix(url, "sqlite://"):
		return NewSqlite(strings.TrimPrefix(url, "sqlite://"), gid)
	case strings.HasPrefix(url, "file://"):
		return NewSqlite(strings.TrimPrefix(url, "file://"), gid)
	case strings.HasPrefix(url, "file:"):
		return NewSqlite(strings.TrimPrefix(url, "file:"), gid)
	case url == ":memory:", strings.HasSuffix(url, ".db"), strings.HasSuffix(url, ".sqlite"):
		return NewSqlite(url, gid)
	default:
		return nil, fmt.Errorf("unsupported database type in %q", url)
	}
}

// NewSqlite opens sqlite database file. A single connection is used, sqlite serializes writes
// anyway, and :memory: databases exist per connection.
func NewSqlite(file, gid string) (*SQL, error) {
	db, err := sqlx.Connect("sqlite", file)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %q: %w", file, err)
	}
	db.SetMaxOpenConns(1)
	return &SQL{DB: db, gid: gid, dbType: Sqlite}, nil
}

// NewPostgres connects to postgres database
func NewPostgres(ctx context.Context, url, gid string) (*SQL, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &SQL{DB: db, gid: gid, dbType: Postgres}, nil
}

// GID returns the group id
func (e *SQL) GID() string {
	return e.gid
}

// Type returns the database engine type
func (e *SQL) Type() Type {
	return e.dbType
}

// Adopt converts ? placeholders to the engine's bind style
func (e *SQL) Adopt(query string) string {
	if e.dbType == Postgres {
		return sqlx.Rebind(sqlx.DOLLAR, query)
	}
	return query
}

// RWLocker is a read-write locker interface
type RWLocker interface {
	sync.Locker
	RLock()
	RUnlock()
}

// NoopLocker is a no-op locker
type NoopLocker struct{}

// Lock is a no-op
func (NoopLocker) Lock() {}

// Unlock is a no-op
func (NoopLocker) Unlock() {}

// RLock is a no-op
func (NoopLocker) RLock() {}

// RUnlock is a no-op
func (NoopLocker) RUnlock() {}

// MakeLock creates a new lock for the database engine, sqlite needs one, postgres doesn't
func (e *SQL) MakeLock() RWLocker {
	if e.dbType == Sqlite {
		return new(sync.RWMutex)
	}
	return NoopLocker{}
}

// DBCmd is a database command id
type DBCmd int

// Query is a SQL query with dialect-specific variants
type Query struct {
	Sqlite   string
	Postgres string
}

// QueryMap maps commands to their queries
type QueryMap struct {
	queries map[DBCmd]Query
}

// NewQueryMap creates an empty QueryMap
func NewQueryMap() *QueryMap {
	return &QueryMap{queries: make(map[DBCmd]Query)}
}

// Add adds dialect-specific queries for a command
func (q *QueryMap) Add(cmd DBCmd, query Query) *QueryMap {
	q.queries[cmd] = query
	return q
}

// AddSame adds the same query for all dialects
func (q *QueryMap) AddSame(cmd DBCmd, query string) *QueryMap {
	return q.Add(cmd, Query{Sqlite: query, Postgres: query})
}

// Pick returns the query of command for given db type
func (q *QueryMap) Pick(dbType Type, cmd DBCmd) (string, error) {
	query, ok := q.queries[cmd]
	if !ok {
		return "", fmt.Errorf("unsupported command type %d", cmd)
	}
	switch dbType {
	case Sqlite:
		return query.Sqlite, nil
	case Postgres:
		return query.Postgres, nil
	default:
		return "", fmt.Errorf("unsupported database type %q", dbType)
	}
}

// TableConfig defines table creation commands
type TableConfig struct {
	Name          string
	CreateTable   DBCmd
	CreateIndexes DBCmd // may hold several statements separated by ";"
	QueriesMap    *QueryMap
}

// InitTable creates table and its indexes in a transaction, does nothing for existing ones
func InitTable(ctx context.Context, db *SQL, cfg TableConfig) error {
	if db == nil {
		return fmt.Errorf("db connection is nil")
	}
	createTable, err := cfg.QueriesMap.Pick(db.Type(), cfg.CreateTable)
	if err != nil {
		return fmt.Errorf("failed to get create table query for %s: %w", cfg.Name, err)
	}
	createIndexes, err := cfg.QueriesMap.Pick(db.Type(), cfg.CreateIndexes)
	if err != nil {
		return fmt.Errorf("failed to get create indexes query for %s: %w", cfg.Name, err)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err = tx.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table %s: %w", cfg.Name, err)
	}
	for _, stmt := range strings.Split(createIndexes, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index for %s: %w", cfg.Name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
