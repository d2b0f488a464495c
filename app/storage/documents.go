// Package storage keeps the training corpus in a sql database. Each table is represented by a struct
// with methods implementing business logic for this data type. Trained models are never stored,
// they are rebuilt from a Snapshot of the corpus.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/umputun/nbtext/app/storage/engine"
	"github.com/umputun/nbtext/lib/bayes"
)

// ErrNotFound is returned when a document doesn't exist in the group
var ErrNotFound = errors.New("document not found")

// Documents is a storage of labeled training documents
type Documents struct {
	*engine.SQL
	engine.RWLocker
}

// DocumentInfo is a stored document
type DocumentInfo struct {
	ID        int64     `db:"id"`
	GID       string    `db:"gid"`
	Timestamp time.Time `db:"ts"`
	Class     string    `db:"class"`
	Text      string    `db:"text"`
}

// documents-related command constants
const (
	CmdCreateDocumentsTable engine.DBCmd = iota + 100
	CmdCreateDocumentsIndexes
	CmdAddDocument
)

var documentsQueries = engine.NewQueryMap().
	Add(CmdCreateDocumentsTable, engine.Query{
		Sqlite: `CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			gid TEXT NOT NULL DEFAULT '',
			ts DATETIME DEFAULT CURRENT_TIMESTAMP,
			class TEXT NOT NULL,
			text TEXT NOT NULL
		)`,
		Postgres: `CREATE TABLE IF NOT EXISTS documents (
			id SERIAL PRIMARY KEY,
			gid TEXT NOT NULL DEFAULT '',
			ts TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			class TEXT NOT NULL,
			text TEXT NOT NULL
		)`,
	}).
	AddSame(CmdCreateDocumentsIndexes, `
		CREATE INDEX IF NOT EXISTS idx_documents_gid ON documents(gid);
		CREATE INDEX IF NOT EXISTS idx_documents_gid_class ON documents(gid, class)`).
	Add(CmdAddDocument, engine.Query{
		Sqlite:   `INSERT INTO documents (gid, class, text) VALUES (?, ?, ?) RETURNING id`,
		Postgres: `INSERT INTO documents (gid, class, text) VALUES ($1, $2, $3) RETURNING id`,
	})

// NewDocuments creates documents storage, makes table if needed
func NewDocuments(ctx context.Context, db *engine.SQL) (*Documents, error) {
	if db == nil {
		return nil, fmt.Errorf("db connection is nil")
	}
	res := &Documents{SQL: db, RWLocker: db.MakeLock()}
	cfg := engine.TableConfig{
		Name:          "documents",
		CreateTable:   CmdCreateDocumentsTable,
		CreateIndexes: CmdCreateDocumentsIndexes,
		QueriesMap:    documentsQueries,
	}
	if err := engine.InitTable(ctx, db, cfg); err != nil {
		return nil, fmt.Errorf("failed to init documents storage: %w", err)
	}
	return res, nil
}

// Add stores a labeled document and returns its id
func (d *Documents) Add(ctx context.Context, class bayes.Class, text string) (int64, error) {
	if err := validateDocument(class, text); err != nil {
		return 0, err
	}
	query, err := documentsQueries.Pick(d.Type(), CmdAddDocument)
	if err != nil {
		return 0, fmt.Errorf("failed to get query: %w", err)
	}

	d.Lock()
	defer d.Unlock()
	var id int64
	if err := d.GetContext(ctx, &id, query, d.GID(), string(class), text); err != nil {
		return 0, fmt.Errorf("failed to add document: %w", err)
	}
	log.Printf("[DEBUG] added document %d, class %q, %d bytes", id, class, len(text))
	return id, nil
}

// Import stores all documents in a single transaction, nothing is stored on error
func (d *Documents) Import(ctx context.Context, docs []bayes.Document) (int, error) {
	for i, doc := range docs {
		if err := validateDocument(doc.Class, doc.Text); err != nil {
			return 0, fmt.Errorf("document %d: %w", i, err)
		}
	}
	query, err := documentsQueries.Pick(d.Type(), CmdAddDocument)
	if err != nil {
		return 0, fmt.Errorf("failed to get query: %w", err)
	}

	d.Lock()
	defer d.Unlock()

	tx, err := d.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	for i, doc := range docs {
		var id int64
		if err := tx.GetContext(ctx, &id, query, d.GID(), string(doc.Class), doc.Text); err != nil {
			return 0, fmt.Errorf("failed to import document %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	log.Printf("[INFO] imported %d documents to %q", len(docs), d.GID())
	return len(docs), nil
}

// Remove deletes a document by id
func (d *Documents) Remove(ctx context.Context, id int64) error {
	d.Lock()
	defer d.Unlock()

	res, err := d.ExecContext(ctx, d.Adopt(`DELETE FROM documents WHERE gid = ? AND id = ?`), d.GID(), id)
	if err != nil {
		return fmt.Errorf("failed to remove document %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("failed to remove document %d: %w", id, ErrNotFound)
	}
	return nil
}

// Get returns a document by id
func (d *Documents) Get(ctx context.Context, id int64) (DocumentInfo, error) {
	d.RLock()
	defer d.RUnlock()

	var res DocumentInfo
	query := d.Adopt(`SELECT id, gid, ts, class, text FROM documents WHERE gid = ? AND id = ?`)
	if err := d.GetContext(ctx, &res, query, d.GID(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DocumentInfo{}, fmt.Errorf("failed to get document %d: %w", id, ErrNotFound)
		}
		return DocumentInfo{}, fmt.Errorf("failed to get document %d: %w", id, err)
	}
	return res, nil
}

// Snapshot returns all documents of the group in insertion order
func (d *Documents) Snapshot(ctx context.Context) ([]bayes.Document, error) {
	d.RLock()
	defer d.RUnlock()

	var recs []struct {
		Class string `db:"class"`
		Text  string `db:"text"`
	}
	query := d.Adopt(`SELECT class, text FROM documents WHERE gid = ? ORDER BY id`)
	if err := d.SelectContext(ctx, &recs, query, d.GID()); err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	res := make([]bayes.Document, 0, len(recs))
	for _, r := range recs {
		res = append(res, bayes.NewDocument(bayes.Class(r.Class), r.Text))
	}
	log.Printf("[DEBUG] read %d documents from %q", len(res), d.GID())
	return res, nil
}

// Stats returns the number of documents per class
func (d *Documents) Stats(ctx context.Context) (map[bayes.Class]int, error) {
	d.RLock()
	defer d.RUnlock()

	var recs []struct {
		Class string `db:"class"`
		Count int    `db:"count"`
	}
	query := d.Adopt(`SELECT class, COUNT(*) AS count FROM documents WHERE gid = ? GROUP BY class`)
	if err := d.SelectContext(ctx, &recs, query, d.GID()); err != nil {
		return nil, fmt.Errorf("failed to get documents stats: %w", err)
	}
	res := make(map[bayes.Class]int, len(recs))
	for _, r := range recs {
		res[bayes.Class(r.Class)] = r.Count
	}
	return res, nil
}

func validateDocument(class bayes.Class, text string) error {
	if strings.TrimSpace(string(class)) == "" {
		return fmt.Errorf("class can't be empty")
	}
	if strings.ContainsAny(string(class), " \t\n\r") {
		return fmt.Errorf("class %q can't contain whitespace", class)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("text can't be empty")
	}
	return nil
}
