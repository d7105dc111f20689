package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/nexlead/leadflow/pkg/schema"
)

// LibSQLStore implements LeadStore using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/leads.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// CreateLead inserts a lead document. When the document has no "id" field,
// a new UUID is generated. Returns the lead ID.
func (s *LibSQLStore) CreateLead(ctx context.Context, lead map[string]any, collection string) (string, error) {
	collection = collectionOrDefault(collection)

	id, _ := lead["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}

	doc := make(map[string]any, len(lead)+1)
	for k, v := range lead {
		doc[k] = v
	}
	doc["id"] = id

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal lead: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (id, collection, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, collection, string(data), now, now,
	)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeStore, "insert lead: %s", err.Error()).WithCause(err)
	}
	return id, nil
}

// GetLead fetches a lead document by ID. Returns nil (no error) when absent,
// matching the collaborator contract of the validator runner.
func (s *LibSQLStore) GetLead(ctx context.Context, id string, collection string) (map[string]any, error) {
	collection = collectionOrDefault(collection)

	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM leads WHERE collection = ? AND id = ?`, collection, id,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "select lead: %s", err.Error()).WithCause(err)
	}

	var lead map[string]any
	if err := json.Unmarshal([]byte(data), &lead); err != nil {
		return nil, fmt.Errorf("unmarshal lead %s: %w", id, err)
	}
	return lead, nil
}

// UpdateLead merges updates into the stored document inside a transaction.
// Returns false when the lead does not exist.
func (s *LibSQLStore) UpdateLead(ctx context.Context, id string, updates map[string]any, collection string) (bool, error) {
	collection = collectionOrDefault(collection)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeStore, "begin update: %s", err.Error()).WithCause(err)
	}
	defer func() { _ = tx.Rollback() }()

	var data string
	err = tx.QueryRowContext(ctx,
		`SELECT data FROM leads WHERE collection = ? AND id = ?`, collection, id,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeStore, "select lead for update: %s", err.Error()).WithCause(err)
	}

	var lead map[string]any
	if err := json.Unmarshal([]byte(data), &lead); err != nil {
		return false, fmt.Errorf("unmarshal lead %s: %w", id, err)
	}
	for k, v := range updates {
		lead[k] = v
	}
	lead["id"] = id // the id field is not updatable

	merged, err := json.Marshal(lead)
	if err != nil {
		return false, fmt.Errorf("marshal lead %s: %w", id, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE leads SET data = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		string(merged), time.Now().UTC(), collection, id,
	)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeStore, "update lead: %s", err.Error()).WithCause(err)
	}

	if err := tx.Commit(); err != nil {
		return false, schema.NewErrorf(schema.ErrCodeStore, "commit update: %s", err.Error()).WithCause(err)
	}
	return true, nil
}

// ListLeads returns up to limit leads from a collection, newest first.
// A limit of 0 means no limit.
func (s *LibSQLStore) ListLeads(ctx context.Context, collection string, limit int) ([]map[string]any, error) {
	collection = collectionOrDefault(collection)

	query := `SELECT data FROM leads WHERE collection = ? ORDER BY updated_at DESC`
	args := []any{collection}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list leads: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var leads []map[string]any
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var lead map[string]any
		if err := json.Unmarshal([]byte(data), &lead); err != nil {
			return nil, fmt.Errorf("unmarshal lead: %w", err)
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

// DeleteLead removes a lead document.
func (s *LibSQLStore) DeleteLead(ctx context.Context, id string, collection string) error {
	collection = collectionOrDefault(collection)

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM leads WHERE collection = ? AND id = ?`, collection, id,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "delete lead: %s", err.Error()).WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "lead %q not found", id)
	}
	return nil
}

var _ LeadStore = (*LibSQLStore)(nil)
