package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-sqlite3"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register sqlite-vec extension
	sqlite_vec.Auto()
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteStore implements Store on a single SQLite file. Similarity uses
// sqlite-vec's vec_distance_cosine over the filtered rows, so filters are
// applied before ranking.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (or creates) the vector database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debug("Opened SQLite vector store", "path", dbPath)

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetOrCreate returns the named collection, creating it with the cosine
// metric when absent.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, name string) (*Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, _ := json.Marshal(map[string]string{"hnsw:space": MetricCosine})
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (name, metric, metadata, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING
	`, name, MetricCosine, string(meta), now)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	return s.getLocked(ctx, name)
}

// Get returns the named collection or ErrCollectionNotFound.
func (s *SQLiteStore) Get(ctx context.Context, name string) (*Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(ctx, name)
}

func (s *SQLiteStore) getLocked(ctx context.Context, name string) (*Collection, error) {
	var c Collection
	var meta, createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT name, metric, metadata, created_at FROM collections WHERE name = ?", name,
	).Scan(&c.Name, &c.Metric, &meta, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode collection metadata: %w", err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}

// List returns collections whose name starts with prefix, ordered by name.
func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, metric, metadata, created_at FROM collections
		WHERE substr(name, 1, ?) = ? ORDER BY name
	`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		var c Collection
		var meta, createdAt string
		if err := rows.Scan(&c.Name, &c.Metric, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		_ = json.Unmarshal([]byte(meta), &c.Metadata)
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Drop deletes a collection and all of its records.
func (s *SQLiteStore) Drop(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// DropIfEmpty deletes the collection in a single statement that also
// checks it has no records.
func (s *SQLiteStore) DropIfEmpty(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM collections
		WHERE name = ?
		AND NOT EXISTS (SELECT 1 FROM records WHERE records.collection_id = collections.id)
	`, name)
	if err != nil {
		return false, fmt.Errorf("failed to drop collection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to drop collection: %w", err)
	}
	return n > 0, nil
}

// Insert adds records to a collection in one transaction.
func (s *SQLiteStore) Insert(ctx context.Context, name string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if id, ok := duplicateID(records); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRecord, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	collectionID, err := collectionID(ctx, tx, name)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (collection_id, record_id, document, metadata, embedding)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		meta, err := encodeMetadata(r.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, collectionID, r.ID, r.Text, meta, serializeEmbedding(r.Vector)); err != nil {
			var se sqlite3.Error
			if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
				return fmt.Errorf("%w: %s", ErrDuplicateRecord, r.ID)
			}
			return fmt.Errorf("failed to insert record %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// Query returns the k records closest to vector by cosine distance.
func (s *SQLiteStore) Query(ctx context.Context, name string, vector []float32, k int, filter *Filter) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, err := collectionID(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	where, args, err := filterSQL(filter)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT record_id, document, metadata, vec_distance_cosine(embedding, ?) AS distance
		FROM records
		WHERE collection_id = ?` + where + `
		ORDER BY distance ASC, seq ASC
		LIMIT ?`
	params := append([]any{serializeEmbedding(vector), id}, args...)
	params = append(params, k)

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var meta string
		if err := rows.Scan(&h.ID, &h.Text, &meta, &h.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan hit: %w", err)
		}
		if h.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Fetch returns matching records with their vectors in insertion order.
func (s *SQLiteStore) Fetch(ctx context.Context, name string, filter *Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, err := collectionID(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	where, args, err := filterSQL(filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, document, metadata, embedding FROM records
		WHERE collection_id = ?`+where+` ORDER BY seq`, append([]any{id}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var meta string
		var blob []byte
		if err := rows.Scan(&r.ID, &r.Text, &meta, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if r.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		r.Vector = deserializeEmbedding(blob)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of matching records.
func (s *SQLiteStore) Count(ctx context.Context, name string, filter *Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, err := collectionID(ctx, s.db, name)
	if err != nil {
		return 0, err
	}
	where, args, err := filterSQL(filter)
	if err != nil {
		return 0, err
	}

	var n int
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE collection_id = ?"+where,
		append([]any{id}, args...)...,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// DeleteByFilter removes every matching record and returns their ids. The
// selection and the delete share one transaction.
func (s *SQLiteStore) DeleteByFilter(ctx context.Context, name string, filter *Filter) ([]string, error) {
	where, args, err := filterSQL(filter)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := collectionID(ctx, tx, name)
	if errors.Is(err, ErrCollectionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	params := append([]any{id}, args...)

	rows, err := tx.QueryContext(ctx, "SELECT record_id FROM records WHERE collection_id = ?"+where+" ORDER BY seq", params...)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	var ids []string
	for rows.Next() {
		var rid string
		if err := rows.Scan(&rid); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan record id: %w", err)
		}
		ids = append(ids, rid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM records WHERE collection_id = ?"+where, params...); err != nil {
		return nil, fmt.Errorf("failed to delete records: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delete: %w", err)
	}
	return ids, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func collectionID(ctx context.Context, q queryRower, name string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, "SELECT id FROM collections WHERE name = ?", name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up collection: %w", err)
	}
	return id, nil
}

// filterSQL renders a filter as " AND ..." clauses over the JSON metadata.
func filterSQL(f *Filter) (string, []any, error) {
	if f.IsEmpty() {
		return "", nil, nil
	}

	var b strings.Builder
	var args []any
	for _, c := range f.Must {
		clause, cargs, err := conditionSQL(c, false)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(" AND ")
		b.WriteString(clause)
		args = append(args, cargs...)
	}
	for _, c := range f.MustNot {
		clause, cargs, err := conditionSQL(c, true)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(" AND ")
		b.WriteString(clause)
		args = append(args, cargs...)
	}
	return b.String(), args, nil
}

func conditionSQL(c Condition, negate bool) (string, []any, error) {
	if !fieldPattern.MatchString(c.Field) {
		return "", nil, fmt.Errorf("invalid metadata field %q", c.Field)
	}
	path := "$." + c.Field
	if len(c.Values) == 0 {
		// x IN () matches nothing
		if negate {
			return "1 = 1", nil, nil
		}
		return "1 = 0", nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(c.Values)), ", ")
	args := []any{path}
	for _, v := range c.Values {
		args = append(args, v)
	}
	if !negate {
		return fmt.Sprintf("CAST(json_extract(metadata, ?) AS TEXT) IN (%s)", placeholders), args, nil
	}
	args = append([]any{path}, args...)
	return fmt.Sprintf("(json_extract(metadata, ?) IS NULL OR CAST(json_extract(metadata, ?) AS TEXT) NOT IN (%s))", placeholders), args, nil
}
