package pagestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS pages (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	text        TEXT NOT NULL,
	category    TEXT NOT NULL,
	country     TEXT NOT NULL DEFAULT '',
	tags        TEXT NOT NULL DEFAULT '[]',
	visibility  TEXT NOT NULL DEFAULT '',
	author      TEXT NOT NULL DEFAULT '',
	mission_id  TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pages_category ON pages(category);
CREATE INDEX IF NOT EXISTS idx_pages_status ON pages(status);
`

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the page database at path.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		path = filepath.Join(home, ".config", "crystald", "pages.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	logger.Info("page store opened", zap.String("path", path))
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encoding tags: %w", err)
	}
	return string(raw), nil
}

func decodeTags(raw string) ([]string, error) {
	if raw == "" || raw == "[]" || raw == "null" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	return tags, nil
}

func (s *SQLiteStore) Create(ctx context.Context, page *Page) error {
	tags, err := encodeTags(page.Tags)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if page.CreatedAt.IsZero() {
		page.CreatedAt = now
	}
	page.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pages (id, title, text, category, country, tags, visibility, author, mission_id, status, chunk_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		page.ID, page.Title, page.Text, page.Category, page.Country, tags,
		page.Visibility, page.Author, page.MissionID, page.Status, page.ChunkCount,
		page.CreatedAt, page.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("%w: %s", ErrDuplicateID, page.ID)
		}
		return fmt.Errorf("inserting page %s: %w", page.ID, err)
	}
	return nil
}

const pageColumns = "id, title, text, category, country, tags, visibility, author, mission_id, status, chunk_count, created_at, updated_at"

func scanPage(row interface{ Scan(...any) error }) (*Page, error) {
	var p Page
	var tags string
	err := row.Scan(&p.ID, &p.Title, &p.Text, &p.Category, &p.Country, &tags,
		&p.Visibility, &p.Author, &p.MissionID, &p.Status, &p.ChunkCount,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Tags, err = decodeTags(tags)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Page, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+pageColumns+" FROM pages WHERE id = ?", id)
	page, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading page %s: %w", id, err)
	}
	return page, nil
}

func (s *SQLiteStore) Update(ctx context.Context, page *Page) error {
	tags, err := encodeTags(page.Tags)
	if err != nil {
		return err
	}
	page.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE pages SET title = ?, text = ?, category = ?, country = ?, tags = ?,
			visibility = ?, author = ?, mission_id = ?, status = ?, chunk_count = ?, updated_at = ?
		WHERE id = ?`,
		page.Title, page.Text, page.Category, page.Country, tags,
		page.Visibility, page.Author, page.MissionID, page.Status, page.ChunkCount,
		page.UpdatedAt, page.ID,
	)
	if err != nil {
		return fmt.Errorf("updating page %s: %w", page.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating page %s: %w", page.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, page.ID)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM pages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting page %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting page %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]*Page, error) {
	query := "SELECT " + pageColumns + " FROM pages"
	var conds []string
	var args []any
	if filter.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing pages: %w", err)
	}
	defer rows.Close()

	var pages []*Page
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning page: %w", err)
		}
		pages = append(pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing pages: %w", err)
	}
	return pages, nil
}

func (s *SQLiteStore) SetStatus(ctx context.Context, id, status string, chunkCount int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE pages SET status = ?, chunk_count = ?, updated_at = ? WHERE id = ?",
		status, chunkCount, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating status for page %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating status for page %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context, category string) (int, error) {
	query := "SELECT COUNT(*) FROM pages"
	var args []any
	if category != "" {
		query += " WHERE category = ?"
		args = append(args, category)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting pages: %w", err)
	}
	return n, nil
}
