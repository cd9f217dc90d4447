package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/loiht2/payload-forge/models"
	"github.com/loiht2/payload-forge/schema"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS templates (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	data TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLiteStore keeps templates in a local SQLite database file
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and prepares the schema
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s for sqlite db: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db at %s: %w", path, err)
	}
	// A single connection keeps writers from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL on sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Name() string {
	return "sqlite"
}

// Close releases the database handle
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) List(ctx context.Context) ([]models.StoredTemplate, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, description, data, created_at, updated_at FROM templates ORDER BY updated_at DESC")
	if err != nil {
		return nil, errors.Wrap(err, "failed to query templates")
	}
	defer rows.Close()

	templates := []models.StoredTemplate{}
	for rows.Next() {
		template, err := scanTemplate(rows)
		if skipUnreadable(s.Name(), err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		templates = append(templates, *template)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read templates")
	}
	return templates, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.StoredTemplate, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, name, description, data, created_at, updated_at FROM templates WHERE id = ?", id)
	template, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return template, err
}

func (s *SQLiteStore) Insert(ctx context.Context, template models.StoredTemplate) error {
	data, err := schema.Encode(template.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO templates (id, name, description, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		template.ID, template.Name, template.Description, string(data),
		formatTime(template.CreatedAt), formatTime(template.UpdatedAt))
	if err != nil {
		return errors.Wrapf(err, "failed to insert template %s", template.ID)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, template models.StoredTemplate) (*models.StoredTemplate, error) {
	data, err := schema.Encode(template.Data)
	if err != nil {
		return nil, err
	}
	result, err := s.db.ExecContext(ctx,
		"UPDATE templates SET name = ?, description = ?, data = ?, updated_at = ? WHERE id = ?",
		template.Name, template.Description, string(data), formatTime(template.UpdatedAt), template.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to update template %s", template.ID)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read affected rows")
	}
	if affected == 0 {
		return nil, nil
	}
	return s.Get(ctx, template.ID)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM templates WHERE id = ?", id)
	if err != nil {
		return false, errors.Wrapf(err, "failed to delete template %s", id)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return affected > 0, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTemplate(row rowScanner) (*models.StoredTemplate, error) {
	var id, name, description, data, createdAt, updatedAt string
	if err := row.Scan(&id, &name, &description, &data, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan template row")
	}
	values, err := decodeStoredValues(id, []byte(data))
	if err != nil {
		return nil, err
	}
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "template %s has invalid created_at", id)
	}
	updated, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "template %s has invalid updated_at", id)
	}
	return &models.StoredTemplate{
		ID:          id,
		Name:        name,
		Description: description,
		Data:        values,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}, nil
}

// Fixed-width UTC timestamps so that text ordering in SQL matches time ordering
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}
