package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Source types.
const (
	SourceLocal = "local"
	SourceGit   = "git"
)

// Source represents a grammar content source, either a local path or a Git URL.
type Source struct {
	ID          int64        `db:"id" json:"id"`
	Path        string       `db:"path" json:"path"`
	Type        string       `db:"type" json:"type"`
	LastScanned sql.NullTime `db:"last_scanned" json:"-"`
}

// InsertSource inserts a new source into the database and returns its ID.
func (db *DB) InsertSource(ctx context.Context, path, sourceType string) (int64, error) {
	var id int64
	err := db.conn.QueryRowxContext(ctx, db.conn.Rebind(`
		INSERT INTO sources (path, type)
		VALUES (?, ?)
		RETURNING id
	`), path, sourceType).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert source %s: %w", path, err)
	}
	return id, nil
}

// FindSourceByPath retrieves a source from the database by its path.
func (db *DB) FindSourceByPath(ctx context.Context, path string) (*Source, error) {
	var s Source
	err := db.conn.GetContext(ctx, &s, db.conn.Rebind(`
		SELECT id, path, type, last_scanned
		FROM sources WHERE path = ?
	`), path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("source %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find source by path %s: %w", path, err)
	}
	return &s, nil
}

// GetAllSources retrieves all stored sources from the database.
func (db *DB) GetAllSources(ctx context.Context) ([]Source, error) {
	sources := []Source{}
	err := db.conn.SelectContext(ctx, &sources, `
		SELECT id, path, type, last_scanned
		FROM sources
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all sources: %w", err)
	}
	return sources, nil
}

// UpdateSourceLastScanned updates the last_scanned timestamp for a source.
func (db *DB) UpdateSourceLastScanned(ctx context.Context, sourceID int64) error {
	_, err := db.conn.ExecContext(ctx, db.conn.Rebind(`
		UPDATE sources
		SET last_scanned = ?
		WHERE id = ?
	`), time.Now().UTC(), sourceID)
	if err != nil {
		return fmt.Errorf("failed to update last scanned for source ID %d: %w", sourceID, err)
	}
	return nil
}

// DeleteSource removes a source. Its grammar points stay and are detached.
func (db *DB) DeleteSource(ctx context.Context, sourceID int64) error {
	return db.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE grammar SET source_id = NULL WHERE source_id = ?`), sourceID); err != nil {
			return fmt.Errorf("failed to detach grammar of source ID %d: %w", sourceID, err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM sources WHERE id = ?`), sourceID)
		if err != nil {
			return fmt.Errorf("failed to delete source ID %d: %w", sourceID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected for source ID %d: %w", sourceID, err)
		}
		if n == 0 {
			return fmt.Errorf("source ID %d: %w", sourceID, ErrNotFound)
		}
		return nil
	})
}
