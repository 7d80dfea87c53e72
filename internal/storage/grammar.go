package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/conorfennell/fushigi/internal/domain"
)

// grammarRow is the stored shape of a grammar point; list fields are JSON text.
type grammarRow struct {
	ID       string        `db:"id"`
	Level    string        `db:"level"`
	Usage    string        `db:"usage"`
	Meaning  string        `db:"meaning"`
	Context  string        `db:"context"`
	Tags     string        `db:"tags"`
	Notes    string        `db:"notes"`
	Nuance   string        `db:"nuance"`
	Examples string        `db:"examples"`
	SourceID sql.NullInt64 `db:"source_id"`
}

const grammarColumns = `id, level, usage, meaning, context, tags, notes, nuance, examples, source_id`

func (r grammarRow) toDomain() (domain.GrammarPoint, error) {
	g := domain.GrammarPoint{
		ID:      r.ID,
		Level:   r.Level,
		Usage:   r.Usage,
		Meaning: r.Meaning,
		Context: r.Context,
		Notes:   r.Notes,
		Nuance:  r.Nuance,
	}
	if err := json.Unmarshal([]byte(r.Tags), &g.Tags); err != nil {
		return g, fmt.Errorf("decoding tags of grammar %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Examples), &g.Examples); err != nil {
		return g, fmt.Errorf("decoding examples of grammar %s: %w", r.ID, err)
	}
	return g, nil
}

// GrammarFilter narrows ListGrammar. Zero values mean "no filter".
type GrammarFilter struct {
	Level  string
	Tag    string
	Search string
	Limit  int
	Offset int
}

// UpsertGrammar inserts a grammar point or refreshes an existing one with the same id.
// sourceID 0 leaves the point without a source.
func (db *DB) UpsertGrammar(ctx context.Context, g domain.GrammarPoint, sourceID int64) error {
	tags, err := json.Marshal(nonNil(g.Tags))
	if err != nil {
		return fmt.Errorf("encoding tags of grammar %s: %w", g.ID, err)
	}
	examples, err := json.Marshal(nonNil(g.Examples))
	if err != nil {
		return fmt.Errorf("encoding examples of grammar %s: %w", g.ID, err)
	}
	source := sql.NullInt64{Int64: sourceID, Valid: sourceID != 0}

	_, err = db.conn.ExecContext(ctx, db.conn.Rebind(`
		INSERT INTO grammar (`+grammarColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			level = excluded.level,
			usage = excluded.usage,
			meaning = excluded.meaning,
			context = excluded.context,
			tags = excluded.tags,
			notes = excluded.notes,
			nuance = excluded.nuance,
			examples = excluded.examples,
			source_id = COALESCE(excluded.source_id, grammar.source_id)
	`),
		g.ID, g.Level, g.Usage, g.Meaning, g.Context, string(tags), g.Notes, g.Nuance, string(examples), source,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert grammar %s: %w", g.ID, err)
	}
	return nil
}

// GetGrammar retrieves a grammar point by id.
func (db *DB) GetGrammar(ctx context.Context, id string) (domain.GrammarPoint, error) {
	var row grammarRow
	err := db.conn.GetContext(ctx, &row, db.conn.Rebind(`SELECT `+grammarColumns+` FROM grammar WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.GrammarPoint{}, fmt.Errorf("grammar %s: %w", id, ErrNotFound)
		}
		return domain.GrammarPoint{}, fmt.Errorf("failed to get grammar %s: %w", id, err)
	}
	return row.toDomain()
}

func grammarExists(ctx context.Context, q sqlx.ExtContext, id string) (bool, error) {
	var n int
	if err := sqlx.GetContext(ctx, q, &n, q.Rebind(`SELECT COUNT(*) FROM grammar WHERE id = ?`), id); err != nil {
		return false, fmt.Errorf("failed to check grammar %s: %w", id, err)
	}
	return n > 0, nil
}

// ListGrammar returns grammar points ordered by usage.
func (db *DB) ListGrammar(ctx context.Context, f GrammarFilter) ([]domain.GrammarPoint, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Level != "" {
		where = append(where, "level = ?")
		args = append(args, f.Level)
	}
	if f.Tag != "" {
		// Tags are a JSON array of strings, so the quoted tag is an exact element match.
		quoted, _ := json.Marshal(f.Tag)
		where = append(where, `tags LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(string(quoted))+"%")
	}
	if f.Search != "" {
		where = append(where, `(LOWER(usage) LIKE ? ESCAPE '\' OR LOWER(meaning) LIKE ? ESCAPE '\')`)
		pattern := "%" + escapeLike(strings.ToLower(f.Search)) + "%"
		args = append(args, pattern, pattern)
	}

	query := `SELECT ` + grammarColumns + ` FROM grammar`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY usage, id`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	var rows []grammarRow
	if err := db.conn.SelectContext(ctx, &rows, db.conn.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list grammar: %w", err)
	}
	return toDomainList(rows)
}

// likeEscaper makes the LIKE wildcards in user input match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// GetGrammarByIDs returns the grammar points for ids in the same order.
// Unknown ids are skipped.
func (db *DB) GetGrammarByIDs(ctx context.Context, ids []string) ([]domain.GrammarPoint, error) {
	if len(ids) == 0 {
		return []domain.GrammarPoint{}, nil
	}
	query, args, err := sqlx.In(`SELECT `+grammarColumns+` FROM grammar WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build grammar lookup: %w", err)
	}
	var rows []grammarRow
	if err := db.conn.SelectContext(ctx, &rows, db.conn.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get grammar by ids: %w", err)
	}

	byID := make(map[string]grammarRow, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	points := make([]domain.GrammarPoint, 0, len(ids))
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			continue
		}
		g, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		points = append(points, g)
	}
	return points, nil
}

// ListSourceGrammarIDs returns the ids of grammar points attached to a source.
func (db *DB) ListSourceGrammarIDs(ctx context.Context, sourceID int64) ([]string, error) {
	var ids []string
	err := db.conn.SelectContext(ctx, &ids, db.conn.Rebind(`SELECT id FROM grammar WHERE source_id = ? ORDER BY id`), sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get grammar for source ID %d: %w", sourceID, err)
	}
	return ids, nil
}

// DetachGrammarFromSource clears the source of a grammar point.
// Grammar points are never deleted because review records reference them.
func (db *DB) DetachGrammarFromSource(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, db.conn.Rebind(`UPDATE grammar SET source_id = NULL WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to detach grammar %s: %w", id, err)
	}
	return nil
}

func toDomainList(rows []grammarRow) ([]domain.GrammarPoint, error) {
	points := make([]domain.GrammarPoint, 0, len(rows))
	for _, r := range rows {
		g, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		points = append(points, g)
	}
	return points, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
