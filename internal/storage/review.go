package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/conorfennell/fushigi/internal/domain"
	"github.com/conorfennell/fushigi/internal/srs"
)

const reviewColumns = `user_id, grammar_id, ease_factor, interval_days, repetition, due_date, last_reviewed, version`

// FetchReview returns the review record for a user and grammar point,
// or ErrNotFound when the pair has never been exposed.
func (db *DB) FetchReview(ctx context.Context, userID, grammarID string) (domain.ReviewRecord, error) {
	var rec domain.ReviewRecord
	err := db.conn.GetContext(ctx, &rec, db.conn.Rebind(`
		SELECT `+reviewColumns+`
		FROM srs WHERE user_id = ? AND grammar_id = ?
	`), userID, grammarID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ReviewRecord{}, fmt.Errorf("review %s/%s: %w", userID, grammarID, ErrNotFound)
		}
		return domain.ReviewRecord{}, fmt.Errorf("failed to fetch review %s/%s: %w", userID, grammarID, err)
	}
	return rec, nil
}

// ListReviews returns every review record of a user.
func (db *DB) ListReviews(ctx context.Context, userID string) ([]domain.ReviewRecord, error) {
	recs := []domain.ReviewRecord{}
	err := db.conn.SelectContext(ctx, &recs, db.conn.Rebind(`
		SELECT `+reviewColumns+`
		FROM srs WHERE user_id = ?
		ORDER BY grammar_id
	`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews for user %s: %w", userID, err)
	}
	return recs, nil
}

// EnsureReview creates the initial review record for a user's first exposure
// to a grammar point. It reports whether a record was created; an existing
// record is left untouched. ErrNotFound means the grammar point is unknown.
func (db *DB) EnsureReview(ctx context.Context, userID, grammarID string, today time.Time) (bool, error) {
	return ensureReview(ctx, db.conn, userID, grammarID, today)
}

func ensureReview(ctx context.Context, q sqlx.ExtContext, userID, grammarID string, today time.Time) (bool, error) {
	exists, err := grammarExists(ctx, q, grammarID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("grammar %s: %w", grammarID, ErrNotFound)
	}

	initial := srs.InitialState()
	res, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO srs (user_id, grammar_id, ease_factor, interval_days, repetition, due_date, last_reviewed, version)
		VALUES (?, ?, ?, ?, ?, ?, NULL, 0)
		ON CONFLICT (user_id, grammar_id) DO NOTHING
	`), userID, grammarID, initial.EaseFactor, initial.IntervalDays, initial.Repetition, srs.Day(today))
	if err != nil {
		return false, fmt.Errorf("failed to create review %s/%s: %w", userID, grammarID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for review %s/%s: %w", userID, grammarID, err)
	}
	return n > 0, nil
}

// PersistReview writes the new scheduling state of rec. The write only applies
// if the stored version still equals rec.Version, and bumps it; otherwise
// ErrConflict is returned and nothing is changed.
func (db *DB) PersistReview(ctx context.Context, rec domain.ReviewRecord) error {
	var lastReviewed interface{}
	if rec.LastReviewed != nil {
		lastReviewed = rec.LastReviewed.UTC()
	}
	res, err := db.conn.ExecContext(ctx, db.conn.Rebind(`
		UPDATE srs SET
			ease_factor = ?,
			interval_days = ?,
			repetition = ?,
			due_date = ?,
			last_reviewed = ?,
			version = version + 1
		WHERE user_id = ? AND grammar_id = ? AND version = ?
	`),
		rec.EaseFactor,
		rec.IntervalDays,
		rec.Repetition,
		rec.DueDate.UTC(),
		lastReviewed,
		rec.UserID,
		rec.GrammarID,
		rec.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to persist review %s/%s: %w", rec.UserID, rec.GrammarID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected for review %s/%s: %w", rec.UserID, rec.GrammarID, err)
	}
	if n == 0 {
		return fmt.Errorf("review %s/%s at version %d: %w", rec.UserID, rec.GrammarID, rec.Version, ErrConflict)
	}
	return nil
}
