package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/conorfennell/fushigi/internal/domain"
)

type journalRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Title     string    `db:"title"`
	Content   string    `db:"content"`
	Private   bool      `db:"private"`
	CreatedAt time.Time `db:"created_at"`
}

func (r journalRow) toDomain() domain.JournalEntry {
	return domain.JournalEntry{
		ID:        r.ID,
		UserID:    r.UserID,
		Title:     r.Title,
		Content:   r.Content,
		Private:   r.Private,
		CreatedAt: r.CreatedAt,
		Sentences: []domain.Sentence{},
	}
}

// CreateJournalEntry stores an entry with its sentences and grammar tags in one
// transaction. Ids and the creation time are assigned here and written back
// into entry. Tagging a sentence counts as the user's first exposure to the
// grammar point, so a review record is created for every tagged point.
func (db *DB) CreateJournalEntry(ctx context.Context, entry *domain.JournalEntry) error {
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now().UTC()

	return db.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO journal_entry (id, user_id, title, content, private, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`), entry.ID, entry.UserID, entry.Title, entry.Content, entry.Private, entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert journal entry: %w", err)
		}

		for i := range entry.Sentences {
			s := &entry.Sentences[i]
			s.ID = uuid.NewString()
			_, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO sentence (id, journal_entry_id, position, content)
				VALUES (?, ?, ?, ?)
			`), s.ID, entry.ID, i, s.Content)
			if err != nil {
				return fmt.Errorf("failed to insert sentence %d: %w", i, err)
			}

			for _, gid := range s.GrammarIDs {
				if _, err := ensureReview(ctx, tx, entry.UserID, gid, entry.CreatedAt); err != nil {
					return err
				}
				_, err := tx.ExecContext(ctx, tx.Rebind(`
					INSERT INTO tagged_sentence (sentence_id, grammar_id)
					VALUES (?, ?)
					ON CONFLICT (sentence_id, grammar_id) DO NOTHING
				`), s.ID, gid)
				if err != nil {
					return fmt.Errorf("failed to tag sentence %d with grammar %s: %w", i, gid, err)
				}
			}
		}
		return nil
	})
}

// GetJournalEntry retrieves one of a user's entries with its sentences and tags.
func (db *DB) GetJournalEntry(ctx context.Context, userID, id string) (domain.JournalEntry, error) {
	var row journalRow
	err := db.conn.GetContext(ctx, &row, db.conn.Rebind(`
		SELECT id, user_id, title, content, private, created_at
		FROM journal_entry
		WHERE id = ? AND user_id = ?
	`), id, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.JournalEntry{}, fmt.Errorf("journal entry %s: %w", id, ErrNotFound)
		}
		return domain.JournalEntry{}, fmt.Errorf("failed to get journal entry %s: %w", id, err)
	}
	entry := row.toDomain()

	var sentences []struct {
		ID      string `db:"id"`
		Content string `db:"content"`
	}
	err = db.conn.SelectContext(ctx, &sentences, db.conn.Rebind(`
		SELECT id, content FROM sentence
		WHERE journal_entry_id = ?
		ORDER BY position
	`), id)
	if err != nil {
		return domain.JournalEntry{}, fmt.Errorf("failed to get sentences of journal entry %s: %w", id, err)
	}

	for _, s := range sentences {
		gids := []string{}
		err := db.conn.SelectContext(ctx, &gids, db.conn.Rebind(`
			SELECT grammar_id FROM tagged_sentence WHERE sentence_id = ? ORDER BY grammar_id
		`), s.ID)
		if err != nil {
			return domain.JournalEntry{}, fmt.Errorf("failed to get tags of sentence %s: %w", s.ID, err)
		}
		entry.Sentences = append(entry.Sentences, domain.Sentence{
			ID:         s.ID,
			Content:    s.Content,
			GrammarIDs: gids,
		})
	}
	return entry, nil
}

// ListJournalEntries returns a page of a user's entries, newest first.
// Sentences are not loaded.
func (db *DB) ListJournalEntries(ctx context.Context, userID string, limit, offset int) ([]domain.JournalEntry, error) {
	var rows []journalRow
	err := db.conn.SelectContext(ctx, &rows, db.conn.Rebind(`
		SELECT id, user_id, title, content, private, created_at
		FROM journal_entry
		WHERE user_id = ?
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`), userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries for user %s: %w", userID, err)
	}

	entries := make([]domain.JournalEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.toDomain())
	}
	return entries, nil
}
