package domain

import "time"

// ReviewRecord holds the scheduling state of one grammar point for one user.
// Records are created on first exposure and are never deleted.
type ReviewRecord struct {
	UserID       string     `json:"user_id" db:"user_id"`
	GrammarID    string     `json:"grammar_id" db:"grammar_id"`
	EaseFactor   float64    `json:"ease_factor" db:"ease_factor"`
	IntervalDays int        `json:"interval_days" db:"interval_days"`
	Repetition   int        `json:"repetition" db:"repetition"`
	DueDate      time.Time  `json:"due_date" db:"due_date"`
	LastReviewed *time.Time `json:"last_reviewed,omitempty" db:"last_reviewed"`
	// Version is bumped on every persisted update and guards against lost updates.
	Version int64 `json:"-" db:"version"`
}

// IsNew reports whether the record has never been reviewed.
func (r ReviewRecord) IsNew() bool {
	return r.Repetition == 0 && r.LastReviewed == nil
}

// IsLapsed reports whether the last review of the record was a failure.
func (r ReviewRecord) IsLapsed() bool {
	return r.Repetition == 0 && r.LastReviewed != nil
}
