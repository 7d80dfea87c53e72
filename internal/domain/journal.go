package domain

import "time"

// JournalEntry is a piece of free writing split into sentences.
// Sentences may be tagged with the grammar points they practice.
type JournalEntry struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Private   bool       `json:"private"`
	CreatedAt time.Time  `json:"created_at"`
	Sentences []Sentence `json:"sentences"`
}

// Sentence is one tagged sentence of a journal entry.
type Sentence struct {
	ID         string   `json:"id"`
	Content    string   `json:"content"`
	GrammarIDs []string `json:"grammar_ids"`
}
