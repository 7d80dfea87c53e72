package srs

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/conorfennell/fushigi/internal/domain"
)

const (
	// DefaultCapacity is the size of a daily batch when the caller does not pick one.
	DefaultCapacity = 5
	// MaxCapacity is the largest batch a caller may ask for.
	MaxCapacity = 100
)

// SelectDailyBatch builds the grammar ids for one study session.
//
// Due items (repetition > 0, due on or before today) come first, most overdue
// first and harder (lower ease) first among items due the same day. Remaining
// capacity is filled with a uniformly random subset of never-reviewed or
// lapsed items (repetition == 0). A nil rng falls back to a time-seeded source.
func SelectDailyBatch(records []domain.ReviewRecord, capacity int, today time.Time, rng *rand.Rand) []string {
	if capacity <= 0 {
		return []string{}
	}
	batch := make([]string, 0, min(capacity, len(records)))

	due, fresh := Partition(records, today)

	sort.SliceStable(due, func(i, j int) bool {
		di, dj := Day(due[i].DueDate), Day(due[j].DueDate)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		if due[i].EaseFactor != due[j].EaseFactor {
			return due[i].EaseFactor < due[j].EaseFactor
		}
		return due[i].GrammarID < due[j].GrammarID
	})

	for _, r := range due {
		if len(batch) == capacity {
			return batch
		}
		batch = append(batch, r.GrammarID)
	}

	remaining := capacity - len(batch)
	if remaining == 0 || len(fresh) == 0 {
		return batch
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	// Partial Fisher-Yates: the first n slots end up a uniform sample.
	n := min(remaining, len(fresh))
	for i := 0; i < n; i++ {
		j := i + rng.Intn(len(fresh)-i)
		fresh[i], fresh[j] = fresh[j], fresh[i]
		batch = append(batch, fresh[i].GrammarID)
	}
	return batch
}

// Partition splits records into due reviews and new material.
// Records with repetition > 0 that are not yet due belong to neither.
// The returned slices are copies and may be reordered freely.
func Partition(records []domain.ReviewRecord, today time.Time) (due, fresh []domain.ReviewRecord) {
	day := Day(today)
	for _, r := range records {
		switch {
		case r.Repetition == 0:
			fresh = append(fresh, r)
		case !Day(r.DueDate).After(day):
			due = append(due, r)
		}
	}
	return due, fresh
}

// ValidateCapacity rejects negative batch sizes.
func ValidateCapacity(capacity int) error {
	if capacity < 0 || capacity > MaxCapacity {
		return fmt.Errorf("%w: %d not in 0..%d", ErrInvalidCapacity, capacity, MaxCapacity)
	}
	return nil
}
