// Package srs implements the SM-2 derived review scheduler and the daily
// batch selection policy. Everything here is pure: no I/O and no shared state.
package srs

import (
	"fmt"
	"math"
	"time"
)

const (
	// DefaultEaseFactor is the ease assigned to an item before its first review.
	DefaultEaseFactor = 2.5
	// MinEaseFactor is the floor applied after every ease update.
	MinEaseFactor = 1.3
	// PassingQuality is the lowest quality counted as a successful recall.
	PassingQuality Quality = 3
)

// Quality is the learner's self-rated recall for a single review,
// from 0 (total blackout) to 5 (perfect recall).
type Quality int

// Validate returns ErrInvalidQuality when q is outside [0, 5].
func (q Quality) Validate() error {
	if q < 0 || q > 5 {
		return fmt.Errorf("%w: %d", ErrInvalidQuality, int(q))
	}
	return nil
}

// Passed reports whether q takes the success branch.
func (q Quality) Passed() bool {
	return q >= PassingQuality
}

// State is the part of a review record the scheduler reads and writes.
type State struct {
	EaseFactor   float64
	IntervalDays int
	Repetition   int
}

// Result is the next scheduling state plus the day it becomes due.
type Result struct {
	State
	DueDate time.Time
}

// InitialState is the state of an item that has never been reviewed.
func InitialState() State {
	return State{
		EaseFactor:   DefaultEaseFactor,
		IntervalDays: 0,
		Repetition:   0,
	}
}

// Update applies one review of quality q to the current state.
// The due date is counted in whole days from the calendar day of today.
func Update(current State, q Quality, today time.Time) (Result, error) {
	if err := q.Validate(); err != nil {
		return Result{}, err
	}

	next := current
	if !q.Passed() {
		// Lapse: the item starts its recall cycle over and is due tomorrow.
		next.Repetition = 0
		next.IntervalDays = 1
	} else {
		switch current.Repetition {
		case 0:
			next.IntervalDays = 1
		case 1:
			next.IntervalDays = 6
		default:
			next.IntervalDays = int(math.Floor(float64(current.IntervalDays) * current.EaseFactor))
		}
		next.Repetition = current.Repetition + 1
	}

	next.EaseFactor = nextEase(current.EaseFactor, q)

	return Result{
		State:   next,
		DueDate: Day(today).AddDate(0, 0, next.IntervalDays),
	}, nil
}

// nextEase is the SM-2 ease adjustment, floored at MinEaseFactor on every call.
func nextEase(ease float64, q Quality) float64 {
	d := float64(5 - q)
	ease += 0.1 - d*(0.08+d*0.02)
	return math.Max(ease, MinEaseFactor)
}

// Day returns midnight UTC of t's calendar day, read in t's own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
