// Package review runs study sessions: it composes daily batches and applies
// review answers to stored scheduling state.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/fushigi/internal/domain"
	"github.com/conorfennell/fushigi/internal/srs"
	"github.com/conorfennell/fushigi/internal/storage"
)

var (
	// ErrRecordNotFound means the user was never exposed to the grammar point.
	ErrRecordNotFound = errors.New("review: record not found")
	// ErrGrammarNotFound means the grammar point does not exist.
	ErrGrammarNotFound = errors.New("review: grammar not found")
	// ErrStorageUnavailable wraps failures of the persistence layer.
	ErrStorageUnavailable = errors.New("review: storage unavailable")
	// ErrInvalidInput wraps request validation failures.
	ErrInvalidInput = errors.New("review: invalid input")
)

// Store is the persistence the service needs. *storage.DB implements it.
type Store interface {
	FetchReview(ctx context.Context, userID, grammarID string) (domain.ReviewRecord, error)
	PersistReview(ctx context.Context, rec domain.ReviewRecord) error
	ListReviews(ctx context.Context, userID string) ([]domain.ReviewRecord, error)
	EnsureReview(ctx context.Context, userID, grammarID string, today time.Time) (bool, error)
	GetGrammarByIDs(ctx context.Context, ids []string) ([]domain.GrammarPoint, error)
}

// SubmitInput is one answered card.
type SubmitInput struct {
	UserID    string `json:"user_id" validate:"required"`
	GrammarID string `json:"grammar_id" validate:"required"`
	Quality   *int   `json:"quality" validate:"required,min=0,max=5"`
}

// Options tunes a Service. Zero values fall back to defaults.
type Options struct {
	DailyCapacity int
	Retries       int
	RetryInterval time.Duration
	Clock         func() time.Time
	Rand          *rand.Rand
	Logger        *slog.Logger
}

// Service applies the scheduler to stored review records.
type Service struct {
	store    Store
	validate *validator.Validate
	capacity int
	retries  int
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewService creates a Service over store.
func NewService(store Store, opts Options) *Service {
	s := &Service{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		capacity: opts.DailyCapacity,
		retries:  opts.Retries,
		interval: opts.RetryInterval,
		now:      opts.Clock,
		rng:      opts.Rand,
		log:      opts.Logger,
	}
	if s.capacity <= 0 {
		s.capacity = srs.DefaultCapacity
	}
	if s.retries <= 0 {
		s.retries = 3
	}
	if s.interval <= 0 {
		s.interval = 20 * time.Millisecond
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Submit applies an answered card to the stored record and returns the new record.
//
// The read-compute-write sequence is guarded by the record version: if
// another review lands in between, the record is re-read and the answer is
// applied on top of it, so no review is lost.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (domain.ReviewRecord, error) {
	if err := s.validate.Struct(in); err != nil {
		return domain.ReviewRecord{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	q := srs.Quality(*in.Quality)
	if err := q.Validate(); err != nil {
		return domain.ReviewRecord{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var updated domain.ReviewRecord
	attempt := func() error {
		current, err := s.store.FetchReview(ctx, in.UserID, in.GrammarID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return backoff.Permanent(fmt.Errorf("%w: %s/%s", ErrRecordNotFound, in.UserID, in.GrammarID))
			}
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrStorageUnavailable, err))
		}

		today := srs.Day(s.now())
		res, err := srs.Update(srs.State{
			EaseFactor:   current.EaseFactor,
			IntervalDays: current.IntervalDays,
			Repetition:   current.Repetition,
		}, q, today)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrInvalidInput, err))
		}

		next := current
		next.EaseFactor = res.EaseFactor
		next.IntervalDays = res.IntervalDays
		next.Repetition = res.Repetition
		next.DueDate = res.DueDate
		next.LastReviewed = &today

		if err := s.store.PersistReview(ctx, next); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				s.log.Debug("Review conflict, retrying", "user_id", in.UserID, "grammar_id", in.GrammarID)
				return err
			}
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrStorageUnavailable, err))
		}
		next.Version++
		updated = next
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.interval), uint64(s.retries)),
		ctx,
	)
	if err := backoff.Retry(attempt, policy); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return domain.ReviewRecord{}, fmt.Errorf("%w: gave up after %d retries: %v", ErrStorageUnavailable, s.retries, err)
		}
		return domain.ReviewRecord{}, err
	}

	s.log.Info("Review recorded",
		"user_id", in.UserID,
		"grammar_id", in.GrammarID,
		"quality", int(q),
		"interval_days", updated.IntervalDays,
		"due_date", updated.DueDate.Format(time.DateOnly),
	)
	return updated, nil
}

// Enroll creates the initial review record for a user's first exposure to a
// grammar point. It reports whether a new record was created.
func (s *Service) Enroll(ctx context.Context, userID, grammarID string) (bool, error) {
	if userID == "" || grammarID == "" {
		return false, fmt.Errorf("%w: user_id and grammar_id are required", ErrInvalidInput)
	}
	created, err := s.store.EnsureReview(ctx, userID, grammarID, s.now())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, fmt.Errorf("%w: %s", ErrGrammarNotFound, grammarID)
		}
		return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return created, nil
}

// DailyBatch returns up to capacity grammar points for today's session.
// A capacity of 0 selects the configured default.
func (s *Service) DailyBatch(ctx context.Context, userID string, capacity int) ([]domain.GrammarPoint, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if err := srs.ValidateCapacity(capacity); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if capacity == 0 {
		capacity = s.capacity
	}

	records, err := s.store.ListReviews(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s.rngMu.Lock()
	ids := srs.SelectDailyBatch(records, capacity, s.now(), s.rng)
	s.rngMu.Unlock()

	points, err := s.store.GetGrammarByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return points, nil
}
