package review

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/conorfennell/fushigi/internal/domain"
	"github.com/conorfennell/fushigi/internal/srs"
	"github.com/conorfennell/fushigi/internal/storage"
)

var now = time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)

// memStore is an in-memory Store with the same version semantics as storage.DB.
type memStore struct {
	mu        sync.Mutex
	records   map[string]domain.ReviewRecord
	grammar   map[string]domain.GrammarPoint
	conflicts int // number of upcoming persists to reject with ErrConflict
	fail      error
	persists  int
}

func newMemStore() *memStore {
	return &memStore{
		records: map[string]domain.ReviewRecord{},
		grammar: map[string]domain.GrammarPoint{},
	}
}

func key(userID, grammarID string) string { return userID + "|" + grammarID }

func (m *memStore) FetchReview(_ context.Context, userID, grammarID string) (domain.ReviewRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return domain.ReviewRecord{}, m.fail
	}
	rec, ok := m.records[key(userID, grammarID)]
	if !ok {
		return domain.ReviewRecord{}, storage.ErrNotFound
	}
	return rec, nil
}

func (m *memStore) PersistReview(_ context.Context, rec domain.ReviewRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicts > 0 {
		m.conflicts--
		return storage.ErrConflict
	}
	k := key(rec.UserID, rec.GrammarID)
	if m.records[k].Version != rec.Version {
		return storage.ErrConflict
	}
	rec.Version++
	m.records[k] = rec
	m.persists++
	return nil
}

func (m *memStore) ListReviews(_ context.Context, userID string) ([]domain.ReviewRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	var out []domain.ReviewRecord
	for _, r := range m.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) EnsureReview(_ context.Context, userID, grammarID string, today time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.grammar[grammarID]; !ok {
		return false, storage.ErrNotFound
	}
	k := key(userID, grammarID)
	if _, ok := m.records[k]; ok {
		return false, nil
	}
	initial := srs.InitialState()
	m.records[k] = domain.ReviewRecord{
		UserID:       userID,
		GrammarID:    grammarID,
		EaseFactor:   initial.EaseFactor,
		IntervalDays: initial.IntervalDays,
		Repetition:   initial.Repetition,
		DueDate:      srs.Day(today),
	}
	return true, nil
}

func (m *memStore) GetGrammarByIDs(_ context.Context, ids []string) ([]domain.GrammarPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.GrammarPoint{}
	for _, id := range ids {
		if g, ok := m.grammar[id]; ok {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memStore) addGrammar(ids ...string) {
	for _, id := range ids {
		m.grammar[id] = domain.GrammarPoint{ID: id, Usage: id}
	}
}

func newTestService(store Store, retries int) *Service {
	return NewService(store, Options{
		Retries:       retries,
		RetryInterval: time.Millisecond,
		Clock:         func() time.Time { return now },
		Rand:          rand.New(rand.NewSource(1)),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func quality(q int) *int { return &q }

func TestSubmitAppliesUpdate(t *testing.T) {
	store := newMemStore()
	store.addGrammar("g1")
	svc := newTestService(store, 3)
	ctx := context.Background()

	if _, err := svc.Enroll(ctx, "u1", "g1"); err != nil {
		t.Fatalf("Enroll() returned an unexpected error: %v", err)
	}

	rec, err := svc.Submit(ctx, SubmitInput{UserID: "u1", GrammarID: "g1", Quality: quality(5)})
	if err != nil {
		t.Fatalf("Submit() returned an unexpected error: %v", err)
	}
	if rec.Repetition != 1 || rec.IntervalDays != 1 {
		t.Errorf("Unexpected record after first success %+v", rec)
	}
	if rec.LastReviewed == nil || !rec.LastReviewed.Equal(srs.Day(now)) {
		t.Errorf("Expected last reviewed to be stamped today, got %v", rec.LastReviewed)
	}
	if want := srs.Day(now).AddDate(0, 0, 1); !rec.DueDate.Equal(want) {
		t.Errorf("Expected due date %v, got %v", want, rec.DueDate)
	}

	stored, _ := store.FetchReview(ctx, "u1", "g1")
	if stored.Version != rec.Version {
		t.Errorf("Expected returned version %d to match stored %d", rec.Version, stored.Version)
	}

	rec, err = svc.Submit(ctx, SubmitInput{UserID: "u1", GrammarID: "g1", Quality: quality(4)})
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if rec.IntervalDays != 6 || rec.Repetition != 2 {
		t.Errorf("Unexpected record after second success %+v", rec)
	}
}

func TestSubmitValidation(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, 3)

	testCases := []struct {
		name string
		in   SubmitInput
	}{
		{"missing quality", SubmitInput{UserID: "u1", GrammarID: "g1"}},
		{"quality too high", SubmitInput{UserID: "u1", GrammarID: "g1", Quality: quality(6)}},
		{"quality negative", SubmitInput{UserID: "u1", GrammarID: "g1", Quality: quality(-1)}},
		{"missing user", SubmitInput{GrammarID: "g1", Quality: quality(3)}},
		{"missing grammar", SubmitInput{UserID: "u1", Quality: quality(3)}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), tc.in)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput, got %v", err)
			}
		})
	}
	if store.persists != 0 {
		t.Errorf("Expected no writes for invalid input, got %d", store.persists)
	}
}

func TestSubmitQualityZeroIsValid(t *testing.T) {
	store := newMemStore()
	store.addGrammar("g1")
	svc := newTestService(store, 3)
	svc.Enroll(context.Background(), "u1", "g1")

	rec, err := svc.Submit(context.Background(), SubmitInput{UserID: "u1", GrammarID: "g1", Quality: quality(0)})
	if err != nil {
		t.Fatalf("Submit() returned an unexpected error: %v", err)
	}
	if rec.Repetition != 0 || rec.IntervalDays != 1 || !rec.IsLapsed() {
		t.Errorf("Expected a lapsed record, got %+v", rec)
	}
}

func TestSubmitRecordNotFound(t *testing.T) {
	svc := newTestService(newMemStore(), 3)
	_, err := svc.Submit(context.Background(), SubmitInput{UserID: "u1", GrammarID: "g1", Quality: quality(4)})
	if !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}
}

func TestSubmitStorageFailure(t *testing.T) {
	store := newMemStore()
	store.fail = errors.New("connection refused")
	svc := newTestService(store, 3)
	_, err := svc.Submit(context.Background(), SubmitInput{UserID: "u1", GrammarID: "g1", Quality: quality(4)})
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("Expected ErrStorageUnavailable, got %v", err)
	}
}

func TestSubmitRetriesOnConflict(t *testing.T) {
	store := newMemStore()
	store.addGrammar("g1")
	svc := newTestService(store, 3)
	svc.Enroll(context.Background(), "u1", "g1")

	store.conflicts = 2
	rec, err := svc.Submit(context.Background(), SubmitInput{UserID: "u1", GrammarID: "g1", Quality: quality(4)})
	if err != nil {
		t.Fatalf("Submit() returned an unexpected error: %v", err)
	}
	if rec.Repetition != 1 {
		t.Errorf("Expected exactly one applied review, got repetition %d", rec.Repetition)
	}
}

func TestSubmitGivesUpAfterRetries(t *testing.T) {
	store := newMemStore()
	store.addGrammar("g1")
	svc := newTestService(store, 2)
	svc.Enroll(context.Background(), "u1", "g1")

	store.conflicts = 10
	_, err := svc.Submit(context.Background(), SubmitInput{UserID: "u1", GrammarID: "g1", Quality: quality(4)})
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("Expected ErrStorageUnavailable after exhausting retries, got %v", err)
	}
	rec, _ := store.FetchReview(context.Background(), "u1", "g1")
	if rec.Repetition != 0 || rec.LastReviewed != nil {
		t.Errorf("Expected the record to be untouched, got %+v", rec)
	}
}

func TestSubmitConcurrentNoLostUpdates(t *testing.T) {
	store := newMemStore()
	store.addGrammar("g1")
	svc := newTestService(store, 1000)
	svc.Enroll(context.Background(), "u1", "g1")

	const reviewers = 8
	var wg sync.WaitGroup
	errs := make(chan error, reviewers)
	for i := 0; i < reviewers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(context.Background(), SubmitInput{UserID: "u1", GrammarID: "g1", Quality: quality(5)})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Submit: %v", err)
		}
	}

	rec, _ := store.FetchReview(context.Background(), "u1", "g1")
	if rec.Repetition != reviewers {
		t.Errorf("Expected repetition %d after %d reviews, got %d", reviewers, reviewers, rec.Repetition)
	}
	if rec.Version != reviewers {
		t.Errorf("Expected version %d, got %d", reviewers, rec.Version)
	}
}

func TestEnroll(t *testing.T) {
	store := newMemStore()
	store.addGrammar("g1")
	svc := newTestService(store, 3)
	ctx := context.Background()

	created, err := svc.Enroll(ctx, "u1", "g1")
	if err != nil || !created {
		t.Fatalf("Enroll() = %v, %v; want true, nil", created, err)
	}
	created, err = svc.Enroll(ctx, "u1", "g1")
	if err != nil || created {
		t.Fatalf("second Enroll() = %v, %v; want false, nil", created, err)
	}
	if _, err := svc.Enroll(ctx, "u1", "missing"); !errors.Is(err, ErrGrammarNotFound) {
		t.Errorf("Expected ErrGrammarNotFound, got %v", err)
	}
	if _, err := svc.Enroll(ctx, "", "g1"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestDailyBatch(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, 3)
	ctx := context.Background()

	reviewed := srs.Day(now).AddDate(0, 0, -7)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("due-%d", i)
		store.addGrammar(id)
		store.records[key("u1", id)] = domain.ReviewRecord{
			UserID:       "u1",
			GrammarID:    id,
			EaseFactor:   2.5 - float64(i)/10,
			IntervalDays: 6,
			Repetition:   2,
			DueDate:      srs.Day(now).AddDate(0, 0, -1),
			LastReviewed: &reviewed,
		}
	}
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("new-%d", i)
		store.addGrammar(id)
		if _, err := svc.Enroll(ctx, "u1", id); err != nil {
			t.Fatalf("Enroll: %v", err)
		}
	}

	batch, err := svc.DailyBatch(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("DailyBatch() returned an unexpected error: %v", err)
	}
	if len(batch) != srs.DefaultCapacity {
		t.Fatalf("Expected %d items, got %d", srs.DefaultCapacity, len(batch))
	}
	want := []string{"due-2", "due-1", "due-0"}
	for i, id := range want {
		if batch[i].ID != id {
			t.Errorf("Expected batch[%d] = %s, got %s", i, id, batch[i].ID)
		}
	}

	batch, err = svc.DailyBatch(ctx, "u1", 2)
	if err != nil || len(batch) != 2 {
		t.Errorf("Expected capacity override of 2, got %d items (%v)", len(batch), err)
	}

	for _, capacity := range []int{-1, srs.MaxCapacity + 1, 1 << 62} {
		if _, err := svc.DailyBatch(ctx, "u1", capacity); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("capacity=%d: expected ErrInvalidInput, got %v", capacity, err)
		}
	}

	empty, err := svc.DailyBatch(ctx, "nobody", 5)
	if err != nil || len(empty) != 0 {
		t.Errorf("Expected an empty batch for an unknown user, got %v, %v", empty, err)
	}
}

func TestDailyBatchStorageFailure(t *testing.T) {
	store := newMemStore()
	store.fail = errors.New("disk I/O error")
	svc := newTestService(store, 3)
	if _, err := svc.DailyBatch(context.Background(), "u1", 5); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("Expected ErrStorageUnavailable, got %v", err)
	}
}
