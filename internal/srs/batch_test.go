package srs

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/conorfennell/fushigi/internal/domain"
)

func daysAgo(n int) time.Time {
	return Day(today).AddDate(0, 0, -n)
}

func dueRecord(id string, overdue int, ease float64) domain.ReviewRecord {
	reviewed := daysAgo(overdue + 1)
	return domain.ReviewRecord{
		UserID:       "u1",
		GrammarID:    id,
		EaseFactor:   ease,
		IntervalDays: 1,
		Repetition:   1,
		DueDate:      daysAgo(overdue),
		LastReviewed: &reviewed,
	}
}

func newRecord(id string) domain.ReviewRecord {
	return domain.ReviewRecord{
		UserID:     "u1",
		GrammarID:  id,
		EaseFactor: DefaultEaseFactor,
		DueDate:    Day(today),
	}
}

func newRecords(n int) []domain.ReviewRecord {
	var out []domain.ReviewRecord
	for i := 0; i < n; i++ {
		out = append(out, newRecord(fmt.Sprintf("new-%02d", i)))
	}
	return out
}

func TestSelectDailyBatchDueThenNew(t *testing.T) {
	records := []domain.ReviewRecord{
		dueRecord("due-b", 0, 2.5),
		dueRecord("due-a", 3, 2.5),
		dueRecord("due-c", 0, 1.4),
	}
	records = append(records, newRecords(10)...)

	batch := SelectDailyBatch(records, 5, today, rand.New(rand.NewSource(1)))
	if len(batch) != 5 {
		t.Fatalf("Expected 5 items, but got %d", len(batch))
	}

	wantDue := []string{"due-a", "due-c", "due-b"}
	for i, id := range wantDue {
		if batch[i] != id {
			t.Errorf("Expected batch[%d] = %s, but got %s", i, id, batch[i])
		}
	}

	seen := map[string]bool{}
	for _, id := range batch[3:] {
		if id[:4] != "new-" {
			t.Errorf("Expected a new item after due items, got %s", id)
		}
		if seen[id] {
			t.Errorf("Item %s selected twice", id)
		}
		seen[id] = true
	}
}

func TestSelectDailyBatchFewerCandidates(t *testing.T) {
	batch := SelectDailyBatch(newRecords(2), 5, today, rand.New(rand.NewSource(1)))
	if len(batch) != 2 {
		t.Errorf("Expected 2 items, but got %d", len(batch))
	}
}

func TestSelectDailyBatchEmpty(t *testing.T) {
	batch := SelectDailyBatch(nil, 5, today, nil)
	if batch == nil || len(batch) != 0 {
		t.Errorf("Expected an empty non-nil batch, but got %#v", batch)
	}
	if batch := SelectDailyBatch(newRecords(3), 0, today, nil); len(batch) != 0 {
		t.Errorf("Expected zero capacity to select nothing, got %v", batch)
	}
}

func TestSelectDailyBatchNeverExceedsCapacity(t *testing.T) {
	var records []domain.ReviewRecord
	for i := 0; i < 12; i++ {
		records = append(records, dueRecord(fmt.Sprintf("due-%02d", i), i%4, 1.3+float64(i)/10))
	}
	records = append(records, newRecords(7)...)

	for capacity := 0; capacity <= 25; capacity++ {
		batch := SelectDailyBatch(records, capacity, today, rand.New(rand.NewSource(int64(capacity))))
		want := min(capacity, len(records))
		if len(batch) != want {
			t.Errorf("capacity=%d: expected %d items, but got %d", capacity, want, len(batch))
		}
	}
}

func TestSelectDailyBatchDueOrdering(t *testing.T) {
	records := []domain.ReviewRecord{
		dueRecord("d1", 1, 2.0),
		dueRecord("d2", 5, 2.6),
		dueRecord("d3", 1, 1.5),
		dueRecord("d4", 5, 1.9),
		dueRecord("d5", 0, 1.3),
	}
	batch := SelectDailyBatch(records, 10, today, nil)
	want := []string{"d4", "d2", "d3", "d1", "d5"}
	if fmt.Sprint(batch) != fmt.Sprint(want) {
		t.Errorf("Expected order %v, but got %v", want, batch)
	}
}

func TestSelectDailyBatchSkipsNotYetDue(t *testing.T) {
	future := dueRecord("later", 0, 2.5)
	future.DueDate = Day(today).AddDate(0, 0, 3)
	batch := SelectDailyBatch([]domain.ReviewRecord{future, dueRecord("now", 0, 2.5)}, 5, today, nil)
	if len(batch) != 1 || batch[0] != "now" {
		t.Errorf("Expected only the due item, but got %v", batch)
	}
}

func TestSelectDailyBatchDueFillsCapacity(t *testing.T) {
	var records []domain.ReviewRecord
	for i := 0; i < 6; i++ {
		records = append(records, dueRecord(fmt.Sprintf("due-%d", i), i, 2.5))
	}
	records = append(records, newRecords(4)...)
	batch := SelectDailyBatch(records, 5, today, nil)
	for _, id := range batch {
		if id[:4] == "new-" {
			t.Errorf("Expected no new items when due items fill capacity, got %v", batch)
		}
	}
}

func TestSelectDailyBatchLapsedCountsAsNew(t *testing.T) {
	lapsed := dueRecord("lapsed", 2, 1.3)
	lapsed.Repetition = 0
	batch := SelectDailyBatch([]domain.ReviewRecord{lapsed}, 5, today, nil)
	if len(batch) != 1 || batch[0] != "lapsed" {
		t.Errorf("Expected lapsed record to be offered as new material, got %v", batch)
	}
}

func TestSelectDailyBatchNewSelectionIsUniform(t *testing.T) {
	records := newRecords(4)
	counts := map[string]int{}
	rng := rand.New(rand.NewSource(7))
	const rounds = 4000
	for i := 0; i < rounds; i++ {
		for _, id := range SelectDailyBatch(records, 1, today, rng) {
			counts[id]++
		}
	}
	for _, r := range records {
		got := counts[r.GrammarID]
		if got < rounds/4-200 || got > rounds/4+200 {
			t.Errorf("Item %s picked %d times out of %d, expected about %d", r.GrammarID, got, rounds, rounds/4)
		}
	}
}

func TestSelectDailyBatchDoesNotReorderInput(t *testing.T) {
	records := newRecords(6)
	SelectDailyBatch(records, 3, today, rand.New(rand.NewSource(3)))
	for i, r := range records {
		if r.GrammarID != fmt.Sprintf("new-%02d", i) {
			t.Fatalf("Input slice was reordered at index %d: %s", i, r.GrammarID)
		}
	}
}

func TestSelectDailyBatchHugeCapacity(t *testing.T) {
	testCases := []struct {
		name    string
		records []domain.ReviewRecord
	}{
		{"no records", nil},
		{"one new record", []domain.ReviewRecord{{GrammarID: "a"}}},
		{"due and new", append([]domain.ReviewRecord{dueRecord("due-00", 1, 2.5)}, newRecords(3)...)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			batch := SelectDailyBatch(tc.records, 1<<62, today, rand.New(rand.NewSource(1)))
			if len(batch) != len(tc.records) {
				t.Errorf("Expected %d items, but got %d", len(tc.records), len(batch))
			}
		})
	}
}

func TestValidateCapacity(t *testing.T) {
	testCases := []struct {
		capacity int
		wantErr  bool
	}{
		{-1, true},
		{0, false},
		{DefaultCapacity, false},
		{MaxCapacity, false},
		{MaxCapacity + 1, true},
		{1 << 62, true},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprint(tc.capacity), func(t *testing.T) {
			err := ValidateCapacity(tc.capacity)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateCapacity(%d) error = %v, wantErr %v", tc.capacity, err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidCapacity) {
				t.Errorf("Expected ErrInvalidCapacity, got %v", err)
			}
		})
	}
}
