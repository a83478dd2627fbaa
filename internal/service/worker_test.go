package service

import (
	"context"
	"sync"
	"testing"
	"time"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/repository"
)

func TestProcessBatchDrainsInBoundedSlices(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	id := seedQueued(t, store, "Hi {name}", emailsN(120)...)
	sleeper := &sleepCounter{}
	w := newWorker(store, newRecordingSender(), sleeper)

	want := []struct {
		processed int
		hasMore   bool
	}{
		{50, true},
		{50, true},
		{20, false},
		{0, false},
	}
	for i, tc := range want {
		res, err := w.ProcessBatch(ctx, id)
		if err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
		if res.Processed != tc.processed || res.HasMore != tc.hasMore {
			t.Errorf("call %d: got processed=%d hasMore=%v, want %d/%v", i+1, res.Processed, res.HasMore, tc.processed, tc.hasMore)
		}
		// No sleep after the last row of a batch.
		wantSleeps := tc.processed - 1
		if tc.processed == 0 {
			wantSleeps = 0
		}
		if got := sleeper.reset(); got != wantSleeps {
			t.Errorf("call %d: expected %d sleeps, got %d", i+1, wantSleeps, got)
		}
	}

	c, _ := store.Campaigns.GetByID(ctx, id)
	if c.Status != model.CampaignCompleted {
		t.Errorf("expected completed, got %s", c.Status)
	}
	if c.SentCount+c.FailedCount != 120 {
		t.Errorf("expected sent+failed == 120, got %d", c.SentCount+c.FailedCount)
	}
	stats, _ := store.Recipients.CountByStatus(ctx, id)
	if stats.Pending != 0 || stats.Sending != 0 || stats.Sent != 120 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestProcessBatchTransitionsToProcessing(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	id := seedQueued(t, store, "x", emailsN(60)...)
	w := newWorker(store, newRecordingSender(), &sleepCounter{})

	if _, err := w.ProcessBatch(ctx, id); err != nil {
		t.Fatalf("process: %v", err)
	}
	c, _ := store.Campaigns.GetByID(ctx, id)
	if c.Status != model.CampaignProcessing || c.StartedAt == nil {
		t.Errorf("expected processing with start time, got %s", c.Status)
	}
}

func TestProcessBatchRecordsFailuresAndContinues(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	id := seedQueued(t, store, "Hello {name} <{email}>",
		"a@example.com", "bounce@example.com", "c@example.com")
	sender := newRecordingSender()
	w := newWorker(store, sender, &sleepCounter{})

	res, err := w.ProcessBatch(ctx, id)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Processed != 3 || res.Sent != 2 || res.Failed != 1 || res.HasMore {
		t.Errorf("unexpected result %+v", res)
	}

	for _, row := range store.Recipients.Rows(id) {
		switch row.Email {
		case "bounce@example.com":
			if row.Status != model.RecipientFailed || row.ErrorMessage == nil || *row.ErrorMessage == "" {
				t.Errorf("bounce row should be failed with error text, got %+v", row)
			}
		default:
			if row.Status != model.RecipientSent || row.SentAt == nil {
				t.Errorf("row %s should be sent, got %s", row.Email, row.Status)
			}
		}
	}

	if sender.msgs[0].HTML != "Hello there <a@example.com>" {
		t.Errorf("unexpected rendered body %q", sender.msgs[0].HTML)
	}

	c, _ := store.Campaigns.GetByID(ctx, id)
	if c.SentCount != 2 || c.FailedCount != 1 || c.Status != model.CampaignCompleted {
		t.Errorf("unexpected campaign %+v", c)
	}
}

func TestProcessBatchAtMostOnceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	emails := emailsN(300)
	id := seedQueued(t, store, "x", emails...)
	sender := newRecordingSender()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := newWorker(store, sender, &sleepCounter{})
			for {
				res, err := w.ProcessBatch(ctx, id)
				if err != nil {
					t.Errorf("process: %v", err)
					return
				}
				if !res.HasMore {
					return
				}
			}
		}()
	}
	wg.Wait()

	for _, e := range emails {
		if n := sender.count(e); n != 1 {
			t.Errorf("%s delivered %d times", e, n)
		}
	}
	c, _ := store.Campaigns.GetByID(ctx, id)
	if c.SentCount != 300 || c.Status != model.CampaignCompleted {
		t.Errorf("unexpected campaign counters=%d status=%s", c.SentCount, c.Status)
	}
}

func TestProcessBatchReleasesRowsWhenBudgetExpires(t *testing.T) {
	store := repository.NewMemoryStore()
	id := seedQueued(t, store, "x", emailsN(10)...)

	ctx, cancel := context.WithCancel(context.Background())
	sends := 0
	w := newWorker(store, newRecordingSender(), &sleepCounter{})
	w.Sleep = func(c context.Context, d time.Duration) error {
		sends++
		if sends == 3 {
			cancel()
		}
		return c.Err()
	}

	res, err := w.ProcessBatch(ctx, id)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Processed != 3 || !res.HasMore {
		t.Errorf("expected 3 processed with more remaining, got %+v", res)
	}

	stats, _ := store.Recipients.CountByStatus(context.Background(), id)
	if stats.Sent != 3 || stats.Pending != 7 || stats.Sending != 0 {
		t.Errorf("unattempted rows must return to pending, got %+v", stats)
	}
}

func TestProcessBatchSkipsFailedCampaign(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	id := seedQueued(t, store, "x", emailsN(5)...)
	store.Campaigns.MarkFailed(ctx, id, "cancelled by operator")
	sender := newRecordingSender()

	res, err := newWorker(store, sender, &sleepCounter{}).ProcessBatch(ctx, id)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Processed != 0 || res.HasMore {
		t.Errorf("expected empty result, got %+v", res)
	}
	if len(sender.msgs) != 0 {
		t.Errorf("no message may be sent for a failed campaign")
	}
}

func TestProcessBatchUnknownCampaign(t *testing.T) {
	store := repository.NewMemoryStore()
	_, err := newWorker(store, newRecordingSender(), &sleepCounter{}).ProcessBatch(context.Background(), "nope")
	if !appErrors.IsCampaignNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
