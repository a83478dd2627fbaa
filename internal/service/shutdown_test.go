package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-mailer/internal/gateway"
	"github.com/unclebandit/campaign-mailer/internal/queue"
	"github.com/unclebandit/campaign-mailer/internal/repository"
)

// stallingSender delivers the first message and blocks on the second until
// its context is cancelled.
type stallingSender struct {
	inner   *recordingSender
	calls   int
	stalled chan struct{}
}

func (s *stallingSender) Send(ctx context.Context, msg gateway.Message) error {
	s.calls++
	if s.calls == 2 {
		close(s.stalled)
		<-ctx.Done()
		return ctx.Err()
	}
	return s.inner.Send(ctx, msg)
}

func TestQueueShutdownReleasesUnattemptedRows(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	id := seedQueued(t, store, "x", emailsN(10)...)

	q := queue.NewInMemoryQueue(zerolog.Nop())
	sender := &stallingSender{inner: newRecordingSender(), stalled: make(chan struct{})}
	p := &Processor{
		Worker:       newWorker(store, sender, &sleepCounter{}),
		Continuation: &Continuation{Dispatcher: queue.NewDispatcher(q, ""), Log: zerolog.Nop()},
		Budget:       time.Minute,
	}
	if err := queue.StartBatchSubscriber(q, "", p.RunJob, zerolog.Nop()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := queue.NewDispatcher(q, "").Dispatch(ctx, id); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	select {
	case <-sender.stalled:
	case <-time.After(2 * time.Second):
		t.Fatal("batch never reached the second row")
	}

	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := q.Shutdown(sctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	stats, _ := store.Recipients.CountByStatus(ctx, id)
	if stats.Sending != 0 {
		t.Errorf("no row may stay claimed after shutdown, got %d", stats.Sending)
	}
	if stats.Sent != 1 || stats.Failed != 1 || stats.Pending != 8 {
		t.Errorf("expected 1 sent, 1 failed, 8 pending, got %+v", stats)
	}

	// After a restart the sweeper finds nothing to expire.
	s := &Sweeper{
		CampaignRepo:  store.Campaigns,
		RecipientRepo: store.Recipients,
		Dispatcher:    &recordingDispatcher{},
		ClaimTTL:      time.Nanosecond,
		IdleAfter:     time.Hour,
		Log:           zerolog.Nop(),
	}
	res, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Expired != 0 {
		t.Errorf("expected no expired claims, got %d", res.Expired)
	}
}
