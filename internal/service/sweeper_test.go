package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/repository"
)

func TestSweepExpiresStaleClaimsAndRedispatches(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	id := seedQueued(t, store, "x", emailsN(3)...)

	// A crashed invocation left one row claimed.
	store.Recipients.ClaimPending(ctx, id, 1)
	time.Sleep(5 * time.Millisecond)

	d := &recordingDispatcher{}
	s := &Sweeper{
		CampaignRepo:  store.Campaigns,
		RecipientRepo: store.Recipients,
		Dispatcher:    d,
		ClaimTTL:      time.Millisecond,
		IdleAfter:     time.Millisecond,
		Log:           zerolog.Nop(),
	}
	res, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Expired != 1 || res.Dispatched != 1 {
		t.Errorf("unexpected sweep result %+v", res)
	}

	stats, _ := store.Recipients.CountByStatus(ctx, id)
	if stats.Failed != 1 || stats.Pending != 2 || stats.Sending != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
	c, _ := store.Campaigns.GetByID(ctx, id)
	if c.FailedCount != 1 {
		t.Errorf("expired claim must be counted as failed, got %d", c.FailedCount)
	}
	if calls := d.calls(); len(calls) != 1 || calls[0] != id {
		t.Errorf("expected %s dispatched, got %v", id, calls)
	}
}

func TestSweepLeavesActiveAndFinishedCampaigns(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	active := seedQueued(t, store, "x", emailsN(3)...)
	store.Recipients.ClaimPending(ctx, active, 1)

	done := &model.Campaign{ID: "done", TotalRecipients: 1, Status: model.CampaignCompleted, CreatedAt: time.Now().Add(-time.Hour)}
	store.Campaigns.Create(ctx, done)

	d := &recordingDispatcher{}
	s := &Sweeper{
		CampaignRepo:  store.Campaigns,
		RecipientRepo: store.Recipients,
		Dispatcher:    d,
		ClaimTTL:      time.Hour,
		IdleAfter:     time.Hour,
		Log:           zerolog.Nop(),
	}
	res, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Expired != 0 || res.Dispatched != 0 || len(d.calls()) != 0 {
		t.Errorf("nothing should be touched, got %+v calls=%v", res, d.calls())
	}
}
