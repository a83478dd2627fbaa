package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-mailer/internal/gateway"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/repository"
)

// staticLister serves a fixed account list in pages.
type staticLister struct {
	accounts []model.Account
	err      error
}

func (l *staticLister) ListAccounts(ctx context.Context, page, perPage int) ([]model.Account, error) {
	if l.err != nil {
		return nil, l.err
	}
	start := (page - 1) * perPage
	if start >= len(l.accounts) {
		return nil, nil
	}
	end := start + perPage
	if end > len(l.accounts) {
		end = len(l.accounts)
	}
	return l.accounts[start:end], nil
}

func confirmedAccounts(n int) []model.Account {
	out := make([]model.Account, n)
	for i := range out {
		out[i] = model.Account{
			ID:             fmt.Sprintf("acc-%d", i),
			Email:          fmt.Sprintf("user%d@example.com", i),
			EmailConfirmed: true,
		}
	}
	return out
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, campaignID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.ids = append(d.ids, campaignID)
	return nil
}

func (d *recordingDispatcher) calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ids...)
}

// recordingSender counts deliveries per address and fails addresses
// containing "bounce".
type recordingSender struct {
	mu   sync.Mutex
	sent map[string]int
	msgs []gateway.Message
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: map[string]int{}}
}

func (s *recordingSender) Send(ctx context.Context, msg gateway.Message) error {
	if strings.Contains(msg.To, "bounce") {
		return &gateway.Error{StatusCode: 422, Message: "invalid recipient"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[msg.To]++
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSender) count(to string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[to]
}

// sleepCounter records inter-send sleeps without waiting.
type sleepCounter struct {
	mu sync.Mutex
	n  int
}

func (c *sleepCounter) sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return ctx.Err()
}

func (c *sleepCounter) reset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.n
	c.n = 0
	return n
}

// failingRecipients breaks BulkInsert only.
type failingRecipients struct {
	*repository.MemoryRecipientRepository
}

func (f failingRecipients) BulkInsert(ctx context.Context, campaignID string, rs []model.EligibleRecipient) error {
	return errors.New("copy: connection reset")
}

// seedQueued stores a queued campaign with n pending rows.
func seedQueued(t *testing.T, store *repository.MemoryStore, body string, emails ...string) string {
	t.Helper()
	ctx := context.Background()
	c := &model.Campaign{ID: "camp-" + t.Name(), Subject: "News", Body: body, TotalRecipients: len(emails)}
	if err := store.Campaigns.Create(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}
	rs := make([]model.EligibleRecipient, len(emails))
	for i, e := range emails {
		rs[i] = model.EligibleRecipient{AccountID: e, Email: e}
	}
	if err := store.Recipients.BulkInsert(ctx, c.ID, rs); err != nil {
		t.Fatalf("bulk insert: %v", err)
	}
	return c.ID
}

func emailsN(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("user%d@example.com", i)
	}
	return out
}

func newWorker(store *repository.MemoryStore, sender gateway.Sender, sleeper *sleepCounter) *BatchWorker {
	return &BatchWorker{
		CampaignRepo:  store.Campaigns,
		RecipientRepo: store.Recipients,
		Sender:        sender,
		BatchSize:     DefaultBatchSize,
		SendDelay:     DefaultSendDelay,
		Log:           zerolog.Nop(),
		Sleep:         sleeper.sleep,
	}
}
