package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-mailer/internal/config"
	"github.com/unclebandit/campaign-mailer/internal/gateway"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/queue"
	"github.com/unclebandit/campaign-mailer/internal/repository"
)

type fixedDirectory []model.Account

func (d fixedDirectory) ListAccounts(ctx context.Context, page, perPage int) ([]model.Account, error) {
	if page > 1 {
		return nil, nil
	}
	return d, nil
}

type countingSender struct{ n int }

func (s *countingSender) Send(ctx context.Context, msg gateway.Message) error {
	s.n++
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		OperatorTokens:    map[string]string{"tok": "ops"},
		DirectoryPageSize: 100,
		GatewayDriver:     config.GatewayMock,
		BatchSize:         4,
		InvocationBudget:  time.Minute,
		DispatchDriver:    config.DispatchMemory,
		AMQPQueue:         "campaign_batches",
	}
}

func newTestApp(t *testing.T, accounts int) (*App, *repository.MemoryStore, *countingSender) {
	t.Helper()
	dir := make(fixedDirectory, accounts)
	for i := range dir {
		dir[i] = model.Account{ID: fmt.Sprint(i), Email: fmt.Sprintf("u%d@example.com", i), EmailConfirmed: true}
	}
	store := repository.NewMemoryStore()
	sender := &countingSender{}
	a, err := New(context.Background(), testConfig(), zerolog.Nop(), Options{Store: store, Sender: sender, Directory: dir})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, store, sender
}

func TestHealthzIsPublic(t *testing.T) {
	a, _, _ := newTestApp(t, 0)

	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	a, _, _ := newTestApp(t, 0)

	for _, path := range []string{"/create-campaign", "/process-campaign-queue"} {
		w := httptest.NewRecorder()
		a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte("{}"))))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, w.Code)
		}
	}
}

func TestCampaignRunsToCompletionInProcess(t *testing.T) {
	a, store, sender := newTestApp(t, 10)
	if err := a.StartConsumer(); err != nil {
		t.Fatalf("consumer: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"subject": "Hi", "htmlContent": "Hello {name}"})
	req := httptest.NewRequest(http.MethodPost, "/create-campaign", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Campaign struct {
			ID string `json:"id"`
		} `json:"campaign"`
	}
	json.NewDecoder(w.Body).Decode(&resp)

	a.Queue.(*queue.InMemoryQueue).Wait()

	c, err := store.Campaigns.GetByID(context.Background(), resp.Campaign.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Status != model.CampaignCompleted || c.SentCount != 10 || c.CreatedBy != "ops" {
		t.Errorf("unexpected campaign %+v", c)
	}
	if sender.n != 10 {
		t.Errorf("expected 10 sends, got %d", sender.n)
	}
}
