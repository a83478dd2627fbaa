package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestHTTPDispatcher(t *testing.T) {
	got := make(chan map[string]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/process-campaign-queue" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer self-token" {
			t.Errorf("missing bearer token")
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		got <- body
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(srv.URL+"/", "self-token", 5*time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Dispatch(ctx, "camp-9"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	// The request must survive the caller's context ending.
	cancel()

	select {
	case body := <-got:
		if body["campaignId"] != "camp-9" {
			t.Errorf("unexpected body %v", body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("continuation request never arrived")
	}
}
