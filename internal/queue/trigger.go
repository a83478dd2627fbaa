package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HTTPDispatcher chains invocations by calling the service's own
// process-campaign-queue endpoint. Dispatch returns as soon as the request
// is started; the outcome is only logged.
type HTTPDispatcher struct {
	Endpoint string
	Token    string
	HTTP     *http.Client
	Log      zerolog.Logger
}

func NewHTTPDispatcher(baseURL, token string, timeout time.Duration, log zerolog.Logger) *HTTPDispatcher {
	return &HTTPDispatcher{
		Endpoint: strings.TrimRight(baseURL, "/") + "/process-campaign-queue",
		Token:    token,
		HTTP:     &http.Client{Timeout: timeout},
		Log:      log,
	}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, campaignID string) error {
	body, err := json.Marshal(map[string]string{"campaignId": campaignID})
	if err != nil {
		return err
	}
	// The invoked batch runs for its whole budget; don't tie it to the caller.
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, d.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build continuation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.Token)

	go func() {
		resp, err := d.HTTP.Do(req)
		if err != nil {
			d.Log.Error().Err(err).Str("campaign_id", campaignID).Msg("continuation request failed")
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			d.Log.Error().Int("status", resp.StatusCode).Str("campaign_id", campaignID).
				Str("body", strings.TrimSpace(string(msg))).Msg("continuation rejected")
		}
	}()
	return nil
}
