package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/unclebandit/campaign-mailer/internal/model"
)

// HTTPClient lists users through the identity service's admin API
// (GET /auth/v1/admin/users?page=N&per_page=M).
type HTTPClient struct {
	BaseURL    string
	ServiceKey string
	HTTP       *http.Client
}

func NewHTTPClient(baseURL, serviceKey string) *HTTPClient {
	return &HTTPClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ServiceKey: serviceKey,
		HTTP:       &http.Client{Timeout: 30 * time.Second},
	}
}

type adminUser struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *string        `json:"email_confirmed_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

type listUsersResponse struct {
	Users []adminUser `json:"users"`
}

func (c *HTTPClient) ListAccounts(ctx context.Context, page, perPage int) ([]model.Account, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	endpoint := c.BaseURL + "/auth/v1/admin/users?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.ServiceKey)
	req.Header.Set("Authorization", "Bearer "+c.ServiceKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request users: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("identity store returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out listUsersResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}

	accounts := make([]model.Account, 0, len(out.Users))
	for _, u := range out.Users {
		accounts = append(accounts, model.Account{
			ID:             u.ID,
			Email:          strings.TrimSpace(u.Email),
			EmailConfirmed: u.EmailConfirmedAt != nil && *u.EmailConfirmedAt != "",
			Unsubscribed:   truthy(u.UserMetadata["unsubscribed"]),
		})
	}
	return accounts, nil
}

// truthy accepts the boolean and string encodings found in user metadata.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	default:
		return false
	}
}

var _ Lister = (*HTTPClient)(nil)
