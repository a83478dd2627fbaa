// internal/model/recipient.go
package model

import "time"

const (
	RecipientPending = "pending"
	RecipientSending = "sending" // claimed by a worker invocation
	RecipientSent    = "sent"
	RecipientFailed  = "failed"
)

type Recipient struct {
	ID           string     `db:"id" json:"id"`
	CampaignID   string     `db:"campaign_id" json:"campaign_id"`
	Email        string     `db:"email" json:"email"`
	DisplayName  *string    `db:"display_name" json:"display_name,omitempty"`
	Status       string     `db:"status" json:"status"`
	ClaimedAt    *time.Time `db:"claimed_at" json:"claimed_at,omitempty"`
	SentAt       *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
}

// RecipientStats is the per-status row count of one campaign.
type RecipientStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sending int `json:"sending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// Drained reports whether no row is waiting or in flight.
func (s RecipientStats) Drained() bool {
	return s.Pending == 0 && s.Sending == 0
}
