// internal/model/campaign.go
package model

import "time"

const (
	CampaignQueued     = "queued"
	CampaignProcessing = "processing"
	CampaignCompleted  = "completed"
	CampaignFailed     = "failed"
)

type Campaign struct {
	ID                 string     `db:"id" json:"id"`
	Subject            string     `db:"subject" json:"subject"`
	Body               string     `db:"body" json:"body"`
	Status             string     `db:"status" json:"status"`
	TotalRecipients    int        `db:"total_recipients" json:"total_recipients"`
	SentCount          int        `db:"sent_count" json:"sent_count"`
	FailedCount        int        `db:"failed_count" json:"failed_count"`
	CreatedBy          string     `db:"created_by" json:"created_by"`
	ExcludeSubscribers bool       `db:"exclude_subscribers" json:"exclude_subscribers"`
	ExcludedEmails     []string   `db:"excluded_emails" json:"excluded_emails,omitempty"`
	ErrorMessage       *string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	StartedAt          *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt        *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt          *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Terminal reports whether no further invocation may touch the campaign.
func (c *Campaign) Terminal() bool {
	return c.Status == CampaignFailed
}
