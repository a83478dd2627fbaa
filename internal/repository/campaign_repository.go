package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error)

	// Lifecycle transitions. Each is a conditional update and reports
	// whether the row changed.
	MarkProcessing(ctx context.Context, id string) (bool, error)
	MarkCompleted(ctx context.Context, id string) (bool, error)
	MarkFailed(ctx context.Context, id, reason string) error

	IncrementCounters(ctx context.Context, id string, sent, failed int) error

	// ListStalled returns IDs of queued or processing campaigns created
	// before idleSince with no row claimed since then.
	ListStalled(ctx context.Context, idleSince time.Time) ([]string, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, subject, body, status, total_recipients, sent_count, failed_count,
        created_by, exclude_subscribers, excluded_emails, error_message,
        created_at, started_at, completed_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var (
		c        model.Campaign
		excluded pq.StringArray
		errMsg   sql.NullString
	)
	err := row.Scan(
		&c.ID, &c.Subject, &c.Body, &c.Status, &c.TotalRecipients, &c.SentCount, &c.FailedCount,
		&c.CreatedBy, &c.ExcludeSubscribers, &excluded, &errMsg,
		&c.CreatedAt, &c.StartedAt, &c.CompletedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ExcludedEmails = []string(excluded)
	if errMsg.Valid {
		c.ErrorMessage = &errMsg.String
	}
	return &c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.Status == "" {
		c.Status = model.CampaignQueued
	}
	excluded := c.ExcludedEmails
	if excluded == nil {
		excluded = []string{}
	}
	query := `
        INSERT INTO campaigns (id, subject, body, status, total_recipients, created_by,
                               exclude_subscribers, excluded_emails, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	_, err := r.DB.ExecContext(ctx, query,
		c.ID, c.Subject, c.Body, c.Status, c.TotalRecipients, c.CreatedBy,
		c.ExcludeSubscribers, pq.Array(excluded), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		// Malformed UUIDs are rejected by Postgres; treat them as unknown IDs.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "22P02" {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []any{}
	argPos := 1

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	argsCount := []any{}
	if status != "" {
		countQuery += " AND status=$1"
		argsCount = append(argsCount, status)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	return campaigns, total, nil
}

// ====================== Lifecycle ======================

func (r *CampaignRepository) MarkProcessing(ctx context.Context, id string) (bool, error) {
	query := `
        UPDATE campaigns
        SET status=$1, started_at=NOW(), updated_at=NOW()
        WHERE id=$2 AND status=$3
    `
	return r.execAffected(ctx, query, model.CampaignProcessing, id, model.CampaignQueued)
}

func (r *CampaignRepository) MarkCompleted(ctx context.Context, id string) (bool, error) {
	query := `
        UPDATE campaigns
        SET status=$1, completed_at=NOW(), updated_at=NOW()
        WHERE id=$2 AND status IN ($3, $4)
    `
	return r.execAffected(ctx, query, model.CampaignCompleted, id, model.CampaignQueued, model.CampaignProcessing)
}

func (r *CampaignRepository) MarkFailed(ctx context.Context, id, reason string) error {
	query := `UPDATE campaigns SET status=$1, error_message=$2, updated_at=NOW() WHERE id=$3`
	_, err := r.DB.ExecContext(ctx, query, model.CampaignFailed, reason, id)
	if err != nil {
		return fmt.Errorf("mark campaign failed: %w", err)
	}
	return nil
}

// IncrementCounters adds to the cached counters without reading them first.
func (r *CampaignRepository) IncrementCounters(ctx context.Context, id string, sent, failed int) error {
	if sent == 0 && failed == 0 {
		return nil
	}
	query := `
        UPDATE campaigns
        SET sent_count = sent_count + $1, failed_count = failed_count + $2, updated_at=NOW()
        WHERE id=$3
    `
	if _, err := r.DB.ExecContext(ctx, query, sent, failed, id); err != nil {
		return fmt.Errorf("increment counters: %w", err)
	}
	return nil
}

func (r *CampaignRepository) ListStalled(ctx context.Context, idleSince time.Time) ([]string, error) {
	query := `
        SELECT c.id FROM campaigns c
        WHERE c.status IN ($1, $2)
          AND c.created_at < $3
          AND NOT EXISTS (
              SELECT 1 FROM campaign_recipients r
              WHERE r.campaign_id = c.id AND r.claimed_at >= $3
          )
        ORDER BY c.created_at
    `
	rows, err := r.DB.QueryContext(ctx, query, model.CampaignQueued, model.CampaignProcessing, idleSince)
	if err != nil {
		return nil, fmt.Errorf("list stalled campaigns: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *CampaignRepository) execAffected(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
