package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/unclebandit/campaign-mailer/internal/model"
)

// RecipientRepositoryInterface is the durable per-recipient work queue.
type RecipientRepositoryInterface interface {
	// BulkInsert stores one pending row per recipient, all or nothing.
	BulkInsert(ctx context.Context, campaignID string, recipients []model.EligibleRecipient) error

	// ClaimPending atomically moves up to limit pending rows to sending
	// and returns them. Rows claimed by one caller are never returned to another.
	ClaimPending(ctx context.Context, campaignID string, limit int) ([]*model.Recipient, error)

	// MarkSent and MarkFailed finalise a claimed row. They report false when
	// the row was not in the sending state.
	MarkSent(ctx context.Context, id string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string, at time.Time, errText string) (bool, error)

	// Release returns a claimed row that was never attempted to pending.
	Release(ctx context.Context, id string) error

	CountByStatus(ctx context.Context, campaignID string) (model.RecipientStats, error)

	// ExpireClaims fails rows claimed before cutoff and returns the number
	// expired per campaign.
	ExpireClaims(ctx context.Context, cutoff time.Time, reason string) (map[string]int, error)
}

type RecipientRepository struct {
	DB *sql.DB
}

func (r *RecipientRepository) BulkInsert(ctx context.Context, campaignID string, recipients []model.EligibleRecipient) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk insert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("campaign_recipients",
		"id", "campaign_id", "email", "display_name", "status"))
	if err != nil {
		return fmt.Errorf("prepare copy: %w", err)
	}
	for _, rc := range recipients {
		if _, err = stmt.ExecContext(ctx, uuid.NewString(), campaignID, rc.Email, rc.DisplayName, model.RecipientPending); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("copy recipient %s: %w", rc.Email, err)
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("flush copy: %w", err)
	}
	if err = stmt.Close(); err != nil {
		return fmt.Errorf("close copy: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk insert: %w", err)
	}
	return nil
}

func (r *RecipientRepository) ClaimPending(ctx context.Context, campaignID string, limit int) ([]*model.Recipient, error) {
	query := `
        UPDATE campaign_recipients
        SET status=$1, claimed_at=NOW()
        WHERE id IN (
            SELECT id FROM campaign_recipients
            WHERE campaign_id=$2 AND status=$3
            ORDER BY id
            LIMIT $4
            FOR UPDATE SKIP LOCKED
        )
        RETURNING id, campaign_id, email, display_name, status, claimed_at
    `
	rows, err := r.DB.QueryContext(ctx, query, model.RecipientSending, campaignID, model.RecipientPending, limit)
	if err != nil {
		return nil, fmt.Errorf("claim recipients: %w", err)
	}
	defer rows.Close()

	claimed := []*model.Recipient{}
	for rows.Next() {
		var (
			rc   model.Recipient
			name sql.NullString
		)
		if err := rows.Scan(&rc.ID, &rc.CampaignID, &rc.Email, &name, &rc.Status, &rc.ClaimedAt); err != nil {
			return nil, fmt.Errorf("scan claimed recipient: %w", err)
		}
		if name.Valid {
			rc.DisplayName = &name.String
		}
		claimed = append(claimed, &rc)
	}
	return claimed, rows.Err()
}

func (r *RecipientRepository) MarkSent(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `UPDATE campaign_recipients SET status=$1, sent_at=$2, error_message=NULL WHERE id=$3 AND status=$4`
	return r.finalise(ctx, query, model.RecipientSent, at, id, model.RecipientSending)
}

func (r *RecipientRepository) MarkFailed(ctx context.Context, id string, at time.Time, errText string) (bool, error) {
	query := `UPDATE campaign_recipients SET status=$1, sent_at=$2, error_message=$3 WHERE id=$4 AND status=$5`
	return r.finalise(ctx, query, model.RecipientFailed, at, errText, id, model.RecipientSending)
}

func (r *RecipientRepository) Release(ctx context.Context, id string) error {
	query := `UPDATE campaign_recipients SET status=$1, claimed_at=NULL WHERE id=$2 AND status=$3`
	if _, err := r.DB.ExecContext(ctx, query, model.RecipientPending, id, model.RecipientSending); err != nil {
		return fmt.Errorf("release recipient: %w", err)
	}
	return nil
}

func (r *RecipientRepository) CountByStatus(ctx context.Context, campaignID string) (model.RecipientStats, error) {
	var stats model.RecipientStats
	query := `SELECT status, COUNT(*) FROM campaign_recipients WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return stats, fmt.Errorf("count recipients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		addStat(&stats, status, count)
	}
	return stats, rows.Err()
}

func (r *RecipientRepository) ExpireClaims(ctx context.Context, cutoff time.Time, reason string) (map[string]int, error) {
	query := `
        UPDATE campaign_recipients
        SET status=$1, sent_at=NOW(), error_message=$2
        WHERE status=$3 AND claimed_at < $4
        RETURNING campaign_id
    `
	rows, err := r.DB.QueryContext(ctx, query, model.RecipientFailed, reason, model.RecipientSending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("expire claims: %w", err)
	}
	defer rows.Close()

	expired := map[string]int{}
	for rows.Next() {
		var campaignID string
		if err := rows.Scan(&campaignID); err != nil {
			return nil, err
		}
		expired[campaignID]++
	}
	return expired, rows.Err()
}

func (r *RecipientRepository) finalise(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update recipient: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func addStat(s *model.RecipientStats, status string, n int) {
	switch status {
	case model.RecipientPending:
		s.Pending += n
	case model.RecipientSending:
		s.Sending += n
	case model.RecipientSent:
		s.Sent += n
	case model.RecipientFailed:
		s.Failed += n
	}
	s.Total += n
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
