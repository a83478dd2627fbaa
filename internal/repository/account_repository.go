package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// AccountRepositoryInterface reads account data owned by other systems.
type AccountRepositoryInterface interface {
	// PayingAccountIDs returns the set of accounts with a live paid subscription.
	PayingAccountIDs(ctx context.Context) (map[string]bool, error)
	// DisplayNames returns profile names keyed by account ID. Accounts without
	// a profile or name are absent from the result.
	DisplayNames(ctx context.Context, accountIDs []string) (map[string]string, error)
}

// AccountRepository reads the profiles and subscriptions tables.
type AccountRepository struct {
	DB *sql.DB
}

// PayingStatuses are subscription states that put an account in the paying cohort.
var PayingStatuses = []string{"active", "trialing"}

func (r *AccountRepository) PayingAccountIDs(ctx context.Context) (map[string]bool, error) {
	query := `SELECT DISTINCT user_id FROM subscriptions WHERE status = ANY($1)`
	rows, err := r.DB.QueryContext(ctx, query, pq.Array(PayingStatuses))
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	paying := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		paying[id] = true
	}
	return paying, rows.Err()
}

func (r *AccountRepository) DisplayNames(ctx context.Context, accountIDs []string) (map[string]string, error) {
	names := map[string]string{}
	if len(accountIDs) == 0 {
		return names, nil
	}
	query := `
        SELECT id, full_name
        FROM profiles
        WHERE id::text = ANY($1) AND full_name IS NOT NULL AND full_name <> ''
    `
	rows, err := r.DB.QueryContext(ctx, query, pq.Array(accountIDs))
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

var _ AccountRepositoryInterface = (*AccountRepository)(nil)
