// Package directory enumerates registered accounts from the identity store.
package directory

import (
	"context"
	"fmt"

	"github.com/unclebandit/campaign-mailer/internal/model"
)

// DefaultPageSize is the identity store's listing page size.
const DefaultPageSize = 1000

// Lister returns one page of accounts. Pages are numbered from 1.
type Lister interface {
	ListAccounts(ctx context.Context, page, perPage int) ([]model.Account, error)
}

// FetchAllAccounts walks every page until one comes back short. Any page
// failure aborts the walk: callers never see a partial account set.
func FetchAllAccounts(ctx context.Context, l Lister, pageSize int) ([]model.Account, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	var all []model.Account
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		accounts, err := l.ListAccounts(ctx, page, pageSize)
		if err != nil {
			return nil, fmt.Errorf("list accounts page %d: %w", page, err)
		}
		all = append(all, accounts...)
		if len(accounts) < pageSize {
			return all, nil
		}
	}
}
