// Package eligibility decides which accounts may receive a campaign.
package eligibility

import (
	"strings"

	"github.com/unclebandit/campaign-mailer/internal/model"
)

type Options struct {
	// ExcludeCohort drops accounts present in the paying cohort.
	ExcludeCohort bool
	// ExcludedEmails is matched case-insensitively.
	ExcludedEmails []string
}

// Filter applies the exclusion rules in order: missing or unconfirmed email,
// unsubscribed, paying cohort (when enabled), explicit exclusion list.
// Output keeps input order. A repeated address (ignoring case) keeps its
// first occurrence only. Filter has no side effects.
func Filter(accounts []model.Account, opts Options, cohort map[string]bool) []model.EligibleRecipient {
	excluded := make(map[string]struct{}, len(opts.ExcludedEmails))
	for _, e := range opts.ExcludedEmails {
		if k := normalize(e); k != "" {
			excluded[k] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(accounts))
	out := make([]model.EligibleRecipient, 0, len(accounts))
	for _, a := range accounts {
		key := normalize(a.Email)
		if key == "" || !a.EmailConfirmed {
			continue
		}
		if a.Unsubscribed {
			continue
		}
		if opts.ExcludeCohort && cohort[a.ID] {
			continue
		}
		if _, ok := excluded[key]; ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, model.EligibleRecipient{
			AccountID: a.ID,
			Email:     strings.TrimSpace(a.Email),
		})
	}
	return out
}

// AccountIDs lists the account IDs of recipients, in order.
func AccountIDs(recipients []model.EligibleRecipient) []string {
	ids := make([]string, 0, len(recipients))
	for _, r := range recipients {
		ids = append(ids, r.AccountID)
	}
	return ids
}

// AttachNames sets display names from a profile lookup. Recipients without
// a profile keep a nil name.
func AttachNames(recipients []model.EligibleRecipient, names map[string]string) {
	for i := range recipients {
		if name, ok := names[recipients[i].AccountID]; ok && strings.TrimSpace(name) != "" {
			n := strings.TrimSpace(name)
			recipients[i].DisplayName = &n
		}
	}
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
