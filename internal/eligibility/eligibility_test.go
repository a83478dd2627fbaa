package eligibility

import (
	"reflect"
	"testing"

	"github.com/unclebandit/campaign-mailer/internal/model"
)

func accounts() []model.Account {
	return []model.Account{
		{ID: "1", Email: "alice@example.com", EmailConfirmed: true},
		{ID: "2", Email: "", EmailConfirmed: true},
		{ID: "3", Email: "carol@example.com", EmailConfirmed: false},
		{ID: "4", Email: "dave@example.com", EmailConfirmed: true, Unsubscribed: true},
		{ID: "5", Email: "erin@example.com", EmailConfirmed: true},
		{ID: "6", Email: "Frank@Example.com", EmailConfirmed: true},
		{ID: "7", Email: "grace@example.com", EmailConfirmed: true},
	}
}

func emails(rs []model.EligibleRecipient) []string {
	out := []string{}
	for _, r := range rs {
		out = append(out, r.Email)
	}
	return out
}

func TestFilterRules(t *testing.T) {
	cohort := map[string]bool{"5": true}

	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{
			name: "base rules only",
			opts: Options{},
			want: []string{"alice@example.com", "erin@example.com", "Frank@Example.com", "grace@example.com"},
		},
		{
			name: "exclude paying cohort",
			opts: Options{ExcludeCohort: true},
			want: []string{"alice@example.com", "Frank@Example.com", "grace@example.com"},
		},
		{
			name: "explicit list is case-insensitive",
			opts: Options{ExcludedEmails: []string{"frank@example.COM ", "nobody@example.com"}},
			want: []string{"alice@example.com", "erin@example.com", "grace@example.com"},
		},
		{
			name: "all rules",
			opts: Options{ExcludeCohort: true, ExcludedEmails: []string{"ALICE@example.com"}},
			want: []string{"Frank@Example.com", "grace@example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := emails(Filter(accounts(), tt.opts, cohort))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterCohortIgnoredUnlessRequested(t *testing.T) {
	cohort := map[string]bool{"1": true}
	got := Filter([]model.Account{{ID: "1", Email: "a@example.com", EmailConfirmed: true}}, Options{}, cohort)
	if len(got) != 1 {
		t.Errorf("cohort must only apply when ExcludeCohort is set")
	}
}

func TestFilterDeterministic(t *testing.T) {
	opts := Options{ExcludeCohort: true, ExcludedEmails: []string{"grace@example.com"}}
	cohort := map[string]bool{"5": true}

	first := Filter(accounts(), opts, cohort)
	for i := 0; i < 20; i++ {
		if again := Filter(accounts(), opts, cohort); !reflect.DeepEqual(first, again) {
			t.Fatalf("filter is not deterministic: %v vs %v", first, again)
		}
	}
}

func TestFilterCollapsesDuplicateAddresses(t *testing.T) {
	in := []model.Account{
		{ID: "1", Email: "same@example.com", EmailConfirmed: true},
		{ID: "2", Email: "SAME@example.com", EmailConfirmed: true},
	}
	got := Filter(in, Options{}, nil)
	if len(got) != 1 || got[0].AccountID != "1" {
		t.Errorf("expected first occurrence only, got %+v", got)
	}
}

func TestAttachNames(t *testing.T) {
	rs := []model.EligibleRecipient{{AccountID: "1"}, {AccountID: "2"}, {AccountID: "3"}}
	AttachNames(rs, map[string]string{"1": " Alice ", "3": "  "})

	if rs[0].DisplayName == nil || *rs[0].DisplayName != "Alice" {
		t.Errorf("expected trimmed name for 1, got %v", rs[0].DisplayName)
	}
	if rs[1].DisplayName != nil || rs[2].DisplayName != nil {
		t.Errorf("missing or blank profiles must yield nil names")
	}
	if ids := AccountIDs(rs); !reflect.DeepEqual(ids, []string{"1", "2", "3"}) {
		t.Errorf("unexpected ids %v", ids)
	}
}
