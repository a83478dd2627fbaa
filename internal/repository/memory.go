package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

// MemoryStore keeps campaigns, recipient rows and account data in process
// memory. It is used when no DATABASE_URL is configured and in tests. All
// mutation happens under one lock, so ClaimPending is atomic.
type MemoryStore struct {
	Campaigns  *MemoryCampaignRepository
	Recipients *MemoryRecipientRepository
	Accounts   *MemoryAccountRepository
}

type MemoryCampaignRepository struct{ *memoryState }
type MemoryRecipientRepository struct{ *memoryState }
type MemoryAccountRepository struct{ *memoryState }

type memoryState struct {
	mu sync.Mutex

	campaigns  map[string]*model.Campaign
	recipients map[string][]*model.Recipient // by campaign, insertion order
	byID       map[string]*model.Recipient

	paying map[string]bool
	names  map[string]string
}

func NewMemoryStore() *MemoryStore {
	st := &memoryState{
		campaigns:  map[string]*model.Campaign{},
		recipients: map[string][]*model.Recipient{},
		byID:       map[string]*model.Recipient{},
		paying:     map[string]bool{},
		names:      map[string]string{},
	}
	return &MemoryStore{
		Campaigns:  &MemoryCampaignRepository{st},
		Recipients: &MemoryRecipientRepository{st},
		Accounts:   &MemoryAccountRepository{st},
	}
}

// ====================== Campaigns ======================

func (m *MemoryCampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, ok := m.campaigns[c.ID]; ok {
		return fmt.Errorf("insert campaign: duplicate id %s", c.ID)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.Status == "" {
		c.Status = model.CampaignQueued
	}
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *MemoryCampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryCampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := []*model.Campaign{}
	for _, c := range m.campaigns {
		if status != "" && c.Status != status {
			continue
		}
		cp := *c
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return []*model.Campaign{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *MemoryCampaignRepository) MarkProcessing(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.Status != model.CampaignQueued {
		return false, nil
	}
	now := time.Now()
	c.Status = model.CampaignProcessing
	c.StartedAt = &now
	c.UpdatedAt = &now
	return true, nil
}

func (m *MemoryCampaignRepository) MarkCompleted(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || (c.Status != model.CampaignQueued && c.Status != model.CampaignProcessing) {
		return false, nil
	}
	now := time.Now()
	c.Status = model.CampaignCompleted
	c.CompletedAt = &now
	c.UpdatedAt = &now
	return true, nil
}

func (m *MemoryCampaignRepository) MarkFailed(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	now := time.Now()
	c.Status = model.CampaignFailed
	c.ErrorMessage = &reason
	c.UpdatedAt = &now
	return nil
}

func (m *MemoryCampaignRepository) IncrementCounters(ctx context.Context, id string, sent, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	if c.SentCount+sent+c.FailedCount+failed > c.TotalRecipients {
		return fmt.Errorf("increment counters: would exceed total recipients for campaign %s", id)
	}
	c.SentCount += sent
	c.FailedCount += failed
	return nil
}

func (m *MemoryCampaignRepository) ListStalled(ctx context.Context, idleSince time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []string{}
	for id, c := range m.campaigns {
		if c.Status != model.CampaignQueued && c.Status != model.CampaignProcessing {
			continue
		}
		if !c.CreatedAt.Before(idleSince) {
			continue
		}
		active := false
		for _, row := range m.recipients[id] {
			if row.ClaimedAt != nil && !row.ClaimedAt.Before(idleSince) {
				active = true
				break
			}
		}
		if !active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ====================== Recipient queue ======================

func (m *MemoryRecipientRepository) BulkInsert(ctx context.Context, campaignID string, recipients []model.EligibleRecipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := map[string]bool{}
	for _, existing := range m.recipients[campaignID] {
		seen[strings.ToLower(existing.Email)] = true
	}
	rows := make([]*model.Recipient, 0, len(recipients))
	for _, rc := range recipients {
		key := strings.ToLower(rc.Email)
		if seen[key] {
			return fmt.Errorf("copy recipient %s: duplicate email for campaign %s", rc.Email, campaignID)
		}
		seen[key] = true
		rows = append(rows, &model.Recipient{
			ID:          uuid.NewString(),
			CampaignID:  campaignID,
			Email:       rc.Email,
			DisplayName: rc.DisplayName,
			Status:      model.RecipientPending,
		})
	}
	for _, row := range rows {
		m.byID[row.ID] = row
	}
	m.recipients[campaignID] = append(m.recipients[campaignID], rows...)
	return nil
}

func (m *MemoryRecipientRepository) ClaimPending(ctx context.Context, campaignID string, limit int) ([]*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	claimed := []*model.Recipient{}
	now := time.Now()
	for _, row := range m.recipients[campaignID] {
		if len(claimed) >= limit {
			break
		}
		if row.Status != model.RecipientPending {
			continue
		}
		row.Status = model.RecipientSending
		at := now
		row.ClaimedAt = &at
		cp := *row
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (m *MemoryRecipientRepository) MarkSent(ctx context.Context, id string, at time.Time) (bool, error) {
	return m.finalise(id, model.RecipientSent, at, nil)
}

func (m *MemoryRecipientRepository) MarkFailed(ctx context.Context, id string, at time.Time, errText string) (bool, error) {
	return m.finalise(id, model.RecipientFailed, at, &errText)
}

func (m *MemoryRecipientRepository) finalise(id, status string, at time.Time, errText *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.byID[id]
	if !ok || row.Status != model.RecipientSending {
		return false, nil
	}
	row.Status = status
	row.SentAt = &at
	row.ErrorMessage = errText
	return true, nil
}

func (m *MemoryRecipientRepository) Release(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.byID[id]; ok && row.Status == model.RecipientSending {
		row.Status = model.RecipientPending
		row.ClaimedAt = nil
	}
	return nil
}

func (m *MemoryRecipientRepository) CountByStatus(ctx context.Context, campaignID string) (model.RecipientStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats model.RecipientStats
	for _, row := range m.recipients[campaignID] {
		addStat(&stats, row.Status, 1)
	}
	return stats, nil
}

func (m *MemoryRecipientRepository) ExpireClaims(ctx context.Context, cutoff time.Time, reason string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expired := map[string]int{}
	now := time.Now()
	for _, row := range m.byID {
		if row.Status != model.RecipientSending || row.ClaimedAt == nil || !row.ClaimedAt.Before(cutoff) {
			continue
		}
		msg := reason
		at := now
		row.Status = model.RecipientFailed
		row.SentAt = &at
		row.ErrorMessage = &msg
		expired[row.CampaignID]++
	}
	return expired, nil
}

// Rows returns a snapshot of a campaign's rows.
func (m *MemoryRecipientRepository) Rows(campaignID string) []model.Recipient {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Recipient, 0, len(m.recipients[campaignID]))
	for _, row := range m.recipients[campaignID] {
		out = append(out, *row)
	}
	return out
}

// ====================== Accounts ======================

func (m *MemoryAccountRepository) SetPaying(accountID string, paying bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if paying {
		m.paying[accountID] = true
		return
	}
	delete(m.paying, accountID)
}

func (m *MemoryAccountRepository) SetDisplayName(accountID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[accountID] = name
}

func (m *MemoryAccountRepository) PayingAccountIDs(ctx context.Context) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.paying))
	for id := range m.paying {
		out[id] = true
	}
	return out, nil
}

func (m *MemoryAccountRepository) DisplayNames(ctx context.Context, accountIDs []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for _, id := range accountIDs {
		if name, ok := m.names[id]; ok && name != "" {
			out[id] = name
		}
	}
	return out, nil
}

var (
	_ CampaignRepositoryInterface  = (*MemoryCampaignRepository)(nil)
	_ RecipientRepositoryInterface = (*MemoryRecipientRepository)(nil)
	_ AccountRepositoryInterface   = (*MemoryAccountRepository)(nil)
)
