// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-mailer/internal/directory"
	"github.com/unclebandit/campaign-mailer/internal/eligibility"
	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/repository"
)

// Dispatcher starts an independent batch invocation for a campaign. It must
// not wait for that invocation to finish.
type Dispatcher interface {
	Dispatch(ctx context.Context, campaignID string) error
}

type CampaignService struct {
	CampaignRepo  repository.CampaignRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	AccountRepo   repository.AccountRepositoryInterface
	Directory     directory.Lister
	Dispatcher    Dispatcher
	PageSize      int
	Log           zerolog.Logger
}

type CreateCampaignInput struct {
	Subject            string
	Body               string
	CreatedBy          string
	ExcludeSubscribers bool
	ExcludedEmails     []string
}

type CampaignDetails struct {
	*model.Campaign
	Stats model.RecipientStats `json:"stats"`
}

// CreateCampaign materialises the recipient list, stores the campaign and
// its queue, then kicks off the first batch invocation.
func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*model.Campaign, error) {
	if strings.TrimSpace(in.Subject) == "" || strings.TrimSpace(in.Body) == "" {
		return nil, fmt.Errorf("%w: subject and body are required", appErrors.ErrInvalidInput)
	}

	recipients, err := s.resolveRecipients(ctx, in)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, appErrors.ErrNoEligibleRecipients
	}

	c := &model.Campaign{
		ID:                 uuid.NewString(),
		Subject:            in.Subject,
		Body:               in.Body,
		Status:             model.CampaignQueued,
		TotalRecipients:    len(recipients),
		CreatedBy:          in.CreatedBy,
		ExcludeSubscribers: in.ExcludeSubscribers,
		ExcludedEmails:     in.ExcludedEmails,
		CreatedAt:          time.Now(),
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}

	log := s.Log.With().Str("campaign_id", c.ID).Logger()

	if err := s.RecipientRepo.BulkInsert(ctx, c.ID, recipients); err != nil {
		log.Error().Err(err).Int("recipients", len(recipients)).Msg("enqueue failed")
		// The campaign row exists; it must not stay queued without rows.
		reason := err.Error()
		if markErr := s.CampaignRepo.MarkFailed(context.WithoutCancel(ctx), c.ID, reason); markErr != nil {
			log.Error().Err(markErr).Msg("failed to mark campaign failed")
		}
		c.Status = model.CampaignFailed
		c.ErrorMessage = &reason
		return c, fmt.Errorf("%w: %v", appErrors.ErrEnqueueFailed, err)
	}

	log.Info().
		Int("recipients", c.TotalRecipients).
		Bool("exclude_subscribers", in.ExcludeSubscribers).
		Int("excluded_emails", len(in.ExcludedEmails)).
		Str("created_by", in.CreatedBy).
		Msg("campaign queued")

	if err := s.Dispatcher.Dispatch(ctx, c.ID); err != nil {
		// The queue is durable; the sweeper or an operator can resume it.
		log.Error().Err(err).Msg("failed to dispatch first batch")
	}
	return c, nil
}

func (s *CampaignService) resolveRecipients(ctx context.Context, in CreateCampaignInput) ([]model.EligibleRecipient, error) {
	accounts, err := directory.FetchAllAccounts(ctx, s.Directory, s.PageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appErrors.ErrRecipientFetch, err)
	}

	var cohort map[string]bool
	if in.ExcludeSubscribers {
		cohort, err = s.AccountRepo.PayingAccountIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", appErrors.ErrRecipientFetch, err)
		}
	}

	recipients := eligibility.Filter(accounts, eligibility.Options{
		ExcludeCohort:  in.ExcludeSubscribers,
		ExcludedEmails: in.ExcludedEmails,
	}, cohort)
	if len(recipients) == 0 {
		return recipients, nil
	}

	names, err := s.AccountRepo.DisplayNames(ctx, eligibility.AccountIDs(recipients))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appErrors.ErrRecipientFetch, err)
	}
	eligibility.AttachNames(recipients, names)

	s.Log.Debug().
		Int("accounts", len(accounts)).
		Int("eligible", len(recipients)).
		Msg("recipients resolved")
	return recipients, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

// GetCampaignDetailsWithStats returns the campaign with counts computed from
// its recipient rows, which are authoritative over the cached counters.
func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, campaignID string) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	stats, err := s.RecipientRepo.CountByStatus(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return &CampaignDetails{Campaign: campaign, Stats: stats}, nil
}
