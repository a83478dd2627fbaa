package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-mailer/internal/repository"
)

// ExpiredClaimReason is stored on rows whose claiming invocation vanished.
const ExpiredClaimReason = "delivery outcome unknown: claim expired"

// Sweeper recovers campaigns whose continuation chain broke. It fails
// stale claims (never re-sending them) and dispatches unfinished campaigns
// that saw no claim for IdleAfter, so a live chain is not duplicated.
type Sweeper struct {
	CampaignRepo  repository.CampaignRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	Dispatcher    Dispatcher
	ClaimTTL      time.Duration
	IdleAfter     time.Duration
	Log           zerolog.Logger
}

type SweepResult struct {
	Expired    int `json:"expired"`
	Dispatched int `json:"dispatched"`
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	if s.ClaimTTL > 0 {
		expired, err := s.RecipientRepo.ExpireClaims(ctx, time.Now().Add(-s.ClaimTTL), ExpiredClaimReason)
		if err != nil {
			return res, err
		}
		for campaignID, n := range expired {
			res.Expired += n
			if err := s.CampaignRepo.IncrementCounters(ctx, campaignID, 0, n); err != nil {
				s.Log.Error().Err(err).Str("campaign_id", campaignID).Msg("failed to count expired claims")
			}
			s.Log.Warn().Str("campaign_id", campaignID).Int("rows", n).Msg("expired stale claims")
		}
	}

	ids, err := s.CampaignRepo.ListStalled(ctx, time.Now().Add(-s.IdleAfter))
	if err != nil {
		return res, err
	}
	for _, id := range ids {
		if err := s.Dispatcher.Dispatch(ctx, id); err != nil {
			s.Log.Error().Err(err).Str("campaign_id", id).Msg("sweep dispatch failed")
			continue
		}
		res.Dispatched++
	}
	return res, nil
}

// Start runs Sweep on the given cron schedule until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context, schedule string) (*cron.Cron, error) {
	c := cron.New(cron.WithParser(cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	_, err := c.AddFunc(schedule, func() {
		res, err := s.Sweep(ctx)
		if err != nil {
			s.Log.Error().Err(err).Msg("sweep failed")
			return
		}
		if res.Expired > 0 || res.Dispatched > 0 {
			s.Log.Info().Int("expired", res.Expired).Int("dispatched", res.Dispatched).Msg("sweep finished")
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	s.Log.Info().Str("schedule", schedule).Msg("sweeper started")
	return c, nil
}
