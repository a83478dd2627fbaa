package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/queue"
)

// Continuation schedules the next invocation while work remains.
type Continuation struct {
	Dispatcher Dispatcher
	Log        zerolog.Logger
}

// MaybeContinue dispatches a fresh invocation when hasMore is set. Dispatch
// errors are logged and not retried; the rows stay pending for the sweeper
// or a manual re-run.
func (c *Continuation) MaybeContinue(ctx context.Context, campaignID string, hasMore bool) {
	if !hasMore {
		return
	}
	if err := c.Dispatcher.Dispatch(ctx, campaignID); err != nil {
		c.Log.Error().Err(err).Str("campaign_id", campaignID).Msg("failed to dispatch continuation")
		return
	}
	c.Log.Debug().Str("campaign_id", campaignID).Msg("continuation dispatched")
}

// Processor is one complete invocation: a batch under its own execution
// budget, then the continuation decision.
type Processor struct {
	Worker       *BatchWorker
	Continuation *Continuation
	Budget       time.Duration
}

func (p *Processor) Run(ctx context.Context, campaignID string) (*BatchResult, error) {
	bctx := ctx
	if p.Budget > 0 {
		var cancel context.CancelFunc
		bctx, cancel = context.WithTimeout(ctx, p.Budget)
		defer cancel()
	}

	result, err := p.Worker.ProcessBatch(bctx, campaignID)
	if err != nil {
		return nil, err
	}
	// Invocation N is fully finished before N+1 is dispatched.
	p.Continuation.MaybeContinue(context.WithoutCancel(ctx), campaignID, result.HasMore)
	return result, nil
}

// RunJob adapts Run for queue consumers. Unknown campaigns are permanent
// failures and are not redelivered.
func (p *Processor) RunJob(ctx context.Context, campaignID string) error {
	_, err := p.Run(ctx, campaignID)
	if appErrors.IsCampaignNotFound(err) {
		return queue.Permanent{Err: err}
	}
	return err
}
