package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/unclebandit/campaign-mailer/internal/gateway"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/repository"
)

const (
	DefaultBatchSize = 50
	DefaultSendDelay = time.Second
)

type BatchResult struct {
	Processed int  `json:"processed"`
	Sent      int  `json:"sent"`
	Failed    int  `json:"failed"`
	HasMore   bool `json:"hasMore"`
}

// BatchWorker drains one bounded slice of a campaign's queue per call.
// It keeps no state between calls.
type BatchWorker struct {
	CampaignRepo  repository.CampaignRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	Sender        gateway.Sender

	BatchSize int
	SendDelay time.Duration
	// Limiter, when set, is shared by every invocation in the process.
	Limiter *rate.Limiter

	Log zerolog.Logger

	// Sleep and Now are replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// ProcessBatch claims up to BatchSize pending rows and sends them one by one.
func (w *BatchWorker) ProcessBatch(ctx context.Context, campaignID string) (*BatchResult, error) {
	campaign, err := w.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	log := w.Log.With().Str("campaign_id", campaignID).Logger()

	result := &BatchResult{}
	if campaign.Terminal() {
		log.Info().Str("status", campaign.Status).Msg("campaign is terminal, nothing to do")
		return result, nil
	}

	if campaign.Status == model.CampaignQueued {
		if _, err := w.CampaignRepo.MarkProcessing(ctx, campaignID); err != nil {
			return nil, err
		}
	}

	// A cancelled invocation must not take rows it will only hand back.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := w.RecipientRepo.ClaimPending(ctx, campaignID, w.batchSize())
	if err != nil {
		return nil, err
	}

	start := time.Now()
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			w.release(rows[i:], log)
			log.Warn().Err(err).Int("released", len(rows)-i).Msg("invocation budget exhausted")
			break
		}
		if w.Limiter != nil {
			if err := w.Limiter.Wait(ctx); err != nil {
				w.release(rows[i:], log)
				log.Warn().Err(err).Int("released", len(rows)-i).Msg("rate limiter wait aborted")
				break
			}
		}

		sent := w.deliver(ctx, campaign, row, log)
		result.Processed++
		if sent {
			result.Sent++
		} else {
			result.Failed++
		}

		if i < len(rows)-1 && w.SendDelay > 0 {
			if err := w.sleep(ctx, w.SendDelay); err != nil {
				w.release(rows[i+1:], log)
				log.Warn().Err(err).Int("released", len(rows)-i-1).Msg("invocation budget exhausted")
				break
			}
		}
	}

	// Bookkeeping must finish even if the budget ran out mid-batch.
	bctx := context.WithoutCancel(ctx)
	stats, err := w.RecipientRepo.CountByStatus(bctx, campaignID)
	if err != nil {
		return nil, err
	}
	result.HasMore = stats.Pending > 0

	if stats.Drained() {
		completed, err := w.CampaignRepo.MarkCompleted(bctx, campaignID)
		if err != nil {
			return nil, err
		}
		if completed {
			log.Info().Int("sent", stats.Sent).Int("failed", stats.Failed).Msg("campaign completed")
		}
	}

	if result.Processed > 0 {
		log.Info().
			Int("processed", result.Processed).
			Int("sent", result.Sent).
			Int("failed", result.Failed).
			Int("pending", stats.Pending).
			Dur("took", time.Since(start)).
			Msg("batch finished")
	}
	return result, nil
}

// deliver sends one claimed row and records the outcome. It reports
// whether the gateway accepted the message.
func (w *BatchWorker) deliver(ctx context.Context, c *model.Campaign, row *model.Recipient, log zerolog.Logger) bool {
	msg := gateway.Message{
		To:      row.Email,
		Subject: c.Subject,
		HTML:    RenderForRecipient(c.Body, row),
	}
	sendErr := w.Sender.Send(ctx, msg)

	// Outcome writes outlive the budget: the send already happened.
	bctx := context.WithoutCancel(ctx)
	at := w.now()

	var (
		ok  bool
		err error
	)
	if sendErr == nil {
		ok, err = w.RecipientRepo.MarkSent(bctx, row.ID, at)
	} else {
		log.Warn().Err(sendErr).Str("recipient_id", row.ID).Msg("send failed")
		ok, err = w.RecipientRepo.MarkFailed(bctx, row.ID, at, sendErr.Error())
	}
	if err != nil {
		log.Error().Err(err).Str("recipient_id", row.ID).Bool("sent", sendErr == nil).Msg("failed to record outcome")
		return sendErr == nil
	}
	if !ok {
		// Another actor finalised the row (e.g. claim expiry); its counters
		// were updated there.
		log.Warn().Str("recipient_id", row.ID).Msg("row no longer claimed, outcome not recorded")
		return sendErr == nil
	}

	sent, failed := 1, 0
	if sendErr != nil {
		sent, failed = 0, 1
	}
	if err := w.CampaignRepo.IncrementCounters(bctx, c.ID, sent, failed); err != nil {
		log.Error().Err(err).Msg("failed to increment counters")
	}
	return sendErr == nil
}

func (w *BatchWorker) release(rows []*model.Recipient, log zerolog.Logger) {
	ctx := context.Background()
	for _, row := range rows {
		if err := w.RecipientRepo.Release(ctx, row.ID); err != nil {
			log.Error().Err(err).Str("recipient_id", row.ID).Msg("failed to release claim")
		}
	}
}

func (w *BatchWorker) batchSize() int {
	if w.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return w.BatchSize
}

func (w *BatchWorker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *BatchWorker) sleep(ctx context.Context, d time.Duration) error {
	if w.Sleep != nil {
		return w.Sleep(ctx, d)
	}
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
