package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// TopicCampaignBatches carries one batch invocation per message.
const TopicCampaignBatches = "campaign_batches"

type BatchJob struct {
	CampaignID string `json:"campaign_id"`
}

func DecodeJob(payload []byte) (BatchJob, error) {
	var job BatchJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return job, fmt.Errorf("decode job: %w", err)
	}
	if strings.TrimSpace(job.CampaignID) == "" {
		return job, errors.New("decode job: campaign_id is empty")
	}
	return job, nil
}

// Dispatcher turns a campaign ID into a queued batch job.
type Dispatcher struct {
	Queue Queue
	Topic string
}

func NewDispatcher(q Queue, topic string) *Dispatcher {
	if topic == "" {
		topic = TopicCampaignBatches
	}
	return &Dispatcher{Queue: q, Topic: topic}
}

func (d *Dispatcher) Dispatch(ctx context.Context, campaignID string) error {
	body, err := json.Marshal(BatchJob{CampaignID: campaignID})
	if err != nil {
		return err
	}
	return d.Queue.Publish(ctx, d.Topic, body)
}

// RunFunc runs one batch invocation for a campaign.
type RunFunc func(ctx context.Context, campaignID string) error

// Permanent marks an error that redelivery cannot fix.
type Permanent struct{ Err error }

func (p Permanent) Error() string { return p.Err.Error() }
func (p Permanent) Unwrap() error { return p.Err }

// StartBatchSubscriber consumes batch jobs from topic and runs them.
// Malformed payloads and permanent errors are acknowledged and logged.
func StartBatchSubscriber(q Queue, topic string, run RunFunc, log zerolog.Logger) error {
	if topic == "" {
		topic = TopicCampaignBatches
	}
	return q.Subscribe(topic, func(ctx context.Context, payload []byte) error {
		job, err := DecodeJob(payload)
		if err != nil {
			log.Warn().Err(err).Msg("invalid batch job, dropping")
			return nil
		}
		err = run(ctx, job.CampaignID)
		var perm Permanent
		if errors.As(err, &perm) {
			log.Warn().Err(err).Str("campaign_id", job.CampaignID).Msg("batch job dropped")
			return nil
		}
		return err
	})
}
