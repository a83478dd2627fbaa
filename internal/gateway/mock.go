package gateway

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/rs/zerolog"
)

// MockSender logs messages instead of sending them and fails a fraction of
// them at random. Useful for local runs against a seeded database.
type MockSender struct {
	FailureRate float64
	Log         zerolog.Logger
}

func (m *MockSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rand.Float64() < m.FailureRate {
		return errors.New("mock sending failed")
	}
	m.Log.Debug().Str("to", msg.To).Str("subject", msg.Subject).Msg("mock send")
	return nil
}

var _ Sender = (*MockSender)(nil)
