package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/arxlab/litagent/internal/core/domain"
	"github.com/arxlab/litagent/internal/infrastructure/resilience"
)

// connectivityErrors are the NATS failures worth another attempt; everything
// else is either a caller mistake or a cancelled context.
var connectivityErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
}

func classifyQueueError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	for _, connErr := range connectivityErrors {
		if errors.Is(err, connErr) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}

// asTemporary marks broker connectivity failures as retryable for callers so
// the worker can requeue instead of dropping the job.
func asTemporary(err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifyQueueError(err).Retryable || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, "nats publish", err)
	}
	return err
}
