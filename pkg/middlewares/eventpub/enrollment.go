package eventpub

import (
	"context"

	"github.com/trustbroker/trustbroker/pkg/models"
	"github.com/trustbroker/trustbroker/pkg/services"
)

type enrollmentEventPublisher struct {
	next       services.EnrollmentService
	eventMWPub ICloudEventPublisher
}

// NewEnrollmentEventPublisher emits a cloud event whenever message handling
// drives a transaction into a terminal state. Publication is fire and
// forget and never blocks or fails the protocol response.
func NewEnrollmentEventPublisher(eventMWPub ICloudEventPublisher) services.EnrollmentMiddleware {
	return func(next services.EnrollmentService) services.EnrollmentService {
		return &enrollmentEventPublisher{
			next:       next,
			eventMWPub: eventMWPub,
		}
	}
}

func outcomeEventType(state models.TransactionState) models.EventType {
	switch state {
	case models.TxStateFailed:
		return models.EventTransactionFailedKey
	case models.TxStateExpired:
		return models.EventTransactionExpiredKey
	default:
		return models.EventTransactionConfirmedKey
	}
}

func (mw *enrollmentEventPublisher) publishOutcome(ctx context.Context, response *services.ProtocolResponse) {
	if response == nil || response.Outcome == nil {
		return
	}

	mw.eventMWPub.PublishCloudEvent(ctx, outcomeEventType(response.Outcome.Outcome), *response.Outcome)
}

func (mw *enrollmentEventPublisher) ProcessCMPMessage(ctx context.Context, input services.ProcessMessageInput) (out *services.ProtocolResponse, err error) {
	defer func() {
		mw.publishOutcome(ctx, out)
	}()
	return mw.next.ProcessCMPMessage(ctx, input)
}

func (mw *enrollmentEventPublisher) ProcessSCEPOperation(ctx context.Context, input services.SCEPOperationInput) (out *services.ProtocolResponse, err error) {
	defer func() {
		mw.publishOutcome(ctx, out)
	}()
	return mw.next.ProcessSCEPOperation(ctx, input)
}

func (mw *enrollmentEventPublisher) ProcessACMEMessage(ctx context.Context, input services.ProcessMessageInput) (out *services.ProtocolResponse, err error) {
	defer func() {
		mw.publishOutcome(ctx, out)
	}()
	return mw.next.ProcessACMEMessage(ctx, input)
}

func (mw *enrollmentEventPublisher) IssueNonce(ctx context.Context, input services.IssueNonceInput) (string, error) {
	return mw.next.IssueNonce(ctx, input)
}
