package eventpub

import (
	"context"
	"fmt"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trustbroker/trustbroker/pkg/config"
	"github.com/trustbroker/trustbroker/pkg/helpers"
	"github.com/trustbroker/trustbroker/pkg/models"
	"github.com/trustbroker/trustbroker/pkg/services"
)

type capturedEvent struct {
	eventType models.EventType
	payload   interface{}
}

type capturingPublisher struct {
	events []capturedEvent
}

func (p *capturingPublisher) PublishCloudEvent(ctx context.Context, eventType models.EventType, payload interface{}) {
	p.events = append(p.events, capturedEvent{eventType: eventType, payload: payload})
}

type stubEnrollmentService struct {
	response *services.ProtocolResponse
	err      error
}

func (s *stubEnrollmentService) ProcessCMPMessage(ctx context.Context, input services.ProcessMessageInput) (*services.ProtocolResponse, error) {
	return s.response, s.err
}

func (s *stubEnrollmentService) ProcessSCEPOperation(ctx context.Context, input services.SCEPOperationInput) (*services.ProtocolResponse, error) {
	return s.response, s.err
}

func (s *stubEnrollmentService) ProcessACMEMessage(ctx context.Context, input services.ProcessMessageInput) (*services.ProtocolResponse, error) {
	return s.response, s.err
}

func (s *stubEnrollmentService) IssueNonce(ctx context.Context, input services.IssueNonceInput) (string, error) {
	return "nonce", s.err
}

func TestEnrollmentPublishesTerminalOutcome(t *testing.T) {
	pub := &capturingPublisher{}

	svc := NewEnrollmentEventPublisher(pub)(&stubEnrollmentService{
		response: &services.ProtocolResponse{
			Body: []byte("ok"),
			Outcome: &models.TransactionOutcomeEvent{
				TransactionID: "tx-1",
				Protocol:      models.ProtocolCMP,
				ProfileName:   "iot-cmp",
				Outcome:       models.TxStateConfirmed,
			},
		},
	})

	_, err := svc.ProcessCMPMessage(context.Background(), services.ProcessMessageInput{
		ProfileName: "iot-cmp",
		RawMessage:  []byte("raw"),
	})
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	assert.Equal(t, models.EventTransactionConfirmedKey, pub.events[0].eventType)

	outcome, ok := pub.events[0].payload.(models.TransactionOutcomeEvent)
	require.True(t, ok)
	assert.Equal(t, "tx-1", outcome.TransactionID)
}

func TestEnrollmentMapsFailureOutcomes(t *testing.T) {
	pub := &capturingPublisher{}

	svc := NewEnrollmentEventPublisher(pub)(&stubEnrollmentService{
		response: &services.ProtocolResponse{
			Body: []byte("rejected"),
			Outcome: &models.TransactionOutcomeEvent{
				TransactionID: "tx-2",
				Protocol:      models.ProtocolACME,
				ProfileName:   "iot-acme",
				Outcome:       models.TxStateFailed,
			},
		},
	})

	_, err := svc.ProcessACMEMessage(context.Background(), services.ProcessMessageInput{
		ProfileName: "iot-acme",
		RawMessage:  []byte("raw"),
	})
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	assert.Equal(t, models.EventTransactionFailedKey, pub.events[0].eventType)
}

func TestEnrollmentStaysSilentWithoutOutcome(t *testing.T) {
	pub := &capturingPublisher{}

	// Intermediate exchanges and plain errors produce no event.
	svc := NewEnrollmentEventPublisher(pub)(&stubEnrollmentService{
		response: &services.ProtocolResponse{Body: []byte("awaiting")},
	})

	_, err := svc.ProcessCMPMessage(context.Background(), services.ProcessMessageInput{
		ProfileName: "iot-cmp",
		RawMessage:  []byte("raw"),
	})
	require.NoError(t, err)
	assert.Empty(t, pub.events)

	failing := NewEnrollmentEventPublisher(pub)(&stubEnrollmentService{err: fmt.Errorf("boom")})
	_, err = failing.ProcessSCEPOperation(context.Background(), services.SCEPOperationInput{
		ProfileName: "iot-scep",
		Operation:   models.OperationSCEPPKIOperation,
	})
	require.Error(t, err)
	assert.Empty(t, pub.events)
}

type stubProfileService struct {
	profile *models.EnrollmentProfile
	err     error
}

func (s *stubProfileService) GetProfiles(ctx context.Context, input services.GetProfilesInput) error {
	return s.err
}

func (s *stubProfileService) GetProfileByName(ctx context.Context, input services.GetProfileByNameInput) (*models.EnrollmentProfile, error) {
	return s.profile, s.err
}

func (s *stubProfileService) CreateProfile(ctx context.Context, input services.CreateProfileInput) (*models.EnrollmentProfile, error) {
	return s.profile, s.err
}

func (s *stubProfileService) UpdateProfile(ctx context.Context, input services.UpdateProfileInput) (*models.EnrollmentProfile, error) {
	return s.profile, s.err
}

func (s *stubProfileService) DeleteProfile(ctx context.Context, input services.DeleteProfileInput) error {
	return s.err
}

func TestProfileLifecycleEvents(t *testing.T) {
	pub := &capturingPublisher{}

	svc := NewProfileEventPublisher(pub)(&stubProfileService{
		profile: &models.EnrollmentProfile{Name: "iot-cmp", Protocol: models.ProtocolCMP},
	})

	_, err := svc.CreateProfile(context.Background(), services.CreateProfileInput{
		Profile: &models.EnrollmentProfile{Name: "iot-cmp", Protocol: models.ProtocolCMP},
	})
	require.NoError(t, err)

	err = svc.DeleteProfile(context.Background(), services.DeleteProfileInput{Name: "iot-cmp"})
	require.NoError(t, err)

	require.Len(t, pub.events, 2)
	assert.Equal(t, models.EventProfileCreatedKey, pub.events[0].eventType)
	assert.Equal(t, models.EventProfileDeletedKey, pub.events[1].eventType)

	created, ok := pub.events[0].payload.(models.ProfileEvent)
	require.True(t, ok)
	assert.Equal(t, "iot-cmp", created.Name)
	assert.Equal(t, models.ProtocolCMP, created.Protocol)
}

func TestProfileFailuresPublishNothing(t *testing.T) {
	pub := &capturingPublisher{}

	svc := NewProfileEventPublisher(pub)(&stubProfileService{err: fmt.Errorf("storage down")})

	_, err := svc.CreateProfile(context.Background(), services.CreateProfileInput{
		Profile: &models.EnrollmentProfile{Name: "iot-cmp"},
	})
	require.Error(t, err)

	err = svc.DeleteProfile(context.Background(), services.DeleteProfileInput{Name: "iot-cmp"})
	require.Error(t, err)

	assert.Empty(t, pub.events)
}

func TestSourceMiddlewareStampsContext(t *testing.T) {
	var seen context.Context

	inner := publisherFunc(func(ctx context.Context, eventType models.EventType, payload interface{}) {
		seen = ctx
	})

	mw := NewEventPublisherWithSourceMiddleware(inner, "trustbroker")
	mw.PublishCloudEvent(context.Background(), models.EventProfileCreatedKey, nil)
	assert.Equal(t, "trustbroker", seen.Value(helpers.CtxSource))

	// An already stamped context wins.
	stamped := context.WithValue(context.Background(), helpers.CtxSource, "upstream")
	mw.PublishCloudEvent(stamped, models.EventProfileCreatedKey, nil)
	assert.Equal(t, "upstream", seen.Value(helpers.CtxSource))
}

type publisherFunc func(ctx context.Context, eventType models.EventType, payload interface{})

func (f publisherFunc) PublishCloudEvent(ctx context.Context, eventType models.EventType, payload interface{}) {
	f(ctx, eventType, payload)
}

type recordingBusPublisher struct {
	topics   []string
	messages []*message.Message
}

func (p *recordingBusPublisher) Publish(topic string, messages ...*message.Message) error {
	p.topics = append(p.topics, topic)
	p.messages = append(p.messages, messages...)
	return nil
}

func (p *recordingBusPublisher) Close() error { return nil }

func TestPublishedMessageOutlivesRequestContext(t *testing.T) {
	bus := &recordingBusPublisher{}
	pub := &CloudEventPublisher{
		Publisher: bus,
		ServiceID: "trustbroker",
		Logger:    helpers.SetupLogger(config.None, "Test Case", "Event Bus"),
	}

	reqCtx, cancel := context.WithCancel(context.Background())
	reqCtx = context.WithValue(reqCtx, helpers.CtxSource, "trustbroker")
	reqCtx = context.WithValue(reqCtx, helpers.CtxRequestID, "req-42")

	pub.PublishCloudEvent(reqCtx, models.EventTransactionConfirmedKey, models.TransactionOutcomeEvent{
		TransactionID: "tx-1",
		Protocol:      models.ProtocolCMP,
		ProfileName:   "iot-cmp",
		Outcome:       models.TxStateConfirmed,
	})
	cancel()

	require.Len(t, bus.messages, 1)
	assert.Equal(t, []string{string(models.EventTransactionConfirmedKey)}, bus.topics)

	// The request is over but the message context is still live and keeps
	// the correlation values.
	msgCtx := bus.messages[0].Context()
	assert.NoError(t, msgCtx.Err())
	assert.Equal(t, "trustbroker", msgCtx.Value(helpers.CtxSource))
	assert.Equal(t, "req-42", msgCtx.Value(helpers.CtxRequestID))
}
