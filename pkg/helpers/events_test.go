package helpers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trustbroker/trustbroker/pkg/models"
)

func TestBuildCloudEventCarriesCorrelation(t *testing.T) {
	ctx := context.WithValue(context.Background(), CtxSource, "trustbroker")
	ctx = context.WithValue(ctx, CtxRequestID, "req.abc")
	ctx = context.WithValue(ctx, CtxProfile, "iot-cmp")

	ev := BuildCloudEvent(ctx, string(models.EventTransactionConfirmedKey), models.TransactionOutcomeEvent{
		TransactionID: "tx-1",
		Protocol:      models.ProtocolCMP,
		ProfileName:   "iot-cmp",
		Outcome:       models.TxStateConfirmed,
	})

	assert.Equal(t, string(models.EventTransactionConfirmedKey), ev.Type())
	assert.Equal(t, "source://trustbroker", ev.Source())
	assert.Equal(t, "iot-cmp", ev.Subject())
	assert.Equal(t, "req.abc", ev.Extensions()["reqid"])
	assert.NotEmpty(t, ev.ID())
}

func TestBuildCloudEventWithoutSource(t *testing.T) {
	ev := BuildCloudEvent(context.Background(), "some.event", nil)
	assert.Equal(t, "source://unknown", ev.Source())
}

func TestCloudEventRoundtrip(t *testing.T) {
	ctx := context.WithValue(context.Background(), CtxSource, "trustbroker")

	original := BuildCloudEvent(ctx, string(models.EventTransactionExpiredKey), models.TransactionOutcomeEvent{
		TransactionID: "tx-9",
		Protocol:      models.ProtocolACME,
		ProfileName:   "iot-acme",
		Outcome:       models.TxStateExpired,
	})

	raw, err := json.Marshal(original)
	require.NoError(t, err)

	parsed, err := ParseCloudEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, original.Type(), parsed.Type())
	assert.Equal(t, original.ID(), parsed.ID())

	body, err := GetEventBody[models.TransactionOutcomeEvent](parsed)
	require.NoError(t, err)
	assert.Equal(t, "tx-9", body.TransactionID)
	assert.Equal(t, models.TxStateExpired, body.Outcome)
}

func TestGetEventBodyErrors(t *testing.T) {
	_, err := GetEventBody[models.TransactionOutcomeEvent](nil)
	assert.Error(t, err)

	parsed, err := ParseCloudEvent([]byte(`{"specversion":"1.0","id":"1","type":"t","source":"s"}`))
	require.NoError(t, err)

	_, err = GetEventBody[models.TransactionOutcomeEvent](parsed)
	assert.Error(t, err)
}

func TestCaptureContextDetachesFromCancellation(t *testing.T) {
	parent := context.WithValue(context.Background(), CtxSource, "trustbroker")
	parent = context.WithValue(parent, CtxRequestID, "req.1")
	parent = context.WithValue(parent, CtxProfile, "iot-scep")
	parent = context.WithValue(parent, CtxProtocol, "SCEP")

	cancellable, cancel := context.WithCancel(parent)
	captured := CaptureContext(cancellable)
	cancel()

	assert.NoError(t, captured.Err(), "captured context must outlive the request")
	assert.Equal(t, "trustbroker", captured.Value(CtxSource))
	assert.Equal(t, "req.1", captured.Value(CtxRequestID))
	assert.Equal(t, "iot-scep", captured.Value(CtxProfile))
	assert.Equal(t, "SCEP", captured.Value(CtxProtocol))
}
