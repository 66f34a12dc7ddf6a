package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trustbroker/trustbroker/pkg/errs"
	"github.com/trustbroker/trustbroker/pkg/models"
)

func TestValidateStructureCMPRequiresCorrelation(t *testing.T) {
	msg := &fakeMessage{
		protocol: models.ProtocolCMP,
		op:       models.OperationCMPInitializationReq,
		body:     []byte{0x30, 0x00},
	}

	err := validateStructure(msg)
	pErr, ok := errs.AsProtocolError(err)
	require.True(t, ok)
	assert.Equal(t, models.FailureBadDataFormat, pErr.Code)

	msg.meta.TransactionID = "tx-1"
	err = validateStructure(msg)
	pErr, ok = errs.AsProtocolError(err)
	require.True(t, ok, "still missing senderNonce")
	assert.Equal(t, models.FailureBadDataFormat, pErr.Code)

	msg.meta.SenderNonce = []byte("nonce")
	assert.NoError(t, validateStructure(msg))
}

func TestValidateStructureACMERequiresNonce(t *testing.T) {
	msg := &fakeMessage{
		protocol: models.ProtocolACME,
		op:       models.OperationACMENewOrder,
		body:     []byte(`{"identifiers":[]}`),
	}

	err := validateStructure(msg)
	pErr, ok := errs.AsProtocolError(err)
	require.True(t, ok)
	assert.Equal(t, models.FailureBadTime, pErr.Code)

	msg.meta.SenderNonce = []byte("issued-nonce")
	assert.NoError(t, validateStructure(msg))
}

func TestValidateStructureStartingOperationNeedsBody(t *testing.T) {
	msg := &fakeMessage{
		protocol: models.ProtocolCMP,
		op:       models.OperationCMPInitializationReq,
		meta: models.MessageMeta{
			TransactionID: "tx-1",
			SenderNonce:   []byte("nonce"),
		},
	}

	err := validateStructure(msg)
	pErr, ok := errs.AsProtocolError(err)
	require.True(t, ok)
	assert.Equal(t, models.FailureBadDataFormat, pErr.Code)
}

func TestConsumeBrokerNonceSingleUse(t *testing.T) {
	nonces := newFakeNonceRepo()
	ctx := context.Background()

	_, err := nonces.Insert(ctx, &models.Nonce{
		Value:     "nonce-1",
		ExpiresAt: time.Now().Add(time.Minute),
	})
	require.NoError(t, err)

	require.NoError(t, consumeBrokerNonce(ctx, nonces, "nonce-1"))

	err = consumeBrokerNonce(ctx, nonces, "nonce-1")
	pErr, ok := errs.AsProtocolError(err)
	require.True(t, ok, "second consumption is a replay")
	assert.Equal(t, models.FailureBadTime, pErr.Code)
}

func TestConsumeBrokerNonceUnknownValue(t *testing.T) {
	err := consumeBrokerNonce(context.Background(), newFakeNonceRepo(), "never-issued")
	pErr, ok := errs.AsProtocolError(err)
	require.True(t, ok)
	assert.Equal(t, models.FailureBadTime, pErr.Code)
}

func TestConsumeBrokerNonceExpired(t *testing.T) {
	nonces := newFakeNonceRepo()
	ctx := context.Background()

	_, err := nonces.Insert(ctx, &models.Nonce{
		Value:     "stale",
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	err = consumeBrokerNonce(ctx, nonces, "stale")
	pErr, ok := errs.AsProtocolError(err)
	require.True(t, ok)
	assert.Equal(t, models.FailureBadTime, pErr.Code)
}

func TestValidateOutboundRejectsEmptyBody(t *testing.T) {
	profile := &models.EnrollmentProfile{Protocol: models.ProtocolCMP, OutboundProtection: models.ProtectionSharedSecret}
	assert.ErrorIs(t, validateOutbound(nil, &OutboundProtection{Value: []byte("mac")}, profile), errs.ErrIncompleteResponse)
}

func TestValidateOutboundRejectsMissingProtection(t *testing.T) {
	profile := &models.EnrollmentProfile{Protocol: models.ProtocolCMP, OutboundProtection: models.ProtectionSharedSecret}

	assert.ErrorIs(t, validateOutbound([]byte{0x30}, nil, profile), errs.ErrIncompleteResponse)
	assert.ErrorIs(t, validateOutbound([]byte{0x30}, &OutboundProtection{}, profile), errs.ErrIncompleteResponse)

	assert.NoError(t, validateOutbound([]byte{0x30}, &OutboundProtection{Value: []byte("mac")}, profile))
}

func TestValidateOutboundACMERidesOnChannelSecurity(t *testing.T) {
	profile := &models.EnrollmentProfile{Protocol: models.ProtocolACME, OutboundProtection: models.ProtectionSignature}
	assert.NoError(t, validateOutbound([]byte(`{"status":"ready"}`), nil, profile))
}
