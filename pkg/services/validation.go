package services

import (
	"context"
	"time"

	"github.com/trustbroker/trustbroker/pkg/engines/storage"
	"github.com/trustbroker/trustbroker/pkg/errs"
	"github.com/trustbroker/trustbroker/pkg/models"
)

// validateStructure rejects messages that decode but are semantically
// incomplete for their operation. It runs before any store access so a
// malformed message can never consume a nonce or open a transaction.
func validateStructure(msg models.EnrollmentMessage) error {
	meta := msg.Meta()

	switch msg.Protocol() {
	case models.ProtocolCMP:
		if meta.TransactionID == "" {
			return errs.NewProtocolError(models.FailureBadDataFormat, "missing transactionID")
		}
		if len(meta.SenderNonce) == 0 {
			return errs.NewProtocolError(models.FailureBadDataFormat, "missing senderNonce")
		}
	case models.ProtocolSCEP:
		if meta.TransactionID == "" {
			return errs.NewProtocolError(models.FailureBadDataFormat, "missing transactionID attribute")
		}
		if len(meta.SenderNonce) == 0 {
			return errs.NewProtocolError(models.FailureBadDataFormat, "missing senderNonce attribute")
		}
	case models.ProtocolACME:
		if len(meta.SenderNonce) == 0 {
			return errs.NewProtocolError(models.FailureBadTime, "missing nonce")
		}
	}

	if models.OperationStartsTransaction(msg.Operation()) && len(msg.Body()) == 0 {
		return errs.NewProtocolError(models.FailureBadDataFormat, "operation %s requires a non empty body", msg.Operation())
	}

	return nil
}

// consumeBrokerNonce atomically consumes a nonce the broker previously
// issued. Exactly one concurrent message carrying the same nonce passes;
// the rest fail with badTime, the replay rejection.
func consumeBrokerNonce(ctx context.Context, nonces storage.NonceRepo, value string) error {
	exists, _, err := nonces.SelectExists(ctx, value)
	if err != nil {
		return err
	}
	if !exists {
		return errs.NewProtocolError(models.FailureBadTime, "nonce was never issued or has been swept")
	}

	consumed, err := nonces.Consume(ctx, value, time.Now())
	if err != nil {
		return err
	}
	if !consumed {
		return errs.NewProtocolError(models.FailureBadTime, "nonce already consumed or expired")
	}

	return nil
}

// validateOutbound is the release barrier: a response that is structurally
// incomplete or unprotected when the profile demands protection must never
// leave the broker. Hitting this is a programming defect, not client error.
func validateOutbound(encoded []byte, protection *OutboundProtection, profile *models.EnrollmentProfile) error {
	if len(encoded) == 0 {
		return errs.ErrIncompleteResponse
	}

	// ACME responses carry no message level protection. Integrity rides on
	// the TLS channel and the JWS account binding of the request.
	if profile.Protocol != models.ProtocolACME && profile.OutboundProtection != models.ProtectionNone {
		if protection == nil || (len(protection.Value) == 0 && protection.Signer == nil) {
			return errs.ErrIncompleteResponse
		}
	}

	return nil
}
