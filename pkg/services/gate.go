package services

import (
	"github.com/trustbroker/trustbroker/pkg/errs"
	"github.com/trustbroker/trustbroker/pkg/models"
)

// acceptMessage is the message type gate: an operation passes only if it is
// in the protocol's compile-time whitelist and the profile explicitly
// enables it. Everything else is rejected before any state is touched.
func acceptMessage(profile *models.EnrollmentProfile, msg models.EnrollmentMessage) error {
	if msg.Protocol() != profile.Protocol {
		return errs.NewProtocolError(models.FailureWrongAuthority, "message protocol %s does not match profile protocol %s", msg.Protocol(), profile.Protocol)
	}

	op := msg.Operation()
	if !models.ProtocolOperations(msg.Protocol()).Contains(op) {
		return errs.NewProtocolError(models.FailureBadRequest, "operation %s is not a recognized %s operation", op, msg.Protocol())
	}

	if !profile.SupportedOperations.Contains(op) {
		return errs.NewProtocolError(models.FailureNotAuthorized, "operation %s is not enabled for profile %s", op, profile.Name)
	}

	return nil
}
