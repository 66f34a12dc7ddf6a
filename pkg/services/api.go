package services

import (
	"context"

	"github.com/trustbroker/trustbroker/pkg/models"
)

// ProtocolResponse is a fully validated, encoded protocol answer ready to
// leave the broker. Outcome is set when handling drove a transaction into
// a terminal state; the event publishing middleware picks it up.
type ProtocolResponse struct {
	Body        []byte
	ContentType string
	ReplayNonce string
	// StatusCode overrides the transport status when non zero. Encoded
	// protocol failures (CMP error messages, SCEP failure CertReps) still
	// travel with a 200; ACME problem documents carry their own status.
	StatusCode int
	Outcome    *models.TransactionOutcomeEvent
}

type ProcessMessageInput struct {
	ProfileName string `validate:"required"`
	RawMessage  []byte `validate:"required"`

	// OrderID carries the ACME finalize URL segment; empty elsewhere.
	OrderID string
}

type SCEPOperationInput struct {
	ProfileName string           `validate:"required"`
	Operation   models.Operation `validate:"required"`
	Message     []byte
}

type IssueNonceInput struct {
	ProfileName string `validate:"required"`
}

type EnrollmentService interface {
	ProcessCMPMessage(ctx context.Context, input ProcessMessageInput) (*ProtocolResponse, error)
	ProcessSCEPOperation(ctx context.Context, input SCEPOperationInput) (*ProtocolResponse, error)
	ProcessACMEMessage(ctx context.Context, input ProcessMessageInput) (*ProtocolResponse, error)
	IssueNonce(ctx context.Context, input IssueNonceInput) (string, error)
}

type EnrollmentMiddleware func(EnrollmentService) EnrollmentService

type GetProfilesInput struct {
	ApplyFunc func(profile models.EnrollmentProfile)
}

type GetProfileByNameInput struct {
	Name string `validate:"required"`
}

type CreateProfileInput struct {
	Profile *models.EnrollmentProfile `validate:"required"`
}

type UpdateProfileInput struct {
	Profile *models.EnrollmentProfile `validate:"required"`
}

type DeleteProfileInput struct {
	Name string `validate:"required"`
}

type ProfileService interface {
	GetProfiles(ctx context.Context, input GetProfilesInput) error
	GetProfileByName(ctx context.Context, input GetProfileByNameInput) (*models.EnrollmentProfile, error)
	CreateProfile(ctx context.Context, input CreateProfileInput) (*models.EnrollmentProfile, error)
	UpdateProfile(ctx context.Context, input UpdateProfileInput) (*models.EnrollmentProfile, error)
	DeleteProfile(ctx context.Context, input DeleteProfileInput) error
}

type ProfileMiddleware func(ProfileService) ProfileService
