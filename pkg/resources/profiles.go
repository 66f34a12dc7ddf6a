package resources

import "github.com/trustbroker/trustbroker/pkg/models"

// CreateUpdateProfileBody is the profile write payload. It mirrors the
// profile model but exposes the shared secret, which the model itself never
// serializes back out.
type CreateUpdateProfileBody struct {
	Name                      string                `json:"name"`
	Protocol                  models.ProtocolKind   `json:"protocol"`
	RequiredInboundProtection models.ProtectionKind `json:"required_inbound_protection"`
	OutboundProtection        models.ProtectionKind `json:"outbound_protection"`
	SharedSecret              string                `json:"shared_secret,omitempty"`
	SigningKeyRef             string                `json:"signing_key_ref,omitempty"`
	SupportedOperations       models.OperationSet   `json:"supported_operations"`
	TrustAnchors              models.StringList     `json:"trust_anchors,omitempty"`
	CheckRevocation           bool                  `json:"check_revocation"`
	NonceTTL                  models.TimeDuration   `json:"nonce_ttl"`
	TransactionTTL            models.TimeDuration   `json:"transaction_ttl"`
	Metadata                  map[string]any        `json:"metadata,omitempty"`
}

func (b CreateUpdateProfileBody) ToProfile() models.EnrollmentProfile {
	return models.EnrollmentProfile{
		Name:                      b.Name,
		Protocol:                  b.Protocol,
		RequiredInboundProtection: b.RequiredInboundProtection,
		OutboundProtection:        b.OutboundProtection,
		SharedSecret:              b.SharedSecret,
		SigningKeyRef:             b.SigningKeyRef,
		SupportedOperations:       b.SupportedOperations,
		TrustAnchors:              b.TrustAnchors,
		CheckRevocation:           b.CheckRevocation,
		NonceTTL:                  b.NonceTTL,
		TransactionTTL:            b.TransactionTTL,
		Metadata:                  b.Metadata,
	}
}

type GetProfilesResponse struct {
	Profiles []models.EnrollmentProfile `json:"profiles"`
}
