package models

import (
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"time"
)

type ProtectionKind string

const (
	ProtectionNone         ProtectionKind = "NONE"
	ProtectionSharedSecret ProtectionKind = "SHARED_SECRET"
	ProtectionSignature    ProtectionKind = "SIGNATURE"
)

// EnrollmentProfile is the named per-endpoint policy: which operations the
// endpoint accepts, how inbound requests must be protected, and how outbound
// responses are protected. Inbound and outbound protection are independent
// policies; the broker never infers one from the other.
type EnrollmentProfile struct {
	Name                      string         `json:"name" gorm:"primaryKey"`
	Protocol                  ProtocolKind   `json:"protocol"`
	RequiredInboundProtection ProtectionKind `json:"required_inbound_protection"`
	OutboundProtection        ProtectionKind `json:"outbound_protection"`
	SharedSecret              string         `json:"-"`
	SigningKeyRef             string         `json:"signing_key_ref,omitempty"`
	SupportedOperations       OperationSet   `json:"supported_operations" gorm:"serializer:text"`
	TrustAnchors              StringList     `json:"trust_anchors,omitempty" gorm:"serializer:text"`
	CheckRevocation           bool           `json:"check_revocation"`
	NonceTTL                  TimeDuration   `json:"nonce_ttl" gorm:"serializer:text"`
	TransactionTTL            TimeDuration   `json:"transaction_ttl" gorm:"serializer:text"`
	CreationDate              time.Time      `json:"creation_ts"`
	Metadata                  map[string]any `json:"metadata" gorm:"serializer:json"`
}

// Validate enforces the profile consistency invariant: the configured
// protection kinds must match the credential material present, and the
// operation set must be a non-empty subset of the protocol's whitelist.
func (p *EnrollmentProfile) Validate() error {
	switch p.Protocol {
	case ProtocolCMP, ProtocolSCEP, ProtocolACME:
	default:
		return fmt.Errorf("unknown protocol '%s'", p.Protocol)
	}

	if len(p.SupportedOperations) == 0 {
		return fmt.Errorf("profile '%s' supports no operations", p.Name)
	}

	for _, op := range p.SupportedOperations {
		if !ProtocolOperations(p.Protocol).Contains(op) {
			return fmt.Errorf("operation '%s' is not part of the %s whitelist", op, p.Protocol)
		}
	}

	usesSecret := p.RequiredInboundProtection == ProtectionSharedSecret || p.OutboundProtection == ProtectionSharedSecret

	if usesSecret && p.SharedSecret == "" {
		return fmt.Errorf("profile '%s' declares SHARED_SECRET protection but carries no shared secret", p.Name)
	}
	if !usesSecret && p.SharedSecret != "" {
		return fmt.Errorf("profile '%s' carries a shared secret but no protection kind uses it", p.Name)
	}
	if p.OutboundProtection == ProtectionSignature && p.SigningKeyRef == "" {
		return fmt.Errorf("profile '%s' declares SIGNATURE outbound protection but has no signing key reference", p.Name)
	}
	if p.OutboundProtection != ProtectionSignature && p.SigningKeyRef != "" {
		return fmt.Errorf("profile '%s' carries a signing key reference but outbound protection is %s", p.Name, p.OutboundProtection)
	}
	if p.RequiredInboundProtection == ProtectionSignature && len(p.TrustAnchors) == 0 {
		return fmt.Errorf("profile '%s' requires SIGNATURE inbound protection but has no trust anchors", p.Name)
	}

	if p.OutboundProtection == ProtectionNone {
		return fmt.Errorf("profile '%s' must protect outbound responses", p.Name)
	}

	return nil
}

// TrustAnchorPool parses the configured PEM anchors into a cert pool used to
// verify inbound signature chains.
func (p *EnrollmentProfile) TrustAnchorPool() (*x509.CertPool, []*x509.Certificate, error) {
	pool := x509.NewCertPool()
	anchors := []*x509.Certificate{}

	for idx, anchorPEM := range p.TrustAnchors {
		block, _ := pem.Decode([]byte(anchorPEM))
		if block == nil {
			return nil, nil, fmt.Errorf("trust anchor %d is not valid PEM", idx)
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, nil, fmt.Errorf("trust anchor %d: %w", idx, err)
		}

		pool.AddCert(cert)
		anchors = append(anchors, cert)
	}

	return pool, anchors, nil
}

// OperationSet is a profile's accepted operation whitelist. Stored as a JSON
// text column.
type OperationSet []Operation

func (s OperationSet) Contains(op Operation) bool {
	for _, candidate := range s {
		if candidate == op {
			return true
		}
	}
	return false
}

func (s OperationSet) MarshalText() ([]byte, error) {
	return json.Marshal([]Operation(s))
}

func (s *OperationSet) UnmarshalText(data []byte) error {
	var ops []Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return err
	}
	*s = ops
	return nil
}

// StringList is a text-serialized string slice column.
type StringList []string

func (l StringList) MarshalText() ([]byte, error) {
	return json.Marshal([]string(l))
}

func (l *StringList) UnmarshalText(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*l = items
	return nil
}

// ProtocolOperations returns the compile-time whitelist for a protocol.
// Anything outside this set is rejected by the message type gate, including
// message types the protocol specification itself defines.
func ProtocolOperations(kind ProtocolKind) OperationSet {
	switch kind {
	case ProtocolCMP:
		return OperationSet{
			OperationCMPInitializationReq,
			OperationCMPCertificationReq,
			OperationCMPKeyUpdateReq,
			OperationCMPCertConfirm,
			OperationCMPPKIConfirm,
			OperationCMPRevocationReq,
		}
	case ProtocolSCEP:
		return OperationSet{
			OperationSCEPGetCACert,
			OperationSCEPGetCACaps,
			OperationSCEPPKIOperation,
		}
	case ProtocolACME:
		return OperationSet{
			OperationACMENewNonce,
			OperationACMENewOrder,
			OperationACMEFinalize,
			OperationACMERevokeCert,
		}
	default:
		return OperationSet{}
	}
}
