package models

import (
	"crypto/x509"
)

// MessageMeta is the protocol-independent header view of an enrollment
// message: correlation ids, nonces and addressing. Protocol adapters fill
// in whichever fields their wire format defines.
type MessageMeta struct {
	TransactionID string
	SenderNonce   []byte
	RecipNonce    []byte
	Sender        string
	Recipient     string
}

// MessageProtection carries the integrity mechanism attached to a message:
// a MAC value for shared-secret protection, or a signature plus the
// presented certificate chain.
type MessageProtection struct {
	Kind  ProtectionKind
	Value []byte
	Chain []*x509.Certificate
}

// EnrollmentMessage is the decoded request/response envelope the engine
// operates on. CMP PKIMessages, SCEP PKCS#7 envelopes and ACME JWS objects
// all project onto this capability set through their protocol adapters; the
// validation pipeline and protection engine never see a concrete wire shape.
type EnrollmentMessage interface {
	Protocol() ProtocolKind
	Operation() Operation
	Meta() MessageMeta
	// Body returns the operation-specific payload. A nil or empty body on
	// an operation that requires one fails structural validation.
	Body() []byte
	// Protection returns the inbound protection, or nil when the message
	// is unprotected.
	Protection() *MessageProtection
	// ProtectedBytes returns the exact byte range the protection covers.
	ProtectedBytes() []byte
}

// KeyHandle is an opaque reference into the remote key-operations provider:
// which token/connector holds the key and which key item to use. It never
// carries key material.
type KeyHandle struct {
	TokenID   string `json:"token_id"`
	KeyItemID string `json:"key_item_id"`
}

// KeyItemKind distinguishes the public/private halves when resolving key
// items for a certificate.
type KeyItemKind string

const (
	KeyItemPublic  KeyItemKind = "PUBLIC"
	KeyItemPrivate KeyItemKind = "PRIVATE"
)
