package acme

import (
	"encoding/json"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"github.com/trustbroker/trustbroker/pkg/errs"
	"github.com/trustbroker/trustbroker/pkg/models"
)

var allowedAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.ES256, jose.ES384, jose.ES512, jose.EdDSA, jose.HS256,
}

const ProblemContentType = "application/problem+json"

// Message is a decoded ACME JWS request. The anti-replay nonce travels in
// the protected header rather than in the payload, and the signature covers
// protected header plus payload per RFC 8555 section 6.2.
type Message struct {
	jws       *jose.JSONWebSignature
	raw       []byte
	operation models.Operation
	header    jose.Header
	url       string
}

func operationForURL(url string) (models.Operation, error) {
	switch {
	case strings.HasSuffix(url, "/new-order"):
		return models.OperationACMENewOrder, nil
	case strings.Contains(url, "/finalize"):
		return models.OperationACMEFinalize, nil
	case strings.HasSuffix(url, "/revoke-cert"):
		return models.OperationACMERevokeCert, nil
	default:
		return "", errs.NewProtocolError(models.FailureBadRequest, "unrecognized request URL %s", url)
	}
}

// DecodeRequest parses the JWS and checks the structural constraints of
// RFC 8555: exactly one signature, a nonce and url in the protected
// header, and either a jwk or a kid identifying the signer.
func DecodeRequest(raw []byte) (*Message, error) {
	jws, err := jose.ParseSigned(string(raw), allowedAlgorithms)
	if err != nil {
		return nil, errs.NewProtocolError(models.FailureBadDataFormat, "could not parse JWS: %s", err)
	}

	if len(jws.Signatures) != 1 {
		return nil, errs.NewProtocolError(models.FailureBadDataFormat, "JWS must carry exactly one signature")
	}

	header := jws.Signatures[0].Protected
	if header.Nonce == "" {
		return nil, errs.NewProtocolError(models.FailureBadTime, "missing nonce in protected header")
	}

	urlValue, ok := header.ExtraHeaders[jose.HeaderKey("url")].(string)
	if !ok || urlValue == "" {
		return nil, errs.NewProtocolError(models.FailureBadDataFormat, "missing url in protected header")
	}

	if header.JSONWebKey == nil && header.KeyID == "" {
		return nil, errs.NewProtocolError(models.FailureBadDataFormat, "protected header carries neither jwk nor kid")
	}

	op, err := operationForURL(urlValue)
	if err != nil {
		return nil, err
	}

	return &Message{
		jws:       jws,
		raw:       raw,
		operation: op,
		header:    header,
		url:       urlValue,
	}, nil
}

func (m *Message) Protocol() models.ProtocolKind {
	return models.ProtocolACME
}

func (m *Message) Operation() models.Operation {
	return m.operation
}

func (m *Message) Meta() models.MessageMeta {
	return models.MessageMeta{
		// ACME has no client transaction id; the nonce doubles as the
		// request correlation handle and the account key as the sender.
		SenderNonce: []byte(m.header.Nonce),
		Sender:      m.header.KeyID,
		Recipient:   m.url,
	}
}

func (m *Message) Body() []byte {
	return m.jws.UnsafePayloadWithoutVerification()
}

func (m *Message) Protection() *models.MessageProtection {
	kind := models.ProtectionSignature
	if m.header.Algorithm == string(jose.HS256) {
		kind = models.ProtectionSharedSecret
	}

	return &models.MessageProtection{
		Kind: kind,
	}
}

func (m *Message) ProtectedBytes() []byte {
	return m.raw
}

// Verify checks the JWS against the given key, either the embedded account
// JWK or a MAC secret, and returns the authenticated payload.
func (m *Message) Verify(key any) ([]byte, error) {
	payload, err := m.jws.Verify(key)
	if err != nil {
		return nil, errs.NewProtocolError(models.FailureBadMessageCheck, "JWS verification failed: %s", err)
	}
	return payload, nil
}

// AccountKey returns the JWK embedded in the protected header, if any.
func (m *Message) AccountKey() *jose.JSONWebKey {
	return m.header.JSONWebKey
}

// Problem is an RFC 7807 document restricted to ACME's error namespace.
type Problem struct {
	Type   string `json:"type"`
	Detail string `json:"detail,omitempty"`
	Status int    `json:"status"`
}

// NewProblem maps the engine failure code onto an ACME problem document.
// The HTTP status mirrors the problem class: nonce and auth problems stay
// client errors, provider trouble is a 500.
func NewProblem(code models.FailureCode) Problem {
	problemType := models.ACMEProblemType(code)

	status := 400
	switch {
	case strings.HasSuffix(problemType, "unauthorized"):
		status = 401
	case strings.HasSuffix(problemType, "serverInternal"):
		status = 500
	}

	return Problem{
		Type:   problemType,
		Status: status,
	}
}

func (p Problem) Encode() []byte {
	b, _ := json.Marshal(p)
	return b
}
