package scep

import (
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"fmt"

	"github.com/trustbroker/trustbroker/pkg/errs"
	"github.com/trustbroker/trustbroker/pkg/models"
	"go.mozilla.org/pkcs7"
)

// SCEP signed attribute OIDs, RFC 8894 section 3.2.
var (
	oidSCEPMessageType   = asn1.ObjectIdentifier{2, 16, 840, 1, 113733, 1, 9, 2}
	oidSCEPPKIStatus     = asn1.ObjectIdentifier{2, 16, 840, 1, 113733, 1, 9, 3}
	oidSCEPFailInfo      = asn1.ObjectIdentifier{2, 16, 840, 1, 113733, 1, 9, 4}
	oidSCEPSenderNonce   = asn1.ObjectIdentifier{2, 16, 840, 1, 113733, 1, 9, 5}
	oidSCEPRecipNonce    = asn1.ObjectIdentifier{2, 16, 840, 1, 113733, 1, 9, 6}
	oidSCEPTransactionID = asn1.ObjectIdentifier{2, 16, 840, 1, 113733, 1, 9, 7}
)

// SCEP messageType values.
const (
	msgTypeCertRep    = "3"
	msgTypeRenewalReq = "17"
	msgTypePKCSReq    = "19"
)

// SCEP pkiStatus values.
const (
	pkiStatusSuccess = "0"
	pkiStatusFailure = "2"
)

// Message is a decoded SCEP PKIOperation envelope. GetCACert and GetCACaps
// never reach this type; they carry no PKCS#7 structure.
type Message struct {
	p7            *pkcs7.PKCS7
	raw           []byte
	messageType   string
	transactionID string
	senderNonce   []byte
	signer        *x509.Certificate
}

// DecodeRequest parses a PKIOperation body. The outer signature is parsed
// but deliberately not verified here: trust evaluation belongs to the
// protection engine, which checks the signer against the profile's anchors.
func DecodeRequest(raw []byte) (*Message, error) {
	p7, err := pkcs7.Parse(raw)
	if err != nil {
		return nil, errs.NewProtocolError(models.FailureBadDataFormat, "could not parse PKCS#7 envelope: %s", err)
	}

	var messageType string
	if err := p7.UnmarshalSignedAttribute(oidSCEPMessageType, &messageType); err != nil {
		return nil, errs.NewProtocolError(models.FailureBadDataFormat, "missing messageType attribute: %s", err)
	}

	if messageType != msgTypePKCSReq && messageType != msgTypeRenewalReq {
		return nil, errs.NewProtocolError(models.FailureBadRequest, "unsupported messageType %s", messageType)
	}

	var transactionID string
	if err := p7.UnmarshalSignedAttribute(oidSCEPTransactionID, &transactionID); err != nil {
		return nil, errs.NewProtocolError(models.FailureBadDataFormat, "missing transactionID attribute: %s", err)
	}

	var senderNonce []byte
	if err := p7.UnmarshalSignedAttribute(oidSCEPSenderNonce, &senderNonce); err != nil {
		return nil, errs.NewProtocolError(models.FailureBadDataFormat, "missing senderNonce attribute: %s", err)
	}

	signer := p7.GetOnlySigner()
	if signer == nil {
		return nil, errs.NewProtocolError(models.FailureBadMessageCheck, "envelope must carry exactly one signer")
	}

	return &Message{
		p7:            p7,
		raw:           raw,
		messageType:   messageType,
		transactionID: transactionID,
		senderNonce:   senderNonce,
		signer:        signer,
	}, nil
}

func (m *Message) Protocol() models.ProtocolKind {
	return models.ProtocolSCEP
}

func (m *Message) Operation() models.Operation {
	return models.OperationSCEPPKIOperation
}

func (m *Message) Meta() models.MessageMeta {
	return models.MessageMeta{
		TransactionID: m.transactionID,
		SenderNonce:   m.senderNonce,
		Sender:        m.signer.Subject.String(),
	}
}

// Body returns the enveloped content, the encrypted PKCS#10 the CA side
// unwraps. The broker relays it opaquely.
func (m *Message) Body() []byte {
	return m.p7.Content
}

func (m *Message) Protection() *models.MessageProtection {
	return &models.MessageProtection{
		Kind:  models.ProtectionSignature,
		Chain: m.p7.Certificates,
	}
}

// ProtectedBytes returns the raw envelope; PKCS#7 signature verification
// internally covers the signed attributes.
func (m *Message) ProtectedBytes() []byte {
	return m.raw
}

// VerifyEnvelope checks the PKCS#7 signature over the signed attributes
// against the embedded signer certificate.
func (m *Message) VerifyEnvelope() error {
	if err := m.p7.Verify(); err != nil {
		return errs.NewProtocolError(models.FailureBadMessageCheck, "envelope signature verification failed: %s", err)
	}
	return nil
}

// CertRep builds a SCEP response envelope signed with the broker's
// credential. The signer is a crypto.Signer so the private key may live at
// the remote key-operations provider.
type CertRep struct {
	TransactionID string
	RecipNonce    []byte
	SenderNonce   []byte
	Status        string
	FailInfo      string
	Payload       []byte
}

func (r *CertRep) Encode(cert *x509.Certificate, signer crypto.Signer) ([]byte, error) {
	signedData, err := pkcs7.NewSignedData(r.Payload)
	if err != nil {
		return nil, fmt.Errorf("could not create signed data: %w", err)
	}

	attrs := []pkcs7.Attribute{
		{Type: oidSCEPMessageType, Value: msgTypeCertRep},
		{Type: oidSCEPPKIStatus, Value: r.Status},
		{Type: oidSCEPTransactionID, Value: r.TransactionID},
		{Type: oidSCEPSenderNonce, Value: r.SenderNonce},
		{Type: oidSCEPRecipNonce, Value: r.RecipNonce},
	}
	if r.Status == pkiStatusFailure {
		attrs = append(attrs, pkcs7.Attribute{Type: oidSCEPFailInfo, Value: r.FailInfo})
	}

	err = signedData.AddSigner(cert, signer, pkcs7.SignerInfoConfig{
		ExtraSignedAttributes: attrs,
	})
	if err != nil {
		return nil, fmt.Errorf("could not sign CertRep: %w", err)
	}

	return signedData.Finish()
}

// NewSuccessCertRep wraps an issued certificate payload for the requester.
func NewSuccessCertRep(req *Message, senderNonce []byte, payload []byte) *CertRep {
	return &CertRep{
		TransactionID: req.transactionID,
		RecipNonce:    req.senderNonce,
		SenderNonce:   senderNonce,
		Status:        pkiStatusSuccess,
		Payload:       payload,
	}
}

// NewFailureCertRep maps the engine failure code onto SCEP's failInfo set.
func NewFailureCertRep(req *Message, senderNonce []byte, code models.FailureCode) *CertRep {
	return &CertRep{
		TransactionID: req.transactionID,
		RecipNonce:    req.senderNonce,
		SenderNonce:   senderNonce,
		Status:        pkiStatusFailure,
		FailInfo:      models.SCEPFailInfo(code),
	}
}
