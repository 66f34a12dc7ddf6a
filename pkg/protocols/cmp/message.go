package cmp

import (
	"bytes"
	"encoding/asn1"
	"fmt"
	"time"

	"github.com/trustbroker/trustbroker/pkg/errs"
	"github.com/trustbroker/trustbroker/pkg/models"
)

// PKIMessage body tags, RFC 4210 section 5.1.2.
const (
	bodyTagIR       = 0
	bodyTagIP       = 1
	bodyTagCR       = 2
	bodyTagCP       = 3
	bodyTagKUR      = 7
	bodyTagKUP      = 8
	bodyTagRR       = 11
	bodyTagRP       = 12
	bodyTagPKIConf  = 19
	bodyTagError    = 23
	bodyTagCertConf = 24
)

// id-PasswordBasedMac, RFC 4210 section 5.1.3.1.
var oidPasswordBasedMac = asn1.ObjectIdentifier{1, 2, 840, 113533, 7, 66, 13}

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type pkiHeader struct {
	Raw           asn1.RawContent
	PVNO          int
	Sender        asn1.RawValue
	Recipient     asn1.RawValue
	MessageTime   time.Time           `asn1:"generalized,explicit,tag:0,optional"`
	ProtectionAlg algorithmIdentifier `asn1:"explicit,tag:1,optional"`
	SenderKID     []byte              `asn1:"explicit,tag:2,optional"`
	RecipKID      []byte              `asn1:"explicit,tag:3,optional"`
	TransactionID []byte              `asn1:"explicit,tag:4,optional"`
	SenderNonce   []byte              `asn1:"explicit,tag:5,optional"`
	RecipNonce    []byte              `asn1:"explicit,tag:6,optional"`
	FreeText      []string            `asn1:"utf8,explicit,tag:7,optional"`
	GeneralInfo   asn1.RawValue       `asn1:"explicit,tag:8,optional"`
}

type pkiMessage struct {
	Header     pkiHeader
	Body       asn1.RawValue
	Protection asn1.BitString  `asn1:"explicit,tag:0,optional"`
	ExtraCerts []asn1.RawValue `asn1:"explicit,tag:1,optional"`
}

// Message is a decoded CMP PKIMessage projected onto the engine's
// message capability set.
type Message struct {
	raw       pkiMessage
	operation models.Operation
	chainDER  [][]byte
}

func operationForBodyTag(tag int) (models.Operation, error) {
	switch tag {
	case bodyTagIR:
		return models.OperationCMPInitializationReq, nil
	case bodyTagCR:
		return models.OperationCMPCertificationReq, nil
	case bodyTagKUR:
		return models.OperationCMPKeyUpdateReq, nil
	case bodyTagRR:
		return models.OperationCMPRevocationReq, nil
	case bodyTagCertConf:
		return models.OperationCMPCertConfirm, nil
	case bodyTagPKIConf:
		return models.OperationCMPPKIConfirm, nil
	default:
		return "", fmt.Errorf("unsupported PKIBody tag %d", tag)
	}
}

func responseBodyTag(op models.Operation) int {
	switch op {
	case models.OperationCMPInitializationReq:
		return bodyTagIP
	case models.OperationCMPCertificationReq:
		return bodyTagCP
	case models.OperationCMPKeyUpdateReq:
		return bodyTagKUP
	case models.OperationCMPRevocationReq:
		return bodyTagRP
	case models.OperationCMPCertConfirm, models.OperationCMPPKIConfirm:
		return bodyTagPKIConf
	default:
		return bodyTagError
	}
}

// DecodeRequest parses raw DER into a CMP message. Structural defects are
// protocol violations with badDataFormat: trailing bytes, a missing
// header field the operation requires, or an unknown body type.
func DecodeRequest(raw []byte) (*Message, error) {
	var msg pkiMessage
	rest, err := asn1.Unmarshal(raw, &msg)
	if err != nil {
		return nil, errs.NewProtocolError(models.FailureBadDataFormat, "could not parse PKIMessage: %s", err)
	}
	if len(rest) > 0 {
		return nil, errs.NewProtocolError(models.FailureBadDataFormat, "trailing bytes after PKIMessage")
	}

	if !msg.Body.IsCompound || msg.Body.Class != asn1.ClassContextSpecific {
		return nil, errs.NewProtocolError(models.FailureBadDataFormat, "PKIBody is not a tagged structure")
	}

	op, err := operationForBodyTag(msg.Body.Tag)
	if err != nil {
		return nil, errs.NewProtocolError(models.FailureBadRequest, "%s", err)
	}

	chains := make([][]byte, 0, len(msg.ExtraCerts))
	for _, c := range msg.ExtraCerts {
		chains = append(chains, c.FullBytes)
	}

	return &Message{
		raw:       msg,
		operation: op,
		chainDER:  chains,
	}, nil
}

func (m *Message) Protocol() models.ProtocolKind {
	return models.ProtocolCMP
}

func (m *Message) Operation() models.Operation {
	return m.operation
}

func (m *Message) Meta() models.MessageMeta {
	return models.MessageMeta{
		TransactionID: string(m.raw.Header.TransactionID),
		SenderNonce:   m.raw.Header.SenderNonce,
		RecipNonce:    m.raw.Header.RecipNonce,
		Sender:        rawGeneralNameString(m.raw.Header.Sender),
		Recipient:     rawGeneralNameString(m.raw.Header.Recipient),
	}
}

func (m *Message) Body() []byte {
	return m.raw.Body.Bytes
}

func (m *Message) Protection() *models.MessageProtection {
	if len(m.raw.Protection.Bytes) == 0 {
		return nil
	}

	kind := models.ProtectionSignature
	if m.raw.Header.ProtectionAlg.Algorithm.Equal(oidPasswordBasedMac) {
		kind = models.ProtectionSharedSecret
	}

	return &models.MessageProtection{
		Kind:  kind,
		Value: m.raw.Protection.RightAlign(),
		Chain: parseExtraCerts(m.chainDER),
	}
}

// ProtectedBytes returns the DER of the protected part, the SEQUENCE of
// header and body the protection is computed over (RFC 4210 section 5.1.3).
func (m *Message) ProtectedBytes() []byte {
	var buf bytes.Buffer
	buf.Write(m.raw.Header.Raw)
	buf.Write(m.raw.Body.FullBytes)

	der, err := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSequence,
		IsCompound: true,
		Bytes:      buf.Bytes(),
	})
	if err != nil {
		return nil
	}
	return der
}

func rawGeneralNameString(v asn1.RawValue) string {
	// GeneralName directoryName carries a Name; anything else is kept as
	// an opaque identifier string of its inner bytes.
	return string(v.Bytes)
}
