package cmp

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"time"

	"github.com/trustbroker/trustbroker/pkg/models"
)

// PKIStatus values, RFC 4210 section 5.2.3.
const (
	statusAccepted  = 0
	statusRejection = 2
)

var (
	oidSHA256WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	oidECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
)

type responseHeader struct {
	PVNO          int
	Sender        asn1.RawValue
	Recipient     asn1.RawValue
	MessageTime   time.Time           `asn1:"generalized,explicit,tag:0"`
	ProtectionAlg algorithmIdentifier `asn1:"explicit,tag:1"`
	TransactionID []byte              `asn1:"explicit,tag:4,omitempty"`
	SenderNonce   []byte              `asn1:"explicit,tag:5,omitempty"`
	RecipNonce    []byte              `asn1:"explicit,tag:6,omitempty"`
}

type pkiStatusInfo struct {
	Status   int
	FailInfo asn1.BitString
}

type errorMsgContent struct {
	StatusInfo pkiStatusInfo
}

// Response is a CMP response under construction. Header and body are fixed
// at build time; the protection value is attached afterwards, once the
// protection engine has signed or MACed the protected part.
type Response struct {
	header  responseHeader
	bodyTag int
	bodyDER []byte
}

func newResponse(req *Message, op models.Operation, senderNonce []byte, protectionKind models.ProtectionKind) Response {
	alg := algorithmIdentifier{Algorithm: oidSHA256WithRSA}
	if protectionKind == models.ProtectionSharedSecret {
		alg = algorithmIdentifier{Algorithm: oidPasswordBasedMac}
	}

	return Response{
		header: responseHeader{
			PVNO:          req.raw.Header.PVNO,
			Sender:        req.raw.Header.Recipient,
			Recipient:     req.raw.Header.Sender,
			MessageTime:   time.Now().UTC(),
			ProtectionAlg: alg,
			TransactionID: req.raw.Header.TransactionID,
			SenderNonce:   senderNonce,
			RecipNonce:    req.raw.Header.SenderNonce,
		},
		bodyTag: responseBodyTag(op),
	}
}

// SetSignerKey aligns the declared protection algorithm with the key that
// will produce the protection bits. The protection covers the header, so
// this must run before ProtectedBytes.
func (r *Response) SetSignerKey(pub crypto.PublicKey) {
	if _, ok := pub.(*ecdsa.PublicKey); ok {
		r.header.ProtectionAlg = algorithmIdentifier{Algorithm: oidECDSAWithSHA256}
	}
}

// NewSuccessResponse pairs the request with its answer body. The payload is
// the DER of the operation's response content, typically the CertRepMessage
// relayed from the CA.
func NewSuccessResponse(req *Message, senderNonce []byte, protectionKind models.ProtectionKind, payload []byte) Response {
	r := newResponse(req, req.operation, senderNonce, protectionKind)
	r.bodyDER = payload
	return r
}

// NewFailureResponse builds an error message body carrying only the
// failure code. Internal diagnostics never cross here.
func NewFailureResponse(req *Message, senderNonce []byte, protectionKind models.ProtectionKind, code models.FailureCode) (Response, error) {
	r := newResponse(req, req.operation, senderNonce, protectionKind)
	r.bodyTag = bodyTagError

	body, err := asn1.Marshal(errorMsgContent{
		StatusInfo: pkiStatusInfo{
			Status:   statusRejection,
			FailInfo: failInfoBits(code),
		},
	})
	if err != nil {
		return Response{}, fmt.Errorf("could not marshal error body: %w", err)
	}

	// The marshalled SEQUENCE is the body content; the tag wraps it below.
	r.bodyDER = body
	return r, nil
}

func failInfoBits(code models.FailureCode) asn1.BitString {
	bit := models.CMPFailureInfoBit(code)
	bytesLen := bit/8 + 1
	raw := make([]byte, bytesLen)
	raw[bit/8] |= 0x80 >> uint(bit%8)
	return asn1.BitString{Bytes: raw, BitLength: bit + 1}
}

func (r *Response) headerDER() ([]byte, error) {
	return asn1.Marshal(r.header)
}

func (r *Response) bodyRaw() ([]byte, error) {
	return asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        r.bodyTag,
		IsCompound: true,
		Bytes:      r.bodyDER,
	})
}

// ProtectedBytes returns the DER the protection value must cover.
func (r *Response) ProtectedBytes() ([]byte, error) {
	header, err := r.headerDER()
	if err != nil {
		return nil, err
	}

	body, err := r.bodyRaw()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(header)
	buf.Write(body)

	return asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSequence,
		IsCompound: true,
		Bytes:      buf.Bytes(),
	})
}

// Finalize attaches the protection value and optional certificate chain and
// returns the full PKIMessage DER.
func (r *Response) Finalize(protection []byte, chainDER [][]byte) ([]byte, error) {
	header, err := r.headerDER()
	if err != nil {
		return nil, err
	}

	body, err := r.bodyRaw()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(header)
	buf.Write(body)

	if len(protection) > 0 {
		prot, err := asn1.Marshal(asn1.BitString{Bytes: protection, BitLength: len(protection) * 8})
		if err != nil {
			return nil, err
		}

		tagged, err := asn1.Marshal(asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        0,
			IsCompound: true,
			Bytes:      prot,
		})
		if err != nil {
			return nil, err
		}
		buf.Write(tagged)
	}

	if len(chainDER) > 0 {
		var certs bytes.Buffer
		for _, c := range chainDER {
			certs.Write(c)
		}

		seq, err := asn1.Marshal(asn1.RawValue{
			Class:      asn1.ClassUniversal,
			Tag:        asn1.TagSequence,
			IsCompound: true,
			Bytes:      certs.Bytes(),
		})
		if err != nil {
			return nil, err
		}

		tagged, err := asn1.Marshal(asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        1,
			IsCompound: true,
			Bytes:      seq,
		})
		if err != nil {
			return nil, err
		}
		buf.Write(tagged)
	}

	return asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSequence,
		IsCompound: true,
		Bytes:      buf.Bytes(),
	})
}

func parseExtraCerts(chainDER [][]byte) []*x509.Certificate {
	certs := make([]*x509.Certificate, 0, len(chainDER))
	for _, der := range chainDER {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			continue
		}
		certs = append(certs, cert)
	}
	return certs
}
