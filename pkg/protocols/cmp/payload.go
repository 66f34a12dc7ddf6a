package cmp

import (
	"encoding/asn1"
	"math/big"

	"github.com/trustbroker/trustbroker/pkg/errs"
	"github.com/trustbroker/trustbroker/pkg/models"
)

// NewCertRepPayload wraps an issued certificate into a minimal
// CertRepMessage: one CertResponse with certReqId 0, status accepted and
// the certificate in the certifiedKeyPair.
func NewCertRepPayload(certDER []byte) ([]byte, error) {
	statusInfo, err := asn1.Marshal(struct{ Status int }{Status: statusAccepted})
	if err != nil {
		return nil, err
	}

	certReqID, err := asn1.Marshal(0)
	if err != nil {
		return nil, err
	}

	// certOrEncCert [0] certificate, inside certifiedKeyPair.
	certTagged, err := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        0,
		IsCompound: true,
		Bytes:      certDER,
	})
	if err != nil {
		return nil, err
	}

	certifiedKeyPair, err := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSequence,
		IsCompound: true,
		Bytes:      certTagged,
	})
	if err != nil {
		return nil, err
	}

	certResponse, err := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSequence,
		IsCompound: true,
		Bytes:      append(append(certReqID, statusInfo...), certifiedKeyPair...),
	})
	if err != nil {
		return nil, err
	}

	responseSeq, err := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSequence,
		IsCompound: true,
		Bytes:      certResponse,
	})
	if err != nil {
		return nil, err
	}

	return asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSequence,
		IsCompound: true,
		Bytes:      responseSeq,
	})
}

// NewRevRepPayload builds a RevRepContent with a single accepted status.
func NewRevRepPayload() ([]byte, error) {
	statusInfo, err := asn1.Marshal(struct{ Status int }{Status: statusAccepted})
	if err != nil {
		return nil, err
	}

	statusSeq, err := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSequence,
		IsCompound: true,
		Bytes:      statusInfo,
	})
	if err != nil {
		return nil, err
	}

	return asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSequence,
		IsCompound: true,
		Bytes:      statusSeq,
	})
}

// NewPKIConfPayload builds the PKIConfirmContent body, an ASN.1 NULL.
func NewPKIConfPayload() ([]byte, error) {
	return asn1.Marshal(asn1.RawValue{
		Class: asn1.ClassUniversal,
		Tag:   asn1.TagNull,
	})
}

// RevocationSerial extracts the certificate serial number from the first
// RevDetails of an rr body. The CertTemplate is walked shallowly: only the
// serialNumber field, context tag 1, is of interest.
func RevocationSerial(body []byte) (string, error) {
	var details []asn1.RawValue
	if _, err := asn1.Unmarshal(body, &details); err != nil {
		return "", errs.NewProtocolError(models.FailureBadDataFormat, "could not parse RevReqContent: %s", err)
	}

	if len(details) == 0 {
		return "", errs.NewProtocolError(models.FailureBadDataFormat, "empty RevReqContent")
	}

	// RevDetails ::= SEQUENCE { certDetails CertTemplate, ... }
	var certTemplate asn1.RawValue
	if _, err := asn1.Unmarshal(details[0].Bytes, &certTemplate); err != nil {
		return "", errs.NewProtocolError(models.FailureBadDataFormat, "could not parse RevDetails: %s", err)
	}

	rest := certTemplate.Bytes
	for len(rest) > 0 {
		var field asn1.RawValue
		var err error
		rest, err = asn1.Unmarshal(rest, &field)
		if err != nil {
			return "", errs.NewProtocolError(models.FailureBadDataFormat, "could not walk CertTemplate: %s", err)
		}

		if field.Class == asn1.ClassContextSpecific && field.Tag == 1 {
			serial := new(big.Int).SetBytes(field.Bytes)
			return serial.String(), nil
		}
	}

	return "", errs.NewProtocolError(models.FailureBadCertID, "CertTemplate carries no serial number")
}
