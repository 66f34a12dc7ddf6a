package acme

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/json"

	"github.com/trustbroker/trustbroker/pkg/errs"
	"github.com/trustbroker/trustbroker/pkg/models"
)

type finalizePayload struct {
	CSR string `json:"csr"`
}

type revokePayload struct {
	Certificate string `json:"certificate"`
	Reason      int    `json:"reason,omitempty"`
}

// ParseFinalizeCSR decodes the base64url PKCS#10 from a finalize payload.
func ParseFinalizeCSR(payload []byte) ([]byte, error) {
	var body finalizePayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, errs.NewProtocolError(models.FailureBadDataFormat, "could not parse finalize payload: %s", err)
	}

	csrDER, err := base64.RawURLEncoding.DecodeString(body.CSR)
	if err != nil {
		return nil, errs.NewProtocolError(models.FailureBadDataFormat, "csr is not base64url: %s", err)
	}

	if _, err := x509.ParseCertificateRequest(csrDER); err != nil {
		return nil, errs.NewProtocolError(models.FailureBadDataFormat, "csr is not a valid PKCS#10: %s", err)
	}

	return csrDER, nil
}

// ParseRevocationSerial decodes the certificate from a revokeCert payload
// and returns its serial number.
func ParseRevocationSerial(payload []byte) (string, int, error) {
	var body revokePayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", 0, errs.NewProtocolError(models.FailureBadDataFormat, "could not parse revocation payload: %s", err)
	}

	certDER, err := base64.RawURLEncoding.DecodeString(body.Certificate)
	if err != nil {
		return "", 0, errs.NewProtocolError(models.FailureBadDataFormat, "certificate is not base64url: %s", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return "", 0, errs.NewProtocolError(models.FailureBadCertID, "certificate does not parse: %s", err)
	}

	return cert.SerialNumber.String(), body.Reason, nil
}

// Order is the response document for newOrder and finalize.
type Order struct {
	Status      string   `json:"status"`
	Finalize    string   `json:"finalize,omitempty"`
	Certificate string   `json:"certificate,omitempty"`
	Identifiers []string `json:"identifiers,omitempty"`
}

func (o Order) Encode() []byte {
	b, _ := json.Marshal(o)
	return b
}
