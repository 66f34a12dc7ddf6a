package scep

import (
	"strings"

	"go.mozilla.org/pkcs7"
)

const (
	ContentTypeCACert = "application/x-x509-ca-cert"
	ContentTypeRACert = "application/x-x509-ca-ra-cert"
	ContentTypePKIOp  = "application/x-pki-message"
	ContentTypeCACaps = "text/plain"
)

var caCapabilities = []string{
	"Renewal",
	"SHA-256",
	"AES",
	"POSTPKIOperation",
	"SCEPStandard",
}

func EncodeCACaps() []byte {
	return []byte(strings.Join(caCapabilities, "\n"))
}

// EncodeCACert packages the CA certificate for GetCACert. A single
// certificate goes out raw; a chain goes out as a degenerate PKCS#7.
func EncodeCACert(certsDER [][]byte) ([]byte, string, error) {
	if len(certsDER) == 1 {
		return certsDER[0], ContentTypeCACert, nil
	}

	var all []byte
	for _, der := range certsDER {
		all = append(all, der...)
	}

	degenerate, err := pkcs7.DegenerateCertificate(all)
	if err != nil {
		return nil, "", err
	}

	return degenerate, ContentTypeRACert, nil
}
