package services

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/trustbroker/trustbroker/pkg/clients"
	"github.com/trustbroker/trustbroker/pkg/errs"
	"github.com/trustbroker/trustbroker/pkg/helpers"
	"github.com/trustbroker/trustbroker/pkg/models"
)

// RemoteSigner adapts a key handle at the key-operations provider to
// crypto.Signer so PKCS#7 and CMP protection can sign without ever holding
// the private key. Every Sign call is a network round trip.
type RemoteSigner struct {
	client clients.KeyOperationsClient
	handle models.KeyHandle
	cert   *x509.Certificate
	chain  []*x509.Certificate
	ctx    context.Context
	logger *logrus.Entry
}

// NewRemoteSigner resolves the handle's certificate chain up front; the
// leaf provides the public key and the signing certificate.
func NewRemoteSigner(ctx context.Context, logger *logrus.Entry, client clients.KeyOperationsClient, handle models.KeyHandle) (*RemoteSigner, error) {
	chainPEM, err := client.GetCertificateChain(ctx, handle)
	if err != nil {
		return nil, err
	}

	if len(chainPEM) == 0 {
		return nil, errs.NewKeyUnavailableError(fmt.Errorf("no certificate chain for key %s/%s", handle.TokenID, handle.KeyItemID))
	}

	chain := make([]*x509.Certificate, 0, len(chainPEM))
	for _, certPEM := range chainPEM {
		block, _ := pem.Decode([]byte(certPEM))
		if block == nil {
			return nil, errs.NewKeyUnavailableError(fmt.Errorf("provider returned a non PEM certificate for key %s/%s", handle.TokenID, handle.KeyItemID))
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, errs.NewKeyUnavailableError(fmt.Errorf("could not parse provider certificate: %w", err))
		}

		chain = append(chain, cert)
	}

	return &RemoteSigner{
		client: client,
		handle: handle,
		cert:   chain[0],
		chain:  chain,
		ctx:    ctx,
		logger: logger,
	}, nil
}

func (s *RemoteSigner) Public() crypto.PublicKey {
	return s.cert.PublicKey
}

func (s *RemoteSigner) Certificate() *x509.Certificate {
	return s.cert
}

func (s *RemoteSigner) Chain() []*x509.Certificate {
	return s.chain
}

func (s *RemoteSigner) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	lFunc := helpers.ConfigureLogger(s.ctx, s.logger)

	algorithm, err := signingAlgorithm(s.cert.PublicKey, opts)
	if err != nil {
		return nil, err
	}

	signature, err := s.client.Sign(s.ctx, s.handle, algorithm, digest)
	if err != nil {
		lFunc.Errorf("remote sign with key %s/%s failed: %s", s.handle.TokenID, s.handle.KeyItemID, err)
		return nil, err
	}

	return signature, nil
}

func signingAlgorithm(pub crypto.PublicKey, opts crypto.SignerOpts) (string, error) {
	var hashName string
	switch opts.HashFunc() {
	case crypto.SHA256:
		hashName = "SHA_256"
	case crypto.SHA384:
		hashName = "SHA_384"
	case crypto.SHA512:
		hashName = "SHA_512"
	default:
		return "", fmt.Errorf("unsupported hash function %v", opts.HashFunc())
	}

	switch pub.(type) {
	case *rsa.PublicKey:
		if _, isPSS := opts.(*rsa.PSSOptions); isPSS {
			return "RSASSA_PSS_" + hashName, nil
		}
		return "RSASSA_PKCS1_V1_5_" + hashName, nil
	case *ecdsa.PublicKey:
		return "ECDSA_" + hashName, nil
	default:
		return "", fmt.Errorf("unsupported public key type %T", pub)
	}
}
