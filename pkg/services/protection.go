package services

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/sirupsen/logrus"
	"github.com/trustbroker/trustbroker/pkg/clients"
	"github.com/trustbroker/trustbroker/pkg/errs"
	"github.com/trustbroker/trustbroker/pkg/models"
	"golang.org/x/crypto/ocsp"
)

// OutboundProtection is the product of protecting a response: the raw
// protection value for formats that embed it (CMP), plus the signer and its
// chain for formats that sign the whole envelope (SCEP CertRep).
type OutboundProtection struct {
	Value    []byte
	ChainDER [][]byte
	Signer   *RemoteSigner
}

// ProtectionStrategy decides how message integrity is verified on the way
// in and produced on the way out. Inbound and outbound run independently:
// a profile may demand MAC protected requests yet sign its responses.
type ProtectionStrategy interface {
	Kind() models.ProtectionKind
	VerifyInbound(ctx context.Context, msg models.EnrollmentMessage, profile *models.EnrollmentProfile) error
	ProtectOutbound(ctx context.Context, protected []byte, profile *models.EnrollmentProfile) (*OutboundProtection, error)
}

type protectionEngine struct {
	logger    *logrus.Entry
	keyClient clients.KeyOperationsClient
}

func newProtectionEngine(logger *logrus.Entry, keyClient clients.KeyOperationsClient) *protectionEngine {
	return &protectionEngine{
		logger:    logger,
		keyClient: keyClient,
	}
}

func (e *protectionEngine) strategyFor(kind models.ProtectionKind) (ProtectionStrategy, error) {
	switch kind {
	case models.ProtectionSharedSecret:
		return &sharedSecretStrategy{}, nil
	case models.ProtectionSignature:
		return &remoteSignatureStrategy{logger: e.logger, keyClient: e.keyClient}, nil
	case models.ProtectionNone:
		return &noProtectionStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown protection kind %s", kind)
	}
}

// sharedSecretStrategy MACs the protected byte range with the profile's
// secret. Comparison is constant time.
type sharedSecretStrategy struct{}

func (s *sharedSecretStrategy) Kind() models.ProtectionKind {
	return models.ProtectionSharedSecret
}

func (s *sharedSecretStrategy) mac(secret string, protected []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(protected)
	return h.Sum(nil)
}

func (s *sharedSecretStrategy) VerifyInbound(ctx context.Context, msg models.EnrollmentMessage, profile *models.EnrollmentProfile) error {
	protection := msg.Protection()
	if protection == nil {
		return errs.NewProtocolError(models.FailureBadMessageCheck, "message carries no protection but profile requires a shared secret MAC")
	}

	if protection.Kind != models.ProtectionSharedSecret {
		return errs.NewProtocolError(models.FailureNotAuthorized, "message protection kind %s does not match required %s", protection.Kind, models.ProtectionSharedSecret)
	}

	// ACME HS256 verifies inside the JWS itself.
	if verifier, ok := msg.(macVerifier); ok {
		if _, err := verifier.Verify([]byte(profile.SharedSecret)); err != nil {
			return err
		}
		return nil
	}

	expected := s.mac(profile.SharedSecret, msg.ProtectedBytes())
	if !hmac.Equal(expected, protection.Value) {
		return errs.NewProtocolError(models.FailureBadMessageCheck, "MAC verification failed")
	}

	return nil
}

func (s *sharedSecretStrategy) ProtectOutbound(ctx context.Context, protected []byte, profile *models.EnrollmentProfile) (*OutboundProtection, error) {
	return &OutboundProtection{
		Value: s.mac(profile.SharedSecret, protected),
	}, nil
}

// remoteSignatureStrategy verifies presented certificate chains against the
// profile's trust anchors and delegates outbound signing to the remote
// key-operations provider.
type remoteSignatureStrategy struct {
	logger    *logrus.Entry
	keyClient clients.KeyOperationsClient
}

// envelopeVerifier is implemented by adapters whose wire format verifies
// its own signature structure (SCEP PKCS#7).
type envelopeVerifier interface {
	VerifyEnvelope() error
}

// macVerifier is implemented by adapters that verify against a caller
// supplied key (ACME JWS).
type macVerifier interface {
	Verify(key any) ([]byte, error)
}

// accountKeyed is implemented by adapters whose signer is identified by an
// embedded JWK rather than a certificate (ACME).
type accountKeyed interface {
	AccountKey() *jose.JSONWebKey
}

func (s *remoteSignatureStrategy) Kind() models.ProtectionKind {
	return models.ProtectionSignature
}

func (s *remoteSignatureStrategy) VerifyInbound(ctx context.Context, msg models.EnrollmentMessage, profile *models.EnrollmentProfile) error {
	protection := msg.Protection()
	if protection == nil {
		return errs.NewProtocolError(models.FailureBadMessageCheck, "message carries no protection but profile requires a signature")
	}

	if protection.Kind != models.ProtectionSignature {
		return errs.NewProtocolError(models.FailureNotAuthorized, "message protection kind %s does not match required %s", protection.Kind, models.ProtectionSignature)
	}

	// ACME identifies the signer by account key, not certificate.
	if verifier, ok := msg.(macVerifier); ok {
		keyed, ok := msg.(accountKeyed)
		if !ok || keyed.AccountKey() == nil {
			return errs.NewProtocolError(models.FailureBadMessageCheck, "no account key available for verification")
		}

		if _, err := verifier.Verify(keyed.AccountKey()); err != nil {
			return err
		}
		return nil
	}

	if len(protection.Chain) == 0 {
		return errs.NewProtocolError(models.FailureSignerNotTrusted, "message carries no signer certificate")
	}

	if err := s.verifyChain(ctx, protection.Chain, profile); err != nil {
		return err
	}

	if verifier, ok := msg.(envelopeVerifier); ok {
		return verifier.VerifyEnvelope()
	}

	return verifyRawSignature(protection.Chain[0], msg.ProtectedBytes(), protection.Value)
}

func (s *remoteSignatureStrategy) verifyChain(ctx context.Context, chain []*x509.Certificate, profile *models.EnrollmentProfile) error {
	roots, _, err := profile.TrustAnchorPool()
	if err != nil {
		return fmt.Errorf("could not load trust anchors for profile %s: %w", profile.Name, err)
	}

	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}

	chains, err := chain[0].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return errs.NewProtocolError(models.FailureSignerNotTrusted, "signer chain does not terminate at a profile trust anchor: %s", err)
	}

	if profile.CheckRevocation {
		issuer := chain[0]
		if len(chains[0]) > 1 {
			issuer = chains[0][1]
		}
		return s.checkRevocation(ctx, chain[0], issuer)
	}

	return nil
}

var ocspHTTPClient = &http.Client{Timeout: 10 * time.Second}

// checkRevocation queries the signer certificate's OCSP responder. A signer
// without an OCSP endpoint passes; the profile's trust anchors vouch for it
// and there is nothing to ask.
func (s *remoteSignatureStrategy) checkRevocation(ctx context.Context, leaf, issuer *x509.Certificate) error {
	if len(leaf.OCSPServer) == 0 {
		return nil
	}

	reqDER, err := ocsp.CreateRequest(leaf, issuer, nil)
	if err != nil {
		return fmt.Errorf("could not build OCSP request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, leaf.OCSPServer[0], bytes.NewReader(reqDER))
	if err != nil {
		return fmt.Errorf("could not build OCSP query: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/ocsp-request")

	httpResp, err := ocspHTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("could not query OCSP responder %s: %w", leaf.OCSPServer[0], err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("could not read OCSP response: %w", err)
	}

	ocspResp, err := ocsp.ParseResponseForCert(body, leaf, issuer)
	if err != nil {
		return fmt.Errorf("could not parse OCSP response: %w", err)
	}

	if ocspResp.Status == ocsp.Revoked {
		return errs.NewProtocolError(models.FailureSignerNotTrusted, "signer certificate %s is revoked", leaf.SerialNumber)
	}

	return nil
}

// resolveSigner fetches the profile's signing identity from the provider.
// Callers that must know the key type before fixing the protected bytes,
// CMP's header-embedded algorithm in particular, resolve first and then
// sign with signWith.
func (s *remoteSignatureStrategy) resolveSigner(ctx context.Context, profile *models.EnrollmentProfile) (*RemoteSigner, error) {
	handle, err := KeyHandleFromRef(profile.SigningKeyRef)
	if err != nil {
		return nil, err
	}

	return NewRemoteSigner(ctx, s.logger, s.keyClient, handle)
}

func (s *remoteSignatureStrategy) ProtectOutbound(ctx context.Context, protected []byte, profile *models.EnrollmentProfile) (*OutboundProtection, error) {
	signer, err := s.resolveSigner(ctx, profile)
	if err != nil {
		return nil, err
	}

	return s.signWith(signer, protected)
}

func (s *remoteSignatureStrategy) signWith(signer *RemoteSigner, protected []byte) (*OutboundProtection, error) {
	digest := sha256.Sum256(protected)
	signature, err := signer.Sign(nil, digest[:], crypto.SHA256)
	if err != nil {
		return nil, err
	}

	chainDER := make([][]byte, 0, len(signer.Chain()))
	for _, cert := range signer.Chain() {
		chainDER = append(chainDER, cert.Raw)
	}

	return &OutboundProtection{
		Value:    signature,
		ChainDER: chainDER,
		Signer:   signer,
	}, nil
}

// noProtectionStrategy accepts unprotected inbound messages. It is never
// valid outbound; profile validation rejects that configuration up front.
type noProtectionStrategy struct{}

func (s *noProtectionStrategy) Kind() models.ProtectionKind {
	return models.ProtectionNone
}

func (s *noProtectionStrategy) VerifyInbound(ctx context.Context, msg models.EnrollmentMessage, profile *models.EnrollmentProfile) error {
	return nil
}

func (s *noProtectionStrategy) ProtectOutbound(ctx context.Context, protected []byte, profile *models.EnrollmentProfile) (*OutboundProtection, error) {
	return nil, fmt.Errorf("outbound protection NONE is not a valid configuration")
}

func verifyRawSignature(cert *x509.Certificate, protected []byte, signature []byte) error {
	var algo x509.SignatureAlgorithm
	switch cert.PublicKey.(type) {
	case *rsa.PublicKey:
		algo = x509.SHA256WithRSA
	case *ecdsa.PublicKey:
		algo = x509.ECDSAWithSHA256
	default:
		return errs.NewProtocolError(models.FailureBadAlg, "unsupported signer key type %T", cert.PublicKey)
	}

	if err := cert.CheckSignature(algo, protected, signature); err != nil {
		return errs.NewProtocolError(models.FailureBadMessageCheck, "signature verification failed: %s", err)
	}

	return nil
}

// KeyHandleFromRef parses a profile signing key reference of the form
// token-id/key-item-id into a handle for the key-operations provider.
func KeyHandleFromRef(ref string) (models.KeyHandle, error) {
	parts := strings.SplitN(ref, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return models.KeyHandle{}, fmt.Errorf("malformed signing key reference %q, expected token-id/key-item-id", ref)
	}

	return models.KeyHandle{
		TokenID:   parts[0],
		KeyItemID: parts[1],
	}, nil
}
