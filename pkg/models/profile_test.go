package models

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCMPProfile() EnrollmentProfile {
	return EnrollmentProfile{
		Name:                      "cmp-endpoint",
		Protocol:                  ProtocolCMP,
		RequiredInboundProtection: ProtectionSharedSecret,
		OutboundProtection:        ProtectionSharedSecret,
		SharedSecret:              "super-secret",
		SupportedOperations:       OperationSet{OperationCMPInitializationReq, OperationCMPCertConfirm},
		NonceTTL:                  TimeDuration(5 * time.Minute),
		TransactionTTL:            TimeDuration(time.Hour),
	}
}

func TestProfileValidateAcceptsConsistentProfile(t *testing.T) {
	profile := validCMPProfile()
	assert.NoError(t, profile.Validate())
}

func TestProfileValidateRejectsUnknownProtocol(t *testing.T) {
	profile := validCMPProfile()
	profile.Protocol = "EST"
	assert.Error(t, profile.Validate())
}

func TestProfileValidateRejectsEmptyOperationSet(t *testing.T) {
	profile := validCMPProfile()
	profile.SupportedOperations = OperationSet{}
	assert.Error(t, profile.Validate())
}

func TestProfileValidateRejectsForeignOperations(t *testing.T) {
	profile := validCMPProfile()
	profile.SupportedOperations = append(profile.SupportedOperations, OperationSCEPPKIOperation)
	assert.Error(t, profile.Validate())
}

func TestProfileValidateSharedSecretConsistency(t *testing.T) {
	profile := validCMPProfile()
	profile.SharedSecret = ""
	assert.Error(t, profile.Validate(), "declared SHARED_SECRET without a secret")

	profile = validCMPProfile()
	profile.RequiredInboundProtection = ProtectionNone
	profile.OutboundProtection = ProtectionSignature
	profile.SigningKeyRef = "token-1/key-1"
	assert.Error(t, profile.Validate(), "orphaned shared secret must be rejected")
}

func TestProfileValidateSignatureConsistency(t *testing.T) {
	profile := validCMPProfile()
	profile.RequiredInboundProtection = ProtectionNone
	profile.OutboundProtection = ProtectionSignature
	profile.SharedSecret = ""
	assert.Error(t, profile.Validate(), "SIGNATURE outbound needs a signing key reference")

	profile.SigningKeyRef = "token-1/key-1"
	assert.NoError(t, profile.Validate())

	profile.RequiredInboundProtection = ProtectionSignature
	assert.Error(t, profile.Validate(), "SIGNATURE inbound needs trust anchors")
}

func TestProfileValidateRejectsUnprotectedOutbound(t *testing.T) {
	profile := validCMPProfile()
	profile.OutboundProtection = ProtectionNone
	assert.Error(t, profile.Validate())
}

func TestTrustAnchorPool(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test anchor"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	anchorPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	profile := validCMPProfile()
	profile.TrustAnchors = StringList{string(anchorPEM)}

	pool, anchors, err := profile.TrustAnchorPool()
	require.NoError(t, err)
	assert.NotNil(t, pool)
	require.Len(t, anchors, 1)
	assert.Equal(t, "test anchor", anchors[0].Subject.CommonName)

	profile.TrustAnchors = StringList{"not a certificate"}
	_, _, err = profile.TrustAnchorPool()
	assert.Error(t, err)
}

func TestProtocolOperationsWhitelist(t *testing.T) {
	assert.True(t, ProtocolOperations(ProtocolCMP).Contains(OperationCMPKeyUpdateReq))
	assert.False(t, ProtocolOperations(ProtocolCMP).Contains(OperationSCEPPKIOperation))

	assert.True(t, ProtocolOperations(ProtocolSCEP).Contains(OperationSCEPGetCACaps))
	assert.False(t, ProtocolOperations(ProtocolSCEP).Contains(OperationACMENewOrder))

	assert.True(t, ProtocolOperations(ProtocolACME).Contains(OperationACMERevokeCert))
	assert.Empty(t, ProtocolOperations("unknown"))
}

func TestOperationSetTextRoundtrip(t *testing.T) {
	set := OperationSet{OperationCMPInitializationReq, OperationCMPCertConfirm}

	raw, err := set.MarshalText()
	require.NoError(t, err)

	var decoded OperationSet
	require.NoError(t, decoded.UnmarshalText(raw))
	assert.Equal(t, set, decoded)
}
