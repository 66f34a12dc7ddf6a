package services

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/trustbroker/trustbroker/pkg/config"
	"github.com/trustbroker/trustbroker/pkg/helpers"
	"github.com/trustbroker/trustbroker/pkg/models"
	"github.com/trustbroker/trustbroker/pkg/resources"
)

type fakeMessage struct {
	protocol   models.ProtocolKind
	op         models.Operation
	meta       models.MessageMeta
	body       []byte
	protection *models.MessageProtection
	protected  []byte
}

func (m *fakeMessage) Protocol() models.ProtocolKind         { return m.protocol }
func (m *fakeMessage) Operation() models.Operation           { return m.op }
func (m *fakeMessage) Meta() models.MessageMeta              { return m.meta }
func (m *fakeMessage) Body() []byte                          { return m.body }
func (m *fakeMessage) Protection() *models.MessageProtection { return m.protection }
func (m *fakeMessage) ProtectedBytes() []byte                { return m.protected }

type fakeTransactionRepo struct {
	mu  sync.Mutex
	txs map[string]*models.Transaction
}

func newFakeTransactionRepo() *fakeTransactionRepo {
	return &fakeTransactionRepo{txs: map[string]*models.Transaction{}}
}

func txKey(protocol models.ProtocolKind, profileName, transactionID string) string {
	return fmt.Sprintf("%s/%s/%s", protocol, profileName, transactionID)
}

func (r *fakeTransactionRepo) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.txs), nil
}

func (r *fakeTransactionRepo) SelectExists(ctx context.Context, protocol models.ProtocolKind, profileName, transactionID string) (bool, *models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.txs[txKey(protocol, profileName, transactionID)]
	if !ok {
		return false, nil, nil
	}
	copied := *tx
	return true, &copied, nil
}

func (r *fakeTransactionRepo) Insert(ctx context.Context, tx *models.Transaction) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *tx
	r.txs[txKey(tx.Protocol, tx.ProfileName, tx.TransactionID)] = &copied
	return tx, nil
}

func (r *fakeTransactionRepo) Advance(ctx context.Context, protocol models.ProtocolKind, profileName, transactionID string, from, to models.TransactionState) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.txs[txKey(protocol, profileName, transactionID)]
	if !ok || tx.State != from {
		return false, nil
	}
	tx.State = to
	return true, nil
}

func (r *fakeTransactionRepo) SelectOverdue(ctx context.Context, now time.Time, applyFunc func(models.Transaction)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tx := range r.txs {
		if tx.ExpiresAt.Before(now) && !tx.State.IsTerminal() {
			applyFunc(*tx)
		}
	}
	return nil
}

type fakeNonceRepo struct {
	mu     sync.Mutex
	nonces map[string]*models.Nonce
}

func newFakeNonceRepo() *fakeNonceRepo {
	return &fakeNonceRepo{nonces: map[string]*models.Nonce{}}
}

func (r *fakeNonceRepo) Insert(ctx context.Context, nonce *models.Nonce) (*models.Nonce, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *nonce
	r.nonces[nonce.Value] = &copied
	return nonce, nil
}

func (r *fakeNonceRepo) SelectExists(ctx context.Context, value string) (bool, *models.Nonce, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nonce, ok := r.nonces[value]
	if !ok {
		return false, nil, nil
	}
	copied := *nonce
	return true, &copied, nil
}

func (r *fakeNonceRepo) Consume(ctx context.Context, value string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nonce, ok := r.nonces[value]
	if !ok || nonce.Consumed || nonce.Expired(now) {
		return false, nil
	}
	nonce.Consumed = true
	return true, nil
}

func (r *fakeNonceRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for value, nonce := range r.nonces {
		if nonce.Expired(now) {
			delete(r.nonces, value)
			deleted++
		}
	}
	return deleted, nil
}

type fakeProfileRepo struct {
	mu       sync.Mutex
	profiles map[string]*models.EnrollmentProfile
}

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{profiles: map[string]*models.EnrollmentProfile{}}
}

func (r *fakeProfileRepo) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.profiles), nil
}

func (r *fakeProfileRepo) SelectAll(ctx context.Context, applyFunc func(models.EnrollmentProfile)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, profile := range r.profiles {
		applyFunc(*profile)
	}
	return nil
}

func (r *fakeProfileRepo) SelectExists(ctx context.Context, name string) (bool, *models.EnrollmentProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile, ok := r.profiles[name]
	if !ok {
		return false, nil, nil
	}
	copied := *profile
	return true, &copied, nil
}

func (r *fakeProfileRepo) Insert(ctx context.Context, profile *models.EnrollmentProfile) (*models.EnrollmentProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *profile
	r.profiles[profile.Name] = &copied
	return profile, nil
}

func (r *fakeProfileRepo) Update(ctx context.Context, profile *models.EnrollmentProfile) (*models.EnrollmentProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *profile
	r.profiles[profile.Name] = &copied
	return profile, nil
}

func (r *fakeProfileRepo) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.profiles, name)
	return nil
}

type fakeCAClient struct {
	mu         sync.Mutex
	certPEM    string
	issueErr   error
	revokeErr  error
	issuedCSRs [][]byte
	revokedSNs []string
}

func (c *fakeCAClient) IssueCertificate(ctx context.Context, profileName string, csrDER []byte) (*resources.IssueCertificateResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.issueErr != nil {
		return nil, c.issueErr
	}
	c.issuedCSRs = append(c.issuedCSRs, csrDER)
	return &resources.IssueCertificateResponse{Certificate: c.certPEM}, nil
}

func (c *fakeCAClient) RevokeCertificate(ctx context.Context, serialNumber string, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.revokeErr != nil {
		return c.revokeErr
	}
	c.revokedSNs = append(c.revokedSNs, serialNumber)
	return nil
}

func (c *fakeCAClient) CertificateStatus(ctx context.Context, serialNumber string) (*resources.CertificateStatusResponse, error) {
	return &resources.CertificateStatusResponse{SerialNumber: serialNumber, Status: "ACTIVE"}, nil
}

// fakeKeyClient signs locally with a generated ECDSA key, standing in for
// the remote key-operations provider.
type fakeKeyClient struct {
	key      *ecdsa.PrivateKey
	certPEM  string
	signErr  error
	chainErr error
}

func (c *fakeKeyClient) Sign(ctx context.Context, handle models.KeyHandle, algorithm string, message []byte) ([]byte, error) {
	if c.signErr != nil {
		return nil, c.signErr
	}
	return ecdsa.SignASN1(rand.Reader, c.key, message)
}

func (c *fakeKeyClient) GetCertificateChain(ctx context.Context, handle models.KeyHandle) ([]string, error) {
	if c.chainErr != nil {
		return nil, c.chainErr
	}
	return []string{c.certPEM}, nil
}

type testCertificate struct {
	key     *ecdsa.PrivateKey
	cert    *x509.Certificate
	certPEM string
}

func generateSelfSignedCert(commonName string) (*testCertificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}

	return &testCertificate{
		key:     key,
		cert:    cert,
		certPEM: string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})),
	}, nil
}

type testBackend struct {
	svc          *EnrollmentServiceBackend
	transactions *fakeTransactionRepo
	nonces       *fakeNonceRepo
	profiles     *fakeProfileRepo
	ca           *fakeCAClient
	keys         *fakeKeyClient
	signerCert   *testCertificate
}

func newTestBackend() (*testBackend, error) {
	signerCert, err := generateSelfSignedCert("broker signer")
	if err != nil {
		return nil, err
	}

	transactions := newFakeTransactionRepo()
	nonces := newFakeNonceRepo()
	profiles := newFakeProfileRepo()
	ca := &fakeCAClient{certPEM: signerCert.certPEM}
	keys := &fakeKeyClient{key: signerCert.key, certPEM: signerCert.certPEM}

	svc := NewEnrollmentService(EnrollmentServiceBuilder{
		Logger:              helpers.SetupLogger(config.None, "Test Case", "Enrollment"),
		TransactionsStorage: transactions,
		NoncesStorage:       nonces,
		ProfilesStorage:     profiles,
		CAClient:            ca,
		KeyClient:           keys,
	})

	return &testBackend{
		svc:          svc.(*EnrollmentServiceBackend),
		transactions: transactions,
		nonces:       nonces,
		profiles:     profiles,
		ca:           ca,
		keys:         keys,
		signerCert:   signerCert,
	}, nil
}
