package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trustbroker/trustbroker/pkg/config"
	"github.com/trustbroker/trustbroker/pkg/helpers"
	"github.com/trustbroker/trustbroker/pkg/models"
)

type memTransactionRepo struct {
	mu  sync.Mutex
	txs map[string]*models.Transaction
}

func newMemTransactionRepo() *memTransactionRepo {
	return &memTransactionRepo{txs: map[string]*models.Transaction{}}
}

func (r *memTransactionRepo) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.txs), nil
}

func (r *memTransactionRepo) SelectExists(ctx context.Context, protocol models.ProtocolKind, profileName, transactionID string) (bool, *models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[transactionID]
	if !ok {
		return false, nil, nil
	}
	copied := *tx
	return true, &copied, nil
}

func (r *memTransactionRepo) Insert(ctx context.Context, tx *models.Transaction) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *tx
	r.txs[tx.TransactionID] = &copied
	return tx, nil
}

func (r *memTransactionRepo) Advance(ctx context.Context, protocol models.ProtocolKind, profileName, transactionID string, from, to models.TransactionState) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[transactionID]
	if !ok || tx.State != from {
		return false, nil
	}
	tx.State = to
	return true, nil
}

func (r *memTransactionRepo) SelectOverdue(ctx context.Context, now time.Time, applyFunc func(models.Transaction)) error {
	r.mu.Lock()
	overdue := make([]models.Transaction, 0)
	for _, tx := range r.txs {
		if tx.ExpiresAt.Before(now) && !tx.State.IsTerminal() {
			overdue = append(overdue, *tx)
		}
	}
	r.mu.Unlock()

	for _, tx := range overdue {
		applyFunc(tx)
	}
	return nil
}

func (r *memTransactionRepo) stateOf(transactionID string) models.TransactionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.txs[transactionID].State
}

type memNonceRepo struct {
	mu     sync.Mutex
	nonces map[string]*models.Nonce
}

func newMemNonceRepo() *memNonceRepo {
	return &memNonceRepo{nonces: map[string]*models.Nonce{}}
}

func (r *memNonceRepo) Insert(ctx context.Context, nonce *models.Nonce) (*models.Nonce, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *nonce
	r.nonces[nonce.Value] = &copied
	return nonce, nil
}

func (r *memNonceRepo) SelectExists(ctx context.Context, value string) (bool, *models.Nonce, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	nonce, ok := r.nonces[value]
	if !ok {
		return false, nil, nil
	}
	copied := *nonce
	return true, &copied, nil
}

func (r *memNonceRepo) Consume(ctx context.Context, value string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	nonce, ok := r.nonces[value]
	if !ok || nonce.Consumed || nonce.Expired(now) {
		return false, nil
	}
	nonce.Consumed = true
	return true, nil
}

func (r *memNonceRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for value, nonce := range r.nonces {
		if nonce.Expired(now) {
			delete(r.nonces, value)
			removed++
		}
	}
	return removed, nil
}

type capturedEvent struct {
	eventType models.EventType
	payload   interface{}
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (p *capturingPublisher) PublishCloudEvent(ctx context.Context, eventType models.EventType, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, capturedEvent{eventType: eventType, payload: payload})
}

func (p *capturingPublisher) captured() []capturedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]capturedEvent{}, p.events...)
}

func sweepFixture() (*SweepJob, *memTransactionRepo, *memNonceRepo, *capturingPublisher) {
	transactions := newMemTransactionRepo()
	nonces := newMemNonceRepo()
	pub := &capturingPublisher{}

	job := NewSweepJob(
		helpers.SetupLogger(config.None, "Test Case", "Sweep"),
		transactions,
		nonces,
		pub,
	)

	return job, transactions, nonces, pub
}

func TestSweepExpiresOverdueTransactions(t *testing.T) {
	job, transactions, _, pub := sweepFixture()
	ctx := context.Background()

	now := time.Now()
	_, err := transactions.Insert(ctx, &models.Transaction{
		TransactionID: "overdue",
		Protocol:      models.ProtocolCMP,
		ProfileName:   "iot-cmp",
		State:         models.TxStateStarted,
		ExpiresAt:     now.Add(-time.Minute),
	})
	require.NoError(t, err)

	_, err = transactions.Insert(ctx, &models.Transaction{
		TransactionID: "live",
		Protocol:      models.ProtocolCMP,
		ProfileName:   "iot-cmp",
		State:         models.TxStateAwaitingConfirmation,
		ExpiresAt:     now.Add(time.Hour),
	})
	require.NoError(t, err)

	job.Run()

	assert.Equal(t, models.TxStateExpired, transactions.stateOf("overdue"))
	assert.Equal(t, models.TxStateAwaitingConfirmation, transactions.stateOf("live"))

	events := pub.captured()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTransactionExpiredKey, events[0].eventType)

	outcome, ok := events[0].payload.(models.TransactionOutcomeEvent)
	require.True(t, ok)
	assert.Equal(t, "overdue", outcome.TransactionID)
	assert.Equal(t, models.TxStateExpired, outcome.Outcome)
}

func TestSweepLeavesTerminalTransactionsAlone(t *testing.T) {
	job, transactions, _, pub := sweepFixture()
	ctx := context.Background()

	// Confirmed before the sweep ran; overdue by timestamp but terminal.
	_, err := transactions.Insert(ctx, &models.Transaction{
		TransactionID: "done",
		Protocol:      models.ProtocolSCEP,
		ProfileName:   "iot-scep",
		State:         models.TxStateConfirmed,
		ExpiresAt:     time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	job.Run()

	assert.Equal(t, models.TxStateConfirmed, transactions.stateOf("done"))
	assert.Empty(t, pub.captured())
}

func TestSweepDeletesExpiredNonces(t *testing.T) {
	job, _, nonces, _ := sweepFixture()
	ctx := context.Background()

	now := time.Now()
	_, err := nonces.Insert(ctx, &models.Nonce{Value: "old", ExpiresAt: now.Add(-time.Minute)})
	require.NoError(t, err)
	_, err = nonces.Insert(ctx, &models.Nonce{Value: "fresh", ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)

	job.Run()

	exists, _, err := nonces.SelectExists(ctx, "old")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, _, err = nonces.SelectExists(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSweepWithoutPublisher(t *testing.T) {
	transactions := newMemTransactionRepo()
	nonces := newMemNonceRepo()

	job := NewSweepJob(helpers.SetupLogger(config.None, "Test Case", "Sweep"), transactions, nonces, nil)

	_, err := transactions.Insert(context.Background(), &models.Transaction{
		TransactionID: "overdue",
		Protocol:      models.ProtocolACME,
		ProfileName:   "iot-acme",
		State:         models.TxStateStarted,
		ExpiresAt:     time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	job.Run()

	assert.Equal(t, models.TxStateExpired, transactions.stateOf("overdue"))
}
