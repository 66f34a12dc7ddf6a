package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/trustbroker/trustbroker/pkg/engines/storage"
	"github.com/trustbroker/trustbroker/pkg/helpers"
	"github.com/trustbroker/trustbroker/pkg/middlewares/eventpub"
	"github.com/trustbroker/trustbroker/pkg/models"
)

// SweepJob removes expired nonces and expires overdue transactions. Each
// transaction is expired through the same conditional transition the
// message path uses, so a dialogue completing mid-sweep always wins.
type SweepJob struct {
	logger       *logrus.Entry
	transactions storage.TransactionRepo
	nonces       storage.NonceRepo
	eventPub     eventpub.ICloudEventPublisher
}

func NewSweepJob(logger *logrus.Entry, transactions storage.TransactionRepo, nonces storage.NonceRepo, eventPub eventpub.ICloudEventPublisher) *SweepJob {
	return &SweepJob{
		logger:       logger,
		transactions: transactions,
		nonces:       nonces,
		eventPub:     eventPub,
	}
}

func (j *SweepJob) Run() {
	ctx := helpers.InitContext()
	lFunc := helpers.ConfigureLogger(ctx, j.logger)
	now := time.Now()

	removed, err := j.nonces.DeleteExpired(ctx, now)
	if err != nil {
		lFunc.Errorf("could not delete expired nonces: %s", err)
	} else if removed > 0 {
		lFunc.Infof("deleted %d expired nonces", removed)
	}

	expired := 0
	err = j.transactions.SelectOverdue(ctx, now, func(tx models.Transaction) {
		advanced, err := j.transactions.Advance(ctx, tx.Protocol, tx.ProfileName, tx.TransactionID, tx.State, models.TxStateExpired)
		if err != nil {
			lFunc.Errorf("could not expire transaction %s: %s", tx.TransactionID, err)
			return
		}

		if !advanced {
			// Lost to a concurrent completion.
			return
		}

		expired++
		j.publishExpired(ctx, tx)
	})
	if err != nil {
		lFunc.Errorf("could not scan overdue transactions: %s", err)
	}

	if expired > 0 {
		lFunc.Infof("expired %d overdue transactions", expired)
	}
}

func (j *SweepJob) publishExpired(ctx context.Context, tx models.Transaction) {
	if j.eventPub == nil {
		return
	}

	j.eventPub.PublishCloudEvent(ctx, models.EventTransactionExpiredKey, models.TransactionOutcomeEvent{
		TransactionID: tx.TransactionID,
		Protocol:      tx.Protocol,
		ProfileName:   tx.ProfileName,
		Outcome:       models.TxStateExpired,
	})
}
