package handlers

import (
	"context"
	"fmt"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/sirupsen/logrus"
	"github.com/trustbroker/trustbroker/pkg/helpers"
	"github.com/trustbroker/trustbroker/pkg/models"
	"github.com/trustbroker/trustbroker/pkg/services/eventhandling"
)

// NewAuditEventHandler consumes the broker's own lifecycle events and writes
// the audit trail. Terminal transaction outcomes and profile changes are the
// only auditable facts; everything else on the bus is ignored.
func NewAuditEventHandler(l *logrus.Entry) *eventhandling.CloudEventHandler {
	return &eventhandling.CloudEventHandler{
		Logger: l,
		DispatchMap: map[string]func(context.Context, *event.Event) error{
			string(models.EventTransactionConfirmedKey): func(ctx context.Context, m *event.Event) error { return transactionOutcomeHandler(m, l) },
			string(models.EventTransactionFailedKey):    func(ctx context.Context, m *event.Event) error { return transactionOutcomeHandler(m, l) },
			string(models.EventTransactionExpiredKey):   func(ctx context.Context, m *event.Event) error { return transactionOutcomeHandler(m, l) },
			string(models.EventProfileCreatedKey):       func(ctx context.Context, m *event.Event) error { return profileChangeHandler(m, l) },
			string(models.EventProfileDeletedKey):       func(ctx context.Context, m *event.Event) error { return profileChangeHandler(m, l) },
		},
	}
}

func transactionOutcomeHandler(ev *event.Event, lMessaging *logrus.Entry) error {
	outcome, err := helpers.GetEventBody[models.TransactionOutcomeEvent](ev)
	if err != nil {
		err = fmt.Errorf("could not decode cloud event: %s", err)
		lMessaging.Error(err)
		return err
	}

	entry := lMessaging.WithFields(logrus.Fields{
		"profile":  outcome.ProfileName,
		"protocol": outcome.Protocol,
	})

	switch outcome.Outcome {
	case models.TxStateConfirmed:
		entry.Infof("transaction %s confirmed", outcome.TransactionID)
	default:
		entry.Warnf("transaction %s reached terminal state %s", outcome.TransactionID, outcome.Outcome)
	}

	return nil
}

func profileChangeHandler(ev *event.Event, lMessaging *logrus.Entry) error {
	profile, err := helpers.GetEventBody[models.ProfileEvent](ev)
	if err != nil {
		err = fmt.Errorf("could not decode cloud event: %s", err)
		lMessaging.Error(err)
		return err
	}

	lMessaging.WithField("protocol", profile.Protocol).Infof("profile %s: %s", profile.Name, ev.Type())
	return nil
}
