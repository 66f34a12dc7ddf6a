package eventhandling

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/sirupsen/logrus"
	"github.com/trustbroker/trustbroker/pkg/helpers"
)

type EventHandler interface {
	HandleMessage(*message.Message) error
}

// CloudEventHandler dispatches decoded cloud events to per-type handler
// functions. Events without a registered handler are acknowledged and
// dropped.
type CloudEventHandler struct {
	Logger      *logrus.Entry
	DispatchMap map[string]func(context.Context, *event.Event) error
}

func (h CloudEventHandler) HandleMessage(m *message.Message) error {
	ev, err := helpers.ParseCloudEvent(m.Payload)
	if err != nil {
		err = fmt.Errorf("something went wrong while processing cloud event: %s", err)
		h.Logger.Error(err)
		return err
	}

	handler, ok := h.DispatchMap[ev.Type()]
	if !ok {
		h.Logger.Debugf("no handler found for event type %s", ev.Type())
		return nil
	}

	ctx := getContextFromMessage(m)

	if err := handler(ctx, ev); err != nil {
		h.Logger.Errorf("something went wrong while handling event: %s", err)
		return err
	}

	return nil
}

func getContextFromMessage(m *message.Message) context.Context {
	ctx := context.Background()

	ebSource := m.Metadata.Get(helpers.CtxSource)
	if ebSource == "" {
		ebSource = "unknown"
	}
	ctx = context.WithValue(ctx, helpers.CtxSource, fmt.Sprintf("eventbus-%s", ebSource))

	ebRequestID := m.Metadata.Get(helpers.CtxRequestID)
	if ebRequestID != "" {
		ctx = context.WithValue(ctx, helpers.CtxRequestID, ebRequestID)
	}

	return ctx
}
