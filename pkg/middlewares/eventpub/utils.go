package eventpub

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sirupsen/logrus"
	"github.com/trustbroker/trustbroker/pkg/helpers"
	"github.com/trustbroker/trustbroker/pkg/models"
)

type ICloudEventPublisher interface {
	PublishCloudEvent(ctx context.Context, eventType models.EventType, payload interface{})
}

type CloudEventPublisher struct {
	Publisher message.Publisher
	ServiceID string
	Logger    *logrus.Entry
}

func (cemp *CloudEventPublisher) PublishCloudEvent(ctx context.Context, eventType models.EventType, payload interface{}) {
	// The request may complete before the subscriber runs; hand the
	// message a context that keeps the correlation values but is detached
	// from the request's cancellation.
	ctx = helpers.CaptureContext(ctx)

	event := helpers.BuildCloudEvent(ctx, string(eventType), payload)

	eventBytes, marshalErr := json.Marshal(event)
	if marshalErr != nil {
		cemp.Logger.Errorf("error while serializing event: %s", marshalErr)
		return
	}

	cemp.Logger.Tracef("publishing event: Type=%s Source=%s \n%s", event.Type(), event.Source(), string(eventBytes))

	msg := message.NewMessage(event.ID(), eventBytes)
	msg.SetContext(ctx)

	cemp.Publisher.Publish(event.Type(), msg)
}

type EventPublisherWithSourceMiddleware struct {
	Publisher ICloudEventPublisher
	Source    string
}

func NewEventPublisherWithSourceMiddleware(publisher ICloudEventPublisher, source string) ICloudEventPublisher {
	return &EventPublisherWithSourceMiddleware{
		Publisher: publisher,
		Source:    source,
	}
}

func (epws *EventPublisherWithSourceMiddleware) PublishCloudEvent(ctx context.Context, eventType models.EventType, payload interface{}) {
	if ctx.Value(helpers.CtxSource) == nil {
		ctx = context.WithValue(ctx, helpers.CtxSource, epws.Source)
	}
	epws.Publisher.PublishCloudEvent(ctx, eventType, payload)
}
