package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/jakehl/goid"
)

func BuildCloudEvent(ctx context.Context, eventType string, payload interface{}) event.Event {
	ev := cloudevents.NewEvent()

	ev.SetSpecVersion("1.0")
	ev.SetTime(time.Now())
	ev.SetID(goid.NewV4UUID().String())
	ev.SetType(eventType)
	ev.SetData(cloudevents.ApplicationJSON, payload)

	if eventSource, ok := ctx.Value(CtxSource).(string); ok {
		ev.SetSource(fmt.Sprintf("source://%s", eventSource))
	} else {
		ev.SetSource("source://unknown")
	}

	if reqID, ok := ctx.Value(CtxRequestID).(string); ok {
		ev.SetExtension("reqid", reqID)
	}

	if profile, ok := ctx.Value(CtxProfile).(string); ok {
		ev.SetSubject(profile)
	}

	return ev
}

func ParseCloudEvent(msg []byte) (*event.Event, error) {
	var ev cloudevents.Event
	err := json.Unmarshal(msg, &ev)
	if err != nil {
		return nil, err
	}

	return &ev, nil
}

func GetEventBody[E any](cloudEvent *event.Event) (*E, error) {
	if cloudEvent == nil {
		return nil, fmt.Errorf("cloud event is null")
	}

	if cloudEvent.Data() == nil {
		return nil, fmt.Errorf("cloud event has no data")
	}

	var elem E
	if err := json.Unmarshal(cloudEvent.Data(), &elem); err != nil {
		return nil, fmt.Errorf("could not decode cloud event data: %w", err)
	}

	return &elem, nil
}
