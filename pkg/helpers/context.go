package helpers

import (
	"context"
)

// capturedContextKeys lists the correlation values that must survive a
// hand-off to asynchronously executed follow-up work (event publication,
// scheduled tasks spawned from a request).
var capturedContextKeys = []string{
	CtxSource,
	CtxRequestID,
	CtxProfile,
	CtxProtocol,
}

// CaptureContext snapshots the request's correlation values into a fresh
// context that is detached from the request's cancellation and deadline.
// Asynchronous follow-up work dispatched after the request commits must run
// under the captured context, never under the request context itself: the
// request may complete (and be cancelled) before the follow-up executes.
func CaptureContext(ctx context.Context) context.Context {
	captured := context.Background()

	for _, key := range capturedContextKeys {
		if val := ctx.Value(key); val != nil {
			captured = context.WithValue(captured, key, val)
		}
	}

	return captured
}
