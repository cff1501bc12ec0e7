// Package transport defines the engine boundary the manager sends batches
// through, plus the reference HTTP engine. Engines own connection handling
// and timeout policy; they know nothing about operations or channels.
package transport

import (
	"context"

	"github.com/agenthands/loom/internal/response"
)

// Payload is the transport-safe form of a rendered batch. Values must be
// string or []string; anything richer has to be serialized by the request
// builder before it gets here.
type Payload map[string]any

// SuccessFunc observes every reply an engine obtains, however the service
// classified it.
type SuccessFunc func(*response.Response)

// ErrorFunc observes every call that produced no usable reply. The response
// argument carries whatever partial envelope was recovered, usually nil.
type ErrorFunc func(*response.Response, error)

// Engine performs one service call per Fetch or Start. Implementations must
// notify success or error subscribers exactly once per call, before Fetch
// returns or the Start Pending resolves.
type Engine interface {
	// Fetch performs the call and blocks until a reply is decoded or the
	// call fails.
	Fetch(ctx context.Context, endpoint string, payload Payload) (*response.Response, error)

	// Start performs the call without blocking. The returned Pending
	// resolves with the same outcome Fetch would have returned.
	Start(ctx context.Context, endpoint string, payload Payload) *Pending

	// OnSuccess registers a lifecycle observer for completed calls.
	OnSuccess(fn SuccessFunc)

	// OnError registers a lifecycle observer for failed calls.
	OnError(fn ErrorFunc)
}
