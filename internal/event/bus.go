// Package event delivers classified service replies to subscribers. The
// channel set is closed: subscribers never see a channel outside the list
// below. Replies whose shape falls outside the protocol vocabulary fire no
// structured channel at all; the manager reports those through its returned
// error instead.
package event

import (
	"sync"

	"github.com/google/uuid"

	"github.com/agenthands/loom/internal/response"
)

// Channel names one delivery slot on the bus.
type Channel string

const (
	// Prerun fires right before a batch leaves the manager.
	Prerun Channel = "prerun"
	// Postrun fires after classification, exactly once per dispatch, except
	// when the transport itself failed.
	Postrun Channel = "postrun"
	// ManagerError fires instead of Postrun when the transport failed before
	// a usable reply existed. It carries a synthetic error envelope, not a
	// service reply.
	ManagerError Channel = "manager_error"

	// Merge carries successful replies whose changes graft onto the loaded
	// model in place.
	Merge Channel = "merge"
	// Rebuild carries successful replies that invalidate the loaded model
	// wholesale.
	Rebuild Channel = "rebuild"
	// Meta carries successful replies to catalog and bookkeeping queries.
	Meta Channel = "meta"

	// Warning carries replies the service answered but flagged.
	Warning Channel = "warning"
	// Error carries replies the service rejected.
	Error Channel = "error"
)

// Channels lists every channel the bus delivers on.
func Channels() []Channel {
	return []Channel{Prerun, Postrun, ManagerError, Merge, Rebuild, Meta, Warning, Error}
}

// Handler consumes a delivery. The response is nil only on Prerun.
type Handler func(resp *response.Response)

// Bus fans deliveries out to per-channel subscriber sets. All methods are
// safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Channel]map[string]Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Channel]map[string]Handler)}
}

// Subscribe registers a handler on a channel and returns the token that
// cancels it.
func (b *Bus) Subscribe(ch Channel, fn Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.handlers[ch]
	if !ok {
		set = make(map[string]Handler)
		b.handlers[ch] = set
	}
	token := uuid.New().String()
	set[token] = fn
	return token
}

// Unsubscribe cancels a subscription by token. Unknown tokens are a no-op.
func (b *Bus) Unsubscribe(ch Channel, token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers[ch], token)
}

// Publish delivers to every current subscriber of the channel. Handlers run
// on the caller's goroutine; the subscriber set is copied first so handlers
// may subscribe or unsubscribe freely.
func (b *Bus) Publish(ch Channel, resp *response.Response) {
	b.mu.RLock()
	fns := make([]Handler, 0, len(b.handlers[ch]))
	for _, fn := range b.handlers[ch] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(resp)
	}
}
