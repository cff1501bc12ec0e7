// Package client is the orchestration layer over the model service. A
// Manager owns the gateway configuration, dispatches operation batches
// through a transport engine, classifies every reply onto the event bus, and
// drives the multi-phase model duplication pipeline.
package client

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agenthands/loom/internal/event"
	"github.com/agenthands/loom/internal/response"
	"github.com/agenthands/loom/internal/transport"
)

// Mode fixes how a manager invokes its engine. It is set at construction and
// never changes for the lifetime of the manager.
type Mode string

const (
	// Sync blocks inside Dispatch; the returned Pending is already settled.
	Sync Mode = "sync"
	// Async returns from Dispatch immediately; the Pending settles once the
	// call completes and classification has run.
	Async Mode = "async"
)

// Manager orchestrates calls against one gateway namespace.
type Manager struct {
	engine transport.Engine
	mode   Mode
	bus    *event.Bus
	log    zerolog.Logger

	mu            sync.RWMutex
	base          string
	namespace     string
	token         string
	useReasoner   bool
	groups        []string
	batchEndpoint string
	seedEndpoint  string
}

// New builds a manager for one gateway namespace. The token may be empty;
// it can be supplied later through SetToken. A mode other than Sync or Async
// is a configuration error.
func New(base, namespace, token string, engine transport.Engine, mode Mode, log zerolog.Logger) (*Manager, error) {
	if mode != Sync && mode != Async {
		return nil, fmt.Errorf("%w, got %q", ErrBadMode, string(mode))
	}

	m := &Manager{
		engine:    engine,
		mode:      mode,
		bus:       event.NewBus(),
		log:       log,
		base:      strings.TrimRight(base, "/"),
		namespace: namespace,
		token:     token,
	}
	m.recomputeEndpoints()

	engine.OnSuccess(func(resp *response.Response) {
		m.log.Debug().Str("packet_id", resp.PacketID()).Msg("transport call completed")
	})
	engine.OnError(func(resp *response.Response, err error) {
		m.log.Debug().Err(err).Msg("transport call failed")
	})

	return m, nil
}

// Mode reports the dispatch mode fixed at construction.
func (m *Manager) Mode() Mode { return m.mode }

// Bus exposes the event channel registry.
func (m *Manager) Bus() *event.Bus { return m.bus }

// Subscribe registers a handler on one of the manager's channels.
func (m *Manager) Subscribe(ch event.Channel, fn event.Handler) string {
	return m.bus.Subscribe(ch, fn)
}

// Unsubscribe cancels a subscription made through Subscribe.
func (m *Manager) Unsubscribe(ch event.Channel, token string) {
	m.bus.Unsubscribe(ch, token)
}

// recomputeEndpoints derives the two endpoint addresses from the current
// configuration. The privileged variant applies iff a token is present.
// Callers must hold mu.
func (m *Manager) recomputeEndpoints() {
	root := fmt.Sprintf("%s/api/%s", m.base, m.namespace)
	m.batchEndpoint = root + "/batch"
	m.seedEndpoint = root + "/seed"
	if m.token != "" {
		m.batchEndpoint += "/privileged"
		m.seedEndpoint += "/privileged"
	}
}

// SetToken replaces the identity token and re-derives both endpoints.
// An empty token reverts the endpoints to their unprivileged form.
func (m *Manager) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.recomputeEndpoints()
}

// Token returns the current identity token, empty when none is set.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// SetUseReasoner sets the reasoner flag stamped onto every batch.
func (m *Manager) SetUseReasoner(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.useReasoner = v
}

// UseReasoner reports the current reasoner flag.
func (m *Manager) UseReasoner() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.useReasoner
}

// SetGroups replaces the group scope. nil and empty both clear it. The slice
// is copied in; later mutation by the caller does not affect the manager.
func (m *Manager) SetGroups(groups []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(groups) == 0 {
		m.groups = nil
		return
	}
	m.groups = append([]string(nil), groups...)
}

// Groups returns a copy of the group scope, never internal state.
func (m *Manager) Groups() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.groups...)
}

// BatchEndpoint returns the derived address for ordinary operation batches.
func (m *Manager) BatchEndpoint() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batchEndpoint
}

// SeedEndpoint returns the derived address for seed-from-source batches.
func (m *Manager) SeedEndpoint() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seedEndpoint
}
