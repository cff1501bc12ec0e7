package client

import (
	"context"

	"github.com/agenthands/loom/internal/event"
	"github.com/agenthands/loom/internal/request"
	"github.com/agenthands/loom/internal/transport"
)

// Dispatch sends one operation batch to the gateway and classifies the
// outcome. The manager's reasoner flag always overwrites the batch's own,
// false included; the manager's group scope overwrites the batch's only when
// non-empty. The batch goes to the seed endpoint when its first operation is
// the seed operation, otherwise to the batch endpoint. A batch is never
// split.
//
// The returned Pending carries the classified reply. In Sync mode it is
// already settled when Dispatch returns; in Async mode it settles after
// classification. Either way, prerun has fired before the transport call and
// the terminal channels (including postrun, on the completion path) have
// fired before the Pending resolves.
func (m *Manager) Dispatch(ctx context.Context, set *request.Set) (*transport.Pending, error) {
	m.mu.RLock()
	token := m.token
	reasoner := m.useReasoner
	groups := append([]string(nil), m.groups...)
	batchEndpoint := m.batchEndpoint
	seedEndpoint := m.seedEndpoint
	m.mu.RUnlock()

	set.SetToken(token)
	set.UseReasoner(reasoner)
	if len(groups) > 0 {
		set.UseGroups(groups)
	}

	payload, err := set.Payload()
	if err != nil {
		return nil, err
	}

	endpoint := batchEndpoint
	if first := set.First(); first != nil && first.Operation == request.OpSeedFromSource {
		endpoint = seedEndpoint
	}

	m.bus.Publish(event.Prerun, nil)

	if m.mode == Sync {
		resp, err := m.engine.Fetch(ctx, endpoint, payload)
		resp, err = m.classify(resp, err)
		return transport.Resolved(resp, err), nil
	}

	result := transport.NewPending()
	inner := m.engine.Start(ctx, endpoint, payload)
	go func() {
		<-inner.Done()
		resp, err := inner.Wait(context.Background())
		result.Resolve(m.classify(resp, err))
	}()
	return result, nil
}
