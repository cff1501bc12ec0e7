package client

import (
	"context"
	"sync"

	"github.com/agenthands/loom/internal/event"
	"github.com/agenthands/loom/internal/response"
	"github.com/agenthands/loom/internal/transport"
)

// MockEngine records every call and answers through a programmable
// Responder. The zero value answers everything with a success/meta reply.
type MockEngine struct {
	mu        sync.Mutex
	Endpoints []string
	Payloads  []transport.Payload
	Responder func(endpoint string, payload transport.Payload) (*response.Response, error)

	onSuccess []transport.SuccessFunc
	onError   []transport.ErrorFunc
}

func (e *MockEngine) Fetch(ctx context.Context, endpoint string, payload transport.Payload) (*response.Response, error) {
	e.mu.Lock()
	e.Endpoints = append(e.Endpoints, endpoint)
	e.Payloads = append(e.Payloads, payload)
	responder := e.Responder
	e.mu.Unlock()

	if responder == nil {
		resp := response.New(response.Envelope{MessageType: response.MessageTypeSuccess, Signal: response.SignalMeta})
		e.notifySuccess(resp)
		return resp, nil
	}
	resp, err := responder(endpoint, payload)
	if err != nil {
		e.notifyError(resp, err)
		return nil, err
	}
	e.notifySuccess(resp)
	return resp, nil
}

func (e *MockEngine) Start(ctx context.Context, endpoint string, payload transport.Payload) *transport.Pending {
	pending := transport.NewPending()
	go func() {
		pending.Resolve(e.Fetch(ctx, endpoint, payload))
	}()
	return pending
}

func (e *MockEngine) OnSuccess(fn transport.SuccessFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSuccess = append(e.onSuccess, fn)
}

func (e *MockEngine) OnError(fn transport.ErrorFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = append(e.onError, fn)
}

func (e *MockEngine) notifySuccess(resp *response.Response) {
	e.mu.Lock()
	fns := append([]transport.SuccessFunc(nil), e.onSuccess...)
	e.mu.Unlock()
	for _, fn := range fns {
		fn(resp)
	}
}

func (e *MockEngine) notifyError(resp *response.Response, err error) {
	e.mu.Lock()
	fns := append([]transport.ErrorFunc(nil), e.onError...)
	e.mu.Unlock()
	for _, fn := range fns {
		fn(resp, err)
	}
}

// Calls returns the recorded endpoints and payloads as parallel slices.
func (e *MockEngine) Calls() ([]string, []transport.Payload) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.Endpoints...), append([]transport.Payload(nil), e.Payloads...)
}

func successReply(signal response.Signal, data *response.Data) *response.Response {
	return response.New(response.Envelope{
		PacketID:    "pkt-test",
		MessageType: response.MessageTypeSuccess,
		Signal:      signal,
		Data:        data,
	})
}

func errorReply(message string) *response.Response {
	return response.New(response.Envelope{MessageType: response.MessageTypeError, Message: message})
}

func warningReply(message string) *response.Response {
	return response.New(response.Envelope{MessageType: response.MessageTypeWarning, Message: message})
}

// channelRecorder captures every bus delivery for assertions.
type channelRecorder struct {
	mu     sync.Mutex
	fired  []event.Channel
	values map[event.Channel][]*response.Response
}

func recordAll(bus *event.Bus) *channelRecorder {
	r := &channelRecorder{values: make(map[event.Channel][]*response.Response)}
	for _, ch := range event.Channels() {
		bus.Subscribe(ch, func(resp *response.Response) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.fired = append(r.fired, ch)
			r.values[ch] = append(r.values[ch], resp)
		})
	}
	return r
}

func (r *channelRecorder) Fired() []event.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Channel(nil), r.fired...)
}

func (r *channelRecorder) Count(ch event.Channel) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values[ch])
}

func (r *channelRecorder) Last(ch event.Channel) *response.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	vals := r.values[ch]
	if len(vals) == 0 {
		return nil
	}
	return vals[len(vals)-1]
}
