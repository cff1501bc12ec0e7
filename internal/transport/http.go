package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/agenthands/loom/internal/response"
)

const defaultTimeout = 30 * time.Second

// HTTPEngine reaches the gateway over form-encoded POST and decodes the JSON
// reply envelope. It is safe for concurrent use.
type HTTPEngine struct {
	client *resty.Client
	log    zerolog.Logger

	mu        sync.RWMutex
	onSuccess []SuccessFunc
	onError   []ErrorFunc
}

// NewHTTPEngine builds the reference engine. A zero timeout selects the
// default of 30s; retry and pooling policy stay whatever resty ships with.
func NewHTTPEngine(log zerolog.Logger, timeout time.Duration) *HTTPEngine {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := resty.New().SetTimeout(timeout)
	return &HTTPEngine{client: client, log: log}
}

func (e *HTTPEngine) OnSuccess(fn SuccessFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSuccess = append(e.onSuccess, fn)
}

func (e *HTTPEngine) OnError(fn ErrorFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = append(e.onError, fn)
}

func (e *HTTPEngine) notifySuccess(resp *response.Response) {
	e.mu.RLock()
	subs := make([]SuccessFunc, len(e.onSuccess))
	copy(subs, e.onSuccess)
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(resp)
	}
}

func (e *HTTPEngine) notifyError(resp *response.Response, err error) {
	e.mu.RLock()
	subs := make([]ErrorFunc, len(e.onError))
	copy(subs, e.onError)
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(resp, err)
	}
}

// Fetch posts the payload to the endpoint and blocks for the decoded reply.
func (e *HTTPEngine) Fetch(ctx context.Context, endpoint string, payload Payload) (*response.Response, error) {
	vals, err := formValues(payload)
	if err != nil {
		e.notifyError(nil, err)
		return nil, err
	}

	e.log.Debug().Str("endpoint", endpoint).Msg("engine call")
	res, err := e.client.R().
		SetContext(ctx).
		SetFormDataFromValues(vals).
		Post(endpoint)
	if err != nil {
		err = fmt.Errorf("call to %s failed: %w", endpoint, err)
		e.notifyError(nil, err)
		return nil, err
	}
	if res.StatusCode() < 200 || res.StatusCode() >= 300 {
		err = fmt.Errorf("unexpected status %d from %s", res.StatusCode(), endpoint)
		e.notifyError(nil, err)
		return nil, err
	}

	resp, err := response.Parse(res.Body())
	if err != nil {
		err = fmt.Errorf("undecodable reply from %s: %w", endpoint, err)
		e.notifyError(nil, err)
		return nil, err
	}

	e.notifySuccess(resp)
	return resp, nil
}

// Start performs the call on its own goroutine and resolves the returned
// Pending with Fetch's outcome.
func (e *HTTPEngine) Start(ctx context.Context, endpoint string, payload Payload) *Pending {
	p := NewPending()
	go func() {
		resp, err := e.Fetch(ctx, endpoint, payload)
		p.Resolve(resp, err)
	}()
	return p
}

// formValues lowers a payload to url.Values. Multi-valued fields become
// repeated form fields.
func formValues(p Payload) (url.Values, error) {
	vals := url.Values{}
	for key, raw := range p {
		switch v := raw.(type) {
		case string:
			vals.Set(key, v)
		case []string:
			for _, s := range v {
				vals.Add(key, s)
			}
		default:
			return nil, fmt.Errorf("payload field %q has non-transportable type %T", key, raw)
		}
	}
	return vals, nil
}
