package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keybase/backoff"
	"github.com/pkg/errors"
)

// Endpoint identifies the API host a Client talks to.
type Endpoint struct {
	Host string // e.g. "g.api.mega.co.nz", no scheme
}

func (e Endpoint) url(callID int64, sidParam, sid string) string {
	u := fmt.Sprintf("https://%s/cs?id=%d", e.Host, callID)
	if sid != "" {
		u += "&" + sidParam + "=" + sid
	}
	return u
}

// continuation is what a queued request resolves to.
type continuation struct {
	resolve func(json.RawMessage)
	reject  func(error)
}

// Batch accumulates requests with associated continuations and flushes
// them as a single JSON-array POST. It is not safe for concurrent use
// by multiple goroutines; the core is single-threaded cooperative.
type Batch struct {
	client  *Client
	reqs    []any
	conts   []continuation
}

// Add appends req to the batch, returning a channel-backed pending
// result that a caller awaits with Wait once Batch.Flush has delivered
// the per-request results.
func (b *Batch) Add(req any) *pendingResult {
	pr := &pendingResult{done: make(chan struct{})}
	b.reqs = append(b.reqs, req)
	b.conts = append(b.conts, continuation{
		resolve: func(raw json.RawMessage) { pr.raw = raw; close(pr.done) },
		reject:  func(err error) { pr.err = err; close(pr.done) },
	})
	return pr
}

// pendingResult is resolved once Flush completes.
type pendingResult struct {
	done chan struct{}
	raw  json.RawMessage
	err  error
}

// Wait blocks until the batch this result belongs to has flushed, then
// returns the raw success payload or the mapped error.
func (p *pendingResult) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.raw, p.err
	case <-ctx.Done():
		return nil, ErrAborted
	}
}

// Client is the API transaction engine (C3): it owns the call-id
// counter, the session id, and the transport, and turns Batches into
// wire requests.
type Client struct {
	Endpoint  Endpoint
	Transport Transport

	mu           sync.Mutex
	callID       int64
	sid          string
	sidParamName string

	// RetryInitial/RetryMultiplier/RetryCeiling parameterize the backoff
	// envelope; zero values fall back to the package defaults.
	RetryInitial    time.Duration
	RetryMultiplier float64
	RetryCeiling    time.Duration
}

// NewClient builds a Client against the given endpoint and transport.
// A nil transport defaults to the real HTTPS implementation.
func NewClient(endpoint Endpoint, transport Transport) *Client {
	if transport == nil {
		transport = newHTTPTransport(30 * time.Second)
	}
	return &Client{
		Endpoint:     endpoint,
		Transport:    transport,
		sidParamName: "sid",
	}
}

// SetSID installs the session id and, for exported-folder mode, the
// alternate parameter name "n".
func (c *Client) SetSID(sid, paramName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sid = sid
	if paramName == "" {
		paramName = "sid"
	}
	c.sidParamName = paramName
}

// NewBatch starts a new empty batch bound to this client.
func (c *Client) NewBatch() *Batch {
	return &Batch{client: c}
}

// nextCallID increments the per-instance counter once per logical send,
// including retries of the same batch.
func (c *Client) nextCallID() int64 {
	return atomic.AddInt64(&c.callID, 1)
}

// Flush sends the accumulated requests as one JSON array, applying the
// retry policy on transport-level "busy"/"no_response" failures, and
// delivers each positional result to its continuation.
func (b *Batch) Flush(ctx context.Context) error {
	if len(b.reqs) == 0 {
		return nil
	}
	c := b.client
	body, err := jsonMarshalNoEscape(b.reqs)
	if err != nil {
		return errors.Wrap(err, "marshal batch")
	}

	callID := c.nextCallID()

	c.mu.Lock()
	url := c.Endpoint.url(callID, c.sidParamName, c.sid)
	c.mu.Unlock()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInitial()
	bo.Multiplier = c.retryMultiplier()
	bo.MaxInterval = c.retryCeiling()
	bo.MaxElapsedTime = 0 // no overall deadline; caller cancels via ctx

	respBody, sendErr := postWithRetry(ctx, c.Transport, url, body, bo)
	if sendErr != nil {
		b.rejectAll(sendErr)
		return sendErr
	}

	globalErr, results, decErr := decodeBatchResponse(respBody)
	if decErr != nil {
		b.rejectAll(decErr)
		return decErr
	}
	if globalErr != nil {
		serverErr := mapServerError(*globalErr)
		b.rejectAll(serverErr)
		return serverErr
	}
	if len(results) == 0 {
		b.rejectAll(ErrEmptyResponse)
		return ErrEmptyResponse
	}

	for i, cont := range b.conts {
		if i >= len(results) {
			cont.reject(ErrEmptyResponse)
			continue
		}
		raw := results[i]
		var asInt int
		if json.Unmarshal(raw, &asInt) == nil && asInt < 0 {
			cont.reject(mapServerError(asInt))
			continue
		}
		cont.resolve(raw)
	}
	return nil
}

// postWithRetry drives Transport.Post through the backoff envelope:
// only "busy"/"no_response" TransportErrors are retried; any other
// error (including a non-transport error) propagates on first
// occurrence, and ctx cancellation aborts the wait between attempts.
func postWithRetry(ctx context.Context, t Transport, url string, body []byte, bo backoff.BackOff) ([]byte, error) {
	for {
		data, err := t.Post(ctx, url, body)
		if err == nil {
			return data, nil
		}
		var terr *TransportError
		retryable := errors.As(err, &terr) && (terr.Code == "busy" || terr.Code == "no_response")
		if !retryable {
			return nil, err
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ErrAborted
		case <-time.After(wait):
		}
	}
}

func (b *Batch) rejectAll(err error) {
	for _, cont := range b.conts {
		cont.reject(err)
	}
}

func (c *Client) retryInitial() time.Duration {
	if c.RetryInitial > 0 {
		return c.RetryInitial
	}
	return 10 * time.Second
}

func (c *Client) retryMultiplier() float64 {
	if c.RetryMultiplier > 0 {
		return c.RetryMultiplier
	}
	return 2
}

func (c *Client) retryCeiling() time.Duration {
	if c.RetryCeiling > 0 {
		return c.RetryCeiling
	}
	return 120000 * time.Second
}

// Call is the single-call convenience: a batch of one, mapping a
// negative result to rejection.
func (c *Client) Call(ctx context.Context, req any) (json.RawMessage, error) {
	b := c.NewBatch()
	pr := b.Add(req)
	if err := b.Flush(ctx); err != nil {
		return nil, err
	}
	return pr.Wait(ctx)
}
