package vault

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchMixedOutcomes(t *testing.T) {
	var seenCallIDs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenCallIDs = append(seenCallIDs, r.URL.Query().Get("id"))
		json.NewEncoder(w).Encode([]any{
			map[string]any{"ok": 1},
			-9,
			map[string]any{"ok": 3},
		})
	}))
	defer srv.Close()

	c := NewClient(Endpoint{Host: srv.Listener.Addr().String()}, newHTTPTransport(5*time.Second))
	c.Endpoint = Endpoint{Host: srv.Listener.Addr().String()}
	overrideScheme(t, c, srv.URL)

	b := c.NewBatch()
	r1 := b.Add(map[string]any{"a": "one"})
	r2 := b.Add(map[string]any{"a": "two"})
	r3 := b.Add(map[string]any{"a": "three"})

	require.NoError(t, b.Flush(context.Background()))

	ctx := context.Background()
	_, err1 := r1.Wait(ctx)
	assert.NoError(t, err1)
	_, err2 := r2.Wait(ctx)
	require.Error(t, err2)
	var serverErr *ServerError
	require.ErrorAs(t, err2, &serverErr)
	assert.Equal(t, ENoEnt, serverErr.Code)
	_, err3 := r3.Wait(ctx)
	assert.NoError(t, err3)

	require.Len(t, seenCallIDs, 1)
}

func TestCallIDStrictlyIncreasing(t *testing.T) {
	var ids []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids = append(ids, r.URL.Query().Get("id"))
		json.NewEncoder(w).Encode([]any{map[string]any{"ok": 1}})
	}))
	defer srv.Close()

	c := NewClient(Endpoint{Host: srv.Listener.Addr().String()}, newHTTPTransport(5*time.Second))
	overrideScheme(t, c, srv.URL)

	for i := 0; i < 3; i++ {
		_, err := c.Call(context.Background(), map[string]any{"a": "noop"})
		require.NoError(t, err)
	}
	require.Len(t, ids, 3)
	assert.Equal(t, []string{"1", "2", "3"}, ids)
}

func TestGlobalErrorRejectsAllContinuations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(-15)
	}))
	defer srv.Close()

	c := NewClient(Endpoint{Host: srv.Listener.Addr().String()}, newHTTPTransport(5*time.Second))
	overrideScheme(t, c, srv.URL)

	b := c.NewBatch()
	r1 := b.Add(map[string]any{"a": "one"})
	r2 := b.Add(map[string]any{"a": "two"})

	err := b.Flush(context.Background())
	require.Error(t, err)

	_, err1 := r1.Wait(context.Background())
	_, err2 := r2.Wait(context.Background())
	require.Error(t, err1)
	require.Error(t, err2)
}

func TestRetryOnBusyThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode([]any{map[string]any{"ok": 1}})
	}))
	defer srv.Close()

	c := NewClient(Endpoint{Host: srv.Listener.Addr().String()}, newHTTPTransport(5*time.Second))
	c.RetryInitial = 10 * time.Millisecond
	c.RetryCeiling = 50 * time.Millisecond
	overrideScheme(t, c, srv.URL)

	_, err := c.Call(context.Background(), map[string]any{"a": "noop"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

// overrideScheme points the client at a plain-HTTP httptest.Server by
// swapping in a transport whose Post talks to srv.URL's scheme+host
// instead of always prefixing https://.
func overrideScheme(t *testing.T, c *Client, baseURL string) {
	t.Helper()
	c.Transport = &testHTTPTransport{base: baseURL}
}

type testHTTPTransport struct {
	base string
}

func (t *testHTTPTransport) Post(ctx context.Context, url string, body []byte) ([]byte, error) {
	// url is "https://<host>/cs?id=..."; rewrite to the httptest base.
	suffix := url[len("https://"):]
	idx := indexByte(suffix, '/')
	real := t.base + suffix[idx:]
	inner := newHTTPTransport(5 * time.Second)
	return inner.Post(ctx, real, body)
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}
