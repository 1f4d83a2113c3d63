package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// TransportError carries the transport-defined (code, message) pair.
// Code values "busy" and "no_response" drive the retry policy in the
// API engine; any other code propagates verbatim.
type TransportError struct {
	Code    string
	Message string
}

func (e *TransportError) Error() string { return e.Code + ": " + e.Message }

// Transport is the consumed HTTPS collaborator: the core never
// speaks HTTP directly, it only ever hands a Transport a method, URL,
// and body and gets bytes or a TransportError back.
type Transport interface {
	Post(ctx context.Context, url string, body []byte) ([]byte, error)
}

// httpTransport is the default Transport, a thin net/http client. It is
// the one piece of the external HTTPS collaborator this package ships a
// working implementation of, wrapping net/http directly rather than
// leaving it as a bare interface with no default.
type httpTransport struct {
	client *http.Client
}

func newHTTPTransport(timeout time.Duration) *httpTransport {
	return &httpTransport{client: &http.Client{Timeout: timeout}}
}

func (t *httpTransport) Post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Code: "no_response", Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &TransportError{Code: "no_response", Message: ctx.Err().Error()}
		}
		return nil, &TransportError{Code: "busy", Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Code: "no_response", Message: err.Error()}
	}
	if resp.StatusCode >= 500 {
		return nil, &TransportError{Code: "busy", Message: resp.Status}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Code: "no_response", Message: resp.Status}
	}
	return data, nil
}

// decodeBatchResponse parses a /cs response body into either a single
// global error code or a positional array of per-request results.
func decodeBatchResponse(body []byte) (globalErr *int, results []json.RawMessage, err error) {
	var asInt int
	if jsonErr := json.Unmarshal(body, &asInt); jsonErr == nil {
		return &asInt, nil, nil
	}
	var asArray []json.RawMessage
	if jsonErr := json.Unmarshal(body, &asArray); jsonErr != nil {
		return nil, nil, jsonErr
	}
	return nil, asArray, nil
}
