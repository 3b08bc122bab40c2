package delegation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/conductor/internal/agent"
	"github.com/soyeahso/conductor/internal/version"
)

// Transport performs single attempts against an agent. The client owns
// retries, timeouts and the breaker; a transport only reports what happened.
type Transport interface {
	// Call performs one request and returns the decoded JSON object result.
	Call(ctx context.Context, c agent.Capability, req Request) (map[string]any, error)

	// Stream performs one streamed request, passing each chunk to emit in
	// order. It returns nil when the agent ends the stream normally.
	Stream(ctx context.Context, c agent.Capability, req Request, emit func(chunk string) error) error
}

const (
	readBufferSize = 4096
	maxErrorBody   = 4096
	sseDoneMarker  = "[DONE]"
)

// HTTPTransport reaches agents over HTTP, SSE or WebSocket according to
// their declared protocol.
type HTTPTransport struct {
	client *http.Client
	dialer *websocket.Dialer
}

// NewHTTPTransport creates a transport. A nil client uses a plain
// http.Client; per-attempt deadlines come from the request context.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{
		client: client,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
		},
	}
}

type wireRequest struct {
	Task           string         `json:"task"`
	Context        map[string]any `json:"context,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

func toWire(req Request) wireRequest {
	return wireRequest{
		Task:           req.Task,
		Context:        req.Context,
		Metadata:       req.Metadata,
		IdempotencyKey: req.IdempotencyKey,
	}
}

// Call implements Transport.
func (t *HTTPTransport) Call(ctx context.Context, c agent.Capability, req Request) (map[string]any, error) {
	if c.Protocol == agent.ProtocolHTTP {
		resp, err := t.post(ctx, c, req, "application/json")
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return decodeResult(body)
	}

	// Streaming protocols: the final event carries the result.
	var last string
	err := t.Stream(ctx, c, req, func(chunk string) error {
		last = chunk
		return nil
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(last) == "" {
		return nil, schemaError("agent %s: stream ended without a result", c.ID)
	}
	return decodeResult([]byte(last))
}

// Stream implements Transport.
func (t *HTTPTransport) Stream(ctx context.Context, c agent.Capability, req Request, emit func(string) error) error {
	switch c.Protocol {
	case agent.ProtocolHTTP:
		return t.streamHTTP(ctx, c, req, emit)
	case agent.ProtocolSSE:
		return t.streamSSE(ctx, c, req, emit)
	case agent.ProtocolWebSocket:
		return t.streamWebSocket(ctx, c, req, emit)
	default:
		return fmt.Errorf("agent %s: %w: %s", c.ID, agent.ErrUnknownProtocol, c.Protocol)
	}
}

func (t *HTTPTransport) post(ctx context.Context, c agent.Capability, req Request, accept string) (*http.Response, error) {
	payload, err := json.Marshal(toWire(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("User-Agent", version.UserAgent())
	if id, ok := req.Metadata[MetaRequestID].(string); ok {
		httpReq.Header.Set("X-Request-ID", id)
	}
	creds, err := resolveCredentials(c)
	if err != nil {
		return nil, err
	}
	applyHeader(httpReq.Header, creds.header)

	resp, err := creds.client(t.client).Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, statusError(resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// streamHTTP yields raw body reads as they arrive. A UTF-8 sequence cut by
// a read boundary is held back and prefixed to the next chunk.
func (t *HTTPTransport) streamHTTP(ctx context.Context, c agent.Capability, req Request, emit func(string) error) error {
	resp, err := t.post(ctx, c, req, "*/*")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	buf := make([]byte, readBufferSize)
	var pending []byte
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			complete, rest := splitPartialRune(append(pending, buf[:n]...))
			pending = append([]byte(nil), rest...)
			if len(complete) > 0 {
				if emitErr := emit(string(complete)); emitErr != nil {
					return emitErr
				}
			}
		}
		if errors.Is(err, io.EOF) {
			if len(pending) > 0 {
				return emit(string(pending))
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// splitPartialRune separates a trailing incomplete UTF-8 sequence from b.
func splitPartialRune(b []byte) (complete, rest []byte) {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if !utf8.FullRune(b[i:]) {
			return b[:i], b[i:]
		}
		break
	}
	return b, nil
}

// streamSSE yields one chunk per event: the event's data lines joined by
// newlines. An event whose data is [DONE] ends the stream.
func (t *HTTPTransport) streamSSE(ctx context.Context, c agent.Capability, req Request, emit func(string) error) error {
	resp, err := t.post(ctx, c, req, "text/event-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var data []string
	done := false
	flush := func() error {
		if len(data) == 0 {
			return nil
		}
		chunk := strings.Join(data, "\n")
		data = data[:0]
		if chunk == sseDoneMarker {
			done = true
			return nil
		}
		return emit(chunk)
	}

	r := bufio.NewReader(resp.Body)
	for {
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if ferr := flush(); ferr != nil {
				return ferr
			}
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
		if done {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return flush()
		}
	}
}

// streamWebSocket sends the request as the first message and yields every
// text or binary message until the agent closes the connection.
func (t *HTTPTransport) streamWebSocket(ctx context.Context, c agent.Capability, req Request, emit func(string) error) error {
	creds, err := resolveCredentials(c)
	if err != nil {
		return err
	}
	header := http.Header{}
	if err := creds.apply(header); err != nil {
		return err
	}
	header.Set("User-Agent", version.UserAgent())
	if id, ok := req.Metadata[MetaRequestID].(string); ok {
		header.Set("X-Request-ID", id)
	}

	conn, resp, err := t.dialer.DialContext(ctx, websocketURL(c.Endpoint), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return statusError(resp.StatusCode, resp.Status)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Kind: KindTransport, Err: err}
	}
	defer conn.Close()

	// Unblock ReadMessage when the attempt is cancelled or times out.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	if err := conn.WriteJSON(toWire(req)); err != nil {
		return &Error{Kind: KindTransport, Err: err}
	}

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &Error{Kind: KindTransport, Err: err}
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if err := emit(string(data)); err != nil {
			return err
		}
	}
}

func websocketURL(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(endpoint, "http://")
	case strings.HasPrefix(endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(endpoint, "https://")
	default:
		return endpoint
	}
}

// decodeResult requires the body to be a JSON object.
func decodeResult(body []byte) (map[string]any, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, schemaError("invalid JSON response: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, schemaError("response is not a JSON object")
	}
	return m, nil
}
