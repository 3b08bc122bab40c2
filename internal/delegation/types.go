// Package delegation invokes remote agents with retries, a shared circuit
// breaker, an idempotent response cache and protocol-specific streaming.
package delegation

import (
	"maps"
	"time"

	"github.com/soyeahso/conductor/internal/config"
)

// Request is one delegation intent. It is not retained beyond the call.
type Request struct {
	AgentID        string         `json:"agent_id"`
	Task           string         `json:"task"`
	Context        map[string]any `json:"context,omitempty"`
	Timeout        time.Duration  `json:"timeout,omitempty"` // per attempt; 0 uses the client default
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Response is the outcome of a delegation after all attempts.
type Response struct {
	AgentID       string         `json:"agent_id"`
	Success       bool           `json:"success"`
	Result        map[string]any `json:"result,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time"`
	Cost          *float64       `json:"cost,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Attempts returns the attempt count recorded in the metadata.
func (r *Response) Attempts() int {
	n, _ := r.Metadata[MetaAttempt].(int)
	return n
}

// ErrorMessage returns the last error recorded on a failed response.
func (r *Response) ErrorMessage() string {
	s, _ := r.Metadata[MetaError].(string)
	return s
}

// ErrorKind returns the classification of the last error on a failed response.
func (r *Response) ErrorKind() ErrorKind {
	k, _ := r.Metadata[MetaErrorType].(string)
	return ErrorKind(k)
}

func (r *Response) clone() *Response {
	out := *r
	out.Metadata = maps.Clone(r.Metadata)
	return &out
}

// Metadata keys set on responses.
const (
	MetaAttempt       = "attempt"
	MetaProtocol      = "protocol"
	MetaRequestID     = "request_id"
	MetaError         = "error"
	MetaErrorType     = "error_type"
	MetaCircuitOpened = "circuit_opened"
)

// StreamEventType identifies stream event kinds.
type StreamEventType string

const (
	StreamChunk StreamEventType = "chunk"
	StreamDone  StreamEventType = "done"
	StreamError StreamEventType = "error"
)

// StreamEvent is delivered on the channel returned by DelegateStream.
// A retried stream restarts from the beginning, so consumers must tolerate
// chunks repeated under a higher Attempt.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Attempt int
	Err     error
}

// Config tunes the client.
type Config struct {
	MaxRetries         int
	RetryBackoff       time.Duration
	Timeout            time.Duration
	ChunkTimeout       time.Duration
	BreakerThreshold   int
	BreakerCooldown    time.Duration
	IdempotencyTTL     time.Duration
	IdempotencyMaxSize int
	DiscoveryCacheTTL  time.Duration
	RateLimit          float64
}

// DefaultConfig returns the default client settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:         3,
		RetryBackoff:       time.Second,
		Timeout:            30 * time.Second,
		BreakerThreshold:   5,
		BreakerCooldown:    60 * time.Second,
		IdempotencyTTL:     time.Hour,
		IdempotencyMaxSize: 1000,
		DiscoveryCacheTTL:  5 * time.Minute,
	}
}

// ConfigFrom maps the delegation config section onto a client Config.
func ConfigFrom(c config.DelegationConfig) Config {
	return Config{
		MaxRetries:         c.MaxRetries,
		RetryBackoff:       c.RetryBackoff,
		Timeout:            c.Timeout,
		ChunkTimeout:       c.ChunkTimeout,
		BreakerThreshold:   c.CircuitBreaker.Threshold,
		BreakerCooldown:    c.CircuitBreaker.Cooldown,
		IdempotencyTTL:     c.Idempotency.TTL,
		IdempotencyMaxSize: c.Idempotency.MaxSize,
		DiscoveryCacheTTL:  c.DiscoveryCacheTTL,
		RateLimit:          c.RateLimit,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = def.BreakerThreshold
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = def.BreakerCooldown
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = def.IdempotencyTTL
	}
	if c.IdempotencyMaxSize <= 0 {
		c.IdempotencyMaxSize = def.IdempotencyMaxSize
	}
	if c.DiscoveryCacheTTL <= 0 {
		c.DiscoveryCacheTTL = def.DiscoveryCacheTTL
	}
	return c
}
