package delegation

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/soyeahso/conductor/internal/agent"
	"github.com/soyeahso/conductor/internal/hooks"
	"github.com/soyeahso/conductor/internal/logging"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Observer receives delegation lifecycle events. *hooks.Manager satisfies it.
type Observer interface {
	Emit(ctx context.Context, event string, data map[string]any)
}

// Client delegates tasks to registered agents.
type Client struct {
	reg       *agent.Registry
	cfg       Config
	log       *logging.Logger
	observer  Observer
	transport Transport
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	limiter   *rate.Limiter

	breaker *breaker
	cache   *responseCache
	group   singleflight.Group

	discMu sync.Mutex
	disc   discoverySnapshot
}

// Option configures a Client.
type Option func(*Client)

// WithObserver sets the lifecycle event sink.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithTransport replaces the network transport.
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithHTTPClient sets the HTTP client used by the default transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.transport = NewHTTPTransport(hc) }
}

// WithClock sets the time source for the breaker and caches.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithSleep replaces the backoff wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// NewClient creates a delegation client over the registry.
func NewClient(reg *agent.Registry, cfg Config, log *logging.Logger, opts ...Option) *Client {
	c := &Client{
		reg:   reg,
		cfg:   cfg.withDefaults(),
		log:   log.Sub("delegation"),
		now:   time.Now,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = NewHTTPTransport(nil)
	}
	if c.cfg.RateLimit > 0 {
		burst := int(c.cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(c.cfg.RateLimit), burst)
	}
	c.breaker = newBreaker(c.cfg.BreakerThreshold, c.cfg.BreakerCooldown)
	c.cache = newResponseCache(c.cfg.IdempotencyMaxSize, c.cfg.IdempotencyTTL, c.now)
	return c
}

// Registry returns the underlying agent registry.
func (c *Client) Registry() *agent.Registry { return c.reg }

// Register adds or replaces an agent and drops any cached discovery result.
func (c *Client) Register(capability agent.Capability) error {
	if err := c.reg.Register(capability); err != nil {
		return err
	}
	c.invalidateDiscovery()
	return nil
}

// Unregister removes an agent and drops any cached discovery result.
func (c *Client) Unregister(id string) bool {
	ok := c.reg.Unregister(id)
	c.invalidateDiscovery()
	return ok
}

// BreakerState reports the shared breaker.
func (c *Client) BreakerState() BreakerSnapshot {
	return c.breaker.snapshot(c.now())
}

// CachedResponses returns the number of idempotent responses held.
func (c *Client) CachedResponses() int {
	return c.cache.len()
}

// Delegate sends a task to an agent, retrying failed attempts.
//
// A response is returned for success and for exhausted non-timeout
// failures (Success=false with the last error in Metadata). Exhausted
// retries whose last failure was a timeout return a *TimeoutError. An open
// breaker returns ErrCircuitOpen and an unknown agent ErrAgentNotFound.
func (c *Client) Delegate(ctx context.Context, req Request) (*Response, error) {
	if req.IdempotencyKey == "" {
		return c.delegate(ctx, req)
	}

	if resp, ok := c.cachedResponse(ctx, req); ok {
		return resp, nil
	}

	// Concurrent calls with the same key share one execution. It runs
	// detached from any single caller; each attempt is still bounded by the
	// request timeout, and every caller stops waiting on its own context.
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(req.IdempotencyKey, func() (any, error) {
		if resp, ok := c.cachedResponse(detached, req); ok {
			return resp, nil
		}
		return c.delegate(detached, req)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		resp := res.Val.(*Response)
		if res.Shared {
			resp = resp.clone()
		}
		return resp, nil
	}
}

func (c *Client) cachedResponse(ctx context.Context, req Request) (*Response, bool) {
	resp, ok := c.cache.get(req.IdempotencyKey)
	if !ok {
		return nil, false
	}
	c.log.Debug().Str("agent", req.AgentID).Str("key", req.IdempotencyKey).Msg("idempotency cache hit")
	c.emit(ctx, hooks.EventDelegationCacheHit, map[string]any{
		"agent_id":        resp.AgentID,
		"idempotency_key": req.IdempotencyKey,
	})
	return resp, true
}

func (c *Client) delegate(ctx context.Context, req Request) (*Response, error) {
	capability, err := c.reg.Lookup(req.AgentID)
	if err != nil {
		return nil, err
	}
	if c.breaker.isOpen(c.now()) {
		return nil, fmt.Errorf("%w: agent %s", ErrCircuitOpen, req.AgentID)
	}

	req = c.prepare(req)
	start := time.Now()
	bo := c.newBackoff()
	attempts := c.cfg.MaxRetries + 1

	var lastErr *Error
	breakerOpened := false
	attempt := 0
	for attempt < attempts {
		attempt++
		if attempt > 1 && c.breaker.isOpen(c.now()) {
			breakerOpened = true
			attempt--
			break
		}

		result, err := c.attempt(ctx, capability, req, attempt)
		if err == nil {
			c.breaker.success()
			resp := &Response{
				AgentID:       capability.ID,
				Success:       true,
				Result:        result,
				ExecutionTime: time.Since(start),
				Cost:          costOf(capability),
				Metadata:      c.responseMeta(capability, req, attempt),
			}
			if req.IdempotencyKey != "" {
				c.cache.put(req.IdempotencyKey, resp)
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if c.breaker.failure(c.now()) {
			breakerOpened = true
			c.log.Warn().Str("agent", capability.ID).Int("attempt", attempt).Msg("circuit breaker opened")
			break
		}
		if attempt < attempts {
			wait := bo.NextBackOff()
			c.log.Debug().
				Str("agent", capability.ID).
				Int("attempt", attempt).
				Dur("backoff", wait).
				Str("error_type", string(err.Kind)).
				Msg("attempt failed, retrying")
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
	}

	c.log.Warn().
		Str("agent", capability.ID).
		Int("attempts", attempt).
		Str("error_type", string(lastErr.Kind)).
		Err(lastErr).
		Msg("delegation failed")

	if lastErr.Kind == KindTimeout {
		return nil, &TimeoutError{AgentID: capability.ID, Attempts: attempt, Err: lastErr}
	}

	meta := c.responseMeta(capability, req, attempt)
	meta[MetaError] = lastErr.Error()
	meta[MetaErrorType] = string(lastErr.Kind)
	if breakerOpened {
		meta[MetaCircuitOpened] = true
	}
	return &Response{
		AgentID:       capability.ID,
		Success:       false,
		ExecutionTime: time.Since(start),
		Metadata:      meta,
	}, nil
}

// attempt runs one bounded call and reports it to the observer.
func (c *Client) attempt(ctx context.Context, capability agent.Capability, req Request, attempt int) (map[string]any, *Error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{Kind: KindUnknown, Err: err}
		}
	}

	c.emit(ctx, hooks.EventDelegationStart, map[string]any{
		"agent_id":  capability.ID,
		"attempt":   attempt,
		"protocol":  capability.Protocol.String(),
		"streaming": false,
	})

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout(req))
	defer cancel()

	started := time.Now()
	result, err := c.transport.Call(attemptCtx, capability, req)
	var classified *Error
	if err != nil {
		classified = classify(attemptCtx, err)
	}
	c.emitComplete(ctx, hooks.EventDelegationComplete, capability, attempt, started, classified)
	return result, classified
}

func (c *Client) emitComplete(ctx context.Context, event string, capability agent.Capability, attempt int, started time.Time, err *Error) {
	data := map[string]any{
		"agent_id":    capability.ID,
		"attempt":     attempt,
		"protocol":    capability.Protocol.String(),
		"success":     err == nil,
		"duration_ms": float64(time.Since(started).Microseconds()) / 1000,
	}
	if err != nil {
		data["error"] = err.Error()
		data["error_type"] = string(err.Kind)
	}
	c.emit(ctx, event, data)
}

// prepare copies the request metadata and stamps a request id.
func (c *Client) prepare(req Request) Request {
	meta := maps.Clone(req.Metadata)
	if meta == nil {
		meta = map[string]any{}
	}
	if _, ok := meta[MetaRequestID]; !ok {
		meta[MetaRequestID] = uuid.NewString()
	}
	req.Metadata = meta
	return req
}

func (c *Client) responseMeta(capability agent.Capability, req Request, attempt int) map[string]any {
	return map[string]any{
		MetaAttempt:   attempt,
		MetaProtocol:  capability.Protocol.String(),
		MetaRequestID: req.Metadata[MetaRequestID],
	}
}

func (c *Client) timeout(req Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return c.cfg.Timeout
}

// newBackoff yields base, 2*base, 4*base, ... without jitter.
func (c *Client) newBackoff() *backoff.ExponentialBackOff {
	return newBackoff(c.cfg.RetryBackoff)
}

func newBackoff(base time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = time.Duration(1<<62 - 1)
	bo.Reset()
	return bo
}

// emit forwards an event; observer failures never reach the caller.
func (c *Client) emit(ctx context.Context, event string, data map[string]any) {
	if c.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn().Str("event", event).Interface("panic", r).Msg("observer panicked")
		}
	}()
	c.observer.Emit(ctx, event, data)
}

func costOf(capability agent.Capability) *float64 {
	if capability.CostEstimate == 0 {
		return nil
	}
	cost := capability.CostEstimate
	return &cost
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsCircuitOpen reports whether err is a circuit-open fast failure.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
