package delegation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/conductor/internal/agent"
	"github.com/soyeahso/conductor/internal/hooks"
)

// errChunkTimeout marks a stream that went quiet for longer than the chunk timeout.
var errChunkTimeout = errors.New("chunk timeout")

// DelegateStream streams a task's output from an agent. Failed streams are
// retried from the beginning under the same envelope as Delegate, so chunks
// may repeat across attempts. Streamed results are never cached.
//
// The channel yields chunk events followed by exactly one done or error
// event, then closes. Lookup and circuit-open failures are returned directly.
func (c *Client) DelegateStream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	capability, err := c.reg.Lookup(req.AgentID)
	if err != nil {
		return nil, err
	}
	if c.breaker.isOpen(c.now()) {
		return nil, fmt.Errorf("%w: agent %s", ErrCircuitOpen, req.AgentID)
	}

	req = c.prepare(req)
	out := make(chan StreamEvent)
	go c.runStream(ctx, capability, req, out)
	return out, nil
}

func (c *Client) runStream(ctx context.Context, capability agent.Capability, req Request, out chan<- StreamEvent) {
	defer close(out)

	send := func(ev StreamEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	bo := c.newBackoff()
	attempts := c.cfg.MaxRetries + 1
	var lastErr *Error
	attempt := 0
	for attempt < attempts {
		attempt++
		if attempt > 1 && c.breaker.isOpen(c.now()) {
			attempt--
			break
		}

		err := c.streamAttempt(ctx, capability, req, attempt, send)
		if err == nil {
			c.breaker.success()
			send(StreamEvent{Type: StreamDone, Attempt: attempt})
			return
		}
		if ctx.Err() != nil {
			return
		}

		lastErr = err
		if c.breaker.failure(c.now()) {
			c.log.Warn().Str("agent", capability.ID).Int("attempt", attempt).Msg("circuit breaker opened")
			break
		}
		if attempt < attempts {
			if err := c.sleep(ctx, bo.NextBackOff()); err != nil {
				return
			}
		}
	}

	var final error = lastErr
	if lastErr.Kind == KindTimeout {
		final = &TimeoutError{AgentID: capability.ID, Attempts: attempt, Err: lastErr}
	}
	c.log.Warn().Str("agent", capability.ID).Int("attempts", attempt).Err(final).Msg("stream failed")
	send(StreamEvent{Type: StreamError, Attempt: attempt, Err: final})
}

// streamAttempt runs one stream, forwarding chunks as they arrive. The
// attempt is bounded by the request timeout and each chunk by the chunk
// timeout.
func (c *Client) streamAttempt(ctx context.Context, capability agent.Capability, req Request, attempt int, send func(StreamEvent) bool) *Error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &Error{Kind: KindUnknown, Err: err}
		}
	}

	c.emit(ctx, hooks.EventStreamStart, map[string]any{
		"agent_id": capability.ID,
		"attempt":  attempt,
		"protocol": capability.Protocol.String(),
	})

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout(req))
	defer cancel()

	chunks := make(chan string)
	errc := make(chan error, 1)
	go func() {
		errc <- c.transport.Stream(attemptCtx, capability, req, func(chunk string) error {
			select {
			case chunks <- chunk:
				return nil
			case <-attemptCtx.Done():
				return attemptCtx.Err()
			}
		})
	}()

	started := time.Now()
	count := 0
	finish := func(err *Error) *Error {
		data := map[string]any{
			"agent_id":    capability.ID,
			"attempt":     attempt,
			"protocol":    capability.Protocol.String(),
			"success":     err == nil,
			"chunks":      count,
			"duration_ms": float64(time.Since(started).Microseconds()) / 1000,
		}
		if err != nil {
			data["error"] = err.Error()
			data["error_type"] = string(err.Kind)
		}
		c.emit(ctx, hooks.EventStreamComplete, data)
		return err
	}

	for {
		var idle <-chan time.Time
		var timer *time.Timer
		if c.cfg.ChunkTimeout > 0 {
			timer = time.NewTimer(c.cfg.ChunkTimeout)
			idle = timer.C
		}

		select {
		case chunk := <-chunks:
			stopTimer(timer)
			count++
			c.emit(ctx, hooks.EventStreamChunk, map[string]any{
				"agent_id": capability.ID,
				"attempt":  attempt,
				"size":     len(chunk),
			})
			if !send(StreamEvent{Type: StreamChunk, Content: chunk, Attempt: attempt}) {
				cancel()
				<-errc
				return finish(&Error{Kind: KindUnknown, Err: ctx.Err()})
			}

		case err := <-errc:
			stopTimer(timer)
			if err == nil {
				return finish(nil)
			}
			return finish(classify(attemptCtx, err))

		case <-idle:
			cancel()
			<-errc
			return finish(&Error{Kind: KindTimeout, Err: fmt.Errorf("%w: no chunk within %s", errChunkTimeout, c.cfg.ChunkTimeout)})
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
