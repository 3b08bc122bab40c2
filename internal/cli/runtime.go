package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/soyeahso/conductor/internal/agent"
	"github.com/soyeahso/conductor/internal/delegation"
	"github.com/soyeahso/conductor/internal/hooks"
	"github.com/soyeahso/conductor/internal/metrics"
	"github.com/soyeahso/conductor/internal/store"
	"github.com/soyeahso/conductor/internal/tools"
	"github.com/soyeahso/conductor/internal/workflow"
)

// runtime holds the components shared by commands that delegate or run
// workflows.
type runtime struct {
	hooks   *hooks.Manager
	agents  *agent.Registry
	client  *delegation.Client
	metrics *metrics.Collector
	db      *store.DB
}

type runtimeOptions struct {
	store   bool // open the call-log database
	record  bool // persist workflow events into it
	metrics bool
}

func newRuntime(opts runtimeOptions) (*runtime, error) {
	rt := &runtime{
		hooks:  hooks.NewManager(log),
		agents: agent.NewRegistry(log),
	}
	if err := agent.Load(rt.agents, paths.AgentsPath(&cfg), cfg.Agents); err != nil {
		return nil, fmt.Errorf("loading agents: %w", err)
	}
	rt.client = delegation.NewClient(rt.agents, delegation.ConfigFrom(cfg.Delegation), log,
		delegation.WithObserver(rt.hooks))

	if opts.metrics {
		rt.metrics = metrics.New(true)
		rt.metrics.Attach(rt.hooks)
	}
	if opts.store || opts.record {
		db, err := store.Open(paths.StorePath(&cfg), log)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		rt.db = db
		if opts.record {
			store.NewRecorder(db).Attach(rt.hooks)
		}
	}
	return rt, nil
}

func (rt *runtime) Close() error {
	if rt.db != nil {
		return rt.db.Close()
	}
	return nil
}

// executor chains local tools, agent delegation and configured tool
// servers, in that order.
func (rt *runtime) executor() tools.Executor {
	chain := []tools.Executor{
		tools.Builtins(),
		tools.NewDelegationExecutor(rt.client, cfg.Workflow.Routes),
	}
	for _, ts := range cfg.Workflow.ToolServers {
		chain = append(chain, tools.NewRemote(ts.URL, ts.Token, nil))
	}
	return tools.Chain(chain...)
}

func (rt *runtime) engine() *workflow.Engine {
	return workflow.NewEngine(rt.executor(), log,
		workflow.WithObserver(rt.hooks),
		workflow.WithRetryBackoff(cfg.Workflow.RetryBackoff),
		workflow.WithMaxParallel(cfg.Workflow.MaxParallel),
	)
}

// serveMetrics exposes the collector on addr until ctx is cancelled.
func (rt *runtime) serveMetrics(ctx context.Context, addr string) {
	if rt.metrics == nil || addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", rt.metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Info().Str("addr", addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics endpoint failed")
		}
	}()
}
