package store

import (
	"context"
	"time"

	"github.com/soyeahso/conductor/internal/hooks"
	"github.com/soyeahso/conductor/internal/miner"
)

const recorderHook = "store.recorder"

// Recorder persists workflow lifecycle events: every completed step becomes
// a call log entry keyed by its execution id, and every finished workflow a
// run digest.
type Recorder struct {
	calls *CallLog
	runs  *Runs
	now   func() time.Time
}

// NewRecorder creates a recorder writing to db.
func NewRecorder(db *DB) *Recorder {
	return &Recorder{calls: NewCallLog(db), runs: NewRuns(db), now: time.Now}
}

// Attach registers the recorder's handlers on hm.
func (r *Recorder) Attach(hm *hooks.Manager) {
	hm.On(hooks.EventStepComplete, recorderHook, r.onStepComplete)
	hm.On(hooks.EventWorkflowComplete, recorderHook, r.onWorkflowComplete)
}

// Detach removes the recorder's handlers from hm.
func (r *Recorder) Detach(hm *hooks.Manager) {
	hm.Off(hooks.EventStepComplete, recorderHook)
	hm.Off(hooks.EventWorkflowComplete, recorderHook)
}

func (r *Recorder) onStepComplete(ctx context.Context, p hooks.Payload) error {
	ms, _ := p.Float("duration_ms")
	ts, ok := p.Data["timestamp"].(time.Time)
	if !ok {
		ts = r.now()
	}
	return r.calls.Record(ctx, miner.CallRecord{
		SessionID: p.Str("execution_id"),
		Tool:      p.Str("tool"),
		Success:   p.Bool("success"),
		Latency:   ms / 1000,
		Timestamp: ts,
	})
}

func (r *Recorder) onWorkflowComplete(ctx context.Context, p hooks.Payload) error {
	ms, _ := p.Float("duration_ms")
	count := func(key string) int {
		n, _ := p.Float(key)
		return int(n)
	}
	return r.runs.Record(ctx, Run{
		ExecutionID: p.Str("execution_id"),
		Workflow:    p.Str("workflow"),
		Success:     p.Bool("success"),
		Succeeded:   count("succeeded"),
		Failed:      count("failed"),
		Skipped:     count("skipped"),
		DurationMS:  ms,
		FinishedAt:  r.now(),
	})
}
