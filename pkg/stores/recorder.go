package stores

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/playtree/pkg/engine"
)

// Recorder persists deploy events as run and leaf result records.
// Storage failures are logged and never interrupt the deploy.
type Recorder struct {
	store         Store
	maxConcurrent int64
	logger        zerolog.Logger
}

// NewRecorder creates a recorder writing to store. maxConcurrent is stored
// with each run for later inspection.
func NewRecorder(store Store, maxConcurrent int64) *Recorder {
	return &Recorder{
		store:         store,
		maxConcurrent: maxConcurrent,
		logger:        log.Logger.With().Str("component", "recorder").Logger(),
	}
}

// Observe implements engine.Observer.
func (r *Recorder) Observe(ctx context.Context, event *engine.Event) {
	// Records must survive a cancelled deploy.
	ctx = context.WithoutCancel(ctx)

	var err error
	switch event.Type {
	case engine.EventTypeRunStarted:
		if event.Run == nil {
			return
		}
		err = r.store.CreateRun(ctx, RecordFromRun(event.Run, r.maxConcurrent))
	case engine.EventTypeRunCompleted, engine.EventTypeRunFailed, engine.EventTypeRunSettled:
		if event.Run == nil {
			return
		}
		err = r.store.UpdateRun(ctx, RecordFromRun(event.Run, r.maxConcurrent))
	default:
		if event.Leaf == "" {
			return
		}
		err = r.store.UpsertLeafResult(ctx, leafResultFromEvent(event))
	}

	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("run_id", event.RunID).
			Str("event", string(event.Type)).
			Msg("Failed to record event")
	}
}

func leafResultFromEvent(event *engine.Event) *LeafResult {
	res := &LeafResult{
		RunID:    event.RunID,
		Leaf:     event.Leaf,
		Status:   event.Status,
		Duration: event.Duration,
	}
	if art := event.Artifacts; art != nil {
		res.PlaybookPath = &art.PlaybookText
		res.InventoryPath = &art.InventoryText
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	switch event.Type {
	case engine.EventTypeCommandStarted:
		res.StartedAt = &ts
	case engine.EventTypeLeafSucceeded, engine.EventTypeLeafFailed:
		res.CompletedAt = &ts
		if event.Result != nil {
			code := event.Result.ExitCode
			res.ExitCode = &code
			out := event.Result.Output
			res.Output = &out
		} else if out := engine.OutputOf(event.Err); out != "" {
			res.Output = &out
		}
		if event.Err != nil {
			msg := event.Err.Error()
			res.Error = &msg
		}
	}
	return res
}
