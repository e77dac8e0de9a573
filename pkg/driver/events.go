package driver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openfroyo/launchpad/pkg/evaluator"
	"github.com/openfroyo/launchpad/pkg/stores"
	"github.com/openfroyo/launchpad/pkg/telemetry"
)

// ledgerWriteTimeout bounds one ledger write made for an event.
const ledgerWriteTimeout = 5 * time.Second

// lifecycleStates maps lifecycle events to the evaluator state they leave
// behind.
var lifecycleStates = map[string]evaluator.State{
	telemetry.EventTypeEvaluatorAllocated: evaluator.StateAllocated,
	telemetry.EventTypeLaunchRequested:    evaluator.StateSubmitted,
	telemetry.EventTypeLaunchFailed:       evaluator.StateFailed,
	telemetry.EventTypeEvaluatorRunning:   evaluator.StateRunning,
	telemetry.EventTypeEvaluatorClosed:    evaluator.StateClosed,
}

// recordEvent mirrors a telemetry event into the ledger. Synchronous
// publishers call it with the evaluator's manager locked, so it must not call
// back into the registry.
func (d *Driver) recordEvent(ev telemetry.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerWriteTimeout)
	defer cancel()

	logger := d.logger.With().
		Str("event_type", ev.Type).
		Str("evaluator_id", ev.EvaluatorID).
		Logger()

	if state, ok := lifecycleStates[ev.Type]; ok && ev.EvaluatorID != "" {
		rec := &stores.Evaluator{
			ID:            ev.EvaluatorID,
			ApplicationID: d.cfg.ApplicationID,
			State:         string(state),
		}
		if reason, ok := ev.Data["reason"].(string); ok && state == evaluator.StateFailed {
			rec.LastError = &reason
		}
		if err := d.store.UpsertEvaluator(ctx, rec); err != nil {
			logger.Error().Err(err).Msg("Failed to record evaluator state")
		}
	}

	if err := d.store.AppendEvent(ctx, toStoreEvent(ev)); err != nil {
		logger.Error().Err(err).Msg("Failed to record event")
	}
}

func toStoreEvent(ev telemetry.Event) *stores.Event {
	out := &stores.Event{
		EventID:   ev.ID,
		Type:      ev.Type,
		Level:     stores.EventLevel(ev.Level),
		Source:    ev.Source,
		Message:   ev.Message,
		Timestamp: ev.Timestamp,
	}
	if ev.EvaluatorID != "" {
		id := ev.EvaluatorID
		out.EvaluatorID = &id
	}

	data := ev.Data
	if ev.Provider != "" {
		data = make(map[string]interface{}, len(ev.Data)+1)
		for k, v := range ev.Data {
			data[k] = v
		}
		data["provider"] = ev.Provider
	}
	if len(data) > 0 {
		if b, err := json.Marshal(data); err == nil {
			details := string(b)
			out.Details = &details
		}
	}
	return out
}
