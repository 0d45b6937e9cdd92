package callback

import (
	"github.com/google/uuid"

	"github.com/gosible-labs/fleetforge/pkg/types"
)

// EventSource is satisfied by *scheduler.Scheduler. CallbackManager never
// imports pkg/scheduler directly for its own sake, only to register itself
// against whatever component drives the spec §4.6 event stream.
type EventSource interface {
	AddEventCallback(cb types.EventCallback)
}

// Subscribe attaches cm to src's event stream, translating scheduler-level
// types.Event values (play/batch/handler-flush boundaries, spec §4.6) into
// the CallbackPlugin lifecycle the teacher's plugins already implement.
// Per-task OnTaskStart/OnTaskResult calls still come from whatever drives
// task execution directly (the scheduler only emits coarse play/batch
// events), so Subscribe only wires OnPlayStart/OnPlayEnd and records
// EventError reasons in the run stats; OnRunnerEnd is left to the caller.
func (cm *CallbackManager) Subscribe(src EventSource) {
	src.AddEventCallback(cm.onEvent)
}

func (cm *CallbackManager) onEvent(ev types.Event) {
	switch ev.Type {
	case types.EventPlayStart:
		cm.OnPlayStart(&types.Play{Name: ev.Play})
	case types.EventPlayComplete:
		cm.OnPlayEnd(&types.Play{Name: ev.Play}, nil)
	case types.EventError:
		cm.recordRunError(ev)
	}
}

// recordRunError tags the manager's stats with a scheduler-reported failure
// that happened outside any single task (e.g. max_fail_percentage exceeded).
func (cm *CallbackManager) recordRunError(ev types.Event) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.stats.Errors == nil {
		cm.stats.Errors = make([]string, 0, 1)
	}
	reason, _ := ev.Data["reason"].(string)
	if reason == "" {
		reason = string(ev.Type)
	}
	cm.stats.Errors = append(cm.stats.Errors, reason)
}

// newRunID mints a correlation ID for one CallbackManager's lifetime,
// surfaced in JSONCallback output so a run's events can be grouped across
// plays in aggregated logs.
func newRunID() string {
	return uuid.New().String()
}
