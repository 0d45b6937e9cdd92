// Package task implements the per-(task,host) execution state machine (C4):
// conditional evaluation, loop expansion, delegation, argument rendering,
// module dispatch, changed/failed policy overrides, retries, and
// block/rescue/always grouping. It is the teacher's runner.executeOnHost,
// runner.evaluator and playbook.Executor task handling merged into one
// package and generalized to the spec's seven-step model.
package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gosible-labs/fleetforge/pkg/connection"
	"github.com/gosible-labs/fleetforge/pkg/modules"
	"github.com/gosible-labs/fleetforge/pkg/parallel"
	"github.com/gosible-labs/fleetforge/pkg/types"
	"github.com/gosible-labs/fleetforge/pkg/vars"
)

// HostConnector resolves a host name to the connection parameters needed to
// reach it. pkg/inventory implements this in the full engine; the interface
// is kept narrow here so pkg/task has no dependency on inventory layout.
type HostConnector interface {
	ConnectionInfo(host string) (types.ConnectionInfo, error)
}

// HandlerSink receives handler notifications tagged with the host that
// raised them. pkg/scheduler owns the actual per-play notification set and
// flush timing (spec §4.6 step 4); Executor only ever calls Notify.
type HandlerSink interface {
	Notify(host, handlerName string)
}

// Executor runs one task against one host at a time. It holds no
// per-invocation state, so a single Executor is safely shared across the
// goroutines the scheduler fans a batch out across.
type Executor struct {
	registry *modules.ModuleRegistry
	pool     *connection.Pool
	store    *vars.Store
	par      *parallel.Manager
	handlers HandlerSink
}

// NewExecutor creates a task Executor wired to the engine's shared module
// registry, connection pool, variable store and parallelization manager.
func NewExecutor(registry *modules.ModuleRegistry, pool *connection.Pool, store *vars.Store, par *parallel.Manager) *Executor {
	return &Executor{
		registry: registry,
		pool:     pool,
		store:    store,
		par:      par,
	}
}

// SetHandlerSink installs the sink that Notify-queued handler names flow to.
// Without one, notify lists are evaluated but silently dropped.
func (e *Executor) SetHandlerSink(sink HandlerSink) {
	e.handlers = sink
}

// RunTask executes t against host, expanding loop/with_items into one result
// per item (a task without a loop produces exactly one result). Each
// attempt passes through the seven steps of spec §4.4: evaluate when,
// resolve loop, delegate, render args, validate & invoke, apply overrides,
// retry.
func (e *Executor) RunTask(ctx context.Context, t *types.Task, host types.Host, hc HostConnector) ([]types.Result, error) {
	snapshot := withTaskVars(e.store.Snapshot(host.Name), t)

	// Step 1: evaluate when.
	evaluator := NewConditionEvaluator(snapshot)
	shouldRun, err := evaluator.EvaluateWhen(t.When)
	if err != nil {
		return nil, fmt.Errorf("evaluating when condition for task %q: %w", t.Name, err)
	}
	if !shouldRun {
		return []types.Result{e.skippedResult(t, host.Name, "condition evaluated false")}, nil
	}

	// Step 2: resolve loop items. A task without a loop still runs once,
	// against a nil item.
	items, err := e.loopItems(t, evaluator)
	if err != nil {
		return nil, fmt.Errorf("resolving loop for task %q: %w", t.Name, err)
	}

	loopVar, indexVar := loopControlNames(t)
	hasLoop := t.Loop != nil || t.WithItems != nil

	results := make([]types.Result, 0, len(items))
	for index, item := range items {
		result, err := e.runOnce(ctx, t, host, hc, item, index, len(items), loopVar, indexVar, hasLoop)
		if err != nil {
			return results, err
		}
		results = append(results, *result)
	}
	return results, nil
}

// runOnce executes one loop iteration (or the sole iteration of a
// loop-less task) through delegation, rendering, dispatch, overrides and
// retries.
func (e *Executor) runOnce(ctx context.Context, t *types.Task, host types.Host, hc HostConnector, item interface{}, index, loopLen int, loopVar, indexVar string, hasLoop bool) (*types.Result, error) {
	// Step 3: delegate_to. varHost stays the inventory host that var
	// resolution and register/facts attribution use unless delegate_facts
	// is set, in which case they follow the delegated host instead.
	varHost := host.Name
	execHost := host.Name
	if t.Delegate != "" {
		delegateSnapshot := e.store.Snapshot(host.Name)
		rendered, err := e.store.Render(t.Delegate, delegateSnapshot)
		if err != nil {
			return nil, fmt.Errorf("rendering delegate_to for task %q: %w", t.Name, err)
		}
		execHost = rendered
		if t.DelegateFacts {
			varHost = execHost
		}
	}

	connInfo, err := hc.ConnectionInfo(execHost)
	if err != nil {
		return nil, fmt.Errorf("resolving connection info for host %q: %w", execHost, err)
	}

	// Step 4: render args against varHost's snapshot, with the task's own
	// vars (if any) and the loop item (if any) injected under its
	// control-var name.
	snapshot := withTaskVars(e.store.Snapshot(varHost), t)
	if hasLoop {
		snapshot = cloneSnapshot(snapshot)
		snapshot[loopVar] = item
		if indexVar != "" {
			snapshot[indexVar] = index
		}
		snapshot["ansible_loop"] = map[string]interface{}{
			"index":  index,
			"index0": index,
			"index1": index + 1,
			"first":  index == 0,
			"last":   index == loopLen-1,
			"length": loopLen,
		}
	}

	renderedArgs, err := renderArgsAgainst(e.store, snapshot, t.Args)
	if err != nil {
		return nil, fmt.Errorf("rendering args for task %q: %w", t.Name, err)
	}

	moduleArgs := make(map[string]interface{}, len(renderedArgs)+4)
	for k, v := range renderedArgs {
		moduleArgs[k] = v
	}
	if t.CheckMode {
		moduleArgs["_check_mode"] = true
	}
	if t.DiffMode {
		moduleArgs["_diff"] = true
	}
	moduleArgs["_task_vars"] = snapshot

	// Step 5: validate & invoke.
	module, err := e.registry.GetModule(t.Module.String())
	if err != nil {
		return nil, fmt.Errorf("module %q not found: %w", t.Module, err)
	}

	if t.CheckMode && !moduleSupportsCheckMode(module) {
		result := skippedCheckModeResult(varHost, t.Name)
		if t.Register != "" {
			e.store.Set(varHost, t.Register, result, vars.ScopeRegistered)
		}
		return result, nil
	}

	if err := module.Validate(moduleArgs); err != nil {
		return nil, fmt.Errorf("validating args for task %q: %w", t.Name, err)
	}

	hint := module.ParallelizationHint()
	if t.ParallelOverride != "" {
		hint = t.ParallelOverride
	}

	result, err := e.dispatchWithRetry(ctx, t, module, execHost, connInfo, moduleArgs, hint, varHost, snapshot)
	if err != nil {
		return nil, err
	}

	result.TaskName = t.Name
	result.Host = varHost

	// Step 6 (register) and post-terminal notify happen once per
	// iteration, after overrides have already been folded into result by
	// dispatchWithRetry.
	if t.Register != "" {
		e.store.Set(varHost, t.Register, result, vars.ScopeRegistered)
	}
	if result.Changed && len(t.Notify) > 0 && e.handlers != nil {
		for _, name := range t.Notify {
			e.handlers.Notify(varHost, name)
		}
	}

	return result, nil
}

// dispatchWithRetry runs the module under the parallelization hint's
// permit, applies changed_when/failed_when, and retries per task.Retries /
// task.Until (spec §4.4 step 7).
func (e *Executor) dispatchWithRetry(ctx context.Context, t *types.Task, module types.Module, execHost string, connInfo types.ConnectionInfo, moduleArgs map[string]interface{}, hint types.ParallelHint, varHost string, snapshot map[string]interface{}) (*types.Result, error) {
	maxAttempts := 1
	if t.Retries > 0 {
		maxAttempts = t.Retries + 1
	}

	var result *types.Result
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 && t.Delay > 0 {
			select {
			case <-time.After(time.Duration(t.Delay) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var err error
		result, err = e.dispatchOnce(ctx, module, execHost, connInfo, moduleArgs, hint)
		if err != nil {
			var unreachable *types.UnreachableError
			if errors.As(err, &unreachable) {
				return &types.Result{
					Status:     types.StatusUnreachable,
					Success:    false,
					Host:       varHost,
					ModuleName: t.Module.String(),
					Error:      err,
					Message:    err.Error(),
					Data:       make(map[string]interface{}),
					StartTime:  types.GetCurrentTime(),
					EndTime:    types.GetCurrentTime(),
					Attempt:    attempt + 1,
				}, nil
			}
			if !t.IgnoreErrors {
				return nil, err
			}
			result = &types.Result{
				Status:     types.StatusFailed,
				Success:    false,
				Host:       varHost,
				ModuleName: t.Module.String(),
				Error:      err,
				Message:    fmt.Sprintf("error (ignored): %v", err),
				Data:       make(map[string]interface{}),
				StartTime:  types.GetCurrentTime(),
				EndTime:    types.GetCurrentTime(),
			}
		}
		result.Attempt = attempt + 1

		if err := e.applyOverrides(t, result, snapshot); err != nil {
			return nil, err
		}

		if t.Until != nil {
			untilVars := cloneSnapshot(snapshot)
			untilVars["result"] = result
			satisfied, evalErr := NewConditionEvaluator(untilVars).EvaluateWhen(t.Until)
			if evalErr != nil {
				return nil, fmt.Errorf("evaluating until condition: %w", evalErr)
			}
			if satisfied {
				break
			}
			continue
		}

		if result.Success || attempt == maxAttempts-1 {
			break
		}
	}

	// A terminal failure here (IsFailed() && !IgnoreErrors) is left for the
	// caller: block execution (RunBlock) decides whether it triggers rescue.
	return result, nil
}

// dispatchOnce acquires a parallelization permit and connection, invokes the
// module exactly once, and classifies the module's result status.
func (e *Executor) dispatchOnce(ctx context.Context, module types.Module, execHost string, connInfo types.ConnectionInfo, moduleArgs map[string]interface{}, hint types.ParallelHint) (*types.Result, error) {
	guard, err := e.par.Acquire(ctx, hint, execHost, module.Name())
	if err != nil {
		return nil, fmt.Errorf("acquiring concurrency permit for module %q on host %q: %w", module.Name(), execHost, err)
	}
	defer guard.Release()

	handle, err := e.pool.Acquire(ctx, connInfo)
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	conn, err := handle.Connection()
	if err != nil {
		return nil, err
	}

	result, err := module.Run(ctx, conn, moduleArgs)
	if err != nil {
		handle.MarkFailed()
		return nil, err
	}

	if result.Status == "" {
		if result.Success {
			if result.Changed {
				result.Status = types.StatusChanged
			} else {
				result.Status = types.StatusOK
			}
		} else {
			result.Status = types.StatusFailed
		}
	}
	return result, nil
}

// applyOverrides re-evaluates changed_when/failed_when against result, per
// spec §4.4 step 6.
func (e *Executor) applyOverrides(t *types.Task, result *types.Result, snapshot map[string]interface{}) error {
	if t.ChangedWhen != nil {
		changed, err := NewConditionEvaluator(snapshot).EvaluateChangedWhen(t.ChangedWhen, result)
		if err != nil {
			return fmt.Errorf("evaluating changed_when: %w", err)
		}
		result.Changed = changed
	}
	if t.FailedWhen != nil {
		failed, err := NewConditionEvaluator(snapshot).EvaluateFailedWhen(t.FailedWhen, result)
		if err != nil {
			return fmt.Errorf("evaluating failed_when: %w", err)
		}
		result.Success = !failed
		if failed {
			result.Status = types.StatusFailed
			if result.Error == nil {
				result.Error = fmt.Errorf("task failed due to failed_when condition")
			}
		}
	}
	if result.Success && result.Status == types.StatusFailed {
		result.Status = types.StatusOK
	}
	if result.Changed && result.Status == types.StatusOK {
		result.Status = types.StatusChanged
	}
	return nil
}

func (e *Executor) loopItems(t *types.Task, evaluator *ConditionEvaluator) ([]interface{}, error) {
	var loopExpr interface{}
	if t.Loop != nil {
		loopExpr = t.Loop
	} else if t.WithItems != nil {
		loopExpr = t.WithItems
	} else {
		return []interface{}{nil}, nil
	}

	items, err := evaluator.EvaluateLoopItems(loopExpr)
	if err != nil {
		return nil, err
	}
	if items == nil {
		return []interface{}{}, nil
	}
	return items, nil
}

// moduleSupportsCheckMode reports whether module opted into check mode via
// types.ModuleWithCapabilities. Modules that don't implement the interface
// are assumed unsafe to run dry, consistent with classifyByName's fallback
// of treating unknowns as state-mutating.
func moduleSupportsCheckMode(module types.Module) bool {
	withCaps, ok := module.(types.ModuleWithCapabilities)
	if !ok {
		return false
	}
	caps := withCaps.Capabilities()
	return caps != nil && caps.CheckMode
}

// skippedCheckModeResult is returned in place of actually invoking a module
// that doesn't support check mode while the task runs under --check: it
// reports what would have happened (nothing) rather than silently applying
// a change the operator asked to preview first.
func skippedCheckModeResult(host, taskName string) *types.Result {
	now := types.GetCurrentTime()
	return &types.Result{
		Status:     types.StatusSkipped,
		Success:    true,
		Changed:    false,
		Simulated:  true,
		Host:       host,
		TaskName:   taskName,
		Message:    "skipped: module does not support check mode",
		Data: map[string]interface{}{
			"skipped": true,
			"reason":  "module_no_check_support",
		},
		StartTime: now,
		EndTime:   now,
	}
}

func (e *Executor) skippedResult(t *types.Task, host, reason string) types.Result {
	now := types.GetCurrentTime()
	return types.Result{
		Status:     types.StatusSkipped,
		Success:    true,
		Changed:    false,
		Host:       host,
		TaskName:   t.Name,
		ModuleName: t.Module.String(),
		Message:    "skipped: " + reason,
		Data:       map[string]interface{}{"skipped": true},
		StartTime:  now,
		EndTime:    now,
	}
}

func loopControlNames(t *types.Task) (loopVar, indexVar string) {
	loopVar = "item"
	if t.LoopControl != nil {
		if lv, ok := t.LoopControl["loop_var"].(string); ok && lv != "" {
			loopVar = lv
		}
		if iv, ok := t.LoopControl["index_var"].(string); ok {
			indexVar = iv
		}
	}
	return loopVar, indexVar
}

// withTaskVars overlays a task's own vars: block onto a copy of snapshot.
// Returns snapshot unchanged when the task defines none, so the common
// no-vars case costs nothing.
func withTaskVars(snapshot map[string]interface{}, t *types.Task) map[string]interface{} {
	if len(t.Vars) == 0 {
		return snapshot
	}
	merged := cloneSnapshot(snapshot)
	for k, v := range t.Vars {
		merged[k] = v
	}
	return merged
}

func cloneSnapshot(snapshot map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(snapshot))
	for k, v := range snapshot {
		out[k] = v
	}
	return out
}

// renderArgsAgainst templates every string value in args against an
// already-built snapshot, mirroring vars.Store.RenderArgs but without
// re-deriving the snapshot from scratch (used once the loop item has been
// folded in).
func renderArgsAgainst(store *vars.Store, snapshot map[string]interface{}, args map[string]interface{}) (map[string]interface{}, error) {
	rendered := make(map[string]interface{}, len(args))
	for k, v := range args {
		str, ok := v.(string)
		if !ok {
			rendered[k] = v
			continue
		}
		out, err := store.Render(str, snapshot)
		if err != nil {
			return nil, err
		}
		rendered[k] = out
	}
	return rendered, nil
}
