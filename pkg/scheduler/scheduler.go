// Package scheduler implements the Play Scheduler (C6): per-play host
// resolution, fact gathering, phase execution (pre_tasks/tasks/post_tasks)
// under a chosen strategy, serial batching, failure policy
// (max_fail_percentage/any_errors_fatal), and handler flush. It generalizes
// the teacher's pkg/strategy (LinearStrategy/FreeStrategy, wiring in
// HostPinnedStrategy which the teacher built but never registered) and
// pkg/playbook.Executor's phase-ordering logic into one driver matching
// spec §4.6's per-play algorithm, including the handler flush the teacher
// stubbed out entirely.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gosible-labs/fleetforge/pkg/roles"
	"github.com/gosible-labs/fleetforge/pkg/task"
	"github.com/gosible-labs/fleetforge/pkg/types"
	"github.com/gosible-labs/fleetforge/pkg/vars"
)

// MetricsRecorder receives scheduler-level timing and fan-in observations.
// pkg/metrics.Metrics satisfies this by method signature; Scheduler never
// imports pkg/metrics.
type MetricsRecorder interface {
	ObserveBatchDuration(play string, d time.Duration)
	RecordHandlerNotified(handler string)
	RecordHandlerExecuted(handler string)
}

// Strategy names recognized by the scheduler; anything else falls back to
// linear.
const (
	StrategyLinear     = "linear"
	StrategyFree       = "free"
	StrategyHostPinned = "host_pinned"
)

// Scheduler drives one or more plays to completion against an inventory,
// sharing a single task.Executor and vars.Store across every play it runs.
type Scheduler struct {
	exec      *task.Executor
	store     *vars.Store
	inventory types.Inventory
	connector task.HostConnector
	forks     int
	events    []types.EventCallback
	runID     string

	mu       sync.Mutex
	notified map[string]map[string]bool // host -> notified topic set, current play

	metrics     MetricsRecorder
	roleManager *roles.RoleManager
}

// SetMetrics attaches a metrics recorder for batch duration and handler
// fan-in. Nil disables recording.
func (s *Scheduler) SetMetrics(m MetricsRecorder) {
	s.metrics = m
}

// SetRoleManager attaches the role loader consulted for a play's Roles
// list (spec §4.6 step 3: "role tasks" run between pre_tasks and tasks). A
// play naming roles with no manager configured is a configuration error.
func (s *Scheduler) SetRoleManager(rm *roles.RoleManager) {
	s.roleManager = rm
}

// resolveRoles loads play.Roles (and their transitive dependencies) in
// dependency order and flattens them into a task-phase, a combined handler
// list, and merged defaults/vars maps (later roles override earlier ones,
// same precedence direction as spec §3's scope stack already applies
// between role_defaults and role_vars).
func (s *Scheduler) resolveRoles(play *types.Play) (tasks []types.BlockItem, handlers []types.Handler, defaults, roleVars map[string]interface{}, err error) {
	if len(play.Roles) == 0 {
		return nil, nil, nil, nil, nil
	}
	if s.roleManager == nil {
		return nil, nil, nil, nil, fmt.Errorf("play %q references roles but no role manager is configured", play.Name)
	}
	resolved, err := roles.ResolveRoles(s.roleManager, play.Roles)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("resolving roles for play %q: %w", play.Name, err)
	}
	defaults = make(map[string]interface{})
	roleVars = make(map[string]interface{})
	for _, role := range resolved {
		for i := range role.Tasks {
			t := role.Tasks[i]
			tasks = append(tasks, types.BlockItem{Task: &t})
		}
		handlers = append(handlers, role.Handlers...)
		for k, v := range role.Defaults {
			defaults[k] = v
		}
		for k, v := range role.Vars {
			roleVars[k] = v
		}
	}
	return tasks, handlers, defaults, roleVars, nil
}

// NewScheduler wires a Scheduler to the shared task executor, variable
// store, inventory, and host connector. forks bounds the number of
// concurrently in-flight task dispatches per phase (the fork-permit layer
// of spec §4.5/§5, acquired before any parallel.Manager hint permit).
func NewScheduler(exec *task.Executor, store *vars.Store, inventory types.Inventory, connector task.HostConnector, forks int) *Scheduler {
	if forks <= 0 {
		forks = 5
	}
	s := &Scheduler{
		exec:      exec,
		store:     store,
		inventory: inventory,
		connector: connector,
		forks:     forks,
		runID:     uuid.New().String(),
	}
	exec.SetHandlerSink(s)
	return s
}

// RunID returns the correlation ID stamped onto every event this scheduler
// emits, stable for the scheduler's lifetime.
func (s *Scheduler) RunID() string {
	return s.runID
}

// AddEventCallback registers a callback fed every scheduler-level event
// (play/batch/handler-flush boundaries); task-level events are emitted by
// the caller's own inspection of returned Results, matching how the
// teacher's Executor only emitted play/task lifecycle events and left
// per-result detail to the caller.
func (s *Scheduler) AddEventCallback(cb types.EventCallback) {
	s.events = append(s.events, cb)
}

func (s *Scheduler) emit(ev types.Event) {
	ev.ID = uuid.New().String()
	ev.Timestamp = types.GetCurrentTime()
	ev.RunID = s.runID
	for _, cb := range s.events {
		cb(ev)
	}
}

// Notify implements task.HandlerSink: it records that host has raised
// handlerName, tagged per-host per spec §4.6 step 4 — a deliberate
// departure from the teacher's pkg/runner/handlers.go HandlerManager, whose
// single global notification list had no concept of which host triggered
// which handler.
func (s *Scheduler) Notify(host, handlerName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notified == nil {
		s.notified = make(map[string]map[string]bool)
	}
	if s.notified[host] == nil {
		s.notified[host] = make(map[string]bool)
	}
	s.notified[host][handlerName] = true
	if s.metrics != nil {
		s.metrics.RecordHandlerNotified(handlerName)
	}
}

// RunPlaybook runs every play in playbook in order, stopping at the first
// play that returns an error.
func (s *Scheduler) RunPlaybook(ctx context.Context, playbook *types.Playbook) ([]types.Result, error) {
	var all []types.Result
	for i := range playbook.Plays {
		results, err := s.RunPlay(ctx, &playbook.Plays[i])
		all = append(all, results...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

// RunPlay drives one play through spec §4.6's per-play algorithm: resolve
// hosts, partition into serial batches, and for each batch run
// pre_tasks/tasks/post_tasks under the play's strategy with a handler flush
// after each phase.
func (s *Scheduler) RunPlay(ctx context.Context, play *types.Play) ([]types.Result, error) {
	hosts, err := s.resolveHosts(play.Hosts)
	if err != nil {
		return nil, fmt.Errorf("resolving hosts for play %q: %w", play.Name, err)
	}
	if len(hosts) == 0 {
		return nil, nil
	}

	if len(play.Vars) > 0 {
		names := hostNames(hosts)
		if err := s.store.SetAll(names, vars.ScopePlayVars, play.Vars); err != nil {
			return nil, fmt.Errorf("applying play vars for play %q: %w", play.Name, err)
		}
	}

	roleTasks, roleHandlers, roleDefaults, roleVars, err := s.resolveRoles(play)
	if err != nil {
		return nil, err
	}
	handlers := append(append([]types.Handler{}, play.Handlers...), roleHandlers...)

	if play.CheckMode || play.DiffMode || play.Become {
		applyPlayOverrides(play.PreTasks, play)
		applyPlayOverrides(roleTasks, play)
		applyPlayOverrides(play.Tasks, play)
		applyPlayOverrides(play.PostTasks, play)
	}

	s.mu.Lock()
	s.notified = make(map[string]map[string]bool)
	s.mu.Unlock()
	ranHandlers := make(map[string]map[string]bool) // host -> handler name -> ran

	s.emit(types.Event{Type: types.EventPlayStart, Play: play.Name})

	strategy := play.Strategy
	if strategy == "" {
		strategy = StrategyLinear
	}

	batches := batchHosts(hosts, play.Serial)
	var all []types.Result
	processed := 0
	failedTotal := 0

	for batchIndex, batch := range batches {
		batchStart := time.Now()
		s.emit(types.Event{
			Type: types.EventBatchStart,
			Play: play.Name,
			Data: map[string]interface{}{"batch_index": batchIndex, "batch_size": len(batch)},
		})

		failed := make(map[string]bool)

		if len(roleDefaults) > 0 {
			if err := s.store.SetAll(hostNames(batch), vars.ScopeRoleDefaults, roleDefaults); err != nil {
				return all, fmt.Errorf("applying role defaults for play %q: %w", play.Name, err)
			}
		}
		if len(roleVars) > 0 {
			if err := s.store.SetAll(hostNames(batch), vars.ScopeRoleVars, roleVars); err != nil {
				return all, fmt.Errorf("applying role vars for play %q: %w", play.Name, err)
			}
		}

		if play.GatherFacts {
			factResults, err := s.gatherFacts(ctx, batch)
			all = append(all, factResults...)
			if err != nil {
				return all, fmt.Errorf("gathering facts for play %q: %w", play.Name, err)
			}
		}

		phases := [][]types.BlockItem{play.PreTasks, roleTasks, play.Tasks, play.PostTasks}
		for _, phase := range phases {
			if len(phase) == 0 {
				continue
			}
			if err := s.runPhase(ctx, phase, batch, failed, strategy, &all); err != nil {
				return all, fmt.Errorf("running play %q: %w", play.Name, err)
			}
			s.flushHandlers(ctx, play, handlers, batch, failed, ranHandlers, &all)
			if play.AnyErrorsFatal && len(failed) > 0 {
				break
			}
		}

		processed += len(batch)
		failedTotal += len(failed)

		if s.metrics != nil {
			s.metrics.ObserveBatchDuration(play.Name, time.Since(batchStart))
		}

		s.emit(types.Event{
			Type: types.EventBatchComplete,
			Play: play.Name,
			Data: map[string]interface{}{"batch_index": batchIndex, "failed": len(failed)},
		})

		if play.MaxFailPercentage > 0 && processed > 0 {
			failPct := float64(failedTotal) / float64(processed) * 100
			if failPct > play.MaxFailPercentage {
				s.emit(types.Event{
					Type: types.EventError,
					Play: play.Name,
					Data: map[string]interface{}{"reason": "max_fail_percentage exceeded", "fail_percentage": failPct},
				})
				all = append(all, skippedForRemainingBatches(batches[batchIndex+1:], play.Name)...)
				break
			}
		}
	}

	s.emit(types.Event{Type: types.EventPlayComplete, Play: play.Name, Data: map[string]interface{}{"results_count": len(all)}})
	return all, nil
}

func skippedForRemainingBatches(batches [][]types.Host, playName string) []types.Result {
	var out []types.Result
	now := types.GetCurrentTime()
	for _, batch := range batches {
		for _, h := range batch {
			out = append(out, types.Result{
				Status:    types.StatusSkipped,
				Success:   true,
				Host:      h.Name,
				Message:   "skipped: max_fail_percentage exceeded in a prior batch",
				Data:      map[string]interface{}{"skipped": true},
				StartTime: now,
				EndTime:   now,
			})
		}
	}
	return out
}

// resolveHosts expands a play's Hosts field (a string pattern, or a list of
// patterns) against the inventory, de-duplicating by host name while
// preserving first-seen order.
func (s *Scheduler) resolveHosts(rawPattern interface{}) ([]types.Host, error) {
	var patterns []string
	switch v := rawPattern.(type) {
	case string:
		patterns = []string{v}
	case []string:
		patterns = v
	case []interface{}:
		for _, p := range v {
			if str, ok := p.(string); ok {
				patterns = append(patterns, str)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported hosts value type %T", rawPattern)
	}

	seen := make(map[string]bool)
	var hosts []types.Host
	for _, pattern := range patterns {
		matched, err := s.inventory.GetHosts(pattern)
		if err != nil {
			return nil, err
		}
		for _, h := range matched {
			if seen[h.Name] {
				continue
			}
			seen[h.Name] = true
			hosts = append(hosts, h)
		}
	}
	return hosts, nil
}

// applyPlayOverrides pushes a play's check-mode/diff-mode/become flags
// (spec §3 Play flags) down into every task reachable from items, recursing
// through nested blocks. A task that already sets a field on its own keeps
// it regardless of the play's setting — the play can only turn a flag on
// (or supply a become user), never force one off — matching the same
// "task wins if set" inheritance direction as pkg/task.mergeTaskInherited.
func applyPlayOverrides(items []types.BlockItem, play *types.Play) {
	for i := range items {
		switch {
		case items[i].Task != nil:
			t := items[i].Task
			if play.CheckMode {
				t.CheckMode = true
			}
			if play.DiffMode {
				t.DiffMode = true
			}
			if play.Become && !t.Become {
				t.Become = true
			}
			if t.BecomeUser == "" {
				t.BecomeUser = play.BecomeUser
			}
		case items[i].NestedBlock != nil:
			applyPlayOverrides(items[i].NestedBlock.Tasks, play)
			applyPlayOverrides(items[i].NestedBlock.Rescue, play)
			applyPlayOverrides(items[i].NestedBlock.Always, play)
		}
	}
}

func hostNames(hosts []types.Host) []string {
	names := make([]string, len(hosts))
	for i, h := range hosts {
		names[i] = h.Name
	}
	return names
}

// gatherFacts runs the setup module on every host in batch and stores the
// returned ansible_facts map under vars.ScopeFacts, grounded on the
// teacher's playbook.Executor.gatherFacts which built the same synthetic
// task but threw its result away instead of feeding it back into variable
// resolution.
func (s *Scheduler) gatherFacts(ctx context.Context, batch []types.Host) ([]types.Result, error) {
	var all []types.Result
	failed := make(map[string]bool)
	setupTask := &types.Task{Name: "Gathering Facts", Module: types.ModuleType("setup"), Args: map[string]interface{}{}}
	if err := s.runPhase(ctx, []types.BlockItem{{Task: setupTask}}, batch, failed, StrategyFree, &all); err != nil {
		return all, err
	}
	for i := range all {
		r := &all[i]
		facts, ok := r.Data["ansible_facts"].(map[string]interface{})
		if !ok {
			continue
		}
		if err := s.store.SetAll([]string{r.Host}, vars.ScopeFacts, facts); err != nil {
			return all, err
		}
	}
	return all, nil
}

// runPhase executes items (a phase's task/block list) against hosts,
// skipping any host already marked failed, under the named strategy.
func (s *Scheduler) runPhase(ctx context.Context, items []types.BlockItem, hosts []types.Host, failed map[string]bool, strategy string, out *[]types.Result) error {
	switch strategy {
	case StrategyFree, StrategyHostPinned:
		return s.runPhaseFree(ctx, items, hosts, failed, out)
	default:
		return s.runPhaseLinear(ctx, items, hosts, failed, out)
	}
}

// runPhaseLinear executes item by item, barrier-synchronized across every
// non-failed host in hosts before advancing to the next item — spec §5's
// ordering guarantee that task K+1 on any host does not start before task K
// has terminated on every host.
func (s *Scheduler) runPhaseLinear(ctx context.Context, items []types.BlockItem, hosts []types.Host, failed map[string]bool, out *[]types.Result) error {
	for _, item := range items {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.forks)
		var mu sync.Mutex

		for _, h := range hosts {
			h := h
			if failed[h.Name] {
				continue
			}
			g.Go(func() error {
				results, hostFailed := s.runItem(gctx, item, h)
				mu.Lock()
				*out = append(*out, results...)
				if hostFailed {
					failed[h.Name] = true
				}
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// runPhaseFree gives each host its own goroutine that runs every item in
// order independently, with no cross-host barrier — used for both "free"
// and "host_pinned", matching how the teacher's own FreeStrategy and
// HostPinnedStrategy.Execute were structurally identical: connection
// affinity is already the connection pool's responsibility (it keys by
// host regardless of caller), so host_pinned needs no separate worker
// model here.
func (s *Scheduler) runPhaseFree(ctx context.Context, items []types.BlockItem, hosts []types.Host, failed map[string]bool, out *[]types.Result) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.forks)
	var mu sync.Mutex

	for _, h := range hosts {
		h := h
		if failed[h.Name] {
			continue
		}
		g.Go(func() error {
			for _, item := range items {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				results, hostFailed := s.runItem(gctx, item, h)
				mu.Lock()
				*out = append(*out, results...)
				mu.Unlock()
				if hostFailed {
					mu.Lock()
					failed[h.Name] = true
					mu.Unlock()
					break
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// runItem dispatches one play-list item (a task or a nested block) against
// host. It never returns an error for an ordinary task failure — only
// context cancellation propagates — so a failing host never aborts its
// siblings; the bool return reports whether host should be excluded from
// the phase's remaining items.
func (s *Scheduler) runItem(ctx context.Context, item types.BlockItem, host types.Host) ([]types.Result, bool) {
	switch {
	case item.NestedBlock != nil:
		results, err := s.exec.RunBlock(ctx, item.NestedBlock, host, s.connector)
		return results, err != nil
	case item.Task != nil:
		results, err := s.exec.RunTask(ctx, item.Task, host, s.connector)
		if err != nil {
			now := types.GetCurrentTime()
			return []types.Result{{
				Status:     types.StatusFailed,
				Success:    false,
				Host:       host.Name,
				TaskName:   item.Task.Name,
				ModuleName: item.Task.Module.String(),
				Error:      err,
				Message:    err.Error(),
				Data:       map[string]interface{}{},
				StartTime:  now,
				EndTime:    now,
			}}, true
		}
		return results, anyUnignoredFailure(results, item.Task.IgnoreErrors)
	default:
		now := types.GetCurrentTime()
		return []types.Result{{
			Status: types.StatusFailed, Success: false, Host: host.Name,
			Message: "play item has neither task nor nested block",
			Data:    map[string]interface{}{}, StartTime: now, EndTime: now,
		}}, true
	}
}

func anyUnignoredFailure(results []types.Result, ignoreErrors bool) bool {
	if ignoreErrors {
		return false
	}
	for _, r := range results {
		if r.IsFailed() {
			return true
		}
	}
	return false
}

// flushHandlers runs spec §4.6 step 4: for each handler in the play's
// handler list (source order — the Open Question decision recorded in
// DESIGN.md for flush ordering), on each non-failed host that has notified
// it by name or by a topic in its Listen list and hasn't already run it
// this play, run it once.
func (s *Scheduler) flushHandlers(ctx context.Context, play *types.Play, handlers []types.Handler, hosts []types.Host, failed map[string]bool, ran map[string]map[string]bool, out *[]types.Result) {
	if len(handlers) == 0 {
		return
	}
	s.emit(types.Event{Type: types.EventHandlerFlush, Play: play.Name})

	for i := range handlers {
		handler := &handlers[i]
		topics := make(map[string]bool, len(handler.Listen)+1)
		topics[handler.Name] = true
		for _, t := range handler.Listen {
			topics[t] = true
		}

		for _, h := range hosts {
			if failed[h.Name] {
				continue
			}
			if ran[h.Name] == nil {
				ran[h.Name] = make(map[string]bool)
			}
			if ran[h.Name][handler.Name] {
				continue
			}

			s.mu.Lock()
			fired := false
			if notifiedSet := s.notified[h.Name]; notifiedSet != nil {
				for topic := range topics {
					if notifiedSet[topic] {
						fired = true
						break
					}
				}
			}
			s.mu.Unlock()
			if !fired {
				continue
			}

			ran[h.Name][handler.Name] = true
			if s.metrics != nil {
				s.metrics.RecordHandlerExecuted(handler.Name)
			}
			results, err := s.exec.RunTask(ctx, handler, h, s.connector)
			if err != nil {
				now := types.GetCurrentTime()
				results = []types.Result{{
					Status: types.StatusFailed, Success: false, Host: h.Name,
					TaskName: handler.Name, Error: err, Message: err.Error(),
					Data: map[string]interface{}{}, StartTime: now, EndTime: now,
				}}
			}
			*out = append(*out, results...)
			if anyUnignoredFailure(results, handler.IgnoreErrors) {
				failed[h.Name] = true
			}
		}
	}
}

// batchHosts partitions hosts per serial into one or more ordered batches;
// SerialNone produces a single batch containing every host.
func batchHosts(hosts []types.Host, serial types.SerialSpec) [][]types.Host {
	total := len(hosts)
	if total == 0 {
		return nil
	}

	sizes := serialSizes(serial, total)
	var batches [][]types.Host
	i := 0
	lastSize := total
	for _, size := range sizes {
		if size <= 0 {
			size = 1
		}
		lastSize = size
		if i >= total {
			break
		}
		end := i + size
		if end > total {
			end = total
		}
		batches = append(batches, hosts[i:end])
		i = end
	}
	// Progressive lists (and a single fixed/percentage entry) reuse the
	// last batch's size for any remaining overflow hosts.
	for i < total {
		end := i + lastSize
		if end > total {
			end = total
		}
		batches = append(batches, hosts[i:end])
		i = end
	}
	return batches
}

func serialSizes(serial types.SerialSpec, total int) []int {
	switch serial.Kind {
	case types.SerialFixed:
		return []int{serial.Fixed}
	case types.SerialPercentage:
		return []int{percentSize(serial.Percent, total)}
	case types.SerialList:
		sizes := make([]int, 0, len(serial.Items))
		for _, item := range serial.Items {
			switch item.Kind {
			case types.SerialFixed:
				sizes = append(sizes, item.Fixed)
			case types.SerialPercentage:
				sizes = append(sizes, percentSize(item.Percent, total))
			default:
				sizes = append(sizes, total)
			}
		}
		return sizes
	default: // SerialNone
		return []int{total}
	}
}

func percentSize(percent float64, total int) int {
	size := int(math.Ceil(percent / 100 * float64(total)))
	if size < 1 {
		size = 1
	}
	return size
}
