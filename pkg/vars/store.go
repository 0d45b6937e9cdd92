// Package vars implements the layered Variable & Fact Store (C1): per-host
// scope resolution, fact gathering, and snapshot flattening for template
// rendering.
package vars

import (
	"sync"
	"sync/atomic"

	"github.com/gosible-labs/fleetforge/pkg/types"
)

// Scope names one of the thirteen named precedence layers of spec §3.
type Scope string

// Precedence layers, lowest to highest. Order matches spec §3 exactly.
const (
	ScopeRoleDefaults      Scope = "role_defaults"
	ScopeInventoryGroupVars Scope = "inventory_group_vars"
	ScopeInventoryHostVars  Scope = "inventory_host_vars"
	ScopePlaybookGroupVars  Scope = "playbook_group_vars"
	ScopePlaybookHostVars   Scope = "playbook_host_vars"
	ScopeFacts             Scope = "facts"
	ScopePlayVars          Scope = "play_vars"
	ScopeBlockVars         Scope = "block_vars"
	ScopeRoleVars          Scope = "role_vars"
	ScopeTaskVars          Scope = "task_vars"
	ScopeRegistered        Scope = "registered"
	ScopeSetFact           Scope = "set_fact"
	ScopeExtraVars         Scope = "extra_vars"
)

// scopeOrder lists scopes from lowest to highest precedence; its index is
// used directly as the precedence rank.
var scopeOrder = []Scope{
	ScopeRoleDefaults,
	ScopeInventoryGroupVars,
	ScopeInventoryHostVars,
	ScopePlaybookGroupVars,
	ScopePlaybookHostVars,
	ScopeFacts,
	ScopePlayVars,
	ScopeBlockVars,
	ScopeRoleVars,
	ScopeTaskVars,
	ScopeRegistered,
	ScopeSetFact,
	ScopeExtraVars,
)

// IsValidScope reports whether s is one of the thirteen named scopes.
func IsValidScope(s Scope) bool {
	for _, candidate := range scopeOrder {
		if candidate == s {
			return true
		}
	}
	return false
}

// hostState holds every per-host scope map, guarded by its own lock so that
// concurrent writes to different hosts never contend (spec §5: "writes are
// per-host and must be serialized per host").
type hostState struct {
	mu     sync.RWMutex
	scopes map[Scope]map[string]interface{}
}

func newHostState() *hostState {
	return &hostState{scopes: make(map[Scope]map[string]interface{})}
}

func (h *hostState) get(key string) (interface{}, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	// Walk from highest to lowest precedence; first hit wins.
	for i := len(scopeOrder) - 1; i >= 0; i-- {
		if scopeOrder[i] == ScopeExtraVars {
			continue // extra_vars is process-global, handled by Store.Get
		}
		m, ok := h.scopes[scopeOrder[i]]
		if !ok {
			continue
		}
		if v, ok := m[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func (h *hostState) set(scope Scope, key string, value interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.scopes[scope]
	if !ok {
		m = make(map[string]interface{})
		h.scopes[scope] = m
	}
	m[key] = value
}

func (h *hostState) setAll(scope Scope, values map[string]interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.scopes[scope]
	if !ok {
		m = make(map[string]interface{})
		h.scopes[scope] = m
	}
	for k, v := range values {
		m[k] = v
	}
}

func (h *hostState) flatten() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]interface{})
	for _, scope := range scopeOrder {
		if scope == ScopeExtraVars {
			continue
		}
		for k, v := range h.scopes[scope] {
			out[k] = v
		}
	}
	return out
}

// Store is the C1 layered Variable & Fact Store: one scope set per host plus
// one global extra_vars scope, frozen after Freeze() is called at startup
// (spec §4.1: "extra_vars is process-global and immutable after startup").
type Store struct {
	mu        sync.RWMutex
	hosts     map[string]*hostState
	extraVars map[string]interface{}
	frozen    atomic.Bool
	engine    types.TemplateEngine
}

// NewStore creates an empty Store. engine may be nil; Render then fails with
// a TemplateError rather than panicking.
func NewStore(engine types.TemplateEngine) *Store {
	return &Store{
		hosts:     make(map[string]*hostState),
		extraVars: make(map[string]interface{}),
		engine:    engine,
	}
}

func (s *Store) hostStateFor(host string) *hostState {
	s.mu.RLock()
	hs, ok := s.hosts[host]
	s.mu.RUnlock()
	if ok {
		return hs
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if hs, ok := s.hosts[host]; ok {
		return hs
	}
	hs = newHostState()
	s.hosts[host] = hs
	return hs
}

// Get returns the value from the highest-precedence scope defining key for
// host (spec §4.1's `get(host, key) -> Value?`).
func (s *Store) Get(host, key string) (interface{}, bool) {
	s.mu.RLock()
	if v, ok := s.extraVars[key]; ok {
		s.mu.RUnlock()
		return v, true
	}
	s.mu.RUnlock()
	return s.hostStateFor(host).get(key)
}

// Set writes value to the named scope for host (spec §4.1's `set`).
// extra_vars is process-global and rejected with ErrVaultLocked-style policy
// once Freeze has been called; passing ScopeExtraVars ignores host.
func (s *Store) Set(host, key string, value interface{}, scope Scope) error {
	if !IsValidScope(scope) {
		return types.NewValidationError("scope", scope, "unknown variable scope")
	}
	if scope == ScopeExtraVars {
		if s.frozen.Load() {
			return types.NewValidationError("extra_vars", key, "extra_vars is immutable after Freeze")
		}
		s.mu.Lock()
		s.extraVars[key] = value
		s.mu.Unlock()
		return nil
	}
	s.hostStateFor(host).set(scope, key, value)
	return nil
}

// SetAll writes the same scope's values for every host in hosts — used for
// play-scoped and block-scoped variables that apply uniformly across a
// batch.
func (s *Store) SetAll(hosts []string, scope Scope, values map[string]interface{}) error {
	if !IsValidScope(scope) || scope == ScopeExtraVars {
		return types.NewValidationError("scope", scope, "SetAll requires a per-host scope")
	}
	for _, host := range hosts {
		s.hostStateFor(host).setAll(scope, values)
	}
	return nil
}

// SetExtraVars bulk-loads the process-global extra_vars scope. Intended to
// be called once at startup, before Freeze.
func (s *Store) SetExtraVars(values map[string]interface{}) error {
	if s.frozen.Load() {
		return types.NewValidationError("extra_vars", nil, "extra_vars is immutable after Freeze")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.extraVars[k] = v
	}
	return nil
}

// Freeze seals extra_vars against further writes (spec §4.1).
func (s *Store) Freeze() {
	s.frozen.Store(true)
}

// Snapshot flattens all scopes for one host into a plain map, including the
// global extra_vars layer at its correct (highest) precedence.
func (s *Store) Snapshot(host string) map[string]interface{} {
	flat := s.hostStateFor(host).flatten()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, v := range s.extraVars {
		flat[k] = v
	}
	return flat
}

// Render resolves `{{ expr }}` constructs in template against snapshot,
// delegating to the configured template engine (spec §4.1's `render`).
func (s *Store) Render(template string, snapshot map[string]interface{}) (string, error) {
	if s.engine == nil {
		return "", types.NewTemplateError(template, 0, 0, "no template engine configured", nil)
	}
	return s.engine.Render(template, snapshot)
}

// RenderArgs templates every string value in args against host's snapshot,
// leaving non-string values untouched (spec §4.4 step 4: "Render args").
func (s *Store) RenderArgs(host string, args map[string]interface{}) (map[string]interface{}, error) {
	snapshot := s.Snapshot(host)
	rendered := make(map[string]interface{}, len(args))
	for k, v := range args {
		str, ok := v.(string)
		if !ok {
			rendered[k] = v
			continue
		}
		out, err := s.Render(str, snapshot)
		if err != nil {
			return nil, err
		}
		rendered[k] = out
	}
	return rendered, nil
}

// MergeVars merges two plain maps with proper last-write-wins precedence,
// recursing into nested maps. Kept for callers (e.g. role defaults loading)
// that need to combine maps before they ever reach a Store scope.
func MergeVars(base, override map[string]interface{}) map[string]interface{} {
	return types.DeepMergeInterfaceMaps(base, override)
}
