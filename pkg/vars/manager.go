package vars

import (
	"context"

	"github.com/gosible-labs/fleetforge/pkg/types"
)

// defaultHost is the implicit host key used by VarManager, the
// single-host-context adapter kept for callers that predate the full
// per-host Store (ad-hoc module tests, scripts, the CLI's `ping` and
// `list-hosts` commands) and only ever need one flat variable namespace.
const defaultHost = "__default__"

// VarManager adapts Store to the simpler types.VarManager contract: a flat
// set/get namespace with no host argument. SetVar writes to set_fact (the
// highest per-host precedence layer below extra_vars), matching the
// teacher's "most recently set wins" semantics.
type VarManager struct {
	store *Store
}

// NewVarManager creates a VarManager backed by a fresh, unshared Store.
func NewVarManager() *VarManager {
	return &VarManager{store: NewStore(nil)}
}

// NewVarManagerFromStore adapts an existing Store, so a VarManager and the
// full per-host API can share state for a single host.
func NewVarManagerFromStore(store *Store) *VarManager {
	return &VarManager{store: store}
}

// SetVar sets a variable.
func (vm *VarManager) SetVar(key string, value interface{}) {
	_ = vm.store.Set(defaultHost, key, value, ScopeSetFact)
}

// GetVar gets a variable.
func (vm *VarManager) GetVar(key string) (interface{}, bool) {
	return vm.store.Get(defaultHost, key)
}

// SetVars sets multiple variables.
func (vm *VarManager) SetVars(values map[string]interface{}) {
	_ = vm.store.SetAll([]string{defaultHost}, ScopeSetFact, values)
}

// GetVars returns all variables visible for the default host.
func (vm *VarManager) GetVars() map[string]interface{} {
	return vm.store.Snapshot(defaultHost)
}

// GatherFacts collects system facts from conn and records them under the
// facts scope for the default host, then returns them.
func (vm *VarManager) GatherFacts(ctx context.Context, conn types.Connection) (map[string]interface{}, error) {
	facts, err := GatherFacts(ctx, conn)
	if err != nil {
		return nil, err
	}
	_ = vm.store.SetAll([]string{defaultHost}, ScopeFacts, facts)
	return facts, nil
}

// MergeVars merges variables with proper precedence (override wins).
func (vm *VarManager) MergeVars(base, override map[string]interface{}) map[string]interface{} {
	return MergeVars(base, override)
}

var _ types.VarManager = (*VarManager)(nil)
