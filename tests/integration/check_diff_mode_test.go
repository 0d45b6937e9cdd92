package integration

import (
	"context"
	"testing"
	"time"

	"github.com/gosible-labs/fleetforge/pkg/connection"
	"github.com/gosible-labs/fleetforge/pkg/modules"
	"github.com/gosible-labs/fleetforge/pkg/parallel"
	"github.com/gosible-labs/fleetforge/pkg/task"
	"github.com/gosible-labs/fleetforge/pkg/template"
	"github.com/gosible-labs/fleetforge/pkg/types"
	"github.com/gosible-labs/fleetforge/pkg/vars"
)

// localConnector resolves every host to a local transport; these tests
// exercise check/diff plumbing, not a real remote connection.
type localConnector struct{}

func (localConnector) ConnectionInfo(string) (types.ConnectionInfo, error) {
	return types.ConnectionInfo{Type: "local", Host: "localhost", Timeout: 5 * time.Second}, nil
}

func newCheckModeExecutor(t *testing.T, extra ...types.Module) *task.Executor {
	t.Helper()
	registry := modules.NewModuleRegistry()
	for _, m := range extra {
		if err := registry.RegisterModule(m); err != nil {
			t.Fatalf("register module %s: %v", m.Name(), err)
		}
	}
	pool := connection.NewPool(connection.DefaultConnectionPoolConfig())
	t.Cleanup(func() { pool.Close() })
	store := vars.NewStore(template.NewEngine())
	par := parallel.NewManager(parallel.Config{})
	return task.NewExecutor(registry, pool, store, par)
}

// probeModule is a module used only to exercise the check/diff contract
// every real module (pkg/modules) is built against.
type probeModule struct {
	*modules.BaseModule
}

func newProbeModule() *probeModule {
	base := modules.NewBaseModule("probe", types.ModuleDoc{
		Name:        "probe",
		Description: "exercises check and diff mode plumbing",
	})
	base.SetCapabilities(&types.ModuleCapability{
		CheckMode: true,
		DiffMode:  true,
		Platform:  "all",
	})
	return &probeModule{BaseModule: base}
}

func (m *probeModule) Validate(args map[string]interface{}) error {
	return m.ValidateRequired(args, []string{"content"})
}

func (m *probeModule) Run(ctx context.Context, conn types.Connection, args map[string]interface{}) (*types.Result, error) {
	host := m.GetHostFromConnection(conn)
	content := m.GetStringArg(args, "content", "")

	if m.CheckMode(args) {
		result := m.CreateCheckModeResult(host, true, "would update content", map[string]interface{}{
			"content": content,
		})
		if m.DiffMode(args) {
			result.Diff = m.GenerateDiff("old content", content)
		}
		return result, nil
	}

	result := m.CreateSuccessResult(host, true, "content updated", map[string]interface{}{
		"content": content,
	})
	if m.DiffMode(args) {
		result.Diff = m.GenerateDiff("old content", content)
	}
	return result, nil
}

// noCheckModule never reports check/diff capability, exercising the
// skip-in-check-mode path a non-idempotent module takes.
type noCheckModule struct {
	*modules.BaseModule
}

func (m *noCheckModule) Run(ctx context.Context, conn types.Connection, args map[string]interface{}) (*types.Result, error) {
	host := m.GetHostFromConnection(conn)
	return m.CreateSuccessResult(host, false, "ran", nil), nil
}

func (m *noCheckModule) Validate(map[string]interface{}) error { return nil }

func runProbeTask(t *testing.T, checkMode, diffMode bool) types.Result {
	t.Helper()
	e := newCheckModeExecutor(t, newProbeModule())

	host := types.Host{Name: "localhost", Address: "localhost"}
	tsk := &types.Task{
		Name:      "probe",
		Module:    types.ModuleType("probe"),
		Args:      map[string]interface{}{"content": "new content"},
		CheckMode: checkMode,
		DiffMode:  diffMode,
	}

	results, err := e.RunTask(context.Background(), tsk, host, localConnector{})
	if err != nil {
		t.Fatalf("task execution failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	return results[0]
}

func TestCheckMode_NormalExecution(t *testing.T) {
	result := runProbeTask(t, false, false)
	if !result.Success {
		t.Error("expected success")
	}
	if !result.Changed {
		t.Error("expected changed=true")
	}
	if result.Simulated {
		t.Error("expected simulated=false outside check mode")
	}
}

func TestCheckMode_CheckModeOnly(t *testing.T) {
	result := runProbeTask(t, true, false)
	if !result.Success {
		t.Error("expected success")
	}
	if !result.Changed {
		t.Error("expected changed=true in check mode when would change")
	}
	if !result.Simulated {
		t.Error("expected simulated=true in check mode")
	}
	if result.Data["check_mode"] != true {
		t.Error("expected check_mode=true in data")
	}
	if result.Data["would_change"] != true {
		t.Error("expected would_change=true in data")
	}
}

func TestCheckMode_DiffModeOnly(t *testing.T) {
	result := runProbeTask(t, false, true)
	if !result.Success {
		t.Error("expected success")
	}
	if result.Diff == nil {
		t.Fatal("expected diff to be present")
	}
	if result.Diff.Before != "old content" {
		t.Errorf("expected diff.Before=%q, got %q", "old content", result.Diff.Before)
	}
	if result.Diff.After != "new content" {
		t.Errorf("expected diff.After=%q, got %q", "new content", result.Diff.After)
	}
	if !result.Diff.Prepared {
		t.Error("expected diff.Prepared=true")
	}
}

func TestCheckMode_CheckAndDiffTogether(t *testing.T) {
	result := runProbeTask(t, true, true)
	if !result.Success {
		t.Error("expected success")
	}
	if !result.Simulated {
		t.Error("expected simulated=true in check mode")
	}
	if result.Diff == nil {
		t.Error("expected diff to be present")
	}
	if result.Data["check_mode"] != true {
		t.Error("expected check_mode=true in data")
	}
}

// TestModuleWithoutCheckSupport exercises a module that never opts into
// check mode: the engine must still report something sane rather than
// silently running destructive work during a dry run.
func TestModuleWithoutCheckSupport(t *testing.T) {
	base := modules.NewBaseModule("no_check", types.ModuleDoc{
		Name:        "no_check",
		Description: "module without check mode support",
	})
	base.SetCapabilities(&types.ModuleCapability{
		CheckMode: false,
		DiffMode:  false,
		Platform:  "all",
	})

	e := newCheckModeExecutor(t, &noCheckModule{BaseModule: base})

	host := types.Host{Name: "localhost", Address: "localhost"}
	tsk := &types.Task{
		Name:      "no check support",
		Module:    types.ModuleType("no_check"),
		Args:      map[string]interface{}{},
		CheckMode: true,
	}

	results, err := e.RunTask(context.Background(), tsk, host, localConnector{})
	if err != nil {
		t.Fatalf("task execution failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	result := results[0]
	if !result.Success {
		t.Error("expected success (module should be skipped)")
	}
	if result.Changed {
		t.Error("expected changed=false for skipped module")
	}
	if !result.Simulated {
		t.Error("expected simulated=true for skipped module in check mode")
	}
	if result.Data["skipped"] != true {
		t.Error("expected skipped=true in data")
	}
	if result.Data["reason"] != "module_no_check_support" {
		t.Errorf("expected reason=module_no_check_support, got %v", result.Data["reason"])
	}
}
