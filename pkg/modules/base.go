package modules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gosible-labs/fleetforge/pkg/types"
)

// noopLogger discards everything; it's the default until a registry attaches
// a real one via SetLogger.
type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}

// BaseModule provides common functionality for all modules
type BaseModule struct {
	name           string
	doc            types.ModuleDoc
	classification types.ModuleClassification
	parallelHint   types.ParallelHint
	logger         types.Logger
	capabilities   *types.ModuleCapability
}

// SetLogger attaches the logger used by LogDebug/LogInfo/LogWarn/LogError.
// Intended to be called once at registration time, before the module is
// shared across concurrent task executions; it is not safe to call
// concurrently with a running module.
func (m *BaseModule) SetLogger(l types.Logger) {
	if l == nil {
		l = noopLogger{}
	}
	m.logger = l
}

// classificationTable assigns the dispatch classification and default
// concurrency hint for each built-in module name, per the module taxonomy:
// local-only modules run in-process, native-transport modules translate
// directly into file-transfer/stat primitives on the connection, and
// everything else runs by shelling a command out over the connection.
var classificationTable = map[string]struct {
	classification types.ModuleClassification
	hint           types.ParallelHint
}{
	"debug":     {types.ClassLocalLogic, types.HintFullyParallel},
	"setup":     {types.ClassLocalLogic, types.HintFullyParallel},
	"ping":      {types.ClassLocalLogic, types.HintFullyParallel},
	"copy":      {types.ClassNativeTransport, types.HintFullyParallel},
	"file":      {types.ClassNativeTransport, types.HintFullyParallel},
	"template":  {types.ClassNativeTransport, types.HintFullyParallel},
	"fetch":     {types.ClassNativeTransport, types.HintFullyParallel},
	"command":   {types.ClassRemoteCommand, types.HintFullyParallel},
	"shell":     {types.ClassRemoteCommand, types.HintFullyParallel},
	"service":   {types.ClassFallback, types.HintHostExclusive},
	"systemd":   {types.ClassFallback, types.HintHostExclusive},
	"package":   {types.ClassFallback, types.HintHostExclusive},
	"apt":       {types.ClassFallback, types.HintHostExclusive},
	"yum":       {types.ClassFallback, types.HintHostExclusive},
	"dnf":       {types.ClassFallback, types.HintHostExclusive},
	"pip":       {types.ClassFallback, types.HintHostExclusive},
	"npm":       {types.ClassFallback, types.HintHostExclusive},
	"gem":       {types.ClassFallback, types.HintHostExclusive},
	"homebrew":  {types.ClassFallback, types.HintHostExclusive},
	"user":      {types.ClassFallback, types.HintHostExclusive},
	"group":     {types.ClassFallback, types.HintHostExclusive},
	"cron":      {types.ClassFallback, types.HintHostExclusive},
	"mount":     {types.ClassFallback, types.HintHostExclusive},
	"sysctl":    {types.ClassFallback, types.HintHostExclusive},
	"iptables":  {types.ClassFallback, types.HintGlobalExclusive},
	"lineinfile": {types.ClassRemoteCommand, types.HintFullyParallel},
	"blockinfile": {types.ClassRemoteCommand, types.HintFullyParallel},
	"replace":   {types.ClassRemoteCommand, types.HintFullyParallel},
	"ini_file":  {types.ClassRemoteCommand, types.HintFullyParallel},
	"xml":       {types.ClassRemoteCommand, types.HintFullyParallel},
	"archive":   {types.ClassFallback, types.HintHostExclusive},
	"unarchive": {types.ClassFallback, types.HintHostExclusive},
	"repository": {types.ClassFallback, types.HintHostExclusive},
}

// classifyByName looks up a module's classification/hint, defaulting to
// Fallback/HostExclusive for anything not in the table: unknown modules
// are assumed to mutate host state and so serialize per host until proven
// otherwise.
func classifyByName(name string) (types.ModuleClassification, types.ParallelHint) {
	if entry, ok := classificationTable[name]; ok {
		return entry.classification, entry.hint
	}
	return types.ClassFallback, types.HintHostExclusive
}

// NewBaseModule creates a new base module, inferring its classification and
// parallelization hint from its name.
func NewBaseModule(name string, doc types.ModuleDoc) *BaseModule {
	classification, hint := classifyByName(name)
	return &BaseModule{
		name:           name,
		doc:            doc,
		classification: classification,
		parallelHint:   hint,
		logger:         noopLogger{},
		capabilities:   types.DefaultCapabilities(),
	}
}

// NewBaseModuleWithClassification creates a base module with an explicit
// classification and hint, overriding the name-based default.
func NewBaseModuleWithClassification(name string, doc types.ModuleDoc, classification types.ModuleClassification, hint types.ParallelHint) *BaseModule {
	return &BaseModule{
		name:           name,
		doc:            doc,
		classification: classification,
		parallelHint:   hint,
		logger:         noopLogger{},
	}
}

// Name returns the module name
func (m *BaseModule) Name() string {
	return m.name
}

// Classification reports the module's dispatch classification.
func (m *BaseModule) Classification() types.ModuleClassification {
	return m.classification
}

// ParallelizationHint reports this module's default concurrency hint.
func (m *BaseModule) ParallelizationHint() types.ParallelHint {
	return m.parallelHint
}

// Documentation returns module documentation
func (m *BaseModule) Documentation() types.ModuleDoc {
	return m.doc
}

// Capabilities reports what this module supports, defaulting to
// types.DefaultCapabilities() until a constructor calls SetCapabilities.
func (m *BaseModule) Capabilities() *types.ModuleCapability {
	if m.capabilities == nil {
		return types.DefaultCapabilities()
	}
	return m.capabilities
}

// SetCapabilities overrides the module's declared capabilities. Intended to
// be called once from a concrete module's constructor.
func (m *BaseModule) SetCapabilities(caps *types.ModuleCapability) {
	m.capabilities = caps
}

// ValidateRequired validates that required parameters are present
func (m *BaseModule) ValidateRequired(args map[string]interface{}, required []string) error {
	return types.ValidateRequiredFields(args, required)
}

// ValidateTypes validates parameter types
func (m *BaseModule) ValidateTypes(args map[string]interface{}, fieldTypes map[string]string) error {
	return types.ValidateFieldTypes(args, fieldTypes)
}

// GetStringArg gets a string argument with optional default
func (m *BaseModule) GetStringArg(args map[string]interface{}, key string, defaultValue string) string {
	if value, exists := args[key]; exists {
		return types.ConvertToString(value)
	}
	return defaultValue
}

// GetBoolArg gets a boolean argument with optional default
func (m *BaseModule) GetBoolArg(args map[string]interface{}, key string, defaultValue bool) bool {
	if value, exists := args[key]; exists {
		return types.ConvertToBool(value)
	}
	return defaultValue
}

// GetIntArg gets an integer argument with optional default
func (m *BaseModule) GetIntArg(args map[string]interface{}, key string, defaultValue int) (int, error) {
	if value, exists := args[key]; exists {
		return types.ConvertToInt(value)
	}
	return defaultValue, nil
}

// GetMapArg gets a map argument
func (m *BaseModule) GetMapArg(args map[string]interface{}, key string) map[string]interface{} {
	if value, exists := args[key]; exists {
		if mapValue, ok := value.(map[string]interface{}); ok {
			return mapValue
		}
	}
	return nil
}

// GetSliceArg gets a slice argument
func (m *BaseModule) GetSliceArg(args map[string]interface{}, key string) []interface{} {
	if value, exists := args[key]; exists {
		if sliceValue, ok := value.([]interface{}); ok {
			return sliceValue
		}
		// Handle single value as slice
		return []interface{}{value}
	}
	return nil
}

// CreateResult creates a standardized module result
func (m *BaseModule) CreateResult(host string, success bool, changed bool, message string, data map[string]interface{}, err error) *types.Result {
	now := time.Now()
	result := &types.Result{
		Host:       host,
		Success:    success,
		Changed:    changed,
		Message:    message,
		Data:       data,
		Error:      err,
		StartTime:  now,
		EndTime:    now,
		Duration:   0,
		ModuleName: m.name,
	}

	if data == nil {
		result.Data = make(map[string]interface{})
	}

	return result
}

// CreateSuccessResult creates a successful result
func (m *BaseModule) CreateSuccessResult(host string, changed bool, message string, data map[string]interface{}) *types.Result {
	return m.CreateResult(host, true, changed, message, data, nil)
}

// CreateFailureResult creates a failed result
func (m *BaseModule) CreateFailureResult(host string, message string, err error, data map[string]interface{}) *types.Result {
	return m.CreateResult(host, false, false, message, data, err)
}

// CreateErrorResult creates an error result with module error
func (m *BaseModule) CreateErrorResult(host string, message string, err error) *types.Result {
	moduleErr := types.NewModuleError(m.name, host, message, err)
	return m.CreateResult(host, false, false, message, nil, moduleErr)
}

// ExecuteWithTiming wraps execution with timing information
func (m *BaseModule) ExecuteWithTiming(ctx context.Context, conn types.Connection, args map[string]interface{}, executeFunc func() (*types.Result, error)) (*types.Result, error) {
	startTime := time.Now()

	result, err := executeFunc()
	if err != nil {
		return result, err
	}

	endTime := time.Now()
	if result != nil {
		result.StartTime = startTime
		result.EndTime = endTime
		result.Duration = endTime.Sub(startTime)
	}

	return result, nil
}

// CheckMode determines if the module is running in check mode. Only a bool
// _check_mode counts; a value of any other type is treated as unset.
func (m *BaseModule) CheckMode(args map[string]interface{}) bool {
	checkMode, ok := args["_check_mode"].(bool)
	return ok && checkMode
}

// DiffMode determines if the module should show diffs
func (m *BaseModule) DiffMode(args map[string]interface{}) bool {
	return m.GetBoolArg(args, "_diff", false)
}

// ExpandPath expands variables in a file path
func (m *BaseModule) ExpandPath(path string, vars map[string]interface{}) string {
	if vars == nil {
		return path
	}
	return types.ExpandVariables(path, vars)
}

// ValidateChoices validates that a parameter value is within allowed choices
func (m *BaseModule) ValidateChoices(args map[string]interface{}, param string, choices []string) error {
	if value, exists := args[param]; exists {
		strValue := types.ConvertToString(value)
		for _, choice := range choices {
			if strValue == choice {
				return nil
			}
		}
		return types.NewValidationError(param, value, fmt.Sprintf("value must be one of: %v", choices))
	}
	return nil
}

// ValidatePath validates and sanitizes a file path
func (m *BaseModule) ValidatePath(path string) (string, error) {
	if path == "" {
		return "", types.NewValidationError("path", path, "path cannot be empty")
	}

	sanitized := types.SanitizePath(path)
	if sanitized == "" {
		return "", types.NewValidationError("path", path, "invalid path")
	}

	return sanitized, nil
}

// GetHostFromConnection extracts host information from connection
func (m *BaseModule) GetHostFromConnection(conn types.Connection) string {
	// Try to get hostname from connection if it implements additional methods
	if hostProvider, ok := conn.(interface{ GetHostname() (string, error) }); ok {
		if hostname, err := hostProvider.GetHostname(); err == nil {
			return hostname
		}
	}

	// Fallback to a default value
	return "unknown"
}

// HandleTimeout handles command timeouts
func (m *BaseModule) HandleTimeout(ctx context.Context, timeout time.Duration, operation func(context.Context) (*types.Result, error)) (*types.Result, error) {
	if timeout > 0 {
		timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return operation(timeoutCtx)
	}
	return operation(ctx)
}

// log returns the attached logger, falling back to a no-op for modules
// constructed as a bare BaseModule{} literal without going through
// NewBaseModule or SetLogger.
func (m *BaseModule) log() types.Logger {
	if m.logger == nil {
		return noopLogger{}
	}
	return m.logger
}

// LogDebug logs debug information via the attached logger (see SetLogger).
func (m *BaseModule) LogDebug(message string, args ...interface{}) {
	m.log().Debug(fmt.Sprintf(message, args...))
}

// LogInfo logs informational messages via the attached logger.
func (m *BaseModule) LogInfo(message string, args ...interface{}) {
	m.log().Info(fmt.Sprintf(message, args...))
}

// LogWarn logs warning messages via the attached logger.
func (m *BaseModule) LogWarn(message string, args ...interface{}) {
	m.log().Warn(fmt.Sprintf(message, args...))
}

// LogError logs error messages via the attached logger.
func (m *BaseModule) LogError(message string, args ...interface{}) {
	m.log().Error(fmt.Sprintf(message, args...))
}

// ParseStateString parses state strings (present, absent, latest, etc.)
func (m *BaseModule) ParseStateString(state string) string {
	switch state {
	case "present", "installed", "enabled", "started", "running":
		return "present"
	case "absent", "removed", "uninstalled", "disabled", "stopped":
		return "absent"
	case "latest", "updated":
		return "latest"
	case "restarted", "reloaded":
		return state
	default:
		return "present" // default state
	}
}

// IsTruthy checks if a value is truthy (useful for conditions)
func (m *BaseModule) IsTruthy(value interface{}) bool {
	if value == nil {
		return false
	}
	return types.ConvertToBool(value)
}

// CreateCheckModeResult creates a result describing what a module would have
// done, without applying it. changed reports whether the module determined
// it would have made a change.
func (m *BaseModule) CreateCheckModeResult(host string, changed bool, message string, data map[string]interface{}) *types.Result {
	result := m.CreateSuccessResult(host, changed, message, data)
	result.Simulated = true
	result.Data["check_mode"] = true
	result.Data["would_change"] = changed
	return result
}

// GenerateDiff builds a DiffResult from a before/after pair, or nil when the
// two are identical (nothing to show).
func (m *BaseModule) GenerateDiff(before, after string) *types.DiffResult {
	if before == after {
		return nil
	}
	return &types.DiffResult{
		Before:      before,
		After:       after,
		BeforeLines: strings.Split(before, "\n"),
		AfterLines:  strings.Split(after, "\n"),
		Prepared:    true,
	}
}

// RunWithModes injects the check/diff mode flags opts carries into args
// (the same _check_mode/_diff keys pkg/task.Executor injects from
// types.Task.CheckMode/DiffMode) before invoking module.Run, so a module
// driven directly in tests sees the same contract the full engine gives it.
// It skips the call entirely when CheckMode is requested but the module's
// declared capabilities don't support it, returning a Simulated no-op
// instead of letting an unsafe module run for real during a dry run.
func (m *BaseModule) RunWithModes(ctx context.Context, module types.Module, conn types.Connection, args map[string]interface{}, opts types.ExecuteOptions) (*types.Result, error) {
	caps := m.Capabilities()

	if opts.CheckMode && !caps.CheckMode {
		result := m.CreateSuccessResult(m.GetHostFromConnection(conn), false, "skipped: module does not support check mode", map[string]interface{}{
			"skipped": true,
			"reason":  "module_no_check_support",
		})
		result.Simulated = true
		return result, nil
	}

	if opts.CheckMode {
		args["_check_mode"] = true
	}
	if opts.DiffMode && caps.DiffMode {
		args["_diff"] = true
	}

	return module.Run(ctx, conn, args)
}

// Retry executes an operation with retries
func (m *BaseModule) Retry(ctx context.Context, maxRetries int, backoff time.Duration, operation func() (*types.Result, error)) (*types.Result, error) {
	var lastResult *types.Result
	var lastError error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
				// Continue with retry
			case <-ctx.Done():
				return lastResult, ctx.Err()
			}
		}

		result, err := operation()
		if err == nil && result != nil && result.Success {
			return result, nil
		}

		lastResult = result
		lastError = err
		m.LogDebug("Module retry attempt %d/%d failed", attempt+1, maxRetries+1)
	}

	return lastResult, lastError
}