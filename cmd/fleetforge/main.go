package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gosible-labs/fleetforge/pkg/callback"
	"github.com/gosible-labs/fleetforge/pkg/config"
	"github.com/gosible-labs/fleetforge/pkg/connection"
	"github.com/gosible-labs/fleetforge/pkg/inventory"
	"github.com/gosible-labs/fleetforge/pkg/metrics"
	"github.com/gosible-labs/fleetforge/pkg/modules"
	"github.com/gosible-labs/fleetforge/pkg/parallel"
	"github.com/gosible-labs/fleetforge/pkg/playbook"
	"github.com/gosible-labs/fleetforge/pkg/roles"
	"github.com/gosible-labs/fleetforge/pkg/scheduler"
	"github.com/gosible-labs/fleetforge/pkg/task"
	"github.com/gosible-labs/fleetforge/pkg/template"
	"github.com/gosible-labs/fleetforge/pkg/types"
	"github.com/gosible-labs/fleetforge/pkg/vars"
	"github.com/gosible-labs/fleetforge/pkg/vault"
	"github.com/gosible-labs/fleetforge/pkg/websocket"
)

var (
	version = "1.0.0"
	commit  = "unknown"
	date    = "unknown"
)

// Global flags shared across every subcommand.
var (
	inventoryFile     string
	hostsPattern      string
	rolesPath         string
	verbose           bool
	configFile        string
	vaultPasswordFile string
	metricsAddr       string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fleetforge",
	Short:   "FleetForge - Ansible-compatible automation engine",
	Long:    "FleetForge drives playbooks and ad-hoc modules across a fleet of hosts over SSH, WinRM, or local connections.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if forksFlag := cmd.Flags().Lookup("forks"); forksFlag != nil && !forksFlag.Changed {
			if forks := cfg.GetInt("forks"); forks > 0 {
				optForks = forks
			}
		}
		return nil
	},
}

// loadConfig builds the layered configuration (defaults, optional --config
// file or the default search paths, environment) used to seed CLI flag
// defaults that the user did not explicitly override.
func loadConfig() *config.Config {
	cfg := config.NewConfig()
	if configFile != "" {
		if err := cfg.Load(configFile); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load config file %s: %v\n", configFile, err)
		}
	} else if err := cfg.LoadFromDefaultPaths(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to load config: %v\n", err)
	}
	return cfg
}

// loadVaultManager builds a vault.Manager from --vault-password-file, or nil
// if the flag was not set.
func loadVaultManager() (*vault.Manager, error) {
	if vaultPasswordFile == "" {
		return nil, nil
	}
	mgr := vault.NewManager()
	if err := mgr.AddVaultFromFile(vault.DefaultVaultIDLabel, vaultPasswordFile); err != nil {
		return nil, fmt.Errorf("loading vault password file: %w", err)
	}
	return mgr, nil
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("FleetForge version %s (commit: %s, built: %s)\n", version, commit, date))

	rootCmd.PersistentFlags().StringVarP(&inventoryFile, "inventory", "i", "", "inventory file (required)")
	rootCmd.PersistentFlags().StringVar(&hostsPattern, "hosts", "all", "host pattern to match")
	rootCmd.PersistentFlags().StringVar(&rolesPath, "roles-path", "roles", "comma-separated role search paths")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (defaults, see pkg/config.GetConfigPaths)")
	rootCmd.PersistentFlags().StringVar(&vaultPasswordFile, "vault-password-file", "", "file holding the password for Ansible Vault-encrypted strings")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.MarkPersistentFlagRequired("inventory")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(listHostsCmd)
	rootCmd.AddCommand(modulesCmd)
}

var (
	optCheck      bool
	optDiff       bool
	optListTasks  bool
	optBecome     bool
	optBecomeUser string
	optForks      int
	optExtraVars  string
	optStreamAddr string
)

var runCmd = &cobra.Command{
	Use:   "run PLAYBOOK",
	Short: "Execute a playbook against the inventory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inv, err := loadInventory(inventoryFile)
		if err != nil {
			return fmt.Errorf("failed to load inventory: %w", err)
		}
		vaultMgr, err := loadVaultManager()
		if err != nil {
			return err
		}

		extraVars := buildExtraVars()
		return runPlaybook(cmd.Context(), args[0], inv, vaultMgr, extraVars, optListTasks, verbose)
	},
}

func init() {
	runCmd.Flags().BoolVar(&optCheck, "check", false, "run in check mode (dry run)")
	runCmd.Flags().BoolVar(&optDiff, "diff", false, "show differences")
	runCmd.Flags().BoolVar(&optListTasks, "list-tasks", false, "list tasks in playbook and exit")
	runCmd.Flags().BoolVarP(&optBecome, "become", "b", false, "run with become (sudo)")
	runCmd.Flags().StringVar(&optBecomeUser, "become-user", "root", "user to become")
	runCmd.Flags().IntVarP(&optForks, "forks", "f", 5, "number of parallel processes")
	runCmd.Flags().StringVarP(&optExtraVars, "extra-vars", "e", "", "extra variables (key=value pairs or @file.yml)")
	runCmd.Flags().StringVar(&optStreamAddr, "stream-addr", "", "if set, serve a /ws websocket stream of run events on this address (e.g. :8089)")
}

var execCmd = &cobra.Command{
	Use:   "exec MODULE",
	Short: "Run an ad-hoc module against the inventory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inv, err := loadInventory(inventoryFile)
		if err != nil {
			return fmt.Errorf("failed to load inventory: %w", err)
		}
		vaultMgr, err := loadVaultManager()
		if err != nil {
			return err
		}

		extraVars := buildExtraVars()
		return runAdHoc(cmd.Context(), args[0], hostsPattern, inv, vaultMgr, extraVars, verbose)
	},
}

var moduleArgsFlag string

func init() {
	execCmd.Flags().StringVarP(&moduleArgsFlag, "args", "a", "", "module arguments (key=value pairs)")
	execCmd.Flags().StringVarP(&optExtraVars, "extra-vars", "e", "", "extra variables (key=value pairs or @file.yml)")
	execCmd.Flags().IntVarP(&optForks, "forks", "f", 5, "number of parallel processes")
}

var listHostsCmd = &cobra.Command{
	Use:   "list-hosts",
	Short: "List hosts matching the host pattern",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		inv, err := loadInventory(inventoryFile)
		if err != nil {
			return fmt.Errorf("failed to load inventory: %w", err)
		}

		matchedHosts, err := inv.GetHosts(hostsPattern)
		if err != nil {
			return fmt.Errorf("failed to get hosts: %w", err)
		}

		fmt.Printf("Matched hosts (%d):\n", len(matchedHosts))
		for _, host := range matchedHosts {
			fmt.Printf("  %s\n", host.Name)
		}
		return nil
	},
}

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List built-in modules",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		showBuiltinModules()
	},
}

func buildExtraVars() map[string]interface{} {
	extraVars := make(map[string]interface{})
	if optExtraVars != "" {
		extraVars = parseExtraVars(optExtraVars)
	}
	return extraVars
}

// loadInventory loads inventory from a file
func loadInventory(filename string) (*inventory.StaticInventory, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file: %w", err)
	}

	inv, err := inventory.NewFromYAML(data)
	if err == nil {
		return inv, nil
	}

	return nil, fmt.Errorf("failed to parse inventory: %w", err)
}

// engine bundles the wired C1-C6 core (store, pool, scheduler) a single CLI
// invocation drives, plus its shutdown hook.
type engine struct {
	store *vars.Store
	pool  *connection.Pool
	sched *scheduler.Scheduler
}

// buildEngine wires one variable store, connection pool, module registry,
// parallelization manager and role manager into a scheduler, the same
// assembly pkg/scheduler's own tests perform, mirroring how the teacher's
// cmd/gosinble/main.go built one TaskRunner per invocation.
func buildEngine(inv *inventory.StaticInventory, forks int, vaultMgr *vault.Manager) *engine {
	registry := modules.NewModuleRegistry()
	pool := connection.NewPool(connection.DefaultConnectionPoolConfig())

	tmplEngine := template.NewEngine()
	if vaultMgr != nil {
		for name, fn := range vaultMgr.GetTemplateFilters() {
			if err := tmplEngine.AddFunction(name, fn); err != nil {
				fmt.Fprintf(os.Stderr, "warning: registering vault template filter %s: %v\n", name, err)
			}
		}
	}
	store := vars.NewStore(tmplEngine)

	par := parallel.NewManager(parallel.Config{})
	exec := task.NewExecutor(registry, pool, store, par)
	sched := scheduler.NewScheduler(exec, store, inv, inventoryConnector{inv: inv}, forks)

	var paths []string
	for _, p := range strings.Split(rolesPath, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	sched.SetRoleManager(roles.NewRoleManager(paths))

	m := metrics.Default()
	sched.SetMetrics(m)
	par.SetRecorder(m)

	return &engine{store: store, pool: pool, sched: sched}
}

func (e *engine) Close() {
	e.pool.Close()
}

// inventoryConnector adapts a StaticInventory into pkg/task.HostConnector,
// translating a Host's connection fields into the ConnectionInfo the
// connection layer (C2) needs to dial it.
type inventoryConnector struct {
	inv *inventory.StaticInventory
}

func (c inventoryConnector) ConnectionInfo(host string) (types.ConnectionInfo, error) {
	h, err := c.inv.GetHost(host)
	if err != nil {
		return types.ConnectionInfo{}, err
	}

	transport := string(h.Transport)
	if transport == "" {
		transport = string(types.TransportSSH)
	}

	port := h.Port
	if port == 0 {
		if types.TransportKind(transport) == types.TransportWinRM {
			port = 5985
		} else {
			port = 22
		}
	}

	return types.ConnectionInfo{
		Type:       transport,
		Host:       h.Address,
		Port:       port,
		User:       h.User,
		Password:   h.Password,
		PrivateKey: h.PrivateKey,
		Timeout:    30 * time.Second,
	}, nil
}

// seedInventoryVars loads every host's inventory-level variables into the
// store's inventory_group_vars/inventory_host_vars scopes (spec §3's
// lowest two inventory layers) before any play runs.
func seedInventoryVars(store *vars.Store, inv *inventory.StaticInventory) error {
	hosts, err := inv.GetHosts("all")
	if err != nil {
		return fmt.Errorf("resolving inventory hosts: %w", err)
	}
	for _, h := range hosts {
		groupVars := make(map[string]interface{})
		for _, g := range h.Groups {
			gv, err := inv.GetGroupVars(g)
			if err != nil {
				continue
			}
			groupVars = types.DeepMergeInterfaceMaps(groupVars, gv)
		}
		if len(groupVars) > 0 {
			if err := store.SetAll([]string{h.Name}, vars.ScopeInventoryGroupVars, groupVars); err != nil {
				return err
			}
		}

		hostVars := make(map[string]interface{})
		for k, v := range h.Variables {
			hostVars[k] = v
		}
		hostVars["inventory_hostname"] = h.Name
		hostVars["ansible_host"] = h.Address
		hostVars["ansible_port"] = h.Port
		if h.User != "" {
			hostVars["ansible_user"] = h.User
		}
		if err := store.SetAll([]string{h.Name}, vars.ScopeInventoryHostVars, hostVars); err != nil {
			return err
		}
	}
	return nil
}

// runPlaybook executes a playbook
func runPlaybook(ctx context.Context, filename string, inv *inventory.StaticInventory, vaultMgr *vault.Manager, extraVars map[string]interface{}, listTasks, verbose bool) error {
	pb, err := playbook.NewParser().ParseFile(filename)
	if err != nil {
		return fmt.Errorf("failed to parse playbook: %w", err)
	}

	if listTasks {
		fmt.Printf("Playbook: %s\n\n", filename)
		for i, play := range pb.Plays {
			fmt.Printf("Play #%d: %s\n", i+1, play.Name)
			fmt.Printf("  Hosts: %v\n", play.Hosts)
			fmt.Printf("  Tasks:\n")
			for j, item := range play.Tasks {
				if item.Task != nil {
					fmt.Printf("    %d. %s\n", j+1, item.Task.Name)
				} else if item.NestedBlock != nil {
					fmt.Printf("    %d. block: %s\n", j+1, item.NestedBlock.Name)
				}
			}
			fmt.Println()
		}
		return nil
	}

	for i := range pb.Plays {
		if optCheck {
			pb.Plays[i].CheckMode = true
		}
		if optDiff {
			pb.Plays[i].DiffMode = true
		}
		if optBecome {
			pb.Plays[i].Become = true
			pb.Plays[i].BecomeUser = optBecomeUser
		}
	}

	eng := buildEngine(inv, optForks, vaultMgr)
	defer eng.Close()

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
		defer metricsServer.Close()
		fmt.Printf("Serving Prometheus metrics on http://%s/metrics\n", metricsAddr)
	}

	if err := seedInventoryVars(eng.store, inv); err != nil {
		return fmt.Errorf("seeding inventory variables: %w", err)
	}
	if err := eng.store.SetExtraVars(extraVars); err != nil {
		return fmt.Errorf("applying extra vars: %w", err)
	}
	eng.store.Freeze()

	cbMgr := callback.NewCallbackManager()
	defaultCB := callback.NewDefaultCallback()
	defaultCB.SetOutput(os.Stdout)
	cbMgr.Register(defaultCB)
	cbMgr.Subscribe(eng.sched)

	if optStreamAddr != "" {
		streamServer := websocket.NewStreamServer()
		streamServer.Start()
		streamServer.Subscribe(eng.sched)
		defer streamServer.Stop()

		mux := http.NewServeMux()
		mux.HandleFunc("/ws", streamServer.HandleWebSocket)
		httpServer := &http.Server{Addr: optStreamAddr, Handler: mux}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "stream server error: %v\n", err)
			}
		}()
		defer httpServer.Close()
		fmt.Printf("Streaming run events on ws://%s/ws\n", optStreamAddr)
	}

	if verbose {
		fmt.Printf("Executing playbook: %s\n", filename)
		eng.sched.AddEventCallback(func(ev types.Event) {
			fmt.Printf("  [%s] play=%s host=%s task=%s\n", ev.Type, ev.Play, ev.Host, ev.Task)
		})
	}

	results, err := eng.sched.RunPlaybook(ctx, pb)
	cbMgr.OnRunnerEnd()
	if err != nil {
		return fmt.Errorf("playbook execution failed: %w", err)
	}

	displayResults(results, verbose)

	for _, result := range results {
		if !result.Success {
			return fmt.Errorf("playbook execution had failures")
		}
	}

	return nil
}

// runAdHoc executes an ad-hoc command
func runAdHoc(ctx context.Context, module, hostPattern string, inv *inventory.StaticInventory, vaultMgr *vault.Manager, extraVars map[string]interface{}, verbose bool) error {
	hosts, err := inv.GetHosts(hostPattern)
	if err != nil {
		return fmt.Errorf("failed to get hosts: %w", err)
	}

	if len(hosts) == 0 {
		return fmt.Errorf("no hosts matched pattern: %s", hostPattern)
	}

	moduleArgs := parseModuleArgs(moduleArgsFlag)

	adHocTask := &types.Task{
		Name:   fmt.Sprintf("Ad-hoc: %s", module),
		Module: types.ModuleType(module),
		Args:   moduleArgs,
	}

	eng := buildEngine(inv, optForks, vaultMgr)
	defer eng.Close()

	if err := seedInventoryVars(eng.store, inv); err != nil {
		return fmt.Errorf("seeding inventory variables: %w", err)
	}
	if err := eng.store.SetExtraVars(extraVars); err != nil {
		return fmt.Errorf("applying extra vars: %w", err)
	}
	eng.store.Freeze()

	adHocPlay := &types.Play{
		Name:  fmt.Sprintf("Ad-hoc: %s", module),
		Hosts: hostPattern,
		Tasks: []types.BlockItem{{Task: adHocTask}},
	}

	if verbose {
		fmt.Printf("Executing module '%s' on %d hosts\n", module, len(hosts))
	}

	results, err := eng.sched.RunPlay(ctx, adHocPlay)
	if err != nil {
		return fmt.Errorf("task execution failed: %w", err)
	}

	displayResults(results, verbose)

	for _, result := range results {
		if !result.Success {
			return fmt.Errorf("task execution had failures")
		}
	}

	return nil
}

// parseModuleArgs parses module arguments from string
func parseModuleArgs(args string) map[string]interface{} {
	result := make(map[string]interface{})

	if args == "" {
		return result
	}

	pairs := strings.Fields(args)
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			value = strings.Trim(value, "\"'")
			result[key] = value
		}
	}

	return result
}

// parseExtraVars parses extra variables
func parseExtraVars(vars string) map[string]interface{} {
	result := make(map[string]interface{})

	if strings.HasPrefix(vars, "@") {
		filename := vars[1:]
		data, err := os.ReadFile(filename)
		if err != nil {
			log.Printf("Warning: failed to read vars file %s: %v", filename, err)
			return result
		}

		if err := yaml.Unmarshal(data, &result); err != nil {
			log.Printf("Warning: failed to parse vars file %s: %v", filename, err)
		}
		return result
	}

	return parseModuleArgs(vars)
}

// displayResults displays task execution results
func displayResults(results []types.Result, verbose bool) {
	for _, result := range results {
		if result.Success {
			if result.Changed {
				fmt.Printf("changed: [%s] => %s\n", result.Host, result.TaskName)
			} else if verbose {
				fmt.Printf("ok: [%s] => %s\n", result.Host, result.TaskName)
			}
		} else {
			fmt.Printf("failed: [%s] => %s: %v\n", result.Host, result.TaskName, result.Error)
		}

		if verbose && result.Message != "" {
			fmt.Printf("  Output: %s\n", result.Message)
		}
	}

	fmt.Printf("\nPLAY RECAP *********************************************************************\n")
	hostSummary := make(map[string]struct {
		ok      int
		changed int
		failed  int
	})

	for _, result := range results {
		summary := hostSummary[result.Host]
		if result.Success {
			summary.ok++
			if result.Changed {
				summary.changed++
			}
		} else {
			summary.failed++
		}
		hostSummary[result.Host] = summary
	}

	for host, summary := range hostSummary {
		fmt.Printf("%-20s : ok=%-3d changed=%-3d unreachable=%-3d failed=%-3d\n",
			host, summary.ok, summary.changed, 0, summary.failed)
	}
}

// showBuiltinModules prints the list of built-in modules.
func showBuiltinModules() {
	fmt.Println("Built-in modules:")
	fmt.Println("  ping         - Test connectivity")
	fmt.Println("  command      - Execute shell commands")
	fmt.Println("  shell        - Execute shell commands (with shell features)")
	fmt.Println("  copy         - Copy files to remote hosts")
	fmt.Println("  file         - Manage files and directories")
	fmt.Println("  template     - Deploy files from templates")
	fmt.Println("  service      - Manage services")
	fmt.Println("  package      - Manage packages")
	fmt.Println("  debug        - Print debug messages")
	fmt.Println("  setup        - Gather facts about hosts")
}
