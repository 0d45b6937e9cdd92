// Package config provides ambient configuration management for fleetforge:
// engine defaults (forks, timeouts, become policy, gathering policy) layered
// with environment overrides and an optional on-disk file.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/gosible-labs/fleetforge/pkg/types"
)

// EnvPrefix is the prefix applied to every environment variable fleetforge
// reads for configuration, e.g. GOSINBLE_TIMEOUT for the "timeout" key.
const EnvPrefix = "GOSINBLE"

// Config implements configuration management. Resolution order, lowest to
// highest: defaults -> config file -> environment variables -> explicit Set.
// The first three layers live in an embedded *viper.Viper; explicit Set()
// calls land in a thin override map that outranks everything viper holds.
type Config struct {
	mu   sync.RWMutex
	v    *viper.Viper
	over map[string]interface{}
}

// NewConfig creates a new configuration manager seeded with defaults and
// environment overrides.
func NewConfig() *Config {
	c := &Config{over: make(map[string]interface{})}
	c.v = newLayeredViper()
	c.loadDefaults()
	return c
}

func newLayeredViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Get retrieves a configuration value, resolved across the precedence chain.
func (c *Config) Get(key string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if val, ok := c.over[key]; ok {
		return val
	}
	if !c.v.IsSet(key) {
		return nil
	}
	return c.v.Get(key)
}

// GetString retrieves a string configuration value
func (c *Config) GetString(key string) string {
	if value := c.Get(key); value != nil {
		return types.ConvertToString(value)
	}
	return ""
}

// GetInt retrieves an integer configuration value
func (c *Config) GetInt(key string) int {
	if value := c.Get(key); value != nil {
		if intVal, err := types.ConvertToInt(value); err == nil {
			return intVal
		}
	}
	return 0
}

// GetBool retrieves a boolean configuration value
func (c *Config) GetBool(key string) bool {
	if value := c.Get(key); value != nil {
		return types.ConvertToBool(value)
	}
	return false
}

// GetStringSlice retrieves a string slice configuration value
func (c *Config) GetStringSlice(key string) []string {
	if value := c.Get(key); value != nil {
		switch v := value.(type) {
		case []string:
			return v
		case []interface{}:
			result := make([]string, len(v))
			for i, item := range v {
				result[i] = types.ConvertToString(item)
			}
			return result
		case string:
			return strings.Split(v, ",")
		}
	}
	return nil
}

// Set stores a configuration value in the top (explicit) layer.
func (c *Config) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.over[key] = value
}

// SetString stores a string configuration value
func (c *Config) SetString(key, value string) {
	c.Set(key, value)
}

// SetInt stores an integer configuration value
func (c *Config) SetInt(key string, value int) {
	c.Set(key, value)
}

// SetBool stores a boolean configuration value
func (c *Config) SetBool(key string, value bool) {
	c.Set(key, value)
}

// Load merges configuration from a YAML file into the viper layer, above
// defaults and below explicit Set() calls.
func (c *Config) Load(filePath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.v.SetConfigFile(filePath)
	c.v.SetConfigType("yaml")
	return c.v.MergeInConfig()
}

// Save writes the fully-resolved configuration (defaults, file, env, and
// explicit overrides flattened) to a YAML file.
func (c *Config) Save(filePath string) error {
	data := c.GetAll()

	yamlData, err := yaml.Marshal(data)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return os.WriteFile(filePath, yamlData, 0644)
}

// GetDefaults returns default configuration values
func (c *Config) GetDefaults() map[string]interface{} {
	defaults := make(map[string]interface{})

	defaults["timeout"] = 30
	defaults["forks"] = 5
	defaults["gather_facts"] = true
	defaults["host_key_checking"] = true
	defaults["retry_files_enabled"] = false
	defaults["log_path"] = ""
	defaults["private_key_file"] = ""
	defaults["remote_user"] = ""
	defaults["become"] = false
	defaults["become_method"] = "sudo"
	defaults["become_user"] = "root"
	defaults["become_ask_pass"] = false
	defaults["ask_pass"] = false
	defaults["transport"] = "ssh"
	defaults["remote_port"] = 22
	defaults["module_lang"] = "C"
	defaults["gathering"] = "smart"
	defaults["fact_caching"] = false
	defaults["fact_caching_connection"] = ""
	defaults["fact_caching_timeout"] = 86400
	defaults["stdout_callback"] = "default"
	defaults["callback_whitelist"] = []string{}
	defaults["task_includes_static"] = false
	defaults["handler_includes_static"] = false
	defaults["sudo_flags"] = "-H -S -n"
	defaults["display_skipped_hosts"] = true
	defaults["display_ok_hosts"] = true
	defaults["error_on_undefined_vars"] = false
	defaults["system_warnings"] = true
	defaults["deprecation_warnings"] = true
	defaults["command_warnings"] = false
	defaults["default_gathering"] = "smart"
	defaults["jinja2_extensions"] = []string{}
	defaults["fleetforge_managed"] = "FleetForge managed"
	defaults["interpretter_python"] = "auto_legacy_silent"
	defaults["inventory_enabled"] = []string{"host_list", "script", "auto", "yaml", "ini", "toml"}
	defaults["vars_enabled"] = []string{"host_group_vars"}
	defaults["diff_always"] = false
	defaults["diff_context"] = 3
	defaults["show_custom_stats"] = false
	defaults["max_per_host"] = 10
	defaults["min_per_host"] = 0
	defaults["idle_timeout"] = "5m"
	defaults["pool_acquire_timeout"] = "30s"
	defaults["health_check_interval"] = "1m"

	return defaults
}

// loadDefaults loads default configuration values into the viper layer.
func (c *Config) loadDefaults() {
	defaults := c.GetDefaults()
	for key, value := range defaults {
		c.v.SetDefault(key, value)
	}
}

// GetAll returns all configuration values, flattened across every layer.
func (c *Config) GetAll() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]interface{})
	for k, v := range c.v.AllSettings() {
		result[k] = v
	}
	for k, v := range c.over {
		result[k] = v
	}
	return result
}

// Clear removes every configuration value, including defaults.
func (c *Config) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.over = make(map[string]interface{})
	c.v = newLayeredViper()
}

// Reset resets configuration to defaults (and environment overrides).
func (c *Config) Reset() {
	c.Clear()
	c.loadDefaults()
}

// Has checks if a configuration key exists in any layer.
func (c *Config) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.over[key]; ok {
		return true
	}
	return c.v.IsSet(key)
}

// Delete removes a configuration key from the explicit-override layer.
func (c *Config) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.over, key)
}

// GetConfigPaths returns possible configuration file paths, in the order
// they are probed by LoadFromDefaultPaths.
func GetConfigPaths() []string {
	var paths []string

	paths = append(paths, "./gosinble.yaml")
	paths = append(paths, "./gosinble.yml")
	paths = append(paths, "./.gosinble.yaml")
	paths = append(paths, "./.gosinble.yml")

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".gosinble.yaml"))
		paths = append(paths, filepath.Join(home, ".gosinble.yml"))
		paths = append(paths, filepath.Join(home, ".config", "gosinble", "config.yaml"))
		paths = append(paths, filepath.Join(home, ".config", "gosinble", "config.yml"))
	}

	paths = append(paths, "/etc/gosinble/config.yaml")
	paths = append(paths, "/etc/gosinble/config.yml")

	return paths
}

// LoadFromDefaultPaths attempts to load configuration from default paths,
// stopping at the first one that exists.
func (c *Config) LoadFromDefaultPaths() error {
	paths := GetConfigPaths()

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := c.Load(path); err != nil {
				continue
			}
			return nil
		}
	}

	return nil
}

// Validate validates the current configuration.
func (c *Config) Validate() error {
	if timeout := c.GetInt("timeout"); timeout <= 0 {
		return types.NewValidationError("timeout", timeout, "timeout must be positive")
	}

	if forks := c.GetInt("forks"); forks <= 0 {
		return types.NewValidationError("forks", forks, "forks must be positive")
	}

	transport := c.GetString("transport")
	validTransports := []string{"ssh", "local", "paramiko_ssh", "winrm", "container"}
	valid := false
	for _, validTransport := range validTransports {
		if transport == validTransport {
			valid = true
			break
		}
	}
	if !valid {
		return types.NewValidationError("transport", transport, "invalid transport type")
	}

	becomeMethod := c.GetString("become_method")
	validMethods := []string{"sudo", "su", "pbrun", "pfexec", "runas", "doas"}
	valid = false
	for _, validMethod := range validMethods {
		if becomeMethod == validMethod {
			valid = true
			break
		}
	}
	if !valid {
		return types.NewValidationError("become_method", becomeMethod, "invalid become method")
	}

	return nil
}

// DefaultConfig provides a default configuration instance.
var DefaultConfig = NewConfig()
