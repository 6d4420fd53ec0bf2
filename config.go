// config.go: Kernel configuration with hot-reload support
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package microkernel

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
	"gopkg.in/yaml.v3"
)

// KernelConfig is the host-side configuration of the kernel. Plugins never
// see it; their own configuration travels through PluginSettings.
type KernelConfig struct {
	// PluginDir is the directory scanned for plugin units.
	PluginDir string `json:"plugin_dir" yaml:"plugin_dir"`

	// StartTimeout bounds the supervised wait on a plugin's start entry
	// point; a start that exceeds it is abandoned and reported failed.
	StartTimeout time.Duration `json:"start_timeout" yaml:"start_timeout"`

	// StopTimeout bounds the supervised wait on a plugin's stop entry
	// point; exceeding it is logged, not fatal.
	StopTimeout time.Duration `json:"stop_timeout" yaml:"stop_timeout"`

	// TaskGracePeriod bounds the per-task join during facade cleanup.
	TaskGracePeriod time.Duration `json:"task_grace_period" yaml:"task_grace_period"`

	// AsyncWorkers bounds concurrent async event callbacks.
	AsyncWorkers int `json:"async_workers" yaml:"async_workers"`

	// ReservedGlobalKeys extends the kernel-owned key set; the built-in
	// reserved keys are always protected.
	ReservedGlobalKeys []string `json:"reserved_global_keys" yaml:"reserved_global_keys"`

	// DeniedImports and DeniedCalls override the source policy denylists.
	DeniedImports []string `json:"denied_imports" yaml:"denied_imports"`
	DeniedCalls   []string `json:"denied_calls" yaml:"denied_calls"`

	// AllowedPackages overrides the interpreter's standard-library surface.
	AllowedPackages []string `json:"allowed_packages" yaml:"allowed_packages"`

	// Audit controls the security audit trail.
	Audit AuditOptions `json:"audit" yaml:"audit"`
}

// flexDuration decodes a YAML duration given either as an integer
// nanosecond count or as a Go duration string such as "1500ms".
type flexDuration time.Duration

func (d *flexDuration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case int:
		*d = flexDuration(v)
	case int64:
		*d = flexDuration(v)
	case float64:
		*d = flexDuration(v)
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*d = flexDuration(parsed)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("cannot decode %T as a duration", raw)
	}
	return nil
}

// UnmarshalYAML decodes the configuration with flexible duration fields;
// yaml.v3 has no native decoding into time.Duration.
func (c *KernelConfig) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		PluginDir          string       `yaml:"plugin_dir"`
		StartTimeout       flexDuration `yaml:"start_timeout"`
		StopTimeout        flexDuration `yaml:"stop_timeout"`
		TaskGracePeriod    flexDuration `yaml:"task_grace_period"`
		AsyncWorkers       int          `yaml:"async_workers"`
		ReservedGlobalKeys []string     `yaml:"reserved_global_keys"`
		DeniedImports      []string     `yaml:"denied_imports"`
		DeniedCalls        []string     `yaml:"denied_calls"`
		AllowedPackages    []string     `yaml:"allowed_packages"`
		Audit              AuditOptions `yaml:"audit"`
	}{
		PluginDir:          c.PluginDir,
		StartTimeout:       flexDuration(c.StartTimeout),
		StopTimeout:        flexDuration(c.StopTimeout),
		TaskGracePeriod:    flexDuration(c.TaskGracePeriod),
		AsyncWorkers:       c.AsyncWorkers,
		ReservedGlobalKeys: c.ReservedGlobalKeys,
		DeniedImports:      c.DeniedImports,
		DeniedCalls:        c.DeniedCalls,
		AllowedPackages:    c.AllowedPackages,
		Audit:              c.Audit,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.PluginDir = raw.PluginDir
	c.StartTimeout = time.Duration(raw.StartTimeout)
	c.StopTimeout = time.Duration(raw.StopTimeout)
	c.TaskGracePeriod = time.Duration(raw.TaskGracePeriod)
	c.AsyncWorkers = raw.AsyncWorkers
	c.ReservedGlobalKeys = raw.ReservedGlobalKeys
	c.DeniedImports = raw.DeniedImports
	c.DeniedCalls = raw.DeniedCalls
	c.AllowedPackages = raw.AllowedPackages
	c.Audit = raw.Audit
	return nil
}

// AuditOptions configures the security audit trail backing file.
type AuditOptions struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	OutputFile string `json:"output_file" yaml:"output_file"`
}

// builtinReservedKeys are always protected regardless of configuration.
var builtinReservedKeys = []string{"version", "admin", "kernel.start_time"}

// DefaultKernelConfig returns the configuration used when no file is given.
func DefaultKernelConfig() KernelConfig {
	return KernelConfig{
		PluginDir:       "plugins",
		StartTimeout:    3 * time.Second,
		StopTimeout:     3 * time.Second,
		TaskGracePeriod: 2 * time.Second,
		AsyncWorkers:    8,
	}
}

// Validate normalizes the configuration, filling zero values from the
// defaults and rejecting nonsense.
func (c *KernelConfig) Validate() error {
	defaults := DefaultKernelConfig()
	if c.PluginDir == "" {
		c.PluginDir = defaults.PluginDir
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = defaults.StartTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = defaults.StopTimeout
	}
	if c.TaskGracePeriod <= 0 {
		c.TaskGracePeriod = defaults.TaskGracePeriod
	}
	if c.AsyncWorkers <= 0 {
		c.AsyncWorkers = defaults.AsyncWorkers
	}
	if c.Audit.Enabled && c.Audit.OutputFile == "" {
		return NewConfigError("audit enabled but no output file configured", nil)
	}
	return nil
}

// reservedKeys merges the built-in reserved keys with configured extras.
func (c *KernelConfig) reservedKeys() []string {
	keys := append([]string{}, builtinReservedKeys...)
	for _, key := range c.ReservedGlobalKeys {
		key = strings.TrimSpace(key)
		if key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

// LoadKernelConfig reads a configuration file in JSON or YAML format,
// detected by extension, and validates it.
func LoadKernelConfig(path string) (KernelConfig, error) {
	config := DefaultKernelConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, NewConfigError("failed to read kernel configuration", err).
			WithContext("path", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return config, NewConfigError("failed to parse kernel configuration", err).
			WithContext("path", path)
	}

	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// dynamicConfig holds the subset of the configuration that may change at
// runtime without reconstructing kernel components.
type dynamicConfig struct {
	StartTimeout    time.Duration
	StopTimeout     time.Duration
	TaskGracePeriod time.Duration
}

// ConfigWatcher hot-reloads the kernel configuration file, applying the
// dynamic fields (timeouts and grace periods) atomically on change.
// Structural fields such as the plugin directory or the worker pool size
// require a restart and are ignored with a warning when they differ.
type ConfigWatcher struct {
	kernel     *Kernel
	logger     Logger
	configPath string

	watcher *argus.Watcher
	running atomic.Bool
	mu      sync.Mutex
}

// NewConfigWatcher creates a watcher for the given configuration file.
func NewConfigWatcher(kernel *Kernel, configPath string, logger Logger) *ConfigWatcher {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &ConfigWatcher{
		kernel:     kernel,
		logger:     logger,
		configPath: configPath,
	}
}

// Start begins watching the configuration file for changes.
func (cw *ConfigWatcher) Start() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if !cw.running.CompareAndSwap(false, true) {
		return NewConfigError("config watcher is already running", nil)
	}

	watcher := argus.New(argus.Config{
		PollInterval:         2 * time.Second,
		MaxWatchedFiles:      1,
		OptimizationStrategy: argus.OptimizationSingleEvent,
		ErrorHandler: func(err error, filepath string) {
			cw.logger.Error("Kernel config watching error", "error", err, "file", filepath)
		},
	})

	if err := watcher.Watch(cw.configPath, cw.handleChange); err != nil {
		cw.running.Store(false)
		return NewConfigError("failed to watch kernel configuration", err).
			WithContext("path", cw.configPath)
	}
	if err := watcher.Start(); err != nil {
		cw.running.Store(false)
		return NewConfigError("failed to start config watcher", err)
	}

	cw.watcher = watcher
	cw.logger.Info("Kernel config watcher started", "path", cw.configPath)
	return nil
}

// Stop halts configuration watching.
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if !cw.running.CompareAndSwap(true, false) {
		return nil
	}
	if cw.watcher != nil {
		if err := cw.watcher.Stop(); err != nil {
			return NewConfigError("failed to stop config watcher", err)
		}
		cw.watcher = nil
	}
	return nil
}

// handleChange reloads the file and applies the dynamic subset.
func (cw *ConfigWatcher) handleChange(event argus.ChangeEvent) {
	if event.IsDelete {
		cw.logger.Warn("Kernel configuration file deleted; keeping current settings",
			"path", event.Path)
		return
	}

	config, err := LoadKernelConfig(event.Path)
	if err != nil {
		cw.logger.Error("Ignoring invalid kernel configuration update",
			"path", event.Path,
			"error", err)
		return
	}

	current := cw.kernel.Config()
	if config.PluginDir != current.PluginDir || config.AsyncWorkers != current.AsyncWorkers {
		cw.logger.Warn("Structural configuration fields changed; restart required to apply",
			"plugin_dir", config.PluginDir,
			"async_workers", config.AsyncWorkers)
	}

	cw.kernel.applyDynamicConfig(dynamicConfig{
		StartTimeout:    config.StartTimeout,
		StopTimeout:     config.StopTimeout,
		TaskGracePeriod: config.TaskGracePeriod,
	})
	cw.logger.Info("Kernel timeouts updated from configuration file",
		"start_timeout", config.StartTimeout,
		"stop_timeout", config.StopTimeout,
		"task_grace_period", config.TaskGracePeriod)
}
