// kernel.go: Plugin lifecycle orchestration
//
// The kernel owns every descriptor, the context store, and the event bus.
// Discovery, resolution, and the load/unload state machine run strictly
// sequentially under the kernel lock, so no two plugins ever load or unload
// concurrently and the dependency graph is race-free by construction.
// Plugin code itself runs on supervised workers with wall-clock deadlines;
// a worker that overruns its deadline is abandoned, never killed.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package microkernel

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// KernelVersion is published under the reserved "version" context key.
const KernelVersion = "1.0.0"

// KernelMetrics tracks lifecycle activity.
type KernelMetrics struct {
	PluginsLoaded      atomic.Int64
	PluginsUnloaded    atomic.Int64
	LoadFailures       atomic.Int64
	Reloads            atomic.Int64
	SecurityRejections atomic.Int64
	LeakedTasks        atomic.Int64
}

// Kernel is the host process component that discovers, orders, supervises,
// and tears down plugins.
type Kernel struct {
	logger  Logger
	store   *ContextStore
	bus     *EventBus
	policy  *SourcePolicy
	runtime *PluginRuntime
	audit   *AuditTrail
	scanner *PluginScanner
	metrics KernelMetrics

	// configMu guards the hot-reloadable subset of the configuration.
	configMu sync.RWMutex
	config   KernelConfig

	// mu serializes every control-plane operation: scans, loads, unloads,
	// reloads, shutdown. The supervised wait on a plugin entry point also
	// happens under mu, which is what makes the lifecycle strictly
	// sequential.
	mu          sync.Mutex
	descriptors map[string]*PluginDescriptor
	shutdown    atomic.Bool
}

// NewKernel constructs a kernel from the given configuration.
//
// The logger parameter accepts the Logger interface, *slog.Logger, or nil
// for silent operation.
func NewKernel(config KernelConfig, logger any) (*Kernel, error) {
	internalLogger := NewLogger(logger)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	audit, err := NewAuditTrail(config.Audit)
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		logger:      internalLogger,
		store:       NewContextStore(config.reservedKeys()),
		bus:         NewEventBus(config.AsyncWorkers, internalLogger),
		policy:      NewSourcePolicy(config.DeniedImports, config.DeniedCalls, internalLogger),
		runtime:     NewPluginRuntime(config.AllowedPackages, internalLogger),
		audit:       audit,
		scanner:     NewPluginScanner(config.PluginDir, internalLogger),
		config:      config,
		descriptors: make(map[string]*PluginDescriptor),
	}

	// Reserved entries are the kernel's alone; this is the only path that
	// writes them.
	k.store.setKernelGlobal("version", KernelVersion)
	k.store.setKernelGlobal("admin", "Administrator")
	k.store.setKernelGlobal("kernel.start_time", timecache.CachedTime().Format(time.RFC3339))

	return k, nil
}

// Config returns a copy of the current configuration.
func (k *Kernel) Config() KernelConfig {
	k.configMu.RLock()
	defer k.configMu.RUnlock()
	return k.config
}

// applyDynamicConfig swaps in the hot-reloadable configuration subset.
func (k *Kernel) applyDynamicConfig(dyn dynamicConfig) {
	k.configMu.Lock()
	defer k.configMu.Unlock()
	k.config.StartTimeout = dyn.StartTimeout
	k.config.StopTimeout = dyn.StopTimeout
	k.config.TaskGracePeriod = dyn.TaskGracePeriod
}

func (k *Kernel) startTimeout() time.Duration {
	k.configMu.RLock()
	defer k.configMu.RUnlock()
	return k.config.StartTimeout
}

func (k *Kernel) stopTimeout() time.Duration {
	k.configMu.RLock()
	defer k.configMu.RUnlock()
	return k.config.StopTimeout
}

func (k *Kernel) taskGrace() time.Duration {
	k.configMu.RLock()
	defer k.configMu.RUnlock()
	return k.config.TaskGracePeriod
}

// Store exposes the scoped context store to the embedding application.
func (k *Kernel) Store() *ContextStore {
	return k.store
}

// Bus exposes the event bus to the embedding application.
func (k *Kernel) Bus() *EventBus {
	return k.bus
}

// Metrics returns the kernel's lifecycle counters.
func (k *Kernel) Metrics() *KernelMetrics {
	return &k.metrics
}

// ScanPlugins discovers plugin units and reconciles the descriptor table.
// Rescanning updates descriptor fields in place but never clears the state
// or instance of an Active plugin. Descriptors whose directory vanished are
// dropped unless the plugin is currently Active.
func (k *Kernel) ScanPlugins() (int, error) {
	discovered, err := k.scanner.Scan()
	if err != nil {
		return 0, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	return k.reconcileLocked(discovered), nil
}

func (k *Kernel) reconcileLocked(discovered []*DiscoveredPlugin) int {
	seen := make(map[string]struct{}, len(discovered))
	for _, d := range discovered {
		seen[d.Manifest.Name] = struct{}{}

		desc, exists := k.descriptors[d.Manifest.Name]
		if !exists {
			k.descriptors[d.Manifest.Name] = descriptorFromDiscovery(d)
			continue
		}

		// In-place update preserving lifecycle state and instance.
		version, _ := ParseVersion(d.Manifest.Version)
		desc.SourcePath = d.Dir
		desc.EntryPath = d.EntryPath
		desc.Version = version
		desc.Dependencies = append([]string{}, d.Manifest.Dependencies...)
		desc.manifest = d.Manifest
		desc.DiscoveredAt = timecache.CachedTime()
	}

	for name, desc := range k.descriptors {
		if _, still := seen[name]; still {
			continue
		}
		if desc.State == StateActive || desc.State == StateLoading || desc.State == StateUnloading {
			k.logger.Warn("Plugin directory vanished for active plugin; keeping descriptor",
				"plugin", name)
			continue
		}
		delete(k.descriptors, name)
	}
	return len(discovered)
}

// Resolve computes the load order over the current descriptor set.
func (k *Kernel) Resolve() Resolution {
	k.mu.Lock()
	defer k.mu.Unlock()
	return ResolveLoadOrder(k.descriptors)
}

// Init scans the plugin directory, resolves a load order, and loads every
// resolvable plugin in that order. Individual failures are logged and do
// not stop independent plugins from loading.
func (k *Kernel) Init(ctx context.Context) Resolution {
	if _, err := k.ScanPlugins(); err != nil {
		k.logger.Error("Plugin scan failed", "error", err)
		return Resolution{}
	}

	resolution := k.Resolve()
	for name, diag := range resolution.Excluded {
		k.logger.Warn("Plugin excluded from load order",
			"plugin", name,
			"reason", diag)
	}

	for _, name := range resolution.Order {
		if err := k.LoadPlugin(ctx, name); err != nil {
			k.logger.Error("Plugin failed to load during init",
				"plugin", name,
				"error", err)
		}
	}
	return resolution
}

// LoadPlugin loads one plugin through the full supervised pipeline:
// dependency validation, security policy, interpretation, capability API
// injection, and the deadline-bounded start entry point. Loading an Active
// plugin is an idempotent no-op.
func (k *Kernel) LoadPlugin(ctx context.Context, name string) error {
	if k.shutdown.Load() {
		return NewKernelShutdownError()
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	return k.loadLocked(ctx, name)
}

func (k *Kernel) loadLocked(ctx context.Context, name string) error {
	desc, exists := k.descriptors[name]
	if !exists {
		return NewPluginNotFoundError(name)
	}
	if desc.State == StateActive {
		k.logger.Debug("Plugin already active; load is a no-op", "plugin", name)
		return nil
	}

	if err := k.validateDependenciesLocked(desc); err != nil {
		desc.lastErr = err
		return err
	}

	desc.State = StateLoading
	k.logger.Info("Loading plugin",
		"plugin", name,
		"version", desc.Version.String())

	// Security policy gate: a unit with violations is never executed.
	violations, err := k.policy.ScanFile(desc.EntryPath)
	if err != nil {
		return k.failLoadLocked(desc, err)
	}
	if len(violations) > 0 {
		k.metrics.SecurityRejections.Add(1)
		for _, v := range violations {
			k.logger.Warn("Security policy violation",
				"plugin", name,
				"violation", v.String())
		}
		k.audit.SecurityEvent("plugin_load_blocked",
			"Plugin source failed the security policy scan",
			map[string]any{
				"plugin":     name,
				"violations": len(violations),
			})
		return k.failLoadLocked(desc, NewSecurityViolationError(name, len(violations)))
	}

	unit, err := k.runtime.LoadUnit(name, desc.EntryPath)
	if err != nil {
		return k.failLoadLocked(desc, err)
	}

	settings := loadPluginSettings(desc.SourcePath)
	api := newAPI(name, k, settings, k.logger)

	timeout := k.startTimeout()
	runErr, timedOut := superviseEntry(unit.start, api, timeout)
	if timedOut {
		// The worker cannot be terminated; abandon it and bound the
		// plugin's footprint by cleaning the facade immediately.
		// Subscriptions and local data registered before the deadline
		// are purged with it, same as on a start exception.
		leaked := api.cleanup(k.taskGrace())
		k.metrics.LeakedTasks.Add(int64(leaked))
		k.bus.RemoveOwner(name)
		k.store.DeleteLocal(name)
		return k.failLoadLocked(desc, NewStartTimeoutError(name, timeout.String()))
	}
	if runErr != nil {
		leaked := api.cleanup(k.taskGrace())
		k.metrics.LeakedTasks.Add(int64(leaked))
		k.bus.RemoveOwner(name)
		k.store.DeleteLocal(name)
		return k.failLoadLocked(desc, NewStartExceptionError(name, runErr))
	}

	desc.unit = unit
	desc.api = api
	desc.State = StateActive
	desc.lastErr = nil
	k.metrics.PluginsLoaded.Add(1)
	k.logger.Info("Plugin is ready", "plugin", name)
	return nil
}

// failLoadLocked records a load failure, leaving the plugin unambiguously
// non-Active with no partially acquired resources.
func (k *Kernel) failLoadLocked(desc *PluginDescriptor, err error) error {
	desc.State = StateFailed
	desc.lastErr = err
	desc.unit = nil
	desc.api = nil
	k.metrics.LoadFailures.Add(1)
	k.audit.SecurityEvent("plugin_load_failed",
		"Plugin load reported a failure",
		map[string]any{
			"plugin": desc.Name,
			"error":  err.Error(),
		})
	k.logger.Error("Plugin failed to load",
		"plugin", desc.Name,
		"error", err)
	return err
}

// validateDependenciesLocked checks the descriptor's constraints against
// the current descriptor set.
func (k *Kernel) validateDependenciesLocked(desc *PluginDescriptor) error {
	for _, spec := range desc.Dependencies {
		constraint, err := ParseDependencyConstraint(spec)
		if err != nil {
			return NewMalformedConstraintError(desc.Name, spec, err)
		}
		dep, exists := k.descriptors[constraint.Name]
		if !exists {
			return NewDependencyMissingError(desc.Name, constraint.Name)
		}
		if !constraint.Satisfies(dep.Version) {
			return constraint.constraintViolation(desc.Name, dep.Version)
		}
	}
	return nil
}

// UnloadPlugin tears one plugin down: the supervised stop entry point, then
// unconditional facade cleanup, subscription and namespace purge, and
// release of the code unit. Unloading a non-Active plugin is a no-op.
func (k *Kernel) UnloadPlugin(ctx context.Context, name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.unloadLocked(ctx, name)
}

func (k *Kernel) unloadLocked(ctx context.Context, name string) error {
	desc, exists := k.descriptors[name]
	if !exists {
		return NewPluginNotFoundError(name)
	}
	if desc.State != StateActive {
		k.logger.Debug("Plugin not active; unload is a no-op",
			"plugin", name,
			"state", desc.State.String())
		return nil
	}

	desc.State = StateUnloading
	k.logger.Info("Unloading plugin", "plugin", name)

	timeout := k.stopTimeout()
	runErr, timedOut := superviseEntry(desc.unit.stop, desc.api, timeout)
	if timedOut {
		k.logger.Warn("Plugin stop deadline exceeded; continuing teardown",
			"plugin", name,
			"error", NewStopTimeoutError(name, timeout.String()))
	} else if runErr != nil {
		k.logger.Warn("Plugin stop reported an error; continuing teardown",
			"plugin", name,
			"error", NewStopExceptionError(name, runErr))
	}

	// Teardown is unconditional regardless of how stop behaved.
	leaked := desc.api.cleanup(k.taskGrace())
	if leaked > 0 {
		k.metrics.LeakedTasks.Add(int64(leaked))
		k.logger.Warn("Leaked background tasks abandoned during unload",
			"plugin", name,
			"leaked", leaked)
	}
	removed := k.bus.RemoveOwner(name)
	k.store.DeleteLocal(name)
	desc.unit = nil
	desc.api = nil
	desc.State = StateDiscovered
	k.metrics.PluginsUnloaded.Add(1)

	k.logger.Info("Plugin stopped and unloaded",
		"plugin", name,
		"subscriptions_removed", removed)
	return nil
}

// ReloadPlugin reloads one plugin together with everything that
// transitively depends on it: dependents are unloaded in reverse dependency
// order, the target is unloaded and loaded again, then dependents are
// loaded in forward order. If the target fails to reload the cascade halts
// with a diagnostic and dependents are not restored.
func (k *Kernel) ReloadPlugin(ctx context.Context, name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	desc, exists := k.descriptors[name]
	if !exists {
		return NewPluginNotFoundError(name)
	}

	dependents := k.activeDependentsLocked(name)
	k.metrics.Reloads.Add(1)
	k.logger.Info("Reloading plugin",
		"plugin", name,
		"dependents", dependents)

	for i := len(dependents) - 1; i >= 0; i-- {
		if err := k.unloadLocked(ctx, dependents[i]); err != nil {
			k.logger.Warn("Dependent failed to unload during reload cascade",
				"plugin", dependents[i],
				"error", err)
		}
	}

	if desc.State == StateActive {
		if err := k.unloadLocked(ctx, name); err != nil {
			return err
		}
	}

	if err := k.loadLocked(ctx, name); err != nil {
		k.logger.Error("Reload target failed to load; dependents remain unloaded",
			"plugin", name,
			"dependents", dependents,
			"error", err)
		return err
	}

	for _, dependent := range dependents {
		if err := k.loadLocked(ctx, dependent); err != nil {
			k.logger.Error("Dependent failed to reload",
				"plugin", dependent,
				"error", err)
		}
	}
	return nil
}

// activeDependentsLocked returns the Active plugins transitively depending
// on name, sorted into the resolver's topological order so the cascade
// unloads and reloads them correctly.
func (k *Kernel) activeDependentsLocked(name string) []string {
	// Reverse adjacency over declared dependencies.
	reverse := make(map[string][]string)
	for _, desc := range k.descriptors {
		for _, dep := range dependencyNames(desc.Dependencies) {
			reverse[dep] = append(reverse[dep], desc.Name)
		}
	}

	// Breadth-first walk of the reverse edges from the target.
	dependents := make(map[string]struct{})
	queue := []string{name}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dependent := range reverse[current] {
			if _, seen := dependents[dependent]; seen {
				continue
			}
			if desc, ok := k.descriptors[dependent]; !ok || desc.State != StateActive {
				continue
			}
			dependents[dependent] = struct{}{}
			queue = append(queue, dependent)
		}
	}
	if len(dependents) == 0 {
		return nil
	}

	// Re-sort into topological order for cascade correctness.
	resolution := ResolveLoadOrder(k.descriptors)
	position := make(map[string]int, len(resolution.Order))
	for i, n := range resolution.Order {
		position[n] = i
	}

	ordered := make([]string, 0, len(dependents))
	for dependent := range dependents {
		ordered = append(ordered, dependent)
	}
	sort.Slice(ordered, func(i, j int) bool {
		pi, iOK := position[ordered[i]]
		pj, jOK := position[ordered[j]]
		if iOK != jOK {
			return iOK
		}
		if pi != pj {
			return pi < pj
		}
		return ordered[i] < ordered[j]
	})
	return ordered
}

// Shutdown unloads every Active plugin in reverse topological order, then
// releases the async dispatch pool without waiting for in-flight callbacks
// to drain, and closes the audit trail.
func (k *Kernel) Shutdown(ctx context.Context) error {
	if !k.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	k.mu.Lock()
	resolution := ResolveLoadOrder(k.descriptors)
	order := append([]string{}, resolution.Order...)

	// Plugins excluded from resolution can still be Active (loaded before
	// a later rescan broke their constraints); append them so they are
	// torn down too.
	inOrder := make(map[string]struct{}, len(order))
	for _, name := range order {
		inOrder[name] = struct{}{}
	}
	extras := make([]string, 0)
	for name, desc := range k.descriptors {
		if _, ok := inOrder[name]; !ok && desc.State == StateActive {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	order = append(order, extras...)

	for i := len(order) - 1; i >= 0; i-- {
		if desc, ok := k.descriptors[order[i]]; ok && desc.State == StateActive {
			if err := k.unloadLocked(ctx, order[i]); err != nil {
				k.logger.Warn("Plugin failed to unload during shutdown",
					"plugin", order[i],
					"error", err)
			}
		}
	}
	k.mu.Unlock()

	k.bus.Close()
	if err := k.audit.Close(); err != nil {
		k.logger.Warn("Audit trail close failed", "error", err)
	}
	k.logger.Info("Kernel shut down")
	return nil
}

// Plugins returns a name-sorted summary of every descriptor.
func (k *Kernel) Plugins() []PluginInfo {
	k.mu.Lock()
	defer k.mu.Unlock()

	infos := make([]PluginInfo, 0, len(k.descriptors))
	for _, desc := range k.descriptors {
		info := PluginInfo{
			Name:       desc.Name,
			Version:    desc.Version.String(),
			State:      desc.State,
			SourcePath: desc.SourcePath,
		}
		if desc.manifest != nil {
			info.Description = desc.manifest.Description
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// PluginState returns the lifecycle state of one plugin.
func (k *Kernel) PluginState(name string) (PluginState, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	desc, exists := k.descriptors[name]
	if !exists {
		return StateDiscovered, NewPluginNotFoundError(name)
	}
	return desc.State, nil
}

// Call dispatches an event synchronously from the host side.
func (k *Kernel) Call(event string, args map[string]any) []CallResult {
	return k.bus.Call(event, 0, args)
}

// Emit broadcasts an event asynchronously from the host side.
func (k *Kernel) Emit(event string, args map[string]any) []*EventHandle {
	return k.bus.Emit(event, args)
}

// DataSnapshot returns independent copies of the global namespace and every
// plugin's local namespace for diagnostic dumps.
func (k *Kernel) DataSnapshot() (map[string]any, map[string]map[string]any) {
	return k.store.Snapshot()
}

// superviseEntry runs a plugin entry point on a fresh worker and waits up
// to timeout. A panic surfaces as an error; a deadline overrun abandons the
// worker and reports timedOut, since cooperative cancellation is the only
// kind the kernel has.
func superviseEntry(entry entryFunc, api *API, timeout time.Duration) (err error, timedOut bool) {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in plugin entry point: %v", r)
			}
		}()
		done <- entry(api)
	}()

	select {
	case err := <-done:
		return err, false
	case <-time.After(timeout):
		return nil, true
	}
}
