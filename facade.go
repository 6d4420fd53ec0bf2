// facade.go: Capability API injected into every plugin
//
// The API is the only object a plugin ever touches. It is bound at
// construction to one plugin's identity and holds a liveness-checked handle
// to the kernel rather than an owning reference, so tearing the plugin down
// cannot leave a dangling path back into the host. Every call checks the
// handle first and fails with a host-unavailable error once the kernel has
// released it.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package microkernel

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// hostHandle is the non-owning back-reference from an API to the kernel.
// Teardown clears it; subsequent API calls observe nil and fail closed.
type hostHandle struct {
	mu     sync.RWMutex
	kernel *Kernel
}

func (h *hostHandle) get() *Kernel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.kernel
}

func (h *hostHandle) clear() {
	h.mu.Lock()
	h.kernel = nil
	h.mu.Unlock()
}

// ManagedTask is one unit of background work spawned through the API. It
// carries no ownership of the plugin, only the shared liveness signal the
// work must poll. The work function receives its own task, which is also
// its logging path while it runs.
type ManagedTask struct {
	Name      string
	StartedAt time.Time

	logger Logger
	done   chan struct{}
}

// Done returns a channel closed when the task function returns.
func (t *ManagedTask) Done() <-chan struct{} {
	return t.done
}

// Log writes a message tagged with the plugin identity and this worker's
// name. Code running inside the task logs here rather than through API.Log,
// which would tag it as the host worker.
func (t *ManagedTask) Log(message string) {
	t.logger.Info(message)
}

// API is the capability surface handed to exactly one plugin.
//
// Interpreted plugin code receives a *API as the sole argument of its Start
// and Stop entry points and reaches every kernel resource through it:
// logging, the event bus, the scoped context store, managed background
// tasks, and its own configuration files.
type API struct {
	pluginName string
	host       *hostHandle
	logger     Logger
	settings   PluginSettings

	// Managed-task bookkeeping, guarded independently of the kernel's
	// store lock so one plugin's spawning cannot contend with another's.
	taskMu  sync.Mutex
	tasks   []*ManagedTask
	taskSeq atomic.Int64

	// active is the cooperative liveness signal shared with every task
	// this plugin spawns. stopping additionally gates new spawns during
	// cleanup.
	active   atomic.Bool
	stopping atomic.Bool
}

// newAPI binds a capability API to one plugin's identity.
func newAPI(pluginName string, kernel *Kernel, settings PluginSettings, logger Logger) *API {
	api := &API{
		pluginName: pluginName,
		host:       &hostHandle{kernel: kernel},
		logger:     logger.With("plugin", pluginName),
		settings:   settings,
	}
	api.active.Store(true)
	return api
}

// PluginName returns the identity this API is bound to.
func (a *API) PluginName() string {
	return a.pluginName
}

// Log writes a message tagged with the plugin's identity and the calling
// worker's identity. Entry points and event callbacks run on the host
// worker; managed tasks log through their ManagedTask handle instead.
func (a *API) Log(message string) {
	a.logger.Info(message, "worker", "host")
}

// IsActive reports the liveness flag a plugin's background loops must poll
// to know when to exit. It flips to false the moment unload begins.
func (a *API) IsActive() bool {
	return a.active.Load()
}

// PluginConfig returns the plugin's own settings and secrets files, parsed
// but never interpreted by the kernel.
func (a *API) PluginConfig() PluginSettings {
	return a.settings
}

// On registers an event callback owned by this plugin. The subscription is
// removed automatically when the plugin unloads.
func (a *API) On(event string, callback EventCallback) error {
	kernel := a.host.get()
	if kernel == nil {
		return NewHostUnavailableError(a.pluginName)
	}
	kernel.bus.Subscribe(event, a.pluginName, callback)
	return nil
}

// Emit broadcasts an event asynchronously and returns one handle per
// subscriber callback.
func (a *API) Emit(event string, args map[string]any) ([]*EventHandle, error) {
	kernel := a.host.get()
	if kernel == nil {
		return nil, NewHostUnavailableError(a.pluginName)
	}
	return kernel.bus.Emit(event, args), nil
}

// Call dispatches an event synchronously and collects every subscriber's
// result in registration order. The timeout is advisory; see EventBus.Call.
func (a *API) Call(event string, timeout time.Duration, args map[string]any) ([]CallResult, error) {
	kernel := a.host.get()
	if kernel == nil {
		return nil, NewHostUnavailableError(a.pluginName)
	}
	return kernel.bus.Call(event, timeout, args), nil
}

// Data reads a key from the requested scope, falling back to def when the
// key is absent, the host is gone, or a global value cannot be copied
// safely. Global reads always return an independent copy.
func (a *API) Data(key string, scope Scope, def any) any {
	kernel := a.host.get()
	if kernel == nil {
		return def
	}

	switch scope {
	case ScopeGlobal:
		value, ok := kernel.store.Global(key)
		if !ok {
			return def
		}
		return value
	default:
		value, ok := kernel.store.Local(a.pluginName, key)
		if !ok {
			return def
		}
		return value
	}
}

// SetData writes a key in the requested scope. A write to a reserved global
// key is silently rejected: it is logged, recorded as a security event, and
// returns nil so misbehaving plugins cannot distinguish it from success.
func (a *API) SetData(key string, value any, scope Scope) error {
	kernel := a.host.get()
	if kernel == nil {
		return NewHostUnavailableError(a.pluginName)
	}

	if scope == ScopeGlobal {
		if err := kernel.store.SetGlobal(key, value); err != nil {
			a.reportReservedWrite(kernel, key)
			return nil
		}
		return nil
	}
	kernel.store.SetLocal(a.pluginName, key, value)
	return nil
}

// AppendData appends a value to a list stored at key. The reserved-key
// check applies to this mutating path exactly as it does to SetData.
func (a *API) AppendData(key string, value any, scope Scope) error {
	kernel := a.host.get()
	if kernel == nil {
		return NewHostUnavailableError(a.pluginName)
	}

	if scope == ScopeGlobal {
		err := kernel.store.AppendGlobal(key, value)
		if err != nil && kernel.store.IsReserved(key) {
			a.reportReservedWrite(kernel, key)
			return nil
		}
		return err
	}
	return kernel.store.AppendLocal(a.pluginName, key, value)
}

func (a *API) reportReservedWrite(kernel *Kernel, key string) {
	a.logger.Warn("Write to reserved global key rejected", "key", key)
	kernel.audit.SecurityEvent("reserved_key_write_rejected",
		"Plugin attempted to mutate a kernel-reserved context key",
		map[string]any{
			"plugin": a.pluginName,
			"key":    key,
		})
}

// SpawnTask starts a background unit of work tied to this plugin's
// cancellation signal. The work function receives its own ManagedTask for
// identity-tagged logging, must poll IsActive, and must return promptly
// once it flips; the kernel cannot terminate it forcibly. Spawning is
// refused once the plugin has begun stopping.
func (a *API) SpawnTask(work func(task *ManagedTask)) (*ManagedTask, error) {
	if a.stopping.Load() {
		return nil, NewPluginStoppingError(a.pluginName)
	}
	kernel := a.host.get()
	if kernel == nil {
		return nil, NewHostUnavailableError(a.pluginName)
	}

	name := fmt.Sprintf("%s/task-%d", a.pluginName, a.taskSeq.Add(1))
	task := &ManagedTask{
		Name:      name,
		StartedAt: time.Now(),
		logger:    a.logger.With("worker", name),
		done:      make(chan struct{}),
	}

	a.taskMu.Lock()
	if a.stopping.Load() {
		a.taskMu.Unlock()
		return nil, NewPluginStoppingError(a.pluginName)
	}
	a.tasks = append(a.tasks, task)
	a.taskMu.Unlock()

	go func() {
		defer close(task.done)
		defer withStackRecover(task.logger)()
		work(task)
	}()

	a.logger.Debug("Managed task started", "task", task.Name)
	return task, nil
}

// TaskCount returns the number of tasks currently tracked by this API.
func (a *API) TaskCount() int {
	a.taskMu.Lock()
	defer a.taskMu.Unlock()
	return len(a.tasks)
}

// cleanup tears down the plugin's managed resources. Kernel-internal:
// invoked solely during unload. It raises the cancellation signal,
// snapshots and clears the task list, then joins each task up to the grace
// period, logging any survivor as leaked rather than blocking indefinitely.
// Finally it severs the host handle so later API calls fail closed.
func (a *API) cleanup(grace time.Duration) int {
	a.stopping.Store(true)
	a.active.Store(false)

	a.taskMu.Lock()
	tasks := a.tasks
	a.tasks = nil
	a.taskMu.Unlock()

	leaked := 0
	for _, task := range tasks {
		select {
		case <-task.done:
		case <-time.After(grace):
			leaked++
			a.logger.Warn("Background task did not observe cancellation; abandoning",
				"task", task.Name,
				"grace", grace)
		}
	}

	a.host.clear()
	return leaked
}
