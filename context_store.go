// context_store.go: Thread-safe scoped key/value storage
//
// The store is split into one shared global namespace and one private
// namespace per plugin. A single process-wide mutex guards both; it is held
// only for the critical section of a map read or write and never across a
// callback or any plugin code. A fixed set of reserved global keys is
// writable by the kernel alone and checked uniformly on every mutating path.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package microkernel

import (
	"encoding/json"
	"sync"
)

// ContextStore provides scoped shared state for the kernel and its plugins.
type ContextStore struct {
	mu       sync.Mutex
	global   map[string]any
	local    map[string]map[string]any
	reserved map[string]struct{}
}

// NewContextStore builds an empty store protecting the given reserved keys.
func NewContextStore(reservedKeys []string) *ContextStore {
	reserved := make(map[string]struct{}, len(reservedKeys))
	for _, key := range reservedKeys {
		reserved[key] = struct{}{}
	}
	return &ContextStore{
		global:   make(map[string]any),
		local:    make(map[string]map[string]any),
		reserved: reserved,
	}
}

// IsReserved reports whether a global key belongs to the kernel.
func (cs *ContextStore) IsReserved(key string) bool {
	_, ok := cs.reserved[key]
	return ok
}

// Global returns a deep, independent copy of a global value. Mutating the
// result cannot corrupt shared state. If the stored value cannot be safely
// copied the read fails closed: ok is false and the caller should fall back
// to its own default rather than receive the live reference.
func (cs *ContextStore) Global(key string) (any, bool) {
	cs.mu.Lock()
	value, exists := cs.global[key]
	cs.mu.Unlock()
	if !exists {
		return nil, false
	}

	copied, ok := deepCopyValue(value)
	if !ok {
		return nil, false
	}
	return copied, true
}

// SetGlobal writes a global value. Reserved keys are rejected.
func (cs *ContextStore) SetGlobal(key string, value any) error {
	if cs.IsReserved(key) {
		return NewReservedKeyError(key)
	}
	cs.mu.Lock()
	cs.global[key] = value
	cs.mu.Unlock()
	return nil
}

// UpdateGlobal applies fn to the current value of a global key as one
// atomic read-modify-write under the store lock. The key's absence is
// presented to fn as nil. Reserved keys are rejected.
func (cs *ContextStore) UpdateGlobal(key string, fn func(current any) any) error {
	if cs.IsReserved(key) {
		return NewReservedKeyError(key)
	}
	cs.mu.Lock()
	cs.global[key] = fn(cs.global[key])
	cs.mu.Unlock()
	return nil
}

// AddGlobalInt adds delta to the integer counter stored at key, treating
// an absent key as zero. A non-integer value at the key is replaced by the
// delta. Reserved keys are rejected.
func (cs *ContextStore) AddGlobalInt(key string, delta int64) error {
	return cs.UpdateGlobal(key, func(current any) any {
		switch v := current.(type) {
		case int64:
			return v + delta
		case int:
			return int64(v) + delta
		case float64:
			return int64(v) + delta
		default:
			return delta
		}
	})
}

// AppendGlobal appends value to the slice stored at key, creating a
// single-element slice when the key is absent. A non-slice value at the key
// is an error. Reserved keys are rejected on this path too.
func (cs *ContextStore) AppendGlobal(key string, value any) error {
	if cs.IsReserved(key) {
		return NewReservedKeyError(key)
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()

	current, exists := cs.global[key]
	if !exists {
		cs.global[key] = []any{value}
		return nil
	}
	slice, ok := current.([]any)
	if !ok {
		return NewConfigError("existing value is not a list", nil).
			WithContext("key", key)
	}
	cs.global[key] = append(slice, value)
	return nil
}

// setKernelGlobal bypasses the reserved-key check. Kernel-internal only;
// this is the single path by which reserved entries change.
func (cs *ContextStore) setKernelGlobal(key string, value any) {
	cs.mu.Lock()
	cs.global[key] = value
	cs.mu.Unlock()
}

// Local reads a key from one plugin's private namespace.
func (cs *ContextStore) Local(plugin, key string) (any, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	ns, exists := cs.local[plugin]
	if !exists {
		return nil, false
	}
	value, exists := ns[key]
	return value, exists
}

// SetLocal writes a key into one plugin's private namespace, creating the
// namespace on first write.
func (cs *ContextStore) SetLocal(plugin, key string, value any) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	ns, exists := cs.local[plugin]
	if !exists {
		ns = make(map[string]any)
		cs.local[plugin] = ns
	}
	ns[key] = value
}

// AppendLocal appends to a slice in one plugin's private namespace with the
// same semantics as AppendGlobal.
func (cs *ContextStore) AppendLocal(plugin, key string, value any) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	ns, exists := cs.local[plugin]
	if !exists {
		ns = make(map[string]any)
		cs.local[plugin] = ns
	}
	current, exists := ns[key]
	if !exists {
		ns[key] = []any{value}
		return nil
	}
	slice, ok := current.([]any)
	if !ok {
		return NewConfigError("existing value is not a list", nil).
			WithContext("key", key)
	}
	ns[key] = append(slice, value)
	return nil
}

// DeleteLocal removes a plugin's entire private namespace atomically.
func (cs *ContextStore) DeleteLocal(plugin string) {
	cs.mu.Lock()
	delete(cs.local, plugin)
	cs.mu.Unlock()
}

// Snapshot returns independent copies of the global namespace and every
// local namespace, suitable for diagnostic dumps. Values that cannot be
// copied are rendered as a placeholder string rather than leaked live.
func (cs *ContextStore) Snapshot() (map[string]any, map[string]map[string]any) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	global := make(map[string]any, len(cs.global))
	for key, value := range cs.global {
		if copied, ok := deepCopyValue(value); ok {
			global[key] = copied
		} else {
			global[key] = "<uncopyable>"
		}
	}

	local := make(map[string]map[string]any, len(cs.local))
	for plugin, ns := range cs.local {
		snap := make(map[string]any, len(ns))
		for key, value := range ns {
			if copied, ok := deepCopyValue(value); ok {
				snap[key] = copied
			} else {
				snap[key] = "<uncopyable>"
			}
		}
		local[plugin] = snap
	}
	return global, local
}

// deepCopyValue produces an independent copy of v via a serialization
// round-trip. Values that do not survive the round-trip (channels,
// functions, cyclic structures) report ok=false so callers can fail closed.
func deepCopyValue(v any) (any, bool) {
	if v == nil {
		return nil, true
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	return out, true
}
