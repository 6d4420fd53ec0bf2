// types.go: Common data types and structures for the microkernel
//
// This file contains the shared data models used throughout the kernel:
// plugin lifecycle states, descriptors, manifests, and the operational
// summaries returned to embedding applications. Keeping these separate
// from the component implementations mirrors the rest of the codebase's
// one-concern-per-file layout.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package microkernel

import (
	"time"
)

// PluginState represents a plugin's position in the kernel lifecycle.
//
// State transitions are owned exclusively by the kernel:
//
//	Discovered -> Loading -> Active -> Unloading -> Discovered
//
// Any failure while Loading transitions the plugin to Failed, excluding it
// from the active set until the next load attempt.
type PluginState int

const (
	StateDiscovered PluginState = iota
	StateLoading
	StateActive
	StateFailed
	StateUnloading
)

// String returns a human-readable representation of the plugin state.
func (s PluginState) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	case StateUnloading:
		return "unloading"
	default:
		return "unknown"
	}
}

// PluginManifest describes a plugin unit as declared in its manifest file.
//
// The manifest is the discovery contract: a plugin is a directory holding a
// `plugin.json` (or `plugin.yaml`) with the fields below plus one entry
// source file. Dependencies use the constraint grammar
// `name[op version]` with operators >=, >, ==, <=, <; a bare name means
// "must exist, any version".
//
// Example JSON manifest:
//
//	{
//	  "name": "audit-logger",
//	  "version": "1.2.0",
//	  "description": "Persists security events",
//	  "dependencies": ["core>=1.0.0", "storage"]
//	}
type PluginManifest struct {
	Name         string   `json:"name" yaml:"name"`
	Version      string   `json:"version" yaml:"version"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Author       string   `json:"author,omitempty" yaml:"author,omitempty"`
	Entry        string   `json:"entry,omitempty" yaml:"entry,omitempty"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// PluginDescriptor is the kernel-owned identity of a discoverable unit.
//
// Descriptors are created by the directory scan, mutated only by the kernel
// under its lock, and reset to their discovered shape on unload. Two
// descriptors never share a name; a rescan updates fields in place but never
// clears the state or instance of an Active plugin.
type PluginDescriptor struct {
	Name         string
	SourcePath   string // plugin directory
	EntryPath    string // entry source file inside SourcePath
	Version      Version
	Dependencies []string // raw constraint strings from the manifest
	State        PluginState
	DiscoveredAt time.Time

	manifest *PluginManifest
	unit     *pluginUnit // loaded code unit, nil unless Loading/Active
	api      *API        // capability API owned by this descriptor's plugin
	lastErr  error       // diagnostic from the most recent failed load
}

// PluginInfo is the read-only summary of a descriptor exposed to callers
// such as the command shell.
type PluginInfo struct {
	Name        string      `json:"name"`
	Version     string      `json:"version"`
	State       PluginState `json:"state"`
	Description string      `json:"description,omitempty"`
	SourcePath  string      `json:"source_path,omitempty"`
}

// Scope selects the namespace a context operation targets.
type Scope string

const (
	// ScopeGlobal is the shared namespace visible to every plugin. Reserved
	// keys inside it are writable only by the kernel.
	ScopeGlobal Scope = "global"
	// ScopeLocal is the calling plugin's private namespace, created on first
	// write and deleted atomically on unload.
	ScopeLocal Scope = "local"
)

// PluginSettings carries the optional per-plugin configuration files read
// through the capability API. The kernel never interprets their contents.
type PluginSettings struct {
	// Settings holds the parsed settings.json blob, nil if absent.
	Settings map[string]any `json:"settings,omitempty"`
	// Secrets holds key=value pairs from the local secrets file, nil if absent.
	Secrets map[string]string `json:"secrets,omitempty"`
}
