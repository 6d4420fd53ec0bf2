// Package microkernel implements a supervised plugin host for Go applications.
// Plugins are independently authored units of Go source, discovered on disk,
// ordered by version-constrained dependencies, vetted by a static source
// policy, and executed in per-plugin embedded interpreters. Every interaction
// between a plugin and the host flows through a capability API bound to that
// plugin's identity; plugins never receive direct access to kernel state.
//
// Key Features:
//   - Dependency resolution with version constraints and cycle exclusion
//   - Supervised load/unload/reload with hard wall-clock deadlines
//   - Cascading reload of transitive dependents in topological order
//   - Scoped context store (shared global namespace, private per-plugin namespace)
//   - Event bus with async broadcast and synchronous collect dispatch
//   - Managed background tasks with cooperative cancellation
//   - Static source policy rejecting denylisted imports and calls before load
//   - Security audit trail and hot-reloadable kernel configuration
//
// Basic Usage:
//
//	logger := microkernel.NewSlogAdapter(slog.Default())
//	kernel, err := microkernel.NewKernel(microkernel.DefaultKernelConfig(), logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Discover and start every resolvable plugin in dependency order
//	kernel.Init(ctx)
//
//	// Dispatch to plugin subscribers and collect replies in order
//	results := kernel.Call("ping", map[string]any{"src": "host"})
//
//	// Graceful teardown in reverse dependency order
//	kernel.Shutdown(ctx)
//
// Security:
// The source policy is a lint gate, not a sandbox. The enforced boundary is
// structural: interpreters receive an allowlisted standard-library surface
// plus the capability API, and nothing else. Reserved global context keys are
// writable only by the kernel itself; plugin writes to them are rejected and
// recorded in the audit trail.
//
// Copyright (c) 2025 AGILira - A. Giordano
// SPDX-License-Identifier: MPL-2.0
package microkernel
