// resolver.go: Dependency resolution and load ordering
//
// The resolver turns the current descriptor set into a load order in which
// every dependency precedes its dependents. Failures are scoped: a cycle, a
// missing dependency, an unsatisfied version constraint, or a malformed
// constraint string excludes only the plugins transitively rooted at the
// failure, each with its own diagnostic. Independent plugins always resolve.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package microkernel

import (
	"sort"
)

// visitState tracks a node's progress through the depth-first walk.
type visitState int

const (
	visitUnseen visitState = iota
	visitInProgress
	visitResolved
	visitFailed
)

// Resolution is the outcome of a dependency resolution pass.
type Resolution struct {
	// Order lists resolvable plugins, dependencies before dependents.
	Order []string
	// Excluded maps each unresolvable plugin to the diagnostic that
	// excluded it (cycle, missing dependency, version, malformed spec).
	Excluded map[string]error
}

// resolverInput is the minimal view of a descriptor the resolver needs.
type resolverInput struct {
	version      Version
	dependencies []string
}

// ResolveLoadOrder computes a dependency-ordered load sequence for the given
// descriptors.
//
// The walk is depth-first with an in-progress set for cycle detection.
// Hitting an in-progress node fails that branch; the failure then propagates
// to every plugin whose resolution passed through it. Iteration is sorted by
// name so the order is deterministic for plugins with no mutual ordering
// constraint.
func ResolveLoadOrder(descriptors map[string]*PluginDescriptor) Resolution {
	inputs := make(map[string]resolverInput, len(descriptors))
	for name, desc := range descriptors {
		inputs[name] = resolverInput{
			version:      desc.Version,
			dependencies: desc.Dependencies,
		}
	}
	return resolve(inputs)
}

func resolve(inputs map[string]resolverInput) Resolution {
	r := &resolverRun{
		inputs:   inputs,
		states:   make(map[string]visitState, len(inputs)),
		excluded: make(map[string]error),
	}

	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		r.visit(name, nil)
	}

	return Resolution{Order: r.order, Excluded: r.excluded}
}

type resolverRun struct {
	inputs   map[string]resolverInput
	states   map[string]visitState
	order    []string
	excluded map[string]error
}

// visit resolves one plugin and returns the diagnostic that failed it, or
// nil on success. chain carries the in-progress path for cycle reporting.
func (r *resolverRun) visit(name string, chain []string) error {
	switch r.states[name] {
	case visitResolved:
		return nil
	case visitFailed:
		return r.excluded[name]
	case visitInProgress:
		// Re-entering an in-progress node closes a cycle. The node itself
		// is failed here; every caller on the chain fails in turn as the
		// recursion unwinds.
		err := NewDependencyCycleError(name, append(append([]string{}, chain...), name))
		r.fail(name, err)
		return err
	}

	input := r.inputs[name]
	r.states[name] = visitInProgress
	chain = append(chain, name)

	for _, spec := range input.dependencies {
		constraint, err := ParseDependencyConstraint(spec)
		if err != nil {
			r.fail(name, NewMalformedConstraintError(name, spec, err))
			return r.excluded[name]
		}

		depInput, exists := r.inputs[constraint.Name]
		if !exists {
			r.fail(name, NewDependencyMissingError(name, constraint.Name))
			return r.excluded[name]
		}

		if !constraint.Satisfies(depInput.version) {
			r.fail(name, constraint.constraintViolation(name, depInput.version))
			return r.excluded[name]
		}

		if depErr := r.visit(constraint.Name, chain); depErr != nil {
			// A cycle failure may already have marked this node while the
			// recursion unwound through it.
			if r.states[name] != visitFailed {
				r.fail(name, NewDependencyExcludedError(name, constraint.Name, depErr))
			}
			return r.excluded[name]
		}
	}

	r.states[name] = visitResolved
	r.order = append(r.order, name)
	return nil
}

func (r *resolverRun) fail(name string, err error) {
	r.states[name] = visitFailed
	if _, seen := r.excluded[name]; !seen {
		r.excluded[name] = err
	}
}

// dependencyNames extracts the target plugin names from a descriptor's
// constraint list, skipping malformed entries. Used by the reverse
// dependency walk where constraint validity has already been reported.
func dependencyNames(specs []string) []string {
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		constraint, err := ParseDependencyConstraint(spec)
		if err != nil {
			continue
		}
		names = append(names, constraint.Name)
	}
	return names
}
