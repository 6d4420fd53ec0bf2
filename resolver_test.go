// resolver_test.go: Tests for dependency resolution and load ordering
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package microkernel

import (
	"testing"

	"github.com/agilira/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func descriptorSet(entries map[string]struct {
	version string
	deps    []string
}) map[string]*PluginDescriptor {
	out := make(map[string]*PluginDescriptor, len(entries))
	for name, e := range entries {
		version, err := ParseVersion(e.version)
		if err != nil {
			panic(err)
		}
		out[name] = &PluginDescriptor{
			Name:         name,
			Version:      version,
			Dependencies: e.deps,
			State:        StateDiscovered,
		}
	}
	return out
}

func errorCode(t *testing.T, err error) string {
	t.Helper()
	var structured *errors.Error
	require.ErrorAs(t, err, &structured)
	return string(structured.Code)
}

func TestResolveLoadOrder_Chain(t *testing.T) {
	descriptors := descriptorSet(map[string]struct {
		version string
		deps    []string
	}{
		"a": {version: "1.0.0"},
		"b": {version: "1.0.0", deps: []string{"a"}},
		"c": {version: "1.0.0", deps: []string{"b>=1.0.0"}},
	})

	resolution := ResolveLoadOrder(descriptors)

	assert.Equal(t, []string{"a", "b", "c"}, resolution.Order)
	assert.Empty(t, resolution.Excluded)
}

func TestResolveLoadOrder_SharedDependency(t *testing.T) {
	descriptors := descriptorSet(map[string]struct {
		version string
		deps    []string
	}{
		"base":  {version: "2.0.0"},
		"north": {version: "1.0.0", deps: []string{"base>=2.0.0"}},
		"south": {version: "1.0.0", deps: []string{"base"}},
	})

	resolution := ResolveLoadOrder(descriptors)

	require.Len(t, resolution.Order, 3)
	assert.Equal(t, "base", resolution.Order[0])
	assert.Empty(t, resolution.Excluded)
}

func TestResolveLoadOrder_CycleExcludesOnlyParticipants(t *testing.T) {
	descriptors := descriptorSet(map[string]struct {
		version string
		deps    []string
	}{
		"a":        {version: "1.0.0", deps: []string{"b"}},
		"b":        {version: "1.0.0", deps: []string{"a"}},
		"loner":    {version: "1.0.0"},
		"follower": {version: "1.0.0", deps: []string{"loner"}},
	})

	resolution := ResolveLoadOrder(descriptors)

	assert.Equal(t, []string{"loner", "follower"}, resolution.Order)
	require.Len(t, resolution.Excluded, 2)
	assert.Contains(t, resolution.Excluded, "a")
	assert.Contains(t, resolution.Excluded, "b")
}

func TestResolveLoadOrder_CycleDiagnosticNamesChain(t *testing.T) {
	descriptors := descriptorSet(map[string]struct {
		version string
		deps    []string
	}{
		"a": {version: "1.0.0", deps: []string{"b"}},
		"b": {version: "1.0.0", deps: []string{"a"}},
	})

	resolution := ResolveLoadOrder(descriptors)

	assert.Empty(t, resolution.Order)
	for name, err := range resolution.Excluded {
		code := errorCode(t, err)
		assert.Contains(t,
			[]string{ErrCodeDependencyCycle, ErrCodeDependencyMissing}, code,
			"plugin %s excluded with unexpected code %s", name, code)
	}
}

func TestResolveLoadOrder_MissingDependency(t *testing.T) {
	descriptors := descriptorSet(map[string]struct {
		version string
		deps    []string
	}{
		"app": {version: "1.0.0", deps: []string{"ghost"}},
	})

	resolution := ResolveLoadOrder(descriptors)

	assert.Empty(t, resolution.Order)
	require.Contains(t, resolution.Excluded, "app")
	assert.Equal(t, ErrCodeDependencyMissing, errorCode(t, resolution.Excluded["app"]))
}

func TestResolveLoadOrder_VersionUnsatisfied(t *testing.T) {
	descriptors := descriptorSet(map[string]struct {
		version string
		deps    []string
	}{
		"lib": {version: "1.0.0"},
		"app": {version: "1.0.0", deps: []string{"lib>=2.0.0"}},
	})

	resolution := ResolveLoadOrder(descriptors)

	assert.Equal(t, []string{"lib"}, resolution.Order)
	require.Contains(t, resolution.Excluded, "app")
	assert.Equal(t, ErrCodeVersionUnsatisfied, errorCode(t, resolution.Excluded["app"]))
}

func TestResolveLoadOrder_MalformedConstraint(t *testing.T) {
	descriptors := descriptorSet(map[string]struct {
		version string
		deps    []string
	}{
		"app": {version: "1.0.0", deps: []string{"lib>="}},
	})

	resolution := ResolveLoadOrder(descriptors)

	assert.Empty(t, resolution.Order)
	require.Contains(t, resolution.Excluded, "app")
	assert.Equal(t, ErrCodeMalformedConstraint, errorCode(t, resolution.Excluded["app"]))
}

func TestResolveLoadOrder_FailurePropagatesToDependents(t *testing.T) {
	descriptors := descriptorSet(map[string]struct {
		version string
		deps    []string
	}{
		"broken":   {version: "1.0.0", deps: []string{"ghost"}},
		"indirect": {version: "1.0.0", deps: []string{"broken"}},
		"fine":     {version: "1.0.0"},
	})

	resolution := ResolveLoadOrder(descriptors)

	assert.Equal(t, []string{"fine"}, resolution.Order)
	require.Contains(t, resolution.Excluded, "broken")
	require.Contains(t, resolution.Excluded, "indirect")
}

func TestResolveLoadOrder_DeterministicForIndependents(t *testing.T) {
	descriptors := descriptorSet(map[string]struct {
		version string
		deps    []string
	}{
		"zeta":  {version: "1.0.0"},
		"alpha": {version: "1.0.0"},
		"mid":   {version: "1.0.0"},
	})

	first := ResolveLoadOrder(descriptors)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first.Order, ResolveLoadOrder(descriptors).Order)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, first.Order)
}

func TestDependencyNames_SkipsMalformed(t *testing.T) {
	names := dependencyNames([]string{"core>=1.0", "lib", ">=broken", "other<2"})
	assert.Equal(t, []string{"core", "lib", "other"}, names)
}
