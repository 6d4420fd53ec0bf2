// types_test.go: Tests for common data types
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package microkernel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPluginState_String(t *testing.T) {
	tests := []struct {
		name     string
		state    PluginState
		expected string
	}{
		{name: "StateDiscovered", state: StateDiscovered, expected: "discovered"},
		{name: "StateLoading", state: StateLoading, expected: "loading"},
		{name: "StateActive", state: StateActive, expected: "active"},
		{name: "StateFailed", state: StateFailed, expected: "failed"},
		{name: "StateUnloading", state: StateUnloading, expected: "unloading"},
		{name: "InvalidState", state: PluginState(999), expected: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestPluginManifest_JSONDecoding(t *testing.T) {
	blob := `{
		"name": "sensor",
		"version": "1.4.0",
		"description": "Reads the sensors",
		"author": "someone",
		"entry": "sensor.go",
		"dependencies": ["core>=1.0.0", "bus"]
	}`

	var manifest PluginManifest
	require.NoError(t, json.Unmarshal([]byte(blob), &manifest))

	assert.Equal(t, "sensor", manifest.Name)
	assert.Equal(t, "1.4.0", manifest.Version)
	assert.Equal(t, "sensor.go", manifest.Entry)
	assert.Equal(t, []string{"core>=1.0.0", "bus"}, manifest.Dependencies)
}
