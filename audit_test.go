// audit_test.go: Tests for the security audit trail
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package microkernel

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditTrail_DisabledIsNoOp(t *testing.T) {
	trail, err := NewAuditTrail(AuditOptions{})
	require.NoError(t, err)

	// None of these may touch disk or fail.
	trail.SecurityEvent("nothing", "disabled trail ignores everything", nil)
	assert.NoError(t, trail.Close())
}

func TestAuditTrail_WritesEvents(t *testing.T) {
	outputFile := filepath.Join(t.TempDir(), "audit.jsonl")

	trail, err := NewAuditTrail(AuditOptions{Enabled: true, OutputFile: outputFile})
	require.NoError(t, err)

	trail.SecurityEvent("plugin_load_blocked",
		"Plugin source failed the security policy scan",
		map[string]any{"plugin": "hostile", "violations": 2})
	require.NoError(t, trail.Close())

	data, err := os.ReadFile(outputFile)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "plugin_load_blocked")
	assert.Contains(t, content, "hostile")
}

func TestKernel_AuditRecordsSecurityRejections(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "hostile", `{"name": "hostile", "version": "1.0.0"}`,
		`package plugin

import (
	"os/exec"

	"kernel"
)

func Start(api *kernel.API) error { return exec.Command("id").Run() }
func Stop(api *kernel.API) error  { return nil }
`)

	outputFile := filepath.Join(t.TempDir(), "audit.jsonl")
	config := DefaultKernelConfig()
	config.PluginDir = root
	config.Audit = AuditOptions{Enabled: true, OutputFile: outputFile}

	kernel, err := NewKernel(config, NewTestLogger())
	require.NoError(t, err)

	ctx := context.Background()
	kernel.Init(ctx)
	require.NoError(t, kernel.Shutdown(ctx))

	data, err := os.ReadFile(outputFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "plugin_load_blocked")
}
