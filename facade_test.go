// facade_test.go: Tests for the capability API handed to plugins
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package microkernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()

	config := DefaultKernelConfig()
	config.PluginDir = t.TempDir()
	config.StartTimeout = 500 * time.Millisecond
	config.StopTimeout = 500 * time.Millisecond
	config.TaskGracePeriod = 500 * time.Millisecond

	kernel, err := NewKernel(config, NewTestLogger())
	require.NoError(t, err)
	return kernel
}

func TestAPI_Identity(t *testing.T) {
	kernel := newTestKernel(t)
	api := newAPI("sensor", kernel, PluginSettings{}, NewTestLogger())

	assert.Equal(t, "sensor", api.PluginName())
	assert.True(t, api.IsActive())
	assert.Equal(t, 0, api.TaskCount())
}

func TestAPI_LocalDataScopedToPlugin(t *testing.T) {
	kernel := newTestKernel(t)
	alpha := newAPI("alpha", kernel, PluginSettings{}, NewTestLogger())
	beta := newAPI("beta", kernel, PluginSettings{}, NewTestLogger())

	require.NoError(t, alpha.SetData("state", "mine", ScopeLocal))

	assert.Equal(t, "mine", alpha.Data("state", ScopeLocal, nil))
	assert.Equal(t, "fallback", beta.Data("state", ScopeLocal, "fallback"))
}

func TestAPI_GlobalDataSharedAcrossPlugins(t *testing.T) {
	kernel := newTestKernel(t)
	writer := newAPI("writer", kernel, PluginSettings{}, NewTestLogger())
	reader := newAPI("reader", kernel, PluginSettings{}, NewTestLogger())

	require.NoError(t, writer.SetData("shared", "broadcast", ScopeGlobal))
	assert.Equal(t, "broadcast", reader.Data("shared", ScopeGlobal, nil))
}

func TestAPI_ReservedKeyWriteIsSilentlyRejected(t *testing.T) {
	kernel := newTestKernel(t)
	api := newAPI("intruder", kernel, PluginSettings{}, NewTestLogger())

	// The write reports success to the caller but does not land.
	require.NoError(t, api.SetData("version", "99.0.0", ScopeGlobal))
	assert.Equal(t, KernelVersion, api.Data("version", ScopeGlobal, nil))

	require.NoError(t, api.SetData("admin", "intruder", ScopeGlobal))
	assert.Equal(t, "Administrator", api.Data("admin", ScopeGlobal, nil))

	// Append is a mutating path and gets the same treatment.
	require.NoError(t, api.AppendData("version", "trailer", ScopeGlobal))
	assert.Equal(t, KernelVersion, api.Data("version", ScopeGlobal, nil))
}

func TestAPI_DataFallsBackToDefault(t *testing.T) {
	kernel := newTestKernel(t)
	api := newAPI("p", kernel, PluginSettings{}, NewTestLogger())

	assert.Equal(t, 7, api.Data("absent", ScopeGlobal, 7))
	assert.Nil(t, api.Data("absent", ScopeLocal, nil))
}

func TestAPI_EventsThroughBus(t *testing.T) {
	kernel := newTestKernel(t)
	listener := newAPI("listener", kernel, PluginSettings{}, NewTestLogger())
	caller := newAPI("caller", kernel, PluginSettings{}, NewTestLogger())

	require.NoError(t, listener.On("ping", func(args map[string]any) (any, error) {
		return "pong", nil
	}))

	results, err := caller.Call("ping", time.Second, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "pong", results[0].Value)

	handles, err := caller.Emit("ping", nil)
	require.NoError(t, err)
	require.Len(t, handles, 1)
	value, err := handles[0].Result()
	require.NoError(t, err)
	assert.Equal(t, "pong", value)
}

func TestAPI_SpawnTaskObservesLiveness(t *testing.T) {
	kernel := newTestKernel(t)
	api := newAPI("worker", kernel, PluginSettings{}, NewTestLogger())

	iterations := make(chan int, 1)
	task, err := api.SpawnTask(func(task *ManagedTask) {
		n := 0
		for api.IsActive() {
			n++
			time.Sleep(5 * time.Millisecond)
		}
		task.Log("heartbeat loop finished")
		iterations <- n
	})
	require.NoError(t, err)
	assert.Equal(t, 1, api.TaskCount())
	assert.Contains(t, task.Name, "worker/task-")

	time.Sleep(30 * time.Millisecond)
	leaked := api.cleanup(time.Second)

	assert.Equal(t, 0, leaked)
	select {
	case n := <-iterations:
		assert.Greater(t, n, 0)
	case <-time.After(time.Second):
		t.Fatal("task did not exit after the liveness flag flipped")
	}
	assert.False(t, api.IsActive())
	assert.Equal(t, 0, api.TaskCount())
}

func TestAPI_LogTagsWorkerIdentity(t *testing.T) {
	kernel := newTestKernel(t)
	logger := NewTestLogger()
	api := newAPI("sensor", kernel, PluginSettings{}, logger)

	api.Log("host side ready")

	logged := make(chan struct{})
	task, err := api.SpawnTask(func(task *ManagedTask) {
		task.Log("first sample")
		close(logged)
		for api.IsActive() {
			time.Sleep(5 * time.Millisecond)
		}
	})
	require.NoError(t, err)
	<-logged

	assert.True(t, logger.HasMessage("INFO", "host side ready"))
	assert.True(t, logger.HasMessage("INFO", "first sample"))

	var hostArgs, taskArgs []any
	for _, msg := range logger.Messages {
		switch msg.Message {
		case "host side ready":
			hostArgs = msg.Args
		case "first sample":
			taskArgs = msg.Args
		}
	}
	assert.Equal(t, []any{"plugin", "sensor", "worker", "host"}, hostArgs)
	assert.Equal(t, []any{"plugin", "sensor", "worker", task.Name}, taskArgs)

	assert.Equal(t, 0, api.cleanup(time.Second))
}

func TestAPI_CleanupReportsLeakedTasks(t *testing.T) {
	kernel := newTestKernel(t)
	api := newAPI("stubborn", kernel, PluginSettings{}, NewTestLogger())

	release := make(chan struct{})
	_, err := api.SpawnTask(func(*ManagedTask) {
		// Deliberately ignores IsActive.
		<-release
	})
	require.NoError(t, err)

	leaked := api.cleanup(50 * time.Millisecond)
	assert.Equal(t, 1, leaked)
	close(release)
}

func TestAPI_SpawnTaskRefusedWhileStopping(t *testing.T) {
	kernel := newTestKernel(t)
	api := newAPI("late", kernel, PluginSettings{}, NewTestLogger())

	api.cleanup(10 * time.Millisecond)

	_, err := api.SpawnTask(func(*ManagedTask) {})
	require.Error(t, err)
	assert.Equal(t, ErrCodePluginStopping, errorCode(t, err))
}

func TestAPI_FailsClosedAfterCleanup(t *testing.T) {
	kernel := newTestKernel(t)
	api := newAPI("ghost", kernel, PluginSettings{}, NewTestLogger())

	require.NoError(t, api.SetData("k", "v", ScopeLocal))
	api.cleanup(10 * time.Millisecond)

	assert.Error(t, api.On("e", func(map[string]any) (any, error) { return nil, nil }))
	_, err := api.Emit("e", nil)
	assert.Error(t, err)
	_, err = api.Call("e", 0, nil)
	assert.Error(t, err)
	assert.Error(t, api.SetData("k", "v2", ScopeLocal))

	// Reads fall back to the default instead of failing.
	assert.Equal(t, "default", api.Data("k", ScopeLocal, "default"))
}

func TestAPI_PluginConfig(t *testing.T) {
	kernel := newTestKernel(t)
	settings := PluginSettings{
		Settings: map[string]any{"mode": "fast"},
		Secrets:  map[string]string{"token": "hunter2"},
	}
	api := newAPI("configured", kernel, settings, NewTestLogger())

	got := api.PluginConfig()
	assert.Equal(t, "fast", got.Settings["mode"])
	assert.Equal(t, "hunter2", got.Secrets["token"])
}
