// errors.go: structured error definitions for the microkernel
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package microkernel

import (
	"github.com/agilira/go-errors"
)

// Error codes for the microkernel. Every failure a plugin can cause is
// caught at the boundary where it occurs, converted to one of these, and
// logged; none of them escapes the kernel's control loop.
const (
	// Dependency resolution errors (1000-1099)
	ErrCodeDependencyCycle     = "KERNEL_1001"
	ErrCodeDependencyMissing   = "KERNEL_1002"
	ErrCodeVersionUnsatisfied  = "KERNEL_1003"
	ErrCodeMalformedConstraint = "KERNEL_1004"
	ErrCodeInvalidVersion      = "KERNEL_1005"

	// Lifecycle errors (1100-1199)
	ErrCodePluginNotFound    = "KERNEL_1101"
	ErrCodeModuleLoadFailure = "KERNEL_1102"
	ErrCodeStartTimeout      = "KERNEL_1103"
	ErrCodeStartException    = "KERNEL_1104"
	ErrCodeStopTimeout       = "KERNEL_1105"
	ErrCodeStopException     = "KERNEL_1106"
	ErrCodeKernelShutdown    = "KERNEL_1107"

	// Security errors (1200-1299)
	ErrCodeSecurityViolation = "KERNEL_1201"
	ErrCodeReservedKey       = "KERNEL_1202"

	// Sandbox and event errors (1300-1399)
	ErrCodeHostUnavailable        = "KERNEL_1301"
	ErrCodeEventCallbackException = "KERNEL_1302"
	ErrCodePluginStopping         = "KERNEL_1303"
	ErrCodeValueNotCopyable       = "KERNEL_1304"

	// Configuration and discovery errors (1400-1499)
	ErrCodeManifestError     = "KERNEL_1401"
	ErrCodeConfigError       = "KERNEL_1402"
	ErrCodeDiscoveryError    = "KERNEL_1403"
	ErrCodeAuditError        = "KERNEL_1404"
	ErrCodeDuplicatePlugin   = "KERNEL_1405"
	ErrCodeInvalidPluginName = "KERNEL_1406"
)

// Dependency resolution error constructors

func NewDependencyCycleError(plugin string, chain []string) *errors.Error {
	return errors.New(ErrCodeDependencyCycle, "Dependency cycle detected").
		WithUserMessage("Plugin participates in a dependency cycle and was excluded from the load order").
		WithContext("plugin", plugin).
		WithContext("chain", chain).
		WithSeverity("error")
}

func NewDependencyMissingError(plugin, dependency string) *errors.Error {
	return errors.New(ErrCodeDependencyMissing, "Dependency not present").
		WithUserMessage("Plugin depends on a plugin that is not discovered").
		WithContext("plugin", plugin).
		WithContext("dependency", dependency).
		WithSeverity("error")
}

func NewVersionUnsatisfiedError(plugin, constraint, actual string) *errors.Error {
	return errors.New(ErrCodeVersionUnsatisfied, "Version constraint unsatisfied").
		WithUserMessage("A declared dependency exists but its version fails the constraint").
		WithContext("plugin", plugin).
		WithContext("constraint", constraint).
		WithContext("actual_version", actual).
		WithSeverity("error")
}

func NewMalformedConstraintError(plugin, spec string, cause error) *errors.Error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeMalformedConstraint, "Malformed dependency constraint").
			WithContext("plugin", plugin).
			WithContext("spec", spec).
			WithSeverity("error")
	}
	return errors.New(ErrCodeMalformedConstraint, "Malformed dependency constraint").
		WithContext("plugin", plugin).
		WithContext("spec", spec).
		WithSeverity("error")
}

func NewDependencyExcludedError(plugin, dependency string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeDependencyMissing, "Dependency excluded").
		WithUserMessage("Plugin was excluded because a plugin it depends on failed to resolve").
		WithContext("plugin", plugin).
		WithContext("dependency", dependency).
		WithSeverity("error")
}

func NewInvalidVersionError(version string, cause error) *errors.Error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeInvalidVersion, "Invalid version string").
			WithContext("version", version).
			WithSeverity("error")
	}
	return errors.New(ErrCodeInvalidVersion, "Invalid version string").
		WithContext("version", version).
		WithSeverity("error")
}

// Lifecycle error constructors

func NewPluginNotFoundError(name string) *errors.Error {
	return errors.New(ErrCodePluginNotFound, "Plugin not found").
		WithUserMessage("No discovered plugin carries this name").
		WithContext("plugin", name).
		WithSeverity("error")
}

func NewModuleLoadFailureError(name string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeModuleLoadFailure, "Module load failure").
		WithUserMessage("The plugin's code unit could not be loaded").
		WithContext("plugin", name).
		WithSeverity("error")
}

func NewStartTimeoutError(name string, timeout string) *errors.Error {
	return errors.New(ErrCodeStartTimeout, "Plugin start deadline exceeded").
		WithUserMessage("The start entry point did not return within the configured deadline; the worker was abandoned").
		WithContext("plugin", name).
		WithContext("timeout", timeout).
		WithSeverity("error")
}

func NewStartExceptionError(name string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeStartException, "Plugin start failed").
		WithContext("plugin", name).
		WithSeverity("error")
}

func NewStopTimeoutError(name string, timeout string) *errors.Error {
	return errors.New(ErrCodeStopTimeout, "Plugin stop deadline exceeded").
		WithContext("plugin", name).
		WithContext("timeout", timeout).
		WithSeverity("warning")
}

func NewStopExceptionError(name string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeStopException, "Plugin stop failed").
		WithContext("plugin", name).
		WithSeverity("warning")
}

func NewKernelShutdownError() *errors.Error {
	return errors.New(ErrCodeKernelShutdown, "Kernel is shutting down").
		WithSeverity("warning")
}

// Security error constructors

func NewSecurityViolationError(name string, violations int) *errors.Error {
	return errors.New(ErrCodeSecurityViolation, "Security policy violation").
		WithUserMessage("The plugin source references denylisted capabilities and will not be executed").
		WithContext("plugin", name).
		WithContext("violations", violations).
		WithSeverity("error")
}

func NewReservedKeyError(key string) *errors.Error {
	return errors.New(ErrCodeReservedKey, "Reserved context key").
		WithUserMessage("This global key is owned by the kernel and cannot be mutated by plugins").
		WithContext("key", key).
		WithSeverity("warning")
}

// Sandbox and event error constructors

func NewHostUnavailableError(plugin string) *errors.Error {
	return errors.New(ErrCodeHostUnavailable, "Host unavailable").
		WithUserMessage("The kernel reference behind this capability API has been released").
		WithContext("plugin", plugin).
		WithSeverity("error")
}

func NewEventCallbackError(event, owner string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeEventCallbackException, "Event callback failed").
		WithContext("event", event).
		WithContext("owner", owner).
		WithSeverity("error")
}

func NewPluginStoppingError(plugin string) *errors.Error {
	return errors.New(ErrCodePluginStopping, "Plugin is stopping").
		WithUserMessage("New background tasks are refused once the plugin has begun stopping").
		WithContext("plugin", plugin).
		WithSeverity("warning")
}

func NewValueNotCopyableError(key string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeValueNotCopyable, "Value cannot be safely copied").
		WithContext("key", key).
		WithSeverity("warning")
}

// Configuration and discovery error constructors

func NewManifestError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeManifestError, "Invalid plugin manifest").
		WithContext("path", path).
		WithSeverity("error")
}

func NewConfigError(message string, cause error) *errors.Error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeConfigError, message).
			WithSeverity("error")
	}
	return errors.New(ErrCodeConfigError, message).
		WithSeverity("error")
}

func NewDiscoveryError(dir string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeDiscoveryError, "Plugin discovery failed").
		WithContext("dir", dir).
		WithSeverity("error")
}

func NewAuditError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeAuditError, message).
		WithSeverity("error")
}

func NewDuplicatePluginError(name, path string) *errors.Error {
	return errors.New(ErrCodeDuplicatePlugin, "Duplicate plugin name").
		WithUserMessage("Two plugin directories declare the same name; the later one is ignored").
		WithContext("plugin", name).
		WithContext("path", path).
		WithSeverity("warning")
}

func NewInvalidPluginNameError(name string) *errors.Error {
	return errors.New(ErrCodeInvalidPluginName, "Invalid plugin name").
		WithUserMessage("Plugin name is required and cannot be empty").
		WithContext("provided_name", name).
		WithSeverity("error")
}
