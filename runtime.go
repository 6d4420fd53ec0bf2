// runtime.go: Embedded interpreter runtime for plugin code units
//
// Plugins are plain Go source interpreted at runtime, one interpreter per
// plugin so package-level state never crosses plugin boundaries. Each
// interpreter receives an allowlisted subset of the standard library plus
// the capability API exported under the import path "kernel"; nothing else
// is reachable from plugin code. That symbol surface, not the source scan,
// is the security boundary.
//
// A plugin's entry file declares package plugin and exposes:
//
//	func Start(api *kernel.API) error
//	func Stop(api *kernel.API) error
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package microkernel

import (
	"os"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// sandboxImportPath is the path plugin sources import to reach the
// capability API.
const sandboxImportPath = "kernel"

// entryFunc is the shape of both plugin entry points.
type entryFunc func(*API) error

// pluginUnit is the opaque handle to one plugin's loaded code.
type pluginUnit struct {
	interpreter *interp.Interpreter
	start       entryFunc
	stop        entryFunc
}

// DefaultAllowedPackages lists the standard-library packages exposed inside
// plugin interpreters. Everything capable of reaching the filesystem, the
// network, the process table, or unsafe memory is absent.
func DefaultAllowedPackages() []string {
	return []string{
		"bytes",
		"errors",
		"encoding/base64",
		"encoding/json",
		"fmt",
		"math",
		"math/rand",
		"regexp",
		"sort",
		"strconv",
		"strings",
		"time",
		"unicode",
		"unicode/utf8",
	}
}

// PluginRuntime constructs isolated interpreters for plugin units.
type PluginRuntime struct {
	allowed map[string]struct{}
	logger  Logger
}

// NewPluginRuntime builds a runtime exposing the given standard-library
// packages to plugins. An empty list falls back to the defaults.
func NewPluginRuntime(allowedPackages []string, logger Logger) *PluginRuntime {
	if len(allowedPackages) == 0 {
		allowedPackages = DefaultAllowedPackages()
	}
	if logger == nil {
		logger = DefaultLogger()
	}

	allowed := make(map[string]struct{}, len(allowedPackages))
	for _, pkg := range allowedPackages {
		allowed[pkg] = struct{}{}
	}
	return &PluginRuntime{allowed: allowed, logger: logger}
}

// restrictedSymbols filters the full stdlib symbol table down to the
// allowlisted packages. Symbol keys are "importpath/pkgname", e.g.
// "encoding/json/json".
func (r *PluginRuntime) restrictedSymbols() interp.Exports {
	out := make(interp.Exports)
	for key, symbols := range stdlib.Symbols {
		path := key
		if idx := strings.LastIndex(key, "/"); idx >= 0 {
			path = key[:idx]
		}
		if _, ok := r.allowed[path]; ok {
			out[key] = symbols
		}
	}
	return out
}

// sandboxSymbols exports the capability API type to interpreted code under
// the "kernel" import path. Methods travel with the concrete type.
func sandboxSymbols() interp.Exports {
	return interp.Exports{
		sandboxImportPath + "/" + sandboxImportPath: {
			"API":         reflect.ValueOf((*API)(nil)),
			"Scope":       reflect.ValueOf((*Scope)(nil)),
			"ScopeGlobal": reflect.ValueOf(ScopeGlobal),
			"ScopeLocal":  reflect.ValueOf(ScopeLocal),
			"ManagedTask": reflect.ValueOf((*ManagedTask)(nil)),
			"EventHandle": reflect.ValueOf((*EventHandle)(nil)),
			"CallResult":  reflect.ValueOf((*CallResult)(nil)),
		},
	}
}

// LoadUnit interprets a plugin's entry source and extracts its entry
// points. The returned unit has not been started; the kernel supervises
// Start and Stop separately with its own deadlines.
func (r *PluginRuntime) LoadUnit(name, entryPath string) (*pluginUnit, error) {
	src, err := os.ReadFile(entryPath)
	if err != nil {
		return nil, NewModuleLoadFailureError(name, err)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(r.restrictedSymbols()); err != nil {
		return nil, NewModuleLoadFailureError(name, err)
	}
	if err := i.Use(sandboxSymbols()); err != nil {
		return nil, NewModuleLoadFailureError(name, err)
	}

	if _, err := i.Eval(string(src)); err != nil {
		return nil, NewModuleLoadFailureError(name, err)
	}

	start, err := r.entryPoint(i, name, "plugin.Start")
	if err != nil {
		return nil, err
	}
	stop, err := r.entryPoint(i, name, "plugin.Stop")
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Plugin unit interpreted",
		"plugin", name,
		"entry", entryPath)
	return &pluginUnit{
		interpreter: i,
		start:       start,
		stop:        stop,
	}, nil
}

// entryPoint resolves one required entry function from the interpreted unit.
func (r *PluginRuntime) entryPoint(i *interp.Interpreter, name, symbol string) (entryFunc, error) {
	v, err := i.Eval(symbol)
	if err != nil {
		return nil, NewModuleLoadFailureError(name, err).
			WithContext("missing_symbol", symbol)
	}
	fn, ok := v.Interface().(func(*API) error)
	if !ok {
		return nil, NewModuleLoadFailureError(name,
			NewConfigError("entry point has wrong signature, want func(*kernel.API) error", nil)).
			WithContext("symbol", symbol)
	}
	return fn, nil
}
