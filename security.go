// security.go: Static source policy checked before any plugin executes
//
// The policy walks the parsed syntax tree of a plugin's entry source and
// flags imports of denylisted packages and calls to denylisted identifiers.
// A non-empty result blocks loading; the loader never executes a unit that
// fails the check. This is a best-effort lint against accidental misuse,
// not a sandbox: the enforced boundary is the restricted interpreter
// symbol surface plus the capability API.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package microkernel

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"strconv"
)

// PolicyViolationKind classifies what a violation flagged.
type PolicyViolationKind string

const (
	// ViolationImport flags an import of a denylisted package, whether
	// plain or aliased.
	ViolationImport PolicyViolationKind = "import"
	// ViolationCall flags a call whose callee identifier, or whose
	// attribute-access name, is denylisted.
	ViolationCall PolicyViolationKind = "call"
)

// PolicyViolation is one finding from a source scan.
type PolicyViolation struct {
	Kind     PolicyViolationKind `json:"kind"`
	Name     string              `json:"name"`
	Position string              `json:"position"`
}

func (v PolicyViolation) String() string {
	return fmt.Sprintf("%s of %q at %s", v.Kind, v.Name, v.Position)
}

// DefaultDeniedImports lists package paths a plugin source may not import.
// These are the capabilities the interpreter never exposes anyway; flagging
// them before execution produces a clear diagnostic instead of a runtime
// symbol error.
func DefaultDeniedImports() []string {
	return []string{
		"os",
		"os/exec",
		"os/signal",
		"net",
		"net/http",
		"syscall",
		"unsafe",
		"plugin",
		"reflect",
		"runtime/debug",
	}
}

// DefaultDeniedCalls lists callee and attribute names a plugin source may
// not invoke: process spawning, environment mutation, and hard exits.
func DefaultDeniedCalls() []string {
	return []string{
		"Command",
		"CommandContext",
		"StartProcess",
		"ForkExec",
		"Exec",
		"Setenv",
		"Clearenv",
		"Exit",
		"Kill",
		"RemoveAll",
	}
}

// SourcePolicy scans plugin sources for denylisted capabilities.
type SourcePolicy struct {
	deniedImports map[string]struct{}
	deniedCalls   map[string]struct{}
	logger        Logger
}

// NewSourcePolicy builds a policy from explicit denylists. Empty slices
// fall back to the defaults.
func NewSourcePolicy(deniedImports, deniedCalls []string, logger Logger) *SourcePolicy {
	if len(deniedImports) == 0 {
		deniedImports = DefaultDeniedImports()
	}
	if len(deniedCalls) == 0 {
		deniedCalls = DefaultDeniedCalls()
	}
	if logger == nil {
		logger = DefaultLogger()
	}

	imports := make(map[string]struct{}, len(deniedImports))
	for _, name := range deniedImports {
		imports[name] = struct{}{}
	}
	calls := make(map[string]struct{}, len(deniedCalls))
	for _, name := range deniedCalls {
		calls[name] = struct{}{}
	}
	return &SourcePolicy{
		deniedImports: imports,
		deniedCalls:   calls,
		logger:        logger,
	}
}

// ScanFile parses a source file and returns every violation found. A parse
// failure is returned as an error distinct from violations: unparseable
// source is a load failure, not a policy verdict.
func (p *SourcePolicy) ScanFile(path string) ([]PolicyViolation, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, NewModuleLoadFailureError(path, err)
	}
	return p.ScanSource(path, src)
}

// ScanSource scans in-memory source. Exposed separately so tests and
// tooling can vet candidate code without touching disk.
func (p *SourcePolicy) ScanSource(filename string, src []byte) ([]PolicyViolation, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, NewModuleLoadFailureError(filename, err)
	}

	var violations []PolicyViolation

	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		if _, denied := p.deniedImports[path]; denied {
			violations = append(violations, PolicyViolation{
				Kind:     ViolationImport,
				Name:     path,
				Position: fset.Position(imp.Pos()).String(),
			})
		}
	}

	ast.Inspect(file, func(node ast.Node) bool {
		call, ok := node.(*ast.CallExpr)
		if !ok {
			return true
		}

		var callee string
		switch fn := call.Fun.(type) {
		case *ast.Ident:
			callee = fn.Name
		case *ast.SelectorExpr:
			callee = fn.Sel.Name
		default:
			return true
		}

		if _, denied := p.deniedCalls[callee]; denied {
			violations = append(violations, PolicyViolation{
				Kind:     ViolationCall,
				Name:     callee,
				Position: fset.Position(call.Pos()).String(),
			})
		}
		return true
	})

	if len(violations) > 0 {
		p.logger.Warn("Source policy violations found",
			"file", filename,
			"violations", len(violations))
	}
	return violations, nil
}
