// version.go: Version parsing and dependency constraint grammar
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package microkernel

import (
	"strconv"
	"strings"

	"github.com/agilira/go-errors"
)

// Version is a parsed semantic version tuple.
//
// Comparison is lexicographic over the integer components with short tuples
// treated as zero-padded, so "1.2" == "1.2.0" and "1.10.0" > "1.9.9".
type Version []int

// ParseVersion parses a dotted integer version string such as "1.2.0".
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, NewInvalidVersionError(s, nil)
	}

	parts := strings.Split(s, ".")
	v := make(Version, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return nil, NewInvalidVersionError(s, err)
		}
		v = append(v, n)
	}
	return v, nil
}

// Compare returns -1, 0, or 1 ordering v against other.
func (v Version) Compare(other Version) int {
	length := len(v)
	if len(other) > length {
		length = len(other)
	}

	for i := 0; i < length; i++ {
		a, b := 0, 0
		if i < len(v) {
			a = v[i]
		}
		if i < len(other) {
			b = other[i]
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
	}
	return 0
}

// String renders the version back to dotted form.
func (v Version) String() string {
	if len(v) == 0 {
		return "0"
	}
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// constraintOperators in match order: two-character operators first so that
// ">=" is not torn into ">" + "=1.2.0".
var constraintOperators = []string{">=", "<=", "==", ">", "<"}

// DependencyConstraint is one parsed entry of a manifest's dependency list.
//
// A bare plugin name (empty Operator) means the dependency must exist at any
// version.
type DependencyConstraint struct {
	Name     string
	Operator string
	Version  Version
	Raw      string
}

// ParseDependencyConstraint parses a constraint of the form
// `name[op version]`, e.g. "core>=1.2.0" or just "core".
func ParseDependencyConstraint(spec string) (DependencyConstraint, error) {
	raw := spec
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return DependencyConstraint{}, NewMalformedConstraintError("", raw, nil)
	}

	for _, op := range constraintOperators {
		idx := strings.Index(spec, op)
		if idx < 0 {
			continue
		}
		name := strings.TrimSpace(spec[:idx])
		versionStr := strings.TrimSpace(spec[idx+len(op):])
		if name == "" || versionStr == "" {
			return DependencyConstraint{}, NewMalformedConstraintError(name, raw, nil)
		}
		version, err := ParseVersion(versionStr)
		if err != nil {
			return DependencyConstraint{}, NewMalformedConstraintError(name, raw, err)
		}
		return DependencyConstraint{
			Name:     name,
			Operator: op,
			Version:  version,
			Raw:      raw,
		}, nil
	}

	// Bare name: reject anything that still smells like operator syntax.
	if strings.ContainsAny(spec, "=<> ") {
		return DependencyConstraint{}, NewMalformedConstraintError(spec, raw, nil)
	}
	return DependencyConstraint{Name: spec, Raw: raw}, nil
}

// Satisfies reports whether the candidate version meets the constraint.
func (c DependencyConstraint) Satisfies(candidate Version) bool {
	if c.Operator == "" {
		return true
	}

	cmp := candidate.Compare(c.Version)
	switch c.Operator {
	case ">=":
		return cmp >= 0
	case ">":
		return cmp > 0
	case "==":
		return cmp == 0
	case "<=":
		return cmp <= 0
	case "<":
		return cmp < 0
	default:
		return false
	}
}

// constraintViolation builds the taxonomy error for an unsatisfied constraint.
func (c DependencyConstraint) constraintViolation(plugin string, actual Version) *errors.Error {
	return NewVersionUnsatisfiedError(plugin, c.Raw, actual.String())
}
