// version_test.go: Tests for version parsing and constraint evaluation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package microkernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Version
		wantErr  bool
	}{
		{name: "full triple", input: "1.2.0", expected: Version{1, 2, 0}},
		{name: "short tuple", input: "1.2", expected: Version{1, 2}},
		{name: "single component", input: "7", expected: Version{7}},
		{name: "surrounding whitespace", input: " 2.0.1 ", expected: Version{2, 0, 1}},
		{name: "empty", input: "", wantErr: true},
		{name: "alpha component", input: "1.x.0", wantErr: true},
		{name: "negative component", input: "1.-2.0", wantErr: true},
		{name: "trailing dot", input: "1.2.", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseVersion(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
		})
	}
}

func TestVersionCompare_ZeroPadding(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected int
	}{
		{name: "equal with padding", a: "1.2", b: "1.2.0", expected: 0},
		{name: "numeric not lexical", a: "1.10.0", b: "1.9.9", expected: 1},
		{name: "major wins", a: "2.0.0", b: "1.99.99", expected: 1},
		{name: "shorter smaller", a: "1.2", b: "1.2.1", expected: -1},
		{name: "identical", a: "3.1.4", b: "3.1.4", expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseVersion(tt.a)
			require.NoError(t, err)
			b, err := ParseVersion(tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, a.Compare(b))
			assert.Equal(t, -tt.expected, b.Compare(a))
		})
	}
}

func TestVersionString_RoundTrip(t *testing.T) {
	v, err := ParseVersion("1.10.3")
	require.NoError(t, err)
	assert.Equal(t, "1.10.3", v.String())
	assert.Equal(t, "0", Version{}.String())
}

func TestParseDependencyConstraint(t *testing.T) {
	tests := []struct {
		name     string
		spec     string
		wantName string
		wantOp   string
		wantVer  Version
		wantErr  bool
	}{
		{name: "gte", spec: "core>=1.2.0", wantName: "core", wantOp: ">=", wantVer: Version{1, 2, 0}},
		{name: "gt", spec: "core>1.2", wantName: "core", wantOp: ">", wantVer: Version{1, 2}},
		{name: "eq", spec: "lib==2.0.0", wantName: "lib", wantOp: "==", wantVer: Version{2, 0, 0}},
		{name: "lte", spec: "lib<=3", wantName: "lib", wantOp: "<=", wantVer: Version{3}},
		{name: "lt", spec: "lib<3.0", wantName: "lib", wantOp: "<", wantVer: Version{3, 0}},
		{name: "bare name", spec: "core", wantName: "core", wantOp: ""},
		{name: "spaces around operator", spec: " core >= 1.0 ", wantName: "core", wantOp: ">=", wantVer: Version{1, 0}},
		{name: "empty", spec: "", wantErr: true},
		{name: "operator without version", spec: "core>=", wantErr: true},
		{name: "version without name", spec: ">=1.0", wantErr: true},
		{name: "stray equals", spec: "core=1.0", wantErr: true},
		{name: "bad version", spec: "core>=banana", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseDependencyConstraint(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, c.Name)
			assert.Equal(t, tt.wantOp, c.Operator)
			assert.Equal(t, tt.wantVer, c.Version)
			assert.Equal(t, tt.spec, c.Raw)
		})
	}
}

func TestConstraintSatisfies(t *testing.T) {
	tests := []struct {
		name      string
		spec      string
		candidate string
		expected  bool
	}{
		{name: "gte met exactly", spec: "p>=2.0.0", candidate: "2.0.0", expected: true},
		{name: "gte met above", spec: "p>=2.0.0", candidate: "2.1", expected: true},
		{name: "gte unmet", spec: "p>=2.0.0", candidate: "1.0.0", expected: false},
		{name: "gt excludes equal", spec: "p>2.0.0", candidate: "2.0.0", expected: false},
		{name: "eq with padding", spec: "p==1.2", candidate: "1.2.0", expected: true},
		{name: "lt met", spec: "p<2", candidate: "1.99.99", expected: true},
		{name: "bare always satisfied", spec: "p", candidate: "0.0.1", expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseDependencyConstraint(tt.spec)
			require.NoError(t, err)
			candidate, err := ParseVersion(tt.candidate)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, c.Satisfies(candidate))
		})
	}
}

func TestVersionCompare_Properties(t *testing.T) {
	gen := rapid.SliceOfN(rapid.IntRange(0, 99), 1, 5)

	rapid.Check(t, func(t *rapid.T) {
		a := Version(gen.Draw(t, "a"))
		b := Version(gen.Draw(t, "b"))

		// Antisymmetry.
		if a.Compare(b) != -b.Compare(a) {
			t.Fatalf("Compare not antisymmetric for %v vs %v", a, b)
		}

		// String round-trips through ParseVersion.
		parsed, err := ParseVersion(a.String())
		if err != nil {
			t.Fatalf("round-trip parse failed: %v", err)
		}
		if parsed.Compare(a) != 0 {
			t.Fatalf("round-trip changed ordering: %v vs %v", parsed, a)
		}

		// Appending a zero component never changes ordering.
		padded := append(append(Version{}, a...), 0)
		if padded.Compare(a) != 0 {
			t.Fatalf("zero padding changed ordering: %v vs %v", padded, a)
		}
	})
}
