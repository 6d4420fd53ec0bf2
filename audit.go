// audit.go: Security audit trail for kernel events
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package microkernel

import (
	"time"

	"github.com/agilira/argus"
)

// AuditTrail records security-relevant kernel events: policy violations,
// rejected reserved-key writes, and load failures. When disabled it is a
// cheap no-op so callers never have to branch.
type AuditTrail struct {
	audit *argus.AuditLogger
}

// NewAuditTrail builds the trail from the configured options. A disabled
// configuration yields a trail that records nothing.
func NewAuditTrail(options AuditOptions) (*AuditTrail, error) {
	if !options.Enabled {
		return &AuditTrail{}, nil
	}

	auditor, err := argus.NewAuditLogger(argus.AuditConfig{
		Enabled:       true,
		OutputFile:    options.OutputFile,
		MinLevel:      argus.AuditInfo,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		IncludeStack:  false,
	})
	if err != nil {
		return nil, NewAuditError("failed to create audit logger", err)
	}
	return &AuditTrail{audit: auditor}, nil
}

// SecurityEvent records one security event with its context.
func (a *AuditTrail) SecurityEvent(event, message string, context map[string]any) {
	if a.audit == nil {
		return
	}
	a.audit.LogSecurityEvent(event, message, context)
}

// Close flushes and releases the underlying audit logger.
func (a *AuditTrail) Close() error {
	if a.audit == nil {
		return nil
	}
	if err := a.audit.Close(); err != nil {
		return NewAuditError("failed to close audit logger", err)
	}
	return nil
}
