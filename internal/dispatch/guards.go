package dispatch

import (
	"fmt"
	"strings"

	"github.com/opsgate/opsgate/internal/apperr"
	"github.com/opsgate/opsgate/internal/capability"
)

const (
	// ModeReadOnly refuses destructive capabilities.
	ModeReadOnly = "read-only"
	// ModeReadWrite allows destructive capabilities.
	ModeReadWrite = "read-write"
)

// Guard enforces mode-based execution policy for destructive capabilities.
type Guard struct {
	mode string
}

// NewGuard validates mode configuration and returns an execution guard.
//
// read-write mode requires enableWrite=true for dual-control safety.
func NewGuard(mode string, enableWrite bool) (*Guard, error) {
	normalized := strings.ToLower(strings.TrimSpace(mode))
	if normalized == "" {
		normalized = ModeReadOnly
	}

	switch normalized {
	case ModeReadOnly:
		return &Guard{mode: normalized}, nil
	case ModeReadWrite:
		if !enableWrite {
			return nil, fmt.Errorf("read-write mode requires OPSGATE_ENABLE_WRITE=true")
		}
		return &Guard{mode: normalized}, nil
	default:
		return nil, fmt.Errorf("invalid mode %q (allowed: %s|%s)", normalized, ModeReadOnly, ModeReadWrite)
	}
}

// Mode returns the resolved mode.
func (g *Guard) Mode() string {
	if g == nil {
		return ModeReadOnly
	}
	return g.mode
}

// Authorize allows or denies execution based on the registry entry.
func (g *Guard) Authorize(entry capability.Entry) *apperr.Error {
	if !entry.Destructive || g.Mode() == ModeReadWrite {
		return nil
	}
	return apperr.Newf(
		apperr.KindAccessDenied,
		"operation %s is destructive and requires read-write mode",
		entry.Key,
	).WithRemediation("restart the gateway with OPSGATE_MODE=read-write and OPSGATE_ENABLE_WRITE=true")
}

// RequireConfirmation enforces explicit confirm=true for destructive
// capabilities, driven by the registry flag.
func RequireConfirmation(entry capability.Entry, confirmed bool) *apperr.Error {
	if !entry.Destructive || confirmed {
		return nil
	}
	return apperr.Newf(
		apperr.KindInvalidRequest,
		"operation %s is destructive and requires confirm=true",
		entry.Key,
	).WithRemediation("resend the same request with confirm=true")
}
