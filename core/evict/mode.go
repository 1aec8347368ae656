package evict

import (
	"fmt"
	"strings"
)

// SyncMode selects what a reclamation pass does with each resident page.
type SyncMode int

const (
	// SyncClose reconciles dirty pages and evicts them. Pages reconciled
	// empty are left for their parent to merge, except the root.
	SyncClose SyncMode = iota + 1
	// SyncDiscard drops pages without writing them, but stops with a
	// retryable error on any page carrying an update some active
	// transaction may still need.
	SyncDiscard
	// SyncDiscardForce drops pages without writing them and without the
	// visibility check. Only for tearing a tree down when no reader can
	// observe the loss.
	SyncDiscardForce
)

func (m SyncMode) String() string {
	switch m {
	case SyncClose:
		return "close"
	case SyncDiscard:
		return "discard"
	case SyncDiscardForce:
		return "discard-force"
	default:
		return fmt.Sprintf("SyncMode(%d)", int(m))
	}
}

func (m SyncMode) valid() bool {
	return m >= SyncClose && m <= SyncDiscardForce
}

// ParseSyncMode parses the String form of a mode.
func ParseSyncMode(s string) (SyncMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "close":
		return SyncClose, nil
	case "discard":
		return SyncDiscard, nil
	case "discard-force", "discard_force":
		return SyncDiscardForce, nil
	default:
		return 0, fmt.Errorf("unknown sync mode %q", s)
	}
}
