package pagemanager

import (
	"sync/atomic"
)

// RefID is a stable handle to a slot in a tree's ref arena. Holders resolve
// it through the tree and observe absence instead of dangling.
type RefID uint32

const InvalidRefID RefID = 0

// RefState describes where the page addressed by a ref lives.
type RefState int

const (
	RefDisk    RefState = iota // Not resident; re-read from the block store
	RefMem                     // Resident in memory
	RefDeleted                 // Merged into its parent, no longer addressable
)

func (s RefState) String() string {
	switch s {
	case RefDisk:
		return "disk"
	case RefMem:
		return "mem"
	case RefDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Ref addresses a page independently of whether it is resident.
type Ref struct {
	id       RefID
	parent   RefID
	children []RefID
	addr     PageID
	kind     PageKind
	state    RefState
	page     *Page

	// pins is raised by readers that must not see the page evicted under
	// them, such as a tree walk.
	pins atomic.Int32
}

func (r *Ref) resident() bool { return r.state == RefMem && r.page != nil }
