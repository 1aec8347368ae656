package pagemanager

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sushant-115/gojodb-evict/core/transaction"
)

// Tree is the in-memory handle of one file's page tree. It owns every ref
// reachable from its root and outlives any single reclamation pass.
type Tree struct {
	name  string
	cache *Cache

	mu       sync.RWMutex
	refs     []*Ref // indexed by RefID, slot 0 unused
	root     RefID
	nextAddr PageID

	evictionDisabled atomic.Bool
	aborts           AbortOracle
}

// AbortOracle reports rolled-back transactions. *transaction.Manager
// implements it.
type AbortOracle interface {
	IsAborted(id transaction.TxnID) bool
}

// PageInfo is a point-in-time view of a ref and its page.
type PageInfo struct {
	Ref       RefID
	Addr      PageID
	Kind      PageKind
	State     RefState
	Root      bool
	Pins      int32
	Children  int
	HasModify bool
	Modified  bool
	RecEmpty  bool
	RecMaxTxn transaction.TxnID
	MaxTxn    transaction.TxnID
	WriteGen  uint64
	Footprint int64
}

// Resident reports whether the page was in memory when the info was taken.
func (pi PageInfo) Resident() bool { return pi.State == RefMem }

// NewTree creates a tree with an empty resident root of the given kind.
func NewTree(name string, cache *Cache, rootKind PageKind) *Tree {
	t := &Tree{
		name:     name,
		cache:    cache,
		refs:     make([]*Ref, 1),
		nextAddr: 1,
	}
	t.root = t.newRefLocked(InvalidRefID, rootKind)
	return t
}

func (t *Tree) Name() string  { return t.name }
func (t *Tree) Root() RefID   { return t.root }
func (t *Tree) Cache() *Cache { return t.cache }

// IsRoot reports whether ref is the tree's root.
func (t *Tree) IsRoot(ref RefID) bool { return ref == t.root }

// SetAbortOracle makes reads skip pending updates of aborted transactions.
func (t *Tree) SetAbortOracle(o AbortOracle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.aborts = o
}

// EvictionDisabled reports whether ordinary background eviction is suspended.
func (t *Tree) EvictionDisabled() bool { return t.evictionDisabled.Load() }

// DisableEviction suspends background eviction and reports whether this call
// changed the flag.
func (t *Tree) DisableEviction() bool { return t.evictionDisabled.CompareAndSwap(false, true) }

// EnableEviction resumes background eviction.
func (t *Tree) EnableEviction() { t.evictionDisabled.Store(false) }

func (t *Tree) newRefLocked(parent RefID, kind PageKind) RefID {
	id := RefID(len(t.refs))
	r := &Ref{
		id:     id,
		parent: parent,
		addr:   t.nextAddr,
		kind:   kind,
		state:  RefMem,
	}
	t.nextAddr++
	r.page = newPage(r.addr, kind, nil)
	t.refs = append(t.refs, r)
	t.cache.memIncr(r.page.Footprint())
	return id
}

func (t *Tree) refLocked(id RefID) (*Ref, error) {
	if id == InvalidRefID || int(id) >= len(t.refs) || t.refs[id].state == RefDeleted {
		return nil, fmt.Errorf("%w: tree %s ref %d", ErrRefNotFound, t.name, id)
	}
	return t.refs[id], nil
}

func (t *Tree) residentLocked(id RefID) (*Ref, error) {
	r, err := t.refLocked(id)
	if err != nil {
		return nil, err
	}
	if !r.resident() {
		return nil, fmt.Errorf("%w: tree %s ref %d", ErrPageNotResident, t.name, id)
	}
	return r, nil
}

// AddChild appends a new resident child page under an internal parent.
func (t *Tree) AddChild(parent RefID, kind PageKind) (RefID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, err := t.residentLocked(parent)
	if err != nil {
		return InvalidRefID, err
	}
	if p.kind != PageInternal {
		return InvalidRefID, fmt.Errorf("%w: ref %d", ErrNotInternal, parent)
	}
	id := t.newRefLocked(parent, kind)
	p.children = append(p.children, id)
	return id, nil
}

// Children returns the live child refs of an internal page in key order.
func (t *Tree) Children(ref RefID) []RefID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, err := t.refLocked(ref)
	if err != nil {
		return nil
	}
	return append([]RefID(nil), r.children...)
}

// Parent returns the parent ref, or InvalidRefID for the root.
func (t *Tree) Parent(ref RefID) RefID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, err := t.refLocked(ref)
	if err != nil {
		return InvalidRefID
	}
	return r.parent
}

// Inspect returns a snapshot of ref and its page.
func (t *Tree) Inspect(ref RefID) (PageInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if ref != InvalidRefID && int(ref) < len(t.refs) && t.refs[ref].state == RefDeleted {
		return PageInfo{Ref: ref, State: RefDeleted}, nil
	}
	r, err := t.refLocked(ref)
	if err != nil {
		return PageInfo{}, err
	}
	info := PageInfo{
		Ref:      r.id,
		Addr:     r.addr,
		Kind:     r.kind,
		State:    r.state,
		Root:     r.id == t.root,
		Pins:     r.pins.Load(),
		Children: len(r.children),
	}
	if !r.resident() {
		return info, nil
	}
	info.Footprint = r.page.Footprint()
	if m := r.page.modify; m != nil {
		info.HasModify = true
		info.Modified = r.page.IsModified()
		info.RecEmpty = m.recEmpty
		info.RecMaxTxn = m.recMaxTxn
		info.MaxTxn = m.MaxTxn()
		info.WriteGen = m.writeGen
	}
	return info, nil
}

// ResidentPages counts pages currently in memory.
func (t *Tree) ResidentPages() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, r := range t.refs[1:] {
		if r.resident() {
			n++
		}
	}
	return n
}

// Get looks key up in a resident leaf.
func (t *Tree) Get(ref RefID, key string) (string, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, err := t.residentLocked(ref)
	if err != nil {
		return "", false, err
	}
	var aborted func(transaction.TxnID) bool
	if t.aborts != nil {
		aborted = t.aborts.IsAborted
	}
	v, ok := r.page.Get(key, aborted)
	return v, ok, nil
}

// Put records an update by txn on a resident leaf and marks it dirty.
func (t *Tree) Put(ref RefID, txn transaction.TxnID, key, value string) error {
	return t.update(ref, Update{Txn: txn, Key: key, Value: value})
}

// Delete records a tombstone by txn on a resident leaf and marks it dirty.
func (t *Tree) Delete(ref RefID, txn transaction.TxnID, key string) error {
	return t.update(ref, Update{Txn: txn, Key: key, Tombstone: true})
}

func (t *Tree) update(ref RefID, u Update) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.residentLocked(ref)
	if err != nil {
		return err
	}
	before := r.page.Footprint()
	if err := r.page.apply(u); err != nil {
		return err
	}
	t.cache.inMemBytes.Add(r.page.Footprint() - before)
	t.markDirtyLocked(r.page)
	return nil
}

func (t *Tree) markDirtyLocked(p *Page) {
	m := p.modifyInit()
	if m.dirty == nil {
		m.dirty = t.cache.dirtyIncr(p.Footprint())
	}
}

// MarkClean resets the page's write generation and releases its dirty
// accounting. It reports whether the page was dirty; a second call on the
// same transition finds no token and does nothing.
func (t *Tree) MarkClean(ref RefID) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.residentLocked(ref)
	if err != nil {
		return false, err
	}
	return t.markCleanLocked(r.page), nil
}

func (t *Tree) markCleanLocked(p *Page) bool {
	m := p.modify
	if m == nil {
		return false
	}
	m.writeGen = 0
	tok := m.dirty
	if tok == nil {
		return false
	}
	m.dirty = nil
	t.cache.dirtyDecr(tok)
	return true
}

// Pin prevents ref's page from being evicted until Unpin.
func (t *Tree) Pin(ref RefID) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, err := t.residentLocked(ref)
	if err != nil {
		return err
	}
	r.pins.Add(1)
	return nil
}

// Unpin releases one pin taken by Pin or WalkNext. Releasing a pin that is
// not held panics.
func (t *Tree) Unpin(ref RefID) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(ref) >= len(t.refs) || ref == InvalidRefID {
		return
	}
	t.unpinLocked(t.refs[ref])
}

func (t *Tree) unpinLocked(r *Ref) {
	if r.pins.Add(-1) < 0 {
		panic(fmt.Sprintf("pagemanager: tree %s ref %d unpinned more often than pinned", t.name, r.id))
	}
}

// ReconcileInput is what reconciliation needs to build a page image.
type ReconcileInput struct {
	Ref      RefID
	Addr     PageID
	Kind     PageKind
	Root     bool
	Entries  []Entry
	Updates  []Update
	WriteGen uint64
}

// ReconcileOutput is the result reconciliation hands back to the tree.
type ReconcileOutput struct {
	// Entries is the reconciled image content.
	Entries []Entry
	// Remaining updates could not be written and keep the page dirty.
	Remaining []Update
	// MaxTxn is the newest transaction reflected in Entries.
	MaxTxn transaction.TxnID
	// WriteGen is the generation the image was built from.
	WriteGen uint64
}

// ReconcileSnapshot copies a resident page's content for reconciliation.
func (t *Tree) ReconcileSnapshot(ref RefID) (ReconcileInput, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, err := t.residentLocked(ref)
	if err != nil {
		return ReconcileInput{}, err
	}
	in := ReconcileInput{
		Ref:     r.id,
		Addr:    r.addr,
		Kind:    r.kind,
		Root:    r.id == t.root,
		Entries: r.page.Entries(),
	}
	if m := r.page.modify; m != nil {
		in.Updates = append([]Update(nil), m.updates...)
		in.WriteGen = m.writeGen
	}
	return in, nil
}

// CompleteReconcile installs a reconciliation result. The page becomes clean
// when nothing remains and no writer modified it since the snapshot.
// Leaves with an empty image are flagged as empty; internal pages are empty
// once they have no children left.
func (t *Tree) CompleteReconcile(ref RefID, out ReconcileOutput) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.residentLocked(ref)
	if err != nil {
		return err
	}
	p := r.page
	m := p.modifyInit()
	if m.writeGen != out.WriteGen {
		return fmt.Errorf("%w: page %d changed during reconciliation", ErrPageDirty, p.id)
	}
	before := p.Footprint()
	p.entries = append([]Entry(nil), out.Entries...)
	sort.Slice(p.entries, func(i, j int) bool { return p.entries[i].Key < p.entries[j].Key })
	m.updates = append([]Update(nil), out.Remaining...)
	m.updMaxTxn = transaction.TxnNone
	for _, u := range m.updates {
		if u.Txn > m.updMaxTxn {
			m.updMaxTxn = u.Txn
		}
	}
	if out.MaxTxn > m.recMaxTxn {
		m.recMaxTxn = out.MaxTxn
	}
	if r.kind == PageLeaf {
		m.recEmpty = len(p.entries) == 0 && len(m.updates) == 0
	} else {
		m.recEmpty = len(r.children) == 0
	}
	t.cache.inMemBytes.Add(p.Footprint() - before)
	if len(m.updates) == 0 {
		t.markCleanLocked(p)
	}
	return nil
}

func (t *Tree) mergeableLocked(r *Ref) bool {
	return r.id != t.root && r.resident() && !r.page.IsModified() &&
		r.page.modify != nil && r.page.modify.recEmpty && r.pins.Load() == 0
}

// Unload removes a clean page from memory. Resident children that were
// reconciled empty are merged into it and their refs deleted; any other
// resident child fails the unload.
func (t *Tree) Unload(ref RefID) (merged int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.residentLocked(ref)
	if err != nil {
		return 0, err
	}
	if r.pins.Load() > 0 {
		return 0, fmt.Errorf("%w: ref %d", ErrPagePinned, ref)
	}
	if r.page.IsModified() {
		return 0, fmt.Errorf("%w: ref %d", ErrPageDirty, ref)
	}
	var keep []RefID
	var absorb []*Ref
	for _, cid := range r.children {
		c := t.refs[cid]
		switch {
		case !c.resident():
			keep = append(keep, cid)
		case t.mergeableLocked(c):
			absorb = append(absorb, c)
		default:
			return 0, fmt.Errorf("%w: ref %d child %d", ErrChildrenResident, ref, cid)
		}
	}
	for _, c := range absorb {
		t.dropPageLocked(c)
		c.state = RefDeleted
		c.children = nil
	}
	r.children = keep
	t.dropPageLocked(r)
	return len(absorb), nil
}

// Discard removes a page from memory without writing it. A dirty page is
// refused unless force is set, in which case its dirty accounting is released.
func (t *Tree) Discard(ref RefID, force bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.residentLocked(ref)
	if err != nil {
		return err
	}
	if r.pins.Load() > 0 {
		return fmt.Errorf("%w: ref %d", ErrPagePinned, ref)
	}
	for _, cid := range r.children {
		if t.refs[cid].resident() {
			return fmt.Errorf("%w: ref %d child %d", ErrChildrenResident, ref, cid)
		}
	}
	if r.page.IsModified() {
		if !force {
			return fmt.Errorf("%w: ref %d", ErrPageDirty, ref)
		}
		t.markCleanLocked(r.page)
	}
	t.dropPageLocked(r)
	return nil
}

func (t *Tree) dropPageLocked(r *Ref) {
	t.cache.memDecr(r.page.Footprint())
	r.page = nil
	r.state = RefDisk
}

// Load makes a non-resident page resident again with clean content read
// from its persisted image. The parent must be resident.
func (t *Tree) Load(ref RefID, entries []Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.refLocked(ref)
	if err != nil {
		return err
	}
	if r.resident() {
		return fmt.Errorf("%w: ref %d", ErrPageResident, ref)
	}
	if r.parent != InvalidRefID && !t.refs[r.parent].resident() {
		return fmt.Errorf("%w: ref %d", ErrParentNotResident, ref)
	}
	r.page = newPage(r.addr, r.kind, entries)
	r.state = RefMem
	t.cache.memIncr(r.page.Footprint())
	return nil
}

// Addr returns the on-disk address of ref.
func (t *Tree) Addr(ref RefID) (PageID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, err := t.refLocked(ref)
	if err != nil {
		return InvalidPageID, err
	}
	return r.addr, nil
}
