package pagemanager

import (
	"fmt"
	"sort"

	"github.com/sushant-115/gojodb-evict/core/transaction"
)

// --- Page Management ---

const (
	InvalidPageID PageID = 0 // Never allocated; addresses start at 1

	pageHeaderBytes = 64
)

// PageID is the on-disk address of a page image.
type PageID uint64

// PageKind distinguishes internal pages (children only) from leaf pages (entries).
type PageKind int

const (
	PageLeaf PageKind = iota
	PageInternal
)

func (k PageKind) String() string {
	if k == PageInternal {
		return "internal"
	}
	return "leaf"
}

// Entry is one reconciled key/value pair.
type Entry struct {
	Key   string
	Value string
}

// Update is an in-memory change not yet reflected in the page's reconciled entries.
type Update struct {
	Txn       transaction.TxnID
	Key       string
	Value     string
	Tombstone bool
}

// Modify exists once a page has been modified at least once.
type Modify struct {
	writeGen  uint64
	recMaxTxn transaction.TxnID
	updMaxTxn transaction.TxnID
	recEmpty  bool
	updates   []Update

	// dirty is held while the page's bytes are counted in the cache's dirty
	// accounting. Clearing it is the only way to decrement.
	dirty *dirtyToken
}

func (m *Modify) WriteGen() uint64                { return m.writeGen }
func (m *Modify) RecMaxTxn() transaction.TxnID    { return m.recMaxTxn }
func (m *Modify) RecEmpty() bool                  { return m.recEmpty }
func (m *Modify) PendingUpdates() int             { return len(m.updates) }
func (m *Modify) UpdateMaxTxn() transaction.TxnID { return m.updMaxTxn }

// MaxTxn is the newest transaction whose effect the record carries, either
// reconciled or still pending in memory.
func (m *Modify) MaxTxn() transaction.TxnID {
	if m.updMaxTxn > m.recMaxTxn {
		return m.updMaxTxn
	}
	return m.recMaxTxn
}

// Page represents an in-memory copy of a page.
type Page struct {
	id      PageID
	kind    PageKind
	entries []Entry // sorted by key
	modify  *Modify
}

func newPage(id PageID, kind PageKind, entries []Entry) *Page {
	p := &Page{id: id, kind: kind, entries: append([]Entry(nil), entries...)}
	sort.Slice(p.entries, func(i, j int) bool { return p.entries[i].Key < p.entries[j].Key })
	return p
}

func (p *Page) GetPageID() PageID { return p.id }
func (p *Page) Kind() PageKind    { return p.kind }
func (p *Page) Modify() *Modify   { return p.modify }

// IsModified reports whether the page holds updates that have not been reconciled.
func (p *Page) IsModified() bool {
	return p.modify != nil && p.modify.writeGen != 0
}

// Entries returns a copy of the reconciled entries.
func (p *Page) Entries() []Entry {
	return append([]Entry(nil), p.entries...)
}

// Get resolves key against pending updates first, then reconciled entries.
// Updates for which aborted reports true are ignored; aborted may be nil.
func (p *Page) Get(key string, aborted func(transaction.TxnID) bool) (string, bool) {
	if p.modify != nil {
		for i := len(p.modify.updates) - 1; i >= 0; i-- {
			u := p.modify.updates[i]
			if aborted != nil && aborted(u.Txn) {
				continue
			}
			if u.Key == key {
				return u.Value, !u.Tombstone
			}
		}
	}
	i := sort.Search(len(p.entries), func(i int) bool { return p.entries[i].Key >= key })
	if i < len(p.entries) && p.entries[i].Key == key {
		return p.entries[i].Value, true
	}
	return "", false
}

// Footprint is the number of bytes the page accounts for in the cache.
func (p *Page) Footprint() int64 {
	n := int64(pageHeaderBytes)
	for _, e := range p.entries {
		n += int64(len(e.Key) + len(e.Value))
	}
	if p.modify != nil {
		for _, u := range p.modify.updates {
			n += int64(len(u.Key) + len(u.Value))
		}
	}
	return n
}

func (p *Page) modifyInit() *Modify {
	if p.modify == nil {
		p.modify = &Modify{}
	}
	return p.modify
}

func (p *Page) apply(u Update) error {
	if p.kind != PageLeaf {
		return fmt.Errorf("%w: page %d is %s", ErrNotLeaf, p.id, p.kind)
	}
	m := p.modifyInit()
	m.updates = append(m.updates, u)
	if u.Txn > m.updMaxTxn {
		m.updMaxTxn = u.Txn
	}
	m.writeGen++
	return nil
}
