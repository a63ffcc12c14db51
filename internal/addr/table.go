package addr

import (
	"errors"
	"net/netip"
)

// ErrDuplicateAddress is returned by Add when the literal address is already
// in the table.
var ErrDuplicateAddress = errors.New("address already present in table")

// Table is the ordered set of addresses on one interface. It is not safe for
// concurrent use; the owning interface loop is its only writer.
type Table struct {
	entries []*Entry
	index   map[netip.Addr]int
}

func NewTable() *Table {
	return &Table{index: make(map[netip.Addr]int)}
}

func (t *Table) Len() int { return len(t.entries) }

// Add appends e, keeping insertion order.
func (t *Table) Add(e *Entry) error {
	if _, ok := t.index[e.Address]; ok {
		return ErrDuplicateAddress
	}
	t.index[e.Address] = len(t.entries)
	t.entries = append(t.entries, e)
	return nil
}

// Get returns the live entry for a.
func (t *Table) Get(a netip.Addr) (*Entry, bool) {
	i, ok := t.index[a]
	if !ok {
		return nil, false
	}
	return t.entries[i], true
}

// Remove deletes a and reports whether it was present.
func (t *Table) Remove(a netip.Addr) bool {
	i, ok := t.index[a]
	if !ok {
		return false
	}
	copy(t.entries[i:], t.entries[i+1:])
	t.entries[len(t.entries)-1] = nil
	t.entries = t.entries[:len(t.entries)-1]
	delete(t.index, a)
	for j := i; j < len(t.entries); j++ {
		t.index[t.entries[j].Address] = j
	}
	return true
}

// Clear drops every entry.
func (t *Table) Clear() {
	t.entries = nil
	t.index = make(map[netip.Addr]int)
}

// FindSlaac returns the autoconfigured entry formed from prefix, if any.
func (t *Table) FindSlaac(prefix netip.Prefix) (*Entry, bool) {
	prefix = prefix.Masked()
	for _, e := range t.entries {
		if e.Source == Slaac && e.Prefix() == prefix {
			return e, true
		}
	}
	return nil, false
}

// Snapshot returns copies of all entries in insertion order.
func (t *Table) Snapshot() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	return out
}

// Addresses lists the literal addresses in insertion order.
func (t *Table) Addresses() []netip.Addr {
	out := make([]netip.Addr, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.Address)
	}
	return out
}
