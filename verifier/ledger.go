package verifier

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// ---------------------------------------------------------------------------
// Ledger: addresses control flow owes an exact landing
// ---------------------------------------------------------------------------

// Ledger tracks forward branch targets and exception-region boundaries.
// Instructions are visited in increasing address order, so a pending
// address below the current one was jumped over: it does not start an
// instruction.
type Ledger struct {
	pending mapset.Set[int]
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{pending: mapset.NewThreadUnsafeSet[int]()}
}

// Owe records that some instruction must start at addr.
func (l *Ledger) Owe(addr int) {
	l.pending.Add(addr)
}

// Settle is called as verification reaches addr. It discharges addr and
// reports the lowest pending address that has been overshot, if any.
func (l *Ledger) Settle(addr int) error {
	l.Discharge(addr)
	if low, ok := l.lowest(); ok && low < addr {
		return fmt.Errorf("target %d is not an instruction boundary", low)
	}
	return nil
}

// Discharge removes addr from the outstanding addresses without checking
// for overshot ones.
func (l *Ledger) Discharge(addr int) {
	l.pending.Remove(addr)
}

// Pending returns the outstanding addresses in increasing order.
func (l *Ledger) Pending() []int {
	out := l.pending.ToSlice()
	sort.Ints(out)
	return out
}

// Len returns the number of outstanding addresses.
func (l *Ledger) Len() int {
	return l.pending.Cardinality()
}

// Reset forgets every outstanding address.
func (l *Ledger) Reset() {
	l.pending.Clear()
}

func (l *Ledger) lowest() (int, bool) {
	found := false
	low := 0
	l.pending.Each(func(a int) bool {
		if !found || a < low {
			low, found = a, true
		}
		return false
	})
	return low, found
}
