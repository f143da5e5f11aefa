package verifier

import "github.com/chazu/bcverify/types"

// ---------------------------------------------------------------------------
// Control-flow bookkeeping
// ---------------------------------------------------------------------------

// SetIP moves verification to the instruction at addr. If the previous
// instruction fell through, the live state is merged into any state saved
// for addr; otherwise addr is re-entered from its saved state.
func (f *Frame) SetIP(addr int) error {
	f.ip = addr
	if f.fallsThrough {
		if err := f.join(addr); err != nil {
			return err
		}
	} else {
		f.reenter(addr)
	}
	f.fallsThrough = true

	if err := f.ledger.Settle(addr); err != nil {
		return f.errorf(StructuralError, "%v", err)
	}
	if f.inTryRegion(addr) {
		if v, ok := liveUninitialized(f.locals, f.params); ok {
			return f.originErrorf(InitializationError, v, "%s held in a slot inside a protected region", v)
		}
	}
	return nil
}

// StopFlow records that the current instruction never falls through to the
// next one (unconditional branch, return, throw).
func (f *Frame) StopFlow() {
	f.fallsThrough = false
}

// join merges the live state into whatever is saved for addr and continues
// with the merged state.
func (f *Frame) join(addr int) error {
	if snap, ok := f.stackSnaps[addr]; ok {
		merged, err := f.mergeStack(snap, f.stack)
		if err != nil {
			return err
		}
		f.stackSnaps[addr] = merged
		f.stack = append(f.stack[:0], merged...)
	}
	if _, err := f.mergeInto(f.localSnaps, addr, f.locals, f.localTypes); err != nil {
		return err
	}
	if _, err := f.mergeInto(f.paramSnaps, addr, f.params, f.paramTypes); err != nil {
		return err
	}
	f.recordWritten(addr)
	copy(f.written, f.writtenSnaps[addr])
	return nil
}

// reenter loads the state saved for addr. Without a saved stack the stack
// is empty; without saved slots every slot holds its declared type.
func (f *Frame) reenter(addr int) {
	if snap, ok := f.stackSnaps[addr]; ok {
		f.stack = append(f.stack[:0], snap...)
	} else {
		f.stack = f.stack[:0]
	}

	locals, hasLocals := f.localSnaps[addr]
	params, hasParams := f.paramSnaps[addr]
	if !hasLocals || !hasParams {
		f.resetSlots(addr)
	}
	if hasLocals {
		copy(f.locals, locals)
	}
	if hasParams {
		copy(f.params, params)
	}

	if written, ok := f.writtenSnaps[addr]; ok {
		copy(f.written, written)
	} else {
		f.resetWritten()
	}
}

// AddTarget registers a forward branch to addr and records the current
// state for it.
func (f *Frame) AddTarget(addr int) error {
	if addr <= f.ip {
		return f.errorf(StructuralError, "forward branch to %d does not lie ahead", addr)
	}
	f.ledger.Owe(addr)

	if snap, ok := f.stackSnaps[addr]; ok {
		merged, err := f.mergeStack(snap, f.stack)
		if err != nil {
			return err
		}
		f.stackSnaps[addr] = merged
	} else {
		f.stackSnaps[addr] = cloneValues(f.stack)
	}
	if _, err := f.recordSlots(addr); err != nil {
		return err
	}
	return nil
}

// MarkBasicBlockEntry records the current address as a legal destination
// for a later backward branch and saves the slots entering it, so that a
// back edge bringing different types is noticed.
func (f *Frame) MarkBasicBlockEntry() error {
	f.entries.Add(f.ip)
	if _, err := f.mergeInto(f.localSnaps, f.ip, f.locals, f.localTypes); err != nil {
		return err
	}
	if _, err := f.mergeInto(f.paramSnaps, f.ip, f.params, f.paramTypes); err != nil {
		return err
	}
	f.recordWritten(f.ip)
	copy(f.written, f.writtenSnaps[f.ip])
	return nil
}

// AddBackwardsTarget registers a branch back to addr. Only slots are
// recorded; the stack at a loop header is the driver's responsibility.
func (f *Frame) AddBackwardsTarget(addr int) error {
	if !f.entries.Contains(addr) {
		return f.errorf(StructuralError, "backward branch to %d, which is not a basic block entry", addr)
	}
	if v, ok := liveUninitialized(f.stack, f.locals, f.params); ok {
		return f.originErrorf(InitializationError, v, "backward branch to %d while %s is live", addr, v)
	}
	changed, err := f.recordSlots(addr)
	if err != nil {
		return err
	}
	if changed {
		f.changed = true
	}
	return nil
}

// HasChanged reports, and clears, whether a backward branch widened the
// slots recorded for its target since the last call.
func (f *Frame) HasChanged() bool {
	changed := f.changed
	f.changed = false
	return changed
}

// Finish checks the end of a pass. end is the address just past the last
// instruction; exception regions may end there.
func (f *Frame) Finish(end int) error {
	f.ip = end
	if f.fallsThrough {
		return f.errorf(StructuralError, "control falls off the end of the method")
	}
	f.ledger.Discharge(end)
	if f.ledger.Len() > 0 {
		return f.errorf(StructuralError, "unresolved branch targets %v", f.ledger.Pending())
	}
	return nil
}

// ---------------------------------------------------------------------------
// Saved state
// ---------------------------------------------------------------------------

// recordSlots seeds or merges the saved locals and parameters for addr
// without touching the live state. It reports whether a saved slot widened.
func (f *Frame) recordSlots(addr int) (bool, error) {
	changed := false
	for _, area := range []struct {
		snaps    map[int][]Value
		live     []Value
		declared []*types.Type
	}{
		{f.localSnaps, f.locals, f.localTypes},
		{f.paramSnaps, f.params, f.paramTypes},
	} {
		snap, ok := area.snaps[addr]
		if !ok {
			area.snaps[addr] = cloneValues(area.live)
			changed = true
			continue
		}
		merged, widened, err := f.mergeSlots(snap, area.live, area.declared)
		if err != nil {
			return false, err
		}
		area.snaps[addr] = merged
		changed = changed || widened
	}
	if f.recordWritten(addr) {
		changed = true
	}
	return changed, nil
}

// recordWritten seeds or intersects the written flags saved for addr. A
// local counts as written at addr only if every path reaching it stored to
// it. It reports whether a saved flag was cleared.
func (f *Frame) recordWritten(addr int) bool {
	snap, ok := f.writtenSnaps[addr]
	if !ok {
		f.writtenSnaps[addr] = append([]bool(nil), f.written...)
		return true
	}
	cleared := false
	for i, w := range f.written {
		if snap[i] && !w {
			snap[i] = false
			cleared = true
		}
	}
	return cleared
}

// mergeInto seeds or merges the saved slots for addr and replaces the live
// slots with the merged result.
func (f *Frame) mergeInto(snaps map[int][]Value, addr int, live []Value, declared []*types.Type) (bool, error) {
	snap, ok := snaps[addr]
	if !ok {
		snaps[addr] = cloneValues(live)
		return true, nil
	}
	merged, widened, err := f.mergeSlots(snap, live, declared)
	if err != nil {
		return false, err
	}
	snaps[addr] = merged
	copy(live, merged)
	return widened, nil
}

func (f *Frame) mergeStack(saved, live []Value) ([]Value, error) {
	if len(saved) != len(live) {
		return nil, f.errorf(StructuralError, "stack depth %d does not match recorded depth %d", len(live), len(saved))
	}
	merged := make([]Value, len(saved))
	for i := range saved {
		v, err := Merge(stackContext(saved[i]), saved[i], live[i])
		if err != nil {
			return nil, f.located(err)
		}
		merged[i] = v
	}
	return merged, nil
}

func (f *Frame) mergeSlots(saved, live []Value, declared []*types.Type) ([]Value, bool, error) {
	if len(saved) != len(live) {
		return nil, false, f.errorf(StructuralError, "%d slots do not match %d recorded slots", len(live), len(saved))
	}
	merged := make([]Value, len(saved))
	widened := false
	for i := range saved {
		v, err := Merge(declared[i], saved[i], live[i])
		if err != nil {
			return nil, false, f.located(err)
		}
		if !v.Equivalent(saved[i]) {
			widened = true
		}
		merged[i] = v
	}
	return merged, widened, nil
}

func (f *Frame) inTryRegion(addr int) bool {
	for _, h := range f.handlers {
		if addr >= h.Start && addr < h.End {
			return true
		}
	}
	return false
}
