package verifier

import "github.com/chazu/bcverify/types"

// ---------------------------------------------------------------------------
// Exception handlers and collection points
// ---------------------------------------------------------------------------

// PushHandlerException starts an exception handler: the operand stack is
// replaced by the caught exception. It is an internal error to call this
// anywhere but at a handler entry from the exception table. When several
// entries share the handler, their catch types are merged.
func (f *Frame) PushHandlerException() error {
	var caught *types.Type
	for _, h := range f.handlers {
		if h.Entry != f.ip {
			continue
		}
		if caught == nil {
			caught = h.Catch
		} else if ancestor := commonAncestor(caught, h.Catch); ancestor != nil {
			caught = ancestor
		}
	}
	if caught == nil {
		return f.errorf(InternalError, "no exception handler starts at %d", f.ip)
	}
	f.stack = f.stack[:0]
	f.Push(caught)
	return nil
}

// MayCauseGC is called before any instruction that can trigger a
// collection. The collector scans reference locals by their declared type,
// so every such local must have been written first. Locals declared as
// plain Object are exempt.
//
// TODO: confirm with the VM owners what the Object exemption protects;
// until then it is kept exactly and not extended to subtypes.
func (f *Frame) MayCauseGC() error {
	for slot := 1; slot < len(f.locals); slot++ {
		declared := f.localTypes[slot]
		if f.written[slot] || !declared.IsReference() || declared == types.Object {
			continue
		}
		return f.errorf(InitializationError, "local %d of type %s is unwritten at a collection point", slot, declared)
	}
	return nil
}

// Handlers returns the borrowed exception table.
func (f *Frame) Handlers() []Handler {
	return f.handlers
}
