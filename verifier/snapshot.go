package verifier

import (
	"fmt"
	"io"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Snapshot: exported view of the saved state, for diagnostics
// ---------------------------------------------------------------------------

// SlotState is the serializable form of a Value.
type SlotState struct {
	Kind     string `cbor:"kind"`
	Type     string `cbor:"type"`
	Origin   int    `cbor:"origin"`
	Receiver bool   `cbor:"receiver,omitempty"`
	Object   string `cbor:"object,omitempty"`
	Int      int32  `cbor:"int,omitempty"`
	Method   string `cbor:"method,omitempty"`
}

// AddressState is the state saved for one address. Stack is nil when only
// slots were recorded (backward branch targets).
type AddressState struct {
	Address int         `cbor:"addr"`
	Stack   []SlotState `cbor:"stack"`
	Locals  []SlotState `cbor:"locals"`
	Params  []SlotState `cbor:"params"`
}

// Snapshot lists the saved state of a frame in increasing address order.
type Snapshot struct {
	States []AddressState `cbor:"states"`
}

// Snapshot exports the frame's saved state.
func (f *Frame) Snapshot() *Snapshot {
	seen := make(map[int]bool)
	for _, m := range []map[int][]Value{f.stackSnaps, f.localSnaps, f.paramSnaps} {
		for addr := range m {
			seen[addr] = true
		}
	}
	addrs := make([]int, 0, len(seen))
	for addr := range seen {
		addrs = append(addrs, addr)
	}
	sort.Ints(addrs)

	s := &Snapshot{States: make([]AddressState, 0, len(addrs))}
	for _, addr := range addrs {
		st := AddressState{
			Address: addr,
			Locals:  slotStates(f.localSnaps[addr]),
			Params:  slotStates(f.paramSnaps[addr]),
		}
		if stack, ok := f.stackSnaps[addr]; ok {
			st.Stack = slotStates(stack)
			if st.Stack == nil {
				st.Stack = []SlotState{}
			}
		}
		s.States = append(s.States, st)
	}
	return s
}

func slotStates(vs []Value) []SlotState {
	if vs == nil {
		return nil
	}
	out := make([]SlotState, len(vs))
	for i, v := range vs {
		out[i] = SlotState{
			Kind:     v.Kind.String(),
			Type:     v.Type.String(),
			Origin:   v.Origin,
			Receiver: v.Receiver,
			Int:      v.Int,
		}
		if v.Object != nil {
			out[i].Object = v.Object.String()
		}
		if v.Method != nil {
			out[i].Method = v.Method.String()
		}
	}
	return out
}

func (s SlotState) String() string {
	switch s.Kind {
	case "uninitialized":
		if s.Receiver {
			return fmt.Sprintf("uninit-this(%s)@%d", s.Type, s.Origin)
		}
		return fmt.Sprintf("uninit(%s)@%d", s.Type, s.Origin)
	case "constant-object":
		return fmt.Sprintf("%s@%d", s.Object, s.Origin)
	case "constant-int":
		return fmt.Sprintf("%s(%d)@%d", s.Type, s.Int, s.Origin)
	case "resolved-method":
		return fmt.Sprintf("slot(%s)@%d", s.Method, s.Origin)
	}
	return fmt.Sprintf("%s@%d", s.Type, s.Origin)
}

// Format writes a human-readable listing of the snapshot.
func (s *Snapshot) Format(w io.Writer) error {
	for _, st := range s.States {
		if _, err := fmt.Fprintf(w, "%6d:", st.Address); err != nil {
			return err
		}
		if st.Stack != nil {
			fmt.Fprintf(w, " stack=%v", st.Stack)
		}
		if _, err := fmt.Fprintf(w, " locals=%v params=%v\n", st.Locals, st.Params); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Canonical encoding
// ---------------------------------------------------------------------------

// snapshotEncMode uses canonical CBOR so equal snapshots encode to equal
// bytes.
var snapshotEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("verifier: failed to create CBOR enc mode: %v", err))
	}
	snapshotEncMode = em
}

// MarshalSnapshot serializes a Snapshot to canonical CBOR bytes.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return snapshotEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a Snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("verifier: unmarshal snapshot: %w", err)
	}
	return &s, nil
}
