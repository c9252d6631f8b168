package ftl

import "github.com/janweinstock/ftl/internal/x64"

// slot tracks which Value (if any) currently owns one register, when it
// was last touched (for LRU eviction), and how many pins are currently
// held against it (a pinned register can never be chosen as a spill
// victim, for the duration of one instruction's emission).
type slot struct {
	owner *Value
	usage uint64
	pins  int
}

// regFile is the shared bookkeeping core behind both the GPR and XMM
// allocators: 16 slots, a monotonic usage clock, and a set of indices
// that are never offered up as allocation candidates (RSP/RBP for GPRs;
// empty for XMM, since SysV reserves none of the 16 XMM registers).
type regFile struct {
	slots    [16]slot
	clock    uint64
	reserved [16]bool
	order    []uint8 // candidate indices in preference order (caller-saved first)
}

func newRegFile(reserved []uint8, preferenceOrder []uint8) *regFile {
	f := &regFile{order: preferenceOrder}
	for _, r := range reserved {
		f.reserved[r] = true
	}
	return f
}

func (f *regFile) tick() uint64 {
	f.clock++
	return f.clock
}

func (f *regFile) ownerOf(idx uint8) *Value { return f.slots[idx].owner }

func (f *regFile) pin(idx uint8)   { f.slots[idx].pins++ }
func (f *regFile) unpin(idx uint8) { f.slots[idx].pins-- }

// pickFree picks a register to hold a new value: preferred itself if it
// is not reserved and is free or already owned by want; else the
// least-recently-used free, non-reserved register; else -1, meaning a
// spill is required and evictionVictim reports which slot to evict.
func (f *regFile) pickFree(preferred int, want *Value) (idx int) {
	if preferred >= 0 {
		s := &f.slots[preferred]
		if !f.reserved[preferred] && (s.owner == nil || s.owner == want) {
			return preferred
		}
	}
	best := -1
	var bestUsage uint64
	for _, i := range f.order {
		s := &f.slots[i]
		if f.reserved[i] || s.owner != nil {
			continue
		}
		if best == -1 || s.usage < bestUsage {
			best = int(i)
			bestUsage = s.usage
		}
	}
	return best
}

// evictionVictim finds the least-recently-used owned, unpinned,
// non-scratch-without-home register to spill. Returns -1 if none exists
// (every candidate is pinned or an unspillable scratch).
func (f *regFile) evictionVictim(canSpill func(v *Value) bool) int {
	best := -1
	var bestUsage uint64
	for _, i := range f.order {
		s := &f.slots[i]
		if f.reserved[i] || s.owner == nil || s.pins > 0 {
			continue
		}
		if !canSpill(s.owner) {
			continue
		}
		if best == -1 || s.usage < bestUsage {
			best = int(i)
			bestUsage = s.usage
		}
	}
	return best
}

func (f *regFile) assign(idx uint8, v *Value) {
	f.slots[idx].owner = v
	f.slots[idx].usage = f.tick()
}

func (f *regFile) clear(idx uint8) {
	f.slots[idx] = slot{}
}

func (f *regFile) touch(idx uint8) {
	f.slots[idx].usage = f.tick()
}

// gprOrder lists the 14 allocatable GPRs (excluding RSP and RBP),
// caller-saved first so the allocator prefers registers that don't cost
// a prologue push when possible.
var gprOrder = func() []uint8 {
	order := make([]uint8, 0, 14)
	for _, r := range x64.CallerSaved {
		order = append(order, r.Index())
	}
	for _, r := range x64.CalleeSaved {
		order = append(order, r.Index())
	}
	return order
}()

var xmmOrder = func() []uint8 {
	order := make([]uint8, 16)
	for i := range order {
		order[i] = uint8(i)
	}
	return order
}()

func newGPRFile() *regFile {
	return newRegFile([]uint8{x64.RSP.Index(), x64.RBP.Index()}, gprOrder)
}

func newXMMFile() *regFile {
	return newRegFile(nil, xmmOrder)
}
