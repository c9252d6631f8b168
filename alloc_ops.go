package ftl

import "github.com/janweinstock/ftl/internal/x64"

// This file implements the register allocator's operation contract
// (fetch/assign/store/free/markDirty/flushVolatileRegs/storeAllRegs) on
// top of the bookkeeping in alloc.go for the GPR domain; alloc_xmm.go
// mirrors it for the XMM domain. The two are structurally identical
// because SysV gives XMM registers no callee-saved/reserved distinction
// to encode.

// loadValue emits the instruction(s) that bring v's current memory
// contents into reg. Globals are addressed absolute-via-scratch: the
// destination register first holds the address, then is overwritten
// with the value at that address, so no second register is consumed.
func (fn *Function) loadValue(v *Value, reg x64.Register) error {
	switch v.kind {
	case KindLocal:
		if err := fn.enc.MovReg(v.width, reg, x64.Mem(basePointerReg, v.home)); err != nil {
			return wrapError(KindBufferFull, err, "load local %q", v.name)
		}
		return nil
	case KindGlobal:
		if err := fn.enc.MovImm64(reg, int64(v.addr)); err != nil {
			return wrapError(KindBufferFull, err, "materialize address of global %q", v.name)
		}
		if err := fn.enc.MovReg(v.width, reg, x64.Mem(reg, 0)); err != nil {
			return wrapError(KindBufferFull, err, "load global %q", v.name)
		}
		return nil
	default:
		return newError(KindInvalidOperand, "scratch value %q has no home to load from", v.name)
	}
}

// storeValue emits the instruction(s) that write reg's contents back to
// v's home. Storing a global needs a second register to hold the
// address; withScratchAddrReg borrows one, spilling its current owner
// if necessary, without disturbing reg.
func (fn *Function) storeValue(v *Value, reg x64.Register) error {
	switch v.kind {
	case KindLocal:
		if err := fn.enc.MovRM(v.width, x64.Mem(basePointerReg, v.home), reg); err != nil {
			return wrapError(KindBufferFull, err, "store local %q", v.name)
		}
		return nil
	case KindGlobal:
		return fn.withScratchAddrReg(reg, func(addr x64.Register) error {
			if err := fn.enc.MovImm64(addr, int64(v.addr)); err != nil {
				return wrapError(KindBufferFull, err, "materialize address of global %q", v.name)
			}
			if err := fn.enc.MovRM(v.width, x64.Mem(addr, 0), reg); err != nil {
				return wrapError(KindBufferFull, err, "store global %q", v.name)
			}
			return nil
		})
	default:
		return nil // scratch values have no home; nothing to store
	}
}

// withScratchAddrReg borrows a register other than avoid to hold a
// transient address, spilling its current owner first if one exists and
// isn't pinned, then runs body with it.
func (fn *Function) withScratchAddrReg(avoid x64.Register, body func(addr x64.Register) error) error {
	candidate := x64.RCX
	if avoid == candidate {
		candidate = x64.RDX
	}
	idx := candidate.Index()
	if owner := fn.gpr.ownerOf(idx); owner != nil {
		if fn.gpr.slots[idx].pins > 0 {
			return newError(KindOutOfRegisters, "no free register to materialize a global address")
		}
		if err := fn.spillGPR(idx); err != nil {
			return err
		}
	}
	return body(candidate)
}

// allocateGPR picks a register to hold want, preferring preferred if it
// is free or already want's own, otherwise the least-recently-used free
// register, otherwise a spill victim.
func (fn *Function) allocateGPR(preferred x64.Register, want *Value) (x64.Register, error) {
	pref := -1
	if preferred != x64.RegNone {
		pref = int(preferred.Index())
	}
	idx := fn.gpr.pickFree(pref, want)
	if idx == -1 {
		victim := fn.gpr.evictionVictim(func(v *Value) bool { return v.kind != KindScratch })
		if victim == -1 {
			return x64.RegNone, newError(KindOutOfRegisters, "no free or spillable register for %q", want.name)
		}
		if err := fn.spillGPR(uint8(victim)); err != nil {
			return x64.RegNone, err
		}
		idx = victim
	}
	return x64.Register(idx), nil
}

// spillGPR evicts whatever value owns slot idx, flushing it to its home
// first if dirty.
func (fn *Function) spillGPR(idx uint8) error {
	owner := fn.gpr.ownerOf(idx)
	if owner == nil {
		fn.gpr.clear(idx)
		return nil
	}
	if owner.dirty {
		if err := fn.storeValue(owner, x64.Register(idx)); err != nil {
			return err
		}
		owner.dirty = false
	}
	owner.hasReg = false
	owner.reg = x64.RegNone
	fn.gpr.clear(idx)
	return nil
}

// relocateGPR moves v, already resident, into target, spilling target's
// current occupant if needed.
func (fn *Function) relocateGPR(v *Value, target x64.Register) error {
	if v.reg == target {
		return nil
	}
	if occupant := fn.gpr.ownerOf(target.Index()); occupant != nil && occupant != v {
		if fn.gpr.slots[target.Index()].pins > 0 {
			return newError(KindOutOfRegisters, "register %s is pinned, cannot relocate %q into it", target, v.name)
		}
		if err := fn.spillGPR(target.Index()); err != nil {
			return err
		}
	}
	if err := fn.enc.MovRM(v.width, x64.Reg(target), v.reg); err != nil {
		return wrapError(KindBufferFull, err, "relocate %q", v.name)
	}
	fn.gpr.clear(v.reg.Index())
	v.reg = target
	fn.gpr.assign(target.Index(), v)
	return nil
}

// fetch ensures v is resident in a register and returns it, loading from
// home if it wasn't already resident, and relocating if preferred names
// a specific different register the caller requires (e.g. a call
// argument register or the return-value register).
func (fn *Function) fetch(v *Value, preferred x64.Register) (x64.Register, error) {
	if v.freed {
		return x64.RegNone, newError(KindInvalidOperand, "value %q already freed", v.name)
	}
	if v.hasReg {
		if preferred == x64.RegNone || v.reg == preferred {
			fn.gpr.touch(v.reg.Index())
			return v.reg, nil
		}
		if err := fn.relocateGPR(v, preferred); err != nil {
			return x64.RegNone, err
		}
		return v.reg, nil
	}
	reg, err := fn.allocateGPR(preferred, v)
	if err != nil {
		return x64.RegNone, err
	}
	if v.kind != KindScratch {
		if err := fn.loadValue(v, reg); err != nil {
			return x64.RegNone, err
		}
	}
	fn.gpr.assign(reg.Index(), v)
	v.reg = reg
	v.hasReg = true
	if preferred != x64.RegNone && reg != preferred {
		if err := fn.relocateGPR(v, preferred); err != nil {
			return x64.RegNone, err
		}
	}
	return v.reg, nil
}

// assign gives v ownership of a register without loading anything, used
// for destination-only operands (a freshly initialized local) and
// return-value capture (a scratch bound to RAX after a call).
func (fn *Function) assign(v *Value, preferred x64.Register) (x64.Register, error) {
	if v.hasReg {
		if preferred != x64.RegNone && v.reg != preferred {
			if err := fn.relocateGPR(v, preferred); err != nil {
				return x64.RegNone, err
			}
		}
		return v.reg, nil
	}
	reg, err := fn.allocateGPR(preferred, v)
	if err != nil {
		return x64.RegNone, err
	}
	fn.gpr.assign(reg.Index(), v)
	v.reg = reg
	v.hasReg = true
	return reg, nil
}

// store flushes v to its home if dirty. A no-op for scratch values
// (nowhere to store) and for clean values (idempotent: calling twice in
// a row is a second no-op).
func (fn *Function) store(v *Value) error {
	if v.kind == KindScratch || !v.dirty || !v.hasReg {
		return nil
	}
	if err := fn.storeValue(v, v.reg); err != nil {
		return err
	}
	v.dirty = false
	return nil
}

// free flushes v if dirty, releases its register, and marks it unusable.
// Freeing an already-freed value is a programming error.
func (fn *Function) free(v *Value) error {
	if v.freed {
		return newError(KindInvalidOperand, "value %q freed twice", v.name)
	}
	if err := fn.store(v); err != nil {
		return err
	}
	if v.hasReg {
		fn.gpr.clear(v.reg.Index())
		v.hasReg = false
		v.reg = x64.RegNone
	}
	v.freed = true
	delete(fn.values, v)
	return nil
}

// withReserved temporarily excludes idxs from allocation (both as free
// candidates and as eviction victims) for the duration of body. Used
// around multiply/divide operand setup so the right-hand operand never
// lands in RAX/RDX, which the instruction itself is about to clobber.
func (fn *Function) withReserved(idxs []uint8, body func() error) error {
	prev := make([]bool, len(idxs))
	for i, idx := range idxs {
		prev[i] = fn.gpr.reserved[idx]
		fn.gpr.reserved[idx] = true
	}
	err := body()
	for i, idx := range idxs {
		fn.gpr.reserved[idx] = prev[i]
	}
	return err
}

// clobberRegs discards the allocator's ownership of the given registers
// ahead of an instruction that overwrites them as a side effect (e.g.
// RDX:RAX around mul/imul/div/idiv), flushing the outgoing owner to its
// home first if dirty so no state is lost.
func (fn *Function) clobberRegs(regs ...x64.Register) error {
	for _, r := range regs {
		idx := r.Index()
		owner := fn.gpr.ownerOf(idx)
		if owner == nil {
			continue
		}
		if owner.dirty {
			if err := fn.storeValue(owner, r); err != nil {
				return err
			}
			owner.dirty = false
		}
		owner.hasReg = false
		owner.reg = x64.RegNone
		fn.gpr.clear(idx)
	}
	return nil
}

// markDirty records that reg's current owner's register copy now
// differs from its home.
func (fn *Function) markDirty(reg x64.Register) {
	if owner := fn.gpr.ownerOf(reg.Index()); owner != nil {
		owner.dirty = true
	}
}

// pinReg/unpinReg forbid/re-permit reg from being chosen as a spill
// victim for the duration of one instruction's emission.
func (fn *Function) pinReg(v *Value) {
	if v.hasReg {
		fn.gpr.pin(v.reg.Index())
	}
}

func (fn *Function) unpinReg(v *Value) {
	if v.hasReg {
		fn.gpr.unpin(v.reg.Index())
	}
}

// flushVolatileRegs stores every caller-saved, non-scratch resident
// value and drops its register ownership, since the value a call site
// reaches by convention is that caller-saved contents do not survive a
// call; the next fetch reloads from home rather than trusting a stale
// register.
func (fn *Function) flushVolatileRegs() error {
	for _, r := range x64.CallerSaved {
		idx := r.Index()
		owner := fn.gpr.ownerOf(idx)
		if owner == nil || owner.kind == KindScratch {
			continue
		}
		if err := fn.store(owner); err != nil {
			return err
		}
		owner.hasReg = false
		owner.reg = x64.RegNone
		fn.gpr.clear(idx)
	}
	return nil
}

// storeAllRegs flushes every dirty resident value (GPR and scalar) to
// its home, used once at Finish so the epilogue sees consistent memory.
func (fn *Function) storeAllRegs() error {
	for v := range fn.values {
		if v.scalar {
			if err := fn.storeXMM(v); err != nil {
				return err
			}
			continue
		}
		if v.hasReg && v.dirty {
			if err := fn.store(v); err != nil {
				return err
			}
		}
	}
	return nil
}
