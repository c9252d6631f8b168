package ftl

import "github.com/janweinstock/ftl/internal/x64"

// The scalar (XMM) allocator domain mirrors the GPR one in alloc_ops.go.
// It is simpler in one respect -- SysV makes every XMM register
// caller-saved, so there is no reserved set and flushVolatileXMM
// degenerates to "flush every live non-scratch scalar" -- and otherwise
// follows the identical fetch/assign/store/free contract.

func (v *Value) isDouble() bool { return v.width == 64 }

func (fn *Function) loadValueXMM(v *Value, reg x64.XMM) error {
	double := v.isDouble()
	switch v.kind {
	case KindLocal:
		if err := fn.enc.MovF(double, reg, x64.XMem(basePointerReg, v.home)); err != nil {
			return wrapError(KindBufferFull, err, "load scalar local %q", v.name)
		}
		return nil
	case KindGlobal:
		return fn.withScratchAddrReg(x64.RegNone, func(addr x64.Register) error {
			if err := fn.enc.MovImm64(addr, int64(v.addr)); err != nil {
				return wrapError(KindBufferFull, err, "materialize address of scalar global %q", v.name)
			}
			if err := fn.enc.MovF(double, reg, x64.XMem(addr, 0)); err != nil {
				return wrapError(KindBufferFull, err, "load scalar global %q", v.name)
			}
			return nil
		})
	default:
		return newError(KindInvalidOperand, "scratch scalar %q has no home to load from", v.name)
	}
}

func (fn *Function) storeValueXMM(v *Value, reg x64.XMM) error {
	double := v.isDouble()
	switch v.kind {
	case KindLocal:
		if err := fn.enc.MovFStore(double, x64.XMem(basePointerReg, v.home), reg); err != nil {
			return wrapError(KindBufferFull, err, "store scalar local %q", v.name)
		}
		return nil
	case KindGlobal:
		return fn.withScratchAddrReg(x64.RegNone, func(addr x64.Register) error {
			if err := fn.enc.MovImm64(addr, int64(v.addr)); err != nil {
				return wrapError(KindBufferFull, err, "materialize address of scalar global %q", v.name)
			}
			if err := fn.enc.MovFStore(double, x64.XMem(addr, 0), reg); err != nil {
				return wrapError(KindBufferFull, err, "store scalar global %q", v.name)
			}
			return nil
		})
	default:
		return nil
	}
}

func (fn *Function) allocateXMM(preferred x64.XMM, want *Value) (x64.XMM, error) {
	pref := -1
	if hasXMMPreference(preferred) {
		pref = int(preferred.Index())
	}
	idx := fn.xmm.pickFree(pref, want)
	if idx == -1 {
		victim := fn.xmm.evictionVictim(func(v *Value) bool { return v.kind != KindScratch })
		if victim == -1 {
			return 0, newError(KindOutOfRegisters, "no free or spillable xmm register for %q", want.name)
		}
		if err := fn.spillXMM(uint8(victim)); err != nil {
			return 0, err
		}
		idx = victim
	}
	return x64.XMM(idx), nil
}

// xmmNone mirrors x64.RegNone for the scalar domain: callers that don't
// care which register they get pass this.
const xmmNone = x64.XMM(0xff)

func hasXMMPreference(x x64.XMM) bool { return x != xmmNone }

func (fn *Function) spillXMM(idx uint8) error {
	owner := fn.xmm.ownerOf(idx)
	if owner == nil {
		fn.xmm.clear(idx)
		return nil
	}
	if owner.dirty {
		if err := fn.storeValueXMM(owner, x64.XMM(idx)); err != nil {
			return err
		}
		owner.dirty = false
	}
	owner.hasReg = false
	fn.xmm.clear(idx)
	return nil
}

func (fn *Function) fetchXMM(v *Value, preferred x64.XMM) (x64.XMM, error) {
	if v.freed {
		return 0, newError(KindInvalidOperand, "value %q already freed", v.name)
	}
	if v.hasReg {
		if !hasXMMPreference(preferred) || v.xreg == preferred {
			fn.xmm.touch(v.xreg.Index())
			return v.xreg, nil
		}
		if err := fn.relocateXMM(v, preferred); err != nil {
			return 0, err
		}
		return v.xreg, nil
	}
	reg, err := fn.allocateXMM(preferred, v)
	if err != nil {
		return 0, err
	}
	if v.kind != KindScratch {
		if err := fn.loadValueXMM(v, reg); err != nil {
			return 0, err
		}
	}
	fn.xmm.assign(reg.Index(), v)
	v.xreg = reg
	v.hasReg = true
	return reg, nil
}

func (fn *Function) relocateXMM(v *Value, target x64.XMM) error {
	if v.xreg == target {
		return nil
	}
	if occupant := fn.xmm.ownerOf(target.Index()); occupant != nil && occupant != v {
		if fn.xmm.slots[target.Index()].pins > 0 {
			return newError(KindOutOfRegisters, "xmm register is pinned, cannot relocate %q into it", v.name)
		}
		if err := fn.spillXMM(target.Index()); err != nil {
			return err
		}
	}
	if err := fn.enc.MovF(v.isDouble(), target, x64.XReg(v.xreg)); err != nil {
		return wrapError(KindBufferFull, err, "relocate scalar %q", v.name)
	}
	fn.xmm.clear(v.xreg.Index())
	v.xreg = target
	fn.xmm.assign(target.Index(), v)
	return nil
}

func (fn *Function) assignXMM(v *Value, preferred x64.XMM) (x64.XMM, error) {
	if v.hasReg {
		if hasXMMPreference(preferred) && v.xreg != preferred {
			if err := fn.relocateXMM(v, preferred); err != nil {
				return 0, err
			}
		}
		return v.xreg, nil
	}
	reg, err := fn.allocateXMM(preferred, v)
	if err != nil {
		return 0, err
	}
	fn.xmm.assign(reg.Index(), v)
	v.xreg = reg
	v.hasReg = true
	return reg, nil
}

func (fn *Function) storeXMM(v *Value) error {
	if v.kind == KindScratch || !v.dirty || !v.hasReg {
		return nil
	}
	if err := fn.storeValueXMM(v, v.xreg); err != nil {
		return err
	}
	v.dirty = false
	return nil
}

func (fn *Function) freeXMM(v *Value) error {
	if v.freed {
		return newError(KindInvalidOperand, "value %q freed twice", v.name)
	}
	if err := fn.storeXMM(v); err != nil {
		return err
	}
	if v.hasReg {
		fn.xmm.clear(v.xreg.Index())
		v.hasReg = false
	}
	v.freed = true
	delete(fn.values, v)
	return nil
}

func (fn *Function) markDirtyXMM(reg x64.XMM) {
	if owner := fn.xmm.ownerOf(reg.Index()); owner != nil {
		owner.dirty = true
	}
}

func (fn *Function) pinXMM(v *Value) {
	if v.hasReg {
		fn.xmm.pin(v.xreg.Index())
	}
}

func (fn *Function) unpinXMM(v *Value) {
	if v.hasReg {
		fn.xmm.unpin(v.xreg.Index())
	}
}

// flushVolatileXMM stores every live non-scratch scalar and drops its
// register ownership, whichever XMM register it is in, since SysV treats
// the entire XMM file as caller-saved. Scratch scalars keep their
// register.
func (fn *Function) flushVolatileXMM() error {
	for idx := uint8(0); idx < 16; idx++ {
		owner := fn.xmm.ownerOf(idx)
		if owner == nil || owner.kind == KindScratch {
			continue
		}
		if err := fn.storeXMM(owner); err != nil {
			return err
		}
		owner.hasReg = false
		fn.xmm.clear(idx)
	}
	return nil
}
