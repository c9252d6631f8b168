// Package platform isolates the raw memory-mapping calls needed to hold
// JIT-emitted machine code in an executable page. It is the only package in
// this module that makes memory-mapping system calls.
package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Region is a single anonymous memory mapping that can be toggled between
// writable and executable (W^X). It is never both at once.
type Region struct {
	mem        []byte
	executable bool
}

// Alloc maps a new region of at least size bytes, read-write, not yet
// executable. size is rounded up to the host page size by the kernel.
func Alloc(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("platform: region size must be positive, got %d", size)
	}
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("platform: mmap %d bytes: %w", size, err)
	}
	return &Region{mem: mem}, nil
}

// Bytes returns the mapped memory. Writing to it is only valid while the
// region is writable (see MakeWritable/MakeExecutable).
func (r *Region) Bytes() []byte {
	return r.mem
}

// Len returns the size of the mapping in bytes.
func (r *Region) Len() int {
	return len(r.mem)
}

// Executable reports whether the region currently permits execution.
func (r *Region) Executable() bool {
	return r.executable
}

// MakeExecutable switches the region from writable to executable.
func (r *Region) MakeExecutable() error {
	if r.executable {
		return nil
	}
	if err := unix.Mprotect(r.mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("platform: mprotect RX: %w", err)
	}
	r.executable = true
	return nil
}

// MakeWritable switches the region from executable back to writable, e.g.
// to grow or patch a buffer that was already finalized once.
func (r *Region) MakeWritable() error {
	if !r.executable {
		return nil
	}
	if err := unix.Mprotect(r.mem, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("platform: mprotect RW: %w", err)
	}
	r.executable = false
	return nil
}

// Free unmaps the region. The Region must not be used afterward.
func (r *Region) Free() error {
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	if err != nil {
		return fmt.Errorf("platform: munmap: %w", err)
	}
	return nil
}
