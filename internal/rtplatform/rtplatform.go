// Package rtplatform maps and unmaps the W^X executable memory that
// compiled functions are installed into, written directly against the
// syscall package. Zero-length input to MapCodeSegment is a programmer
// error and panics.
package rtplatform

import (
	"fmt"
	"syscall"
)

// MapCodeSegment copies code into a fresh anonymous mapping and switches
// it from RW to RX, enforcing W^X for the page range a JitFct's bytes
// live in: code is never executable while it is writable.
func MapCodeSegment(code []byte) ([]byte, error) {
	if len(code) == 0 {
		panic("rtplatform: MapCodeSegment with zero length")
	}
	mapped, err := syscall.Mmap(-1, 0, len(code),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_PRIVATE|syscall.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("rtplatform: mmap: %w", err)
	}
	copy(mapped, code)
	if err := syscall.Mprotect(mapped, syscall.PROT_READ|syscall.PROT_EXEC); err != nil {
		_ = syscall.Munmap(mapped)
		return nil, fmt.Errorf("rtplatform: mprotect RX: %w", err)
	}
	return mapped, nil
}

// UnmapCodeSegment releases a mapping previously returned by
// MapCodeSegment. Calling it on an empty slice, or on one that was never
// mapped this way, returns an error rather than panicking, unlike
// MapCodeSegment, which panics on zero-length input.
func UnmapCodeSegment(code []byte) error {
	if len(code) == 0 {
		return fmt.Errorf("rtplatform: UnmapCodeSegment with zero length")
	}
	if err := syscall.Munmap(code); err != nil {
		return fmt.Errorf("rtplatform: munmap: %w", err)
	}
	return nil
}

// RemapRW temporarily reopens a mapped region for writing, for an
// embedder that patches installed code in place; nothing in this module
// calls it.
// Callers must call RemapRX before any other thread can
// observe the mapping again.
func RemapRW(code []byte) error {
	return syscall.Mprotect(code, syscall.PROT_READ|syscall.PROT_WRITE)
}

// RemapRX restores W^X after a RemapRW/write sequence.
func RemapRX(code []byte) error {
	return syscall.Mprotect(code, syscall.PROT_READ|syscall.PROT_EXEC)
}
