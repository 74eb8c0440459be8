//go:build linux && amd64

package loader

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"fle/pkg/linker"
)

const rwProt = unix.PROT_READ | unix.PROT_WRITE

// mapFixed maps size bytes of private anonymous memory at exactly addr.
func mapFixed(addr, size uint64, prot int) error {
	_, _, errno := unix.Syscall6(unix.SYS_MMAP,
		uintptr(addr), uintptr(size), uintptr(prot),
		uintptr(unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_FIXED),
		^uintptr(0), 0)
	if errno != 0 {
		return fmt.Errorf("%w: fixed mapping of %#x bytes at %#x: %s",
			ErrMapFailed, size, addr, errno)
	}
	return nil
}

// reserveRegion grabs a contiguous inaccessible region and returns its
// base; the segments are fix-mapped inside it afterwards.
func reserveRegion(size uint64) (uint64, error) {
	base, _, errno := unix.Syscall6(unix.SYS_MMAP,
		0, uintptr(size), uintptr(unix.PROT_NONE),
		uintptr(unix.MAP_PRIVATE|unix.MAP_ANONYMOUS),
		^uintptr(0), 0)
	if errno != 0 {
		return 0, fmt.Errorf("%w: reserving %#x bytes: %s", ErrMapFailed, size, errno)
	}
	return uint64(base), nil
}

func protect(addr, size uint64, prot int) error {
	_, _, errno := unix.Syscall6(unix.SYS_MPROTECT,
		uintptr(addr), uintptr(size), uintptr(prot), 0, 0, 0)
	if errno != 0 {
		return fmt.Errorf("%w: mprotect %#x bytes at %#x: %s",
			ErrMapFailed, size, addr, errno)
	}
	return nil
}

func memCopy(addr uint64, data []byte) {
	copy(memSlice(addr, len(data)), data)
}

func memSlice(addr uint64, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), n)
}

func protFor(flags uint32) int {
	prot := 0
	if flags&linker.PhfR != 0 {
		prot |= unix.PROT_READ
	}
	if flags&linker.PhfW != 0 {
		prot |= unix.PROT_WRITE
	}
	if flags&linker.PhfX != 0 {
		prot |= unix.PROT_EXEC
	}
	return prot
}
