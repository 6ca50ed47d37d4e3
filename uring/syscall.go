//go:build linux

package uring

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/hadrosaur/ioring/kernelabi"
)

// sysSetup asks the kernel for a ring with at least entries submission slots
// and fills params with the actual geometry. The kernel may round entries up;
// params is authoritative afterwards.
func sysSetup(entries uint32, params *ringParams) (int, error) {
	fd, _, errno := syscall.Syscall(
		kernelabi.SetupTrap,
		uintptr(entries),
		uintptr(unsafe.Pointer(params)),
		0,
	)
	if errno != 0 {
		return 0, errno
	}

	return int(fd), nil
}

// sysEnter submits up to toSubmit entries and, depending on flags, blocks
// until minComplete completions are available. Blocking is unbounded; there
// is no timeout parameter on this boundary.
func sysEnter(ringFD int, toSubmit uint32, minComplete uint32, flags uint32, sig *unix.Sigset_t) (uint, error) {
	return sysEnter2(ringFD, toSubmit, minComplete, flags, unsafe.Pointer(sig), kernelabi.SigsetBytes)
}

// sysEnter2 is the raw form: arg is either a sigset sized to the kernel's
// internal sigset width or, with sysRingEnterExtArg, a getEventsArg.
func sysEnter2(ringFD int, toSubmit uint32, minComplete uint32, flags uint32, arg unsafe.Pointer, sz int) (uint, error) {
	consumed, _, errno := syscall.Syscall6(
		kernelabi.EnterTrap,
		uintptr(ringFD),
		uintptr(toSubmit),
		uintptr(minComplete),
		uintptr(flags),
		uintptr(arg),
		uintptr(sz),
	)
	if errno != 0 {
		return 0, errno
	}

	return uint(consumed), nil
}

// sysRegister attaches or detaches auxiliary resources on an existing ring.
func sysRegister(ringFD int, opcode uint32, arg unsafe.Pointer, nrArgs int) error {
	_, _, errno := syscall.Syscall6(
		kernelabi.RegisterTrap,
		uintptr(ringFD),
		uintptr(opcode),
		uintptr(arg),
		uintptr(nrArgs),
		0,
		0,
	)
	if errno != 0 {
		return errno
	}

	return nil
}
