//go:build linux

// Package kernelabi resolves the io_uring syscall numbers and related kernel
// constants for the running OS/architecture pair. The numbers come from
// golang.org/x/sys, which carries per-GOARCH syscall tables.
package kernelabi

import "golang.org/x/sys/unix"

const (
	SetupTrap    uintptr = unix.SYS_IO_URING_SETUP
	EnterTrap    uintptr = unix.SYS_IO_URING_ENTER
	RegisterTrap uintptr = unix.SYS_IO_URING_REGISTER
)

// NumSig is the kernel's _NSIG. The sigset size argument of io_uring_enter
// must match the kernel's internal sigset width (_NSIG / 8), which is smaller
// than the userspace sizeof(sigset_t).
const (
	NumSig      = 65
	SigsetBytes = NumSig / 8
)
