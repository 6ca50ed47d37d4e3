//go:build linux

package uring

import (
	"syscall"
	"unsafe"
)

// io_uring_register(2) opcodes.
const (
	sysRingRegisterBuffers        uint32 = 0
	sysRingUnRegisterBuffers      uint32 = 1
	sysRingRegisterFiles          uint32 = 2
	sysRingUnRegisterFiles        uint32 = 3
	sysRingRegisterProbe          uint32 = 8
	sysRingRegisterIOWQMaxWorkers uint32 = 19
)

type (
	Probe struct {
		lastOp uint8
		opsLen uint8
		_res   uint16
		_res2  [3]uint32
		ops    [256]probeOp
	}
	probeOp struct {
		Op    uint8
		_res  uint8
		Flags uint16
		_res2 uint32
	}
)

const OpSupportedFlag uint16 = 1 << 0

func (p *Probe) GetOP(n int) *probeOp {
	return &p.ops[n]
}

// Probe asks the kernel which opcodes this ring supports.
func (r *Ring) Probe() (*Probe, error) {
	probe := &Probe{}
	err := sysRegister(r.fd, sysRingRegisterProbe, unsafe.Pointer(probe), 256)

	return probe, err
}

func (r *Ring) SetIOWQMaxWorkers(count int) error {
	return sysRegister(r.fd, sysRingRegisterIOWQMaxWorkers, unsafe.Pointer(&count), 2)
}

// RegisterBuffers preregisters the buffers for ReadFixed/WriteFixed use.
func (r *Ring) RegisterBuffers(buffers []syscall.Iovec) error {
	return sysRegister(r.fd, sysRingRegisterBuffers, unsafe.Pointer(&buffers[0]), len(buffers))
}

func (r *Ring) UnRegisterBuffers() error {
	return sysRegister(r.fd, sysRingUnRegisterBuffers, unsafe.Pointer(nil), 0)
}

func (r *Ring) RegisterFiles(descriptors []int) error {
	return sysRegister(r.fd, sysRingRegisterFiles, unsafe.Pointer(&descriptors[0]), len(descriptors))
}

func (r *Ring) UnRegisterFiles() error {
	return sysRegister(r.fd, sysRingUnRegisterFiles, unsafe.Pointer(nil), 0)
}
