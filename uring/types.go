//go:build linux

package uring

import (
	"syscall"
	"unsafe"
)

// Magic mmap offsets of the three kernel-owned ring regions.
const (
	ringOffSQRing uint64 = 0
	ringOffCQRing uint64 = 0x8000000
	ringOffSQEs   uint64 = 0x10000000
)

// io_uring_setup flags.
const (
	setupIOPoll   uint32 = 1 << 0
	setupSQPoll   uint32 = 1 << 1
	setupSQAff    uint32 = 1 << 2
	setupCQSize   uint32 = 1 << 3
	setupClamp    uint32 = 1 << 4
	setupAttachWQ uint32 = 1 << 5
)

// Feature flags reported back in ringParams.features.
const (
	featSingleMMap   uint32 = 1 << 0
	featNoDrop       uint32 = 1 << 1
	featSubmitStable uint32 = 1 << 2
	featExtArg       uint32 = 1 << 8
)

// SQ ring flags, read through sq.kFlags.
const (
	sqNeedWakeup uint32 = 1 << 0 // needs io_uring_enter wakeup
	sqCQOverflow uint32 = 1 << 1 // cq ring is overflown
)

// io_uring_enter flags.
const (
	sysRingEnterGetEvents uint32 = 1 << 0
	sysRingEnterSQWakeup  uint32 = 1 << 1
	sysRingEnterExtArg    uint32 = 1 << 3
)

// sqRingOffsets is the kernel-filled io_sqring_offsets: byte offsets of each
// named field relative to the start of the mapped SQ ring region.
type sqRingOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	flags       uint32
	dropped     uint32
	array       uint32
	resv1       uint32
	resv2       uint64
}

// cqRingOffsets is the kernel-filled io_cqring_offsets.
type cqRingOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	overflow    uint32
	cqes        uint32
	flags       uint32
	resv1       uint32
	resv2       uint64
}

// ringParams is the io_uring_params block. The process zeroes it, the kernel
// fills it on setup; it is authoritative for all region size computations.
type ringParams struct {
	sqEntries    uint32
	cqEntries    uint32
	flags        uint32
	sqThreadCPU  uint32
	sqThreadIdle uint32
	features     uint32
	wqFD         uint32
	resv         [3]uint32
	sqOff        sqRingOffsets
	cqOff        cqRingOffsets
}

func (p *ringParams) SingleMMapFeature() bool {
	return p.features&featSingleMMap != 0
}

func (p *ringParams) NoDropFeature() bool {
	return p.features&featNoDrop != 0
}

func (p *ringParams) ExtArgFeature() bool {
	return p.features&featExtArg != 0
}

// SQEntry is one io_uring_sqe slot inside the mapped entry array. Field order
// and widths must match the kernel definition exactly; opcodeFlags and the
// bufIG/personality/spliceFdIn/_pad2 block are the fixed-size layouts of the
// kernel's per-opcode unions.
type SQEntry struct {
	opcode      uint8
	flags       uint8
	ioPrio      uint16
	fd          int32
	off         uint64
	addr        uint64
	len         uint32
	opcodeFlags uint32
	userData    uint64

	bufIG       uint16
	personality uint16
	spliceFdIn  int32
	_pad2       [2]uint64
}

//go:uintptrescapes
func (sqe *SQEntry) fill(op OpCode, fd int32, addr uintptr, len uint32, offset uint64) {
	sqe.opcode = uint8(op)
	sqe.flags = 0
	sqe.ioPrio = 0
	sqe.fd = fd
	sqe.off = offset
	setAddr(sqe, addr)
	sqe.len = len
	sqe.opcodeFlags = 0
	sqe.userData = 0
	sqe.bufIG = 0
	sqe.personality = 0
	sqe.spliceFdIn = 0
	sqe._pad2[0] = 0
	sqe._pad2[1] = 0
}

func (sqe *SQEntry) setUserData(ud uint64) {
	sqe.userData = ud
}

//go:uintptrescapes
func setAddr(sqe *SQEntry, addr uintptr) {
	sqe.addr = uint64(addr)
}

// CQEvent is one io_uring_cqe. UserData is the tag from the matching SQEntry,
// echoed by the kernel verbatim.
type CQEvent struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

func (cqe *CQEvent) Error() error {
	if cqe.Res < 0 {
		return syscall.Errno(uintptr(-cqe.Res))
	}
	return nil
}

// getEventsArg is the io_uring_getevents_arg passed to enter with
// sysRingEnterExtArg set.
type getEventsArg struct {
	sigMask   uint64
	sigMaskSz uint32
	pad       uint32
	ts        uint64
}

//go:uintptrescapes
func newGetEventsArg(sigMask uintptr, sigMaskSz uint32, ts uintptr) *getEventsArg {
	return &getEventsArg{sigMask: uint64(sigMask), sigMaskSz: sigMaskSz, ts: uint64(ts)}
}

var (
	_sizeOfUint32  = unsafe.Sizeof(uint32(0))
	_sizeOfSQEntry = unsafe.Sizeof(SQEntry{})
	_sizeOfCQEvent = unsafe.Sizeof(CQEvent{})
)

// Layout pins: compilation fails if any kernel-shared struct drifts from the
// documented ABI sizes for this architecture.
var (
	_ [unsafe.Sizeof(SQEntry{}) - 64]byte
	_ [64 - unsafe.Sizeof(SQEntry{})]byte
	_ [unsafe.Sizeof(CQEvent{}) - 16]byte
	_ [16 - unsafe.Sizeof(CQEvent{})]byte
	_ [unsafe.Sizeof(sqRingOffsets{}) - 40]byte
	_ [40 - unsafe.Sizeof(sqRingOffsets{})]byte
	_ [unsafe.Sizeof(cqRingOffsets{}) - 40]byte
	_ [40 - unsafe.Sizeof(cqRingOffsets{})]byte
	_ [unsafe.Sizeof(ringParams{}) - 120]byte
	_ [120 - unsafe.Sizeof(ringParams{})]byte
	_ [unsafe.Sizeof(getEventsArg{}) - 24]byte
	_ [24 - unsafe.Sizeof(getEventsArg{})]byte
)
