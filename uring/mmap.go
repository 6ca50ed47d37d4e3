//go:build linux

package uring

import (
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
)

// Mapping syscalls are indirected so that tests can inject mapping failures
// and observe the rollback discipline.
var (
	mmapRing   = sysMmap
	munmapRing = syscall.Munmap
)

func sysMmap(fd int, offset int64, length int) ([]byte, error) {
	return syscall.Mmap(fd, offset, length,
		syscall.PROT_READ|syscall.PROT_WRITE,
		syscall.MAP_SHARED|syscall.MAP_POPULATE)
}

// unwind is a rollback list: releases for the resources acquired so far,
// run in reverse order when a later acquisition fails.
type unwind []func() error

func (u unwind) rollback() {
	for i := len(u) - 1; i >= 0; i-- {
		_ = u[i]()
	}
}

// sq owns the mapped SQ ring region and the mapped entry array. kHead is
// written only by the kernel, kTail only by the process; each side reads the
// other's index with acquire semantics. sqeHead/sqeTail are process-local
// cursors over entries written but not yet published.
type sq struct {
	buff     []byte
	sqeBuff  []byte
	ringSize uint64

	kHead        *uint32
	kTail        *uint32
	kRingMask    *uint32
	kRingEntries *uint32
	kFlags       *uint32
	kDropped     *uint32
	kArray       *uint32

	sqeTail, sqeHead uint32
}

func (s *sq) cqNeedFlush() bool {
	return atomic.LoadUint32(s.kFlags)&sqCQOverflow != 0
}

// cq owns the mapped CQ ring region (shared with the sq mapping on
// single-mmap kernels). kTail is written only by the kernel, kHead only by
// the process.
type cq struct {
	buff     []byte
	ringSize uint64
	shared   bool

	kHead        *uint32
	kTail        *uint32
	kRingMask    *uint32
	kRingEntries *uint32
	kOverflow    *uint32
	kFlags       *uint32
	cqeBuff      *CQEvent
}

func (c *cq) readyCount() uint32 {
	return atomic.LoadUint32(c.kTail) - atomic.LoadUint32(c.kHead)
}

// ErrRingGeometry reports a kernel-filled parameters block that disagrees
// with the geometry readable through the freshly mapped ring metadata.
var ErrRingGeometry = errors.New("ring geometry mismatch")

func ptrAt(base unsafe.Pointer, off uint32) *uint32 {
	return (*uint32)(unsafe.Add(base, uintptr(off)))
}

// allocRing maps the three ring regions at the kernel-mandated offsets and
// resolves every offset-table field into live pointers. Region sizes are
// computed from the offset tables, never hard-coded: each entry array sits at
// the end of its region, so array offset plus array bytes is exactly the
// region length. Any failure rolls back the mappings acquired so far; the
// ring fd stays open and remains the caller's to close.
func (r *Ring) allocRing(p *ringParams) error {
	var undo unwind

	sqRingSz := uint64(p.sqOff.array) + uint64(p.sqEntries)*uint64(_sizeOfUint32)
	cqRingSz := uint64(p.cqOff.cqes) + uint64(p.cqEntries)*uint64(_sizeOfCQEvent)

	singleMMap := p.SingleMMapFeature()
	if singleMMap && cqRingSz > sqRingSz {
		sqRingSz = cqRingSz
	}

	sqBuff, err := mmapRing(r.fd, int64(ringOffSQRing), int(sqRingSz))
	if err != nil {
		return errors.Wrap(err, "mmap sq ring")
	}
	undo = append(undo, func() error { return munmapRing(sqBuff) })

	sqeBuff, err := mmapRing(r.fd, int64(ringOffSQEs), int(p.sqEntries)*int(_sizeOfSQEntry))
	if err != nil {
		undo.rollback()
		return errors.Wrap(err, "mmap sqe array")
	}
	undo = append(undo, func() error { return munmapRing(sqeBuff) })

	sqPtr := unsafe.Pointer(&sqBuff[0])
	off := &p.sqOff
	*r.sqRing = sq{
		buff:         sqBuff,
		sqeBuff:      sqeBuff,
		ringSize:     sqRingSz,
		kHead:        ptrAt(sqPtr, off.head),
		kTail:        ptrAt(sqPtr, off.tail),
		kRingMask:    ptrAt(sqPtr, off.ringMask),
		kRingEntries: ptrAt(sqPtr, off.ringEntries),
		kFlags:       ptrAt(sqPtr, off.flags),
		kDropped:     ptrAt(sqPtr, off.dropped),
		kArray:       ptrAt(sqPtr, off.array),
	}

	// The unmap discipline for the ring's whole lifetime keys off this
	// equality; a mismatch means the kernel-reported geometry is internally
	// inconsistent.
	if p.sqEntries != atomic.LoadUint32(r.sqRing.kRingEntries) {
		undo.rollback()
		*r.sqRing = sq{}
		return ErrRingGeometry
	}

	cqBuff := sqBuff
	if !singleMMap {
		cqBuff, err = mmapRing(r.fd, int64(ringOffCQRing), int(cqRingSz))
		if err != nil {
			undo.rollback()
			*r.sqRing = sq{}
			return errors.Wrap(err, "mmap cq ring")
		}
	}

	cqPtr := unsafe.Pointer(&cqBuff[0])
	cqOff := &p.cqOff
	*r.cqRing = cq{
		buff:         cqBuff,
		ringSize:     cqRingSz,
		shared:       singleMMap,
		kHead:        ptrAt(cqPtr, cqOff.head),
		kTail:        ptrAt(cqPtr, cqOff.tail),
		kRingMask:    ptrAt(cqPtr, cqOff.ringMask),
		kRingEntries: ptrAt(cqPtr, cqOff.ringEntries),
		kOverflow:    ptrAt(cqPtr, cqOff.overflow),
		cqeBuff:      (*CQEvent)(unsafe.Add(cqPtr, uintptr(cqOff.cqes))),
	}
	if cqOff.flags != 0 {
		r.cqRing.kFlags = ptrAt(cqPtr, cqOff.flags)
	}

	return nil
}

// freeRing releases the cq region (unless it shares the sq mapping), the sqe
// array, and the sq region, in reverse order of acquisition. Every release is
// attempted even if an earlier one fails.
func (r *Ring) freeRing() error {
	var err error

	if r.cqRing.buff != nil && !r.cqRing.shared {
		err = joinErr(err, munmapRing(r.cqRing.buff))
	}
	r.cqRing.buff = nil

	if r.sqRing.sqeBuff != nil {
		err = joinErr(err, munmapRing(r.sqRing.sqeBuff))
		r.sqRing.sqeBuff = nil
	}

	if r.sqRing.buff != nil {
		err = joinErr(err, munmapRing(r.sqRing.buff))
		r.sqRing.buff = nil
	}

	return err
}
