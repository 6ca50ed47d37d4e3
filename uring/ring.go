//go:build linux

package uring

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/hadrosaur/ioring/kernelabi"
)

// MaxEntries is the largest SQ depth accepted by the kernel.
const MaxEntries uint32 = 1 << 15

const libUserDataTimeout = ^uint64(0)

var (
	ErrRingSetup      = errors.New("ring setup")
	ErrSQRingOverflow = errors.New("sq ring overflow")
)

// Ring owns the ring file descriptor and both queue descriptors. All three
// mapped regions live exactly as long as the Ring; Close releases them and
// the descriptor. The ring protocol guarantees correctness for a single
// writer per owned index only: concurrent use from several goroutines needs
// external synchronization.
type Ring struct {
	fd int

	Params *ringParams

	log zerolog.Logger

	sqRing *sq
	cqRing *cq
}

type SetupOption func(r *Ring)

// WithCQSize requests a CQ depth independent of the SQ depth.
func WithCQSize(sz uint32) SetupOption {
	return func(r *Ring) {
		r.Params.flags |= setupCQSize
		r.Params.cqEntries = sz
	}
}

// WithIOPoll enables busy-wait polled I/O instead of interrupt driven I/O.
func WithIOPoll() SetupOption {
	return func(r *Ring) {
		r.Params.flags |= setupIOPoll
	}
}

// WithSQPoll offloads submission to a kernel-side polling thread.
func WithSQPoll() SetupOption {
	return func(r *Ring) {
		r.Params.flags |= setupSQPoll
	}
}

// WithAttachedWQ shares the async backend of an already created ring.
func WithAttachedWQ(fd int) SetupOption {
	return func(r *Ring) {
		r.Params.flags |= setupAttachWQ
		r.Params.wqFD = uint32(fd)
	}
}

// WithLogger attaches a structured logger; setup and teardown are logged at
// debug level, hot paths never log.
func WithLogger(log zerolog.Logger) SetupOption {
	return func(r *Ring) {
		r.log = log
	}
}

// New creates a ring with at least entries SQ slots and maps its regions into
// the process. Construction either fully succeeds or fails with no residual
// descriptor and no residual mapping.
func New(entries uint32, opts ...SetupOption) (*Ring, error) {
	if entries == 0 || entries > MaxEntries {
		return nil, ErrRingSetup
	}

	r := &Ring{Params: &ringParams{}, log: zerolog.Nop(), sqRing: &sq{}, cqRing: &cq{}}
	for _, opt := range opts {
		opt(r)
	}

	fd, err := sysSetup(entries, r.Params)
	if err != nil {
		return nil, err
	}
	r.fd = fd

	if err = r.allocRing(r.Params); err != nil {
		_ = syscall.Close(fd)
		r.log.Debug().Err(err).Uint32("entries", entries).Msg("ring mmap failed")
		return nil, err
	}

	r.log.Debug().
		Int("fd", fd).
		Uint32("sq_entries", r.Params.sqEntries).
		Uint32("cq_entries", r.Params.cqEntries).
		Uint64("sq_ring_bytes", r.sqRing.ringSize).
		Uint64("cq_ring_bytes", r.cqRing.ringSize).
		Bool("single_mmap", r.cqRing.shared).
		Msg("ring created")

	return r, nil
}

type Defer func() error

// CreateMany creates count rings with entries SQ slots each. The first
// wqCount rings own their async backends; the rest attach to them
// round-robin. On failure every already created ring is closed.
func CreateMany(count int, entries uint32, wqCount int, opts ...SetupOption) ([]*Ring, Defer, error) {
	if count < 1 || wqCount < 1 || wqCount > count {
		return nil, nil, ErrRingSetup
	}

	var rings []*Ring

	closeAll := func() (err error) {
		for _, ring := range rings {
			if cErr := ring.Close(); cErr != nil {
				err = fmt.Errorf("%w, close ring %d: %s", err, ring.fd, cErr.Error())
			}
		}
		return err
	}

	for i := 0; i < count; i++ {
		ringOpts := opts
		if i >= wqCount {
			ringOpts = append(ringOpts[:len(ringOpts):len(ringOpts)], WithAttachedWQ(rings[i%wqCount].fd))
		}

		r, err := New(entries, ringOpts...)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		rings = append(rings, r)
	}

	return rings, closeAll, nil
}

func (r *Ring) Fd() int {
	return r.fd
}

// Close unmaps every region and closes the descriptor, attempting all
// releases even if an earlier one fails.
func (r *Ring) Close() error {
	err := r.freeRing()
	r.log.Debug().Int("fd", r.fd).Msg("ring closed")
	return joinErr(err, syscall.Close(r.fd))
}

// NextSQE returns the next free slot of the entry array, or
// ErrSQRingOverflow when every slot between the kernel head and the local
// fill cursor is taken.
func (r *Ring) NextSQE() (entry *SQEntry, err error) {
	head := atomic.LoadUint32(r.sqRing.kHead)
	next := r.sqRing.sqeTail + 1

	if next-head <= *r.sqRing.kRingEntries {
		idx := r.sqRing.sqeTail & *r.sqRing.kRingMask * uint32(_sizeOfSQEntry)
		entry = (*SQEntry)(unsafe.Pointer(&r.sqRing.sqeBuff[idx]))
		r.sqRing.sqeTail = next
	} else {
		err = ErrSQRingOverflow
	}

	return entry, err
}

// Operation is a tagged variant of one submission: it knows its opcode and
// how to render itself into the fixed wire layout of an SQEntry.
type Operation interface {
	PrepSQE(*SQEntry)
	Code() OpCode
}

// QueueSQE writes op into the next free slot. The entry stays invisible to
// the kernel until the next flush publishes the SQ tail.
func (r *Ring) QueueSQE(op Operation, flags uint8, userData uint64) error {
	sqe, err := r.NextSQE()
	if err != nil {
		return err
	}

	op.PrepSQE(sqe)
	sqe.flags = flags
	sqe.setUserData(userData)
	return nil
}

// flushSQ fills the index array for all locally queued entries and publishes
// them with an ordered store of the SQ tail, so entry contents are visible to
// the kernel before the index that exposes them.
func (r *Ring) flushSQ() uint32 {
	mask := *r.sqRing.kRingMask
	tail := atomic.LoadUint32(r.sqRing.kTail)
	subCnt := r.sqRing.sqeTail - r.sqRing.sqeHead

	if subCnt == 0 {
		return tail - atomic.LoadUint32(r.sqRing.kHead)
	}

	for i := subCnt; i > 0; i-- {
		*(*uint32)(unsafe.Add(unsafe.Pointer(r.sqRing.kArray), uintptr(tail&mask)*_sizeOfUint32)) = r.sqRing.sqeHead & mask
		tail++
		r.sqRing.sqeHead++
	}

	atomic.StoreUint32(r.sqRing.kTail, tail)

	return tail - atomic.LoadUint32(r.sqRing.kHead)
}

// sqNeedsEnter reports whether submission requires an enter call. With a
// kernel-side SQ polling thread the call is needed only after the thread has
// idled and flagged need-wakeup; the wakeup enter flag is ORed into flags.
func (r *Ring) sqNeedsEnter(flags *uint32) bool {
	if r.Params.flags&setupSQPoll == 0 {
		return true
	}

	if atomic.LoadUint32(r.sqRing.kFlags)&sqNeedWakeup != 0 {
		*flags |= sysRingEnterSQWakeup
		return true
	}

	return false
}

// Submit publishes queued entries and tells the kernel to consume them.
func (r *Ring) Submit() (uint, error) {
	flushed := r.flushSQ()

	var flags uint32
	if r.Params.flags&setupIOPoll != 0 {
		flags |= sysRingEnterGetEvents
	}

	if !r.sqNeedsEnter(&flags) {
		return uint(flushed), nil
	}

	return sysEnter(r.fd, flushed, 0, flags, nil)
}

type getParams struct {
	submit, waitNr uint32
	flags          uint32
	arg            unsafe.Pointer
	sz             int
}

func (r *Ring) getCQEvents(params getParams) (cqe *CQEvent, err error) {
	for {
		var needEnter = false
		var cqOverflowFlush = false
		var flags uint32
		var available uint32

		available, cqe, err = r.peekCQEvent()
		if err != nil {
			break
		}

		if cqe == nil && params.waitNr == 0 && params.submit == 0 {
			if !r.sqRing.cqNeedFlush() {
				err = syscall.EAGAIN
				break
			}
			cqOverflowFlush = true
		}

		if params.waitNr > available || cqOverflowFlush {
			flags = sysRingEnterGetEvents | params.flags
			needEnter = true
		}

		if params.submit != 0 {
			_ = r.sqNeedsEnter(&flags)
			needEnter = true
		}

		if !needEnter {
			break
		}

		var consumed uint
		consumed, err = sysEnter2(r.fd, params.submit, params.waitNr, flags, params.arg, params.sz)
		if err != nil {
			break
		}
		params.submit -= uint32(consumed)
		if cqe != nil {
			break
		}
	}

	return cqe, err
}

// WaitCQEvents blocks until count completions are available. The call may
// suspend the thread for an unbounded time; cancellation must come from
// outside this layer (a signal, or WaitCQEventsWithTimeout).
func (r *Ring) WaitCQEvents(count uint32) (cqe *CQEvent, err error) {
	return r.getCQEvents(getParams{
		submit: 0,
		waitNr: count,
		arg:    unsafe.Pointer(nil),
		sz:     kernelabi.SigsetBytes,
	})
}

// SubmitAndWaitCQEvents flushes queued entries and blocks until count
// completions are available.
func (r *Ring) SubmitAndWaitCQEvents(count uint32) (cqe *CQEvent, err error) {
	return r.getCQEvents(getParams{
		submit: r.flushSQ(),
		waitNr: count,
		arg:    unsafe.Pointer(nil),
		sz:     kernelabi.SigsetBytes,
	})
}

// WaitCQEventsWithTimeout is WaitCQEvents bounded by timeout. On kernels with
// the ext-arg feature the timeout rides on the enter call; otherwise an
// internal timeout entry carrying a reserved user tag is queued.
func (r *Ring) WaitCQEventsWithTimeout(count uint32, timeout time.Duration) (cqe *CQEvent, err error) {
	if r.Params.ExtArgFeature() {
		ts := syscall.NsecToTimespec(timeout.Nanoseconds())
		arg := newGetEventsArg(uintptr(unsafe.Pointer(nil)), kernelabi.SigsetBytes, uintptr(unsafe.Pointer(&ts)))

		cqe, err = r.getCQEvents(getParams{
			submit: 0,
			waitNr: count,
			flags:  sysRingEnterExtArg,
			arg:    unsafe.Pointer(arg),
			sz:     int(unsafe.Sizeof(getEventsArg{})),
		})

		runtime.KeepAlive(arg)
		runtime.KeepAlive(ts)
		return cqe, err
	}

	sqe, err := r.NextSQE()
	if err != nil {
		if _, err = r.Submit(); err != nil {
			return nil, err
		}
		if sqe, err = r.NextSQE(); err != nil {
			return nil, err
		}
	}

	op := Timeout(timeout)
	op.PrepSQE(sqe)
	sqe.setUserData(libUserDataTimeout)

	return r.getCQEvents(getParams{
		submit: r.flushSQ(),
		waitNr: count,
		arg:    unsafe.Pointer(nil),
		sz:     kernelabi.SigsetBytes,
	})
}

func (r *Ring) PeekCQE() (*CQEvent, error) {
	return r.WaitCQEvents(0)
}

func (r *Ring) SeenCQE(cqe *CQEvent) {
	if cqe != nil {
		r.AdvanceCQ(1)
	}
}

// AdvanceCQ marks n completions as consumed by publishing the CQ head.
func (r *Ring) AdvanceCQ(n uint32) {
	atomic.AddUint32(r.cqRing.kHead, n)
}

func (r *Ring) peekCQEvent() (uint32, *CQEvent, error) {
	mask := *r.cqRing.kRingMask
	var cqe *CQEvent
	var available uint32

	var err error
	for {
		tail := atomic.LoadUint32(r.cqRing.kTail)
		head := atomic.LoadUint32(r.cqRing.kHead)

		cqe = nil
		available = tail - head
		if available == 0 {
			break
		}

		cqe = (*CQEvent)(unsafe.Add(unsafe.Pointer(r.cqRing.cqeBuff), uintptr(head&mask)*_sizeOfCQEvent))

		if !r.Params.ExtArgFeature() && cqe.UserData == libUserDataTimeout {
			if cqe.Res < 0 {
				err = cqe.Error()
			}
			r.SeenCQE(cqe)
			if err == nil {
				continue
			}
			cqe = nil
		}
		break
	}

	return available, cqe, err
}

func (r *Ring) peekCQEventBatch(buff []*CQEvent) int {
	ready := r.cqRing.readyCount()
	count := min(uint32(len(buff)), ready)

	if ready != 0 {
		head := atomic.LoadUint32(r.cqRing.kHead)
		mask := atomic.LoadUint32(r.cqRing.kRingMask)

		last := head + count
		for i := 0; head != last; head, i = head+1, i+1 {
			buff[i] = (*CQEvent)(unsafe.Add(unsafe.Pointer(r.cqRing.cqeBuff), uintptr(head&mask)*_sizeOfCQEvent))
		}
	}
	return int(count)
}

// PeekCQEventBatch fills buff with ready completions without consuming them,
// flushing the CQ overflow list first when the kernel signals one.
func (r *Ring) PeekCQEventBatch(buff []*CQEvent) int {
	n := r.peekCQEventBatch(buff)
	if n == 0 {
		if r.sqRing.cqNeedFlush() {
			_, _ = sysEnter(r.fd, 0, 0, sysRingEnterGetEvents, nil)
			n = r.peekCQEventBatch(buff)
		}
	}

	return n
}

func min(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func joinErr(err1, err2 error) error {
	if err1 == nil {
		return err2
	}
	if err2 == nil {
		return err1
	}

	return fmt.Errorf("multiple errors: %w and %s", err1, err2.Error())
}
