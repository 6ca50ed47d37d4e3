//go:build linux

package uring

import (
	"math"
	"net"
	"os"
	"syscall"
	"time"
	"unsafe"

	sockaddr "github.com/libp2p/go-sockaddr"
	sockaddrnet "github.com/libp2p/go-sockaddr/net"
	"golang.org/x/sys/unix"
)

type OpCode uint8

const (
	NopCode OpCode = iota
	ReadVCode
	WriteVCode
	FSyncCode
	ReadFixedCode
	WriteFixedCode
	PollAddCode
	PollRemoveCode
	SyncFileRangeCode
	SendMsgCode
	RecvMsgCode
	TimeoutCode
	TimeoutRemoveCode
	AcceptCode
	AsyncCancelCode
	LinkTimeoutCode
	ConnectCode
	FAllocateCode
	OpenAtCode
	CloseCode
	FilesUpdateCode
	StatxCode
	ReadCode
	WriteCode
	FAdviseCode
	MAdviseCode
	SendCode
	RecvCode
)

//NopCommand - do not perform any I/O. Useful for testing the ring itself.
type NopCommand struct {
}

func Nop() *NopCommand {
	return &NopCommand{}
}

func (n *NopCommand) PrepSQE(sqe *SQEntry) {
	sqe.fill(NopCode, -1, uintptr(unsafe.Pointer(nil)), 0, 0)
}

func (n *NopCommand) Code() OpCode {
	return NopCode
}

//ReadVCommand vectored read operation, similar to preadv2(2).
type ReadVCommand struct {
	FD     uintptr
	Size   int64
	IOVecs []syscall.Iovec
}

//ReadV reads the whole file into block-sized iovecs.
func ReadV(file *os.File, blockSize int64) (*ReadVCommand, error) {
	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}

	bytesRemaining := stat.Size()
	blocks := int(math.Ceil(float64(bytesRemaining) / float64(blockSize)))

	buff := make([]byte, bytesRemaining)
	var idx int64

	buffs := make([]syscall.Iovec, 0, blocks)
	for bytesRemaining != 0 {
		bytesToRead := bytesRemaining
		if bytesToRead > blockSize {
			bytesToRead = blockSize
		}

		buffs = append(buffs, syscall.Iovec{
			Base: &buff[idx],
			Len:  uint64(bytesToRead),
		})

		idx += bytesToRead
		bytesRemaining -= bytesToRead
	}

	return &ReadVCommand{FD: file.Fd(), Size: stat.Size(), IOVecs: buffs}, nil
}

func (cmd *ReadVCommand) PrepSQE(sqe *SQEntry) {
	sqe.fill(ReadVCode, int32(cmd.FD), uintptr(unsafe.Pointer(&cmd.IOVecs[0])), uint32(len(cmd.IOVecs)), 0)
}

func (cmd *ReadVCommand) Code() OpCode {
	return ReadVCode
}

//WriteVCommand vectored write operation, similar to pwritev2(2).
type WriteVCommand struct {
	FD     uintptr
	IOVecs []syscall.Iovec
	Offset uint64
}

//WriteV writes bytes to file starting from offset.
//If the file is not seekable, offset must be set to zero.
func WriteV(file *os.File, bytes [][]byte, offset uint64) *WriteVCommand {
	buffs := make([]syscall.Iovec, len(bytes))
	for i := range bytes {
		buffs[i].SetLen(len(bytes[i]))
		buffs[i].Base = &bytes[i][0]
	}

	return &WriteVCommand{FD: file.Fd(), IOVecs: buffs, Offset: offset}
}

func (cmd *WriteVCommand) PrepSQE(sqe *SQEntry) {
	sqe.fill(WriteVCode, int32(cmd.FD), uintptr(unsafe.Pointer(&cmd.IOVecs[0])), uint32(len(cmd.IOVecs)), cmd.Offset)
}

func (cmd *WriteVCommand) Code() OpCode {
	return WriteVCode
}

//SendCommand send operation on a socket, similar to send(2).
type SendCommand struct {
	fd    uintptr
	buff  []byte
	flags uint32
}

func Send(fd uintptr, buff []byte, flags uint32) *SendCommand {
	return &SendCommand{fd: fd, buff: buff, flags: flags}
}

func (cmd *SendCommand) SetBuffer(buff []byte) {
	cmd.buff = buff
}

func (cmd *SendCommand) PrepSQE(sqe *SQEntry) {
	sqe.fill(SendCode, int32(cmd.fd), uintptr(unsafe.Pointer(&cmd.buff[0])), uint32(len(cmd.buff)), 0)
	sqe.opcodeFlags = cmd.flags
}

func (cmd *SendCommand) Code() OpCode {
	return SendCode
}

//RecvCommand receive operation on a socket, similar to recv(2).
type RecvCommand struct {
	fd    uintptr
	buff  []byte
	flags uint32
}

func Recv(fd uintptr, buff []byte, flags uint32) *RecvCommand {
	return &RecvCommand{fd: fd, buff: buff, flags: flags}
}

func (cmd *RecvCommand) SetBuffer(buff []byte) {
	cmd.buff = buff
}

func (cmd *RecvCommand) PrepSQE(sqe *SQEntry) {
	sqe.fill(RecvCode, int32(cmd.fd), uintptr(unsafe.Pointer(&cmd.buff[0])), uint32(len(cmd.buff)), 0)
	sqe.opcodeFlags = cmd.flags
}

func (cmd *RecvCommand) Code() OpCode {
	return RecvCode
}

//TimeoutCommand timeout operation.
type TimeoutCommand struct {
	ts syscall.Timespec
}

func Timeout(duration time.Duration) *TimeoutCommand {
	return &TimeoutCommand{ts: syscall.NsecToTimespec(duration.Nanoseconds())}
}

func (cmd *TimeoutCommand) PrepSQE(sqe *SQEntry) {
	sqe.fill(TimeoutCode, -1, uintptr(unsafe.Pointer(&cmd.ts)), 1, 0)
}

func (cmd *TimeoutCommand) Code() OpCode {
	return TimeoutCode
}

//AcceptCommand accept operation, similar to accept4(2). The kernel fills the
//peer address into the command-owned sockaddr buffer.
type AcceptCommand struct {
	fd    uintptr
	flags uint32
	addr  *unix.RawSockaddrAny
	len   uint32
}

func Accept(fd uintptr, flags uint32) *AcceptCommand {
	return &AcceptCommand{
		fd:    fd,
		flags: flags,
		addr:  &unix.RawSockaddrAny{},
		len:   unix.SizeofSockaddrAny,
	}
}

func (cmd *AcceptCommand) PrepSQE(sqe *SQEntry) {
	sqe.fill(AcceptCode, int32(cmd.fd), uintptr(unsafe.Pointer(cmd.addr)), 0, uint64(uintptr(unsafe.Pointer(&cmd.len))))
	sqe.opcodeFlags = cmd.flags
}

func (cmd *AcceptCommand) Code() OpCode {
	return AcceptCode
}

//Addr returns the peer address. Valid only after the matching completion.
func (cmd *AcceptCommand) Addr() (net.Addr, error) {
	sAddr, err := sockaddr.AnyToSockaddr(cmd.addr)
	if err != nil {
		return nil, err
	}

	return sockaddrnet.SockaddrToTCPAddr(sAddr), nil
}

//ConnectCommand connect operation, similar to connect(2).
type ConnectCommand struct {
	fd   uintptr
	addr *unix.RawSockaddrAny
	len  uint32
}

func Connect(fd uintptr, addr *net.TCPAddr) *ConnectCommand {
	sa := sockaddrnet.NetAddrToSockaddr(addr)
	rsa, l, _ := sockaddr.SockaddrToAny(sa)

	return &ConnectCommand{fd: fd, addr: rsa, len: uint32(l)}
}

func (cmd *ConnectCommand) PrepSQE(sqe *SQEntry) {
	sqe.fill(ConnectCode, int32(cmd.fd), uintptr(unsafe.Pointer(cmd.addr)), 0, uint64(cmd.len))
}

func (cmd *ConnectCommand) Code() OpCode {
	return ConnectCode
}

//CloseCommand close operation on a file descriptor.
type CloseCommand struct {
	fd uintptr
}

func Close(fd uintptr) *CloseCommand {
	return &CloseCommand{fd: fd}
}

func (cmd *CloseCommand) PrepSQE(sqe *SQEntry) {
	sqe.fill(CloseCode, int32(cmd.fd), 0, 0, 0)
}

func (cmd *CloseCommand) Code() OpCode {
	return CloseCode
}

//CancelCommand attempts to cancel an already issued request.
type CancelCommand struct {
	flags          uint32
	targetUserData uint64
}

//Cancel creates a CancelCommand. targetUserData is the user tag of the
//request that should be cancelled.
func Cancel(targetUserData uint64, flags uint32) *CancelCommand {
	return &CancelCommand{flags: flags, targetUserData: targetUserData}
}

func (cmd *CancelCommand) PrepSQE(sqe *SQEntry) {
	sqe.fill(AsyncCancelCode, -1, uintptr(cmd.targetUserData), 0, 0)
	sqe.opcodeFlags = cmd.flags
}

func (cmd *CancelCommand) Code() OpCode {
	return AsyncCancelCode
}
