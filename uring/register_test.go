//go:build linux

package uring

import (
	"errors"
	"runtime"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//TestProbe test IORING_REGISTER_PROBE
func TestProbe(t *testing.T) {
	ring, err := New(4)
	require.NoError(t, err)
	defer ring.Close()

	probe, err := ring.Probe()
	if errors.Is(err, syscall.EINVAL) {
		t.Skip("Skipped, IORING_REGISTER_PROBE not supported")
	}
	require.NoError(t, err)

	assert.NotEqual(t, 0, probe.lastOp)
	assert.NotEqual(t, 0, probe.ops)

	assert.NotEqual(t, 0, probe.GetOP(int(NopCode)).Flags&OpSupportedFlag, "NOP not supported")
	assert.NotEqual(t, 0, probe.GetOP(int(ReadVCode)).Flags&OpSupportedFlag, "READV not supported")
	assert.NotEqual(t, 0, probe.GetOP(int(WriteVCode)).Flags&OpSupportedFlag, "WRITEV not supported")
}

//TestIOWQMaxWorkers test IORING_REGISTER_IOWQ_MAX_WORKERS
func TestIOWQMaxWorkers(t *testing.T) {
	ring, err := New(4)
	require.NoError(t, err)
	defer ring.Close()

	err = ring.SetIOWQMaxWorkers(runtime.NumCPU())
	if errors.Is(err, syscall.EINVAL) {
		t.Skip("Skipped, IORING_REGISTER_IOWQ_MAX_WORKERS not supported")
	}
	require.NoError(t, err)
}

//TestRegisterBuffers register and unregister a fixed buffer set.
func TestRegisterBuffers(t *testing.T) {
	ring, err := New(4)
	require.NoError(t, err)
	defer ring.Close()

	buff := make([]byte, 4096)
	vecs := []syscall.Iovec{{Base: &buff[0], Len: uint64(len(buff))}}

	err = ring.RegisterBuffers(vecs)
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOMEM) {
		t.Skip("Skipped, buffer registration not supported")
	}
	require.NoError(t, err)

	require.NoError(t, ring.UnRegisterBuffers())
}

//TestRegisterFiles register and unregister a fixed file set.
func TestRegisterFiles(t *testing.T) {
	ring, err := New(4)
	require.NoError(t, err)
	defer ring.Close()

	fds := []int{0, 1}

	err = ring.RegisterFiles(fds)
	if errors.Is(err, syscall.EINVAL) {
		t.Skip("Skipped, file registration not supported")
	}
	require.NoError(t, err)

	require.NoError(t, ring.UnRegisterFiles())
}
