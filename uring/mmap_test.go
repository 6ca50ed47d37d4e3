//go:build linux

package uring

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//TestRingGeometry region sizes must equal the offset-table-derived sizes, and
//the depth read through the mapping must agree with the parameters block.
func TestRingGeometry(t *testing.T) {
	ring, err := New(8)
	require.NoError(t, err)
	defer ring.Close()

	p := ring.Params

	assert.Equal(t, p.sqEntries, *ring.sqRing.kRingEntries)
	assert.Equal(t, p.cqEntries, *ring.cqRing.kRingEntries)

	// kernel rounds depths to powers of two
	assert.Zero(t, p.sqEntries&(p.sqEntries-1))
	assert.Zero(t, p.cqEntries&(p.cqEntries-1))
	assert.Equal(t, p.sqEntries-1, *ring.sqRing.kRingMask)
	assert.Equal(t, p.cqEntries-1, *ring.cqRing.kRingMask)

	sqSize := uint64(p.sqOff.array) + uint64(p.sqEntries)*uint64(_sizeOfUint32)
	cqSize := uint64(p.cqOff.cqes) + uint64(p.cqEntries)*uint64(_sizeOfCQEvent)
	if p.SingleMMapFeature() && cqSize > sqSize {
		sqSize = cqSize
	}

	assert.Equal(t, int(sqSize), len(ring.sqRing.buff))
	assert.Equal(t, int(p.sqEntries)*int(_sizeOfSQEntry), len(ring.sqRing.sqeBuff))
	if !p.SingleMMapFeature() {
		assert.Equal(t, int(cqSize), len(ring.cqRing.buff))
	}
}

type mmapRecorder struct {
	mapped   int
	unmapped int
	failAt   int
	calls    int
}

func (rec *mmapRecorder) install() {
	mmapRing = func(fd int, offset int64, length int) ([]byte, error) {
		rec.calls++
		if rec.calls == rec.failAt {
			return nil, syscall.ENOMEM
		}
		buff, err := sysMmap(fd, offset, length)
		if err == nil {
			rec.mapped++
		}
		return buff, err
	}
	munmapRing = func(buff []byte) error {
		rec.unmapped++
		return syscall.Munmap(buff)
	}
}

func restoreMmap() {
	mmapRing = sysMmap
	munmapRing = syscall.Munmap
}

//TestRollbackOnSQEArrayFailure a failed entry-array mapping must unmap the
//SQ region before the error is returned.
func TestRollbackOnSQEArrayFailure(t *testing.T) {
	rec := &mmapRecorder{failAt: 2}
	rec.install()
	defer restoreMmap()

	ring, err := New(8)
	require.Error(t, err)
	require.ErrorIs(t, err, syscall.ENOMEM)
	require.Nil(t, ring)

	assert.Equal(t, 1, rec.mapped)
	assert.Equal(t, 1, rec.unmapped)
}

//TestRollbackOnCQFailure a failed CQ mapping must unmap both prior regions.
func TestRollbackOnCQFailure(t *testing.T) {
	probe, err := New(8)
	require.NoError(t, err)
	singleMMap := probe.Params.SingleMMapFeature()
	require.NoError(t, probe.Close())
	if singleMMap {
		t.Skip("Skipped, kernel maps sq and cq rings as one region")
	}

	rec := &mmapRecorder{failAt: 3}
	rec.install()
	defer restoreMmap()

	ring, err := New(8)
	require.Error(t, err)
	require.ErrorIs(t, err, syscall.ENOMEM)
	require.Nil(t, ring)

	assert.Equal(t, 2, rec.mapped)
	assert.Equal(t, 2, rec.unmapped)
}

//TestGeometryMismatchRollsBack a ring-entries field that disagrees with the
//parameters block is a fatal construction defect: both mappings acquired by
//then must be rolled back. Anonymous zero-filled mappings stand in for the
//kernel regions, so the mapped entry count reads 0.
func TestGeometryMismatchRollsBack(t *testing.T) {
	rec := &mmapRecorder{}
	mmapRing = func(fd int, offset int64, length int) ([]byte, error) {
		rec.calls++
		buff, err := syscall.Mmap(-1, 0, length,
			syscall.PROT_READ|syscall.PROT_WRITE,
			syscall.MAP_ANONYMOUS|syscall.MAP_PRIVATE)
		if err == nil {
			rec.mapped++
		}
		return buff, err
	}
	munmapRing = func(buff []byte) error {
		rec.unmapped++
		return syscall.Munmap(buff)
	}
	defer restoreMmap()

	ring, err := New(8)
	require.ErrorIs(t, err, ErrRingGeometry)
	require.Nil(t, ring)

	assert.Equal(t, 2, rec.mapped)
	assert.Equal(t, 2, rec.unmapped)
}

//TestCloseReleasesEverything all regions and the descriptor must be released
//on teardown even after heavy use.
func TestCloseReleasesEverything(t *testing.T) {
	rec := &mmapRecorder{}
	rec.install()
	defer restoreMmap()

	ring, err := New(8)
	require.NoError(t, err)

	require.NoError(t, queueNOPs(ring, 8, 0))
	ring.AdvanceCQ(8)

	fd := ring.Fd()
	require.NoError(t, ring.Close())

	assert.Equal(t, rec.mapped, rec.unmapped)
	assert.Nil(t, ring.sqRing.buff)
	assert.Nil(t, ring.sqRing.sqeBuff)
	assert.Nil(t, ring.cqRing.buff)
	assert.ErrorIs(t, syscall.Close(fd), syscall.EBADF)
}
