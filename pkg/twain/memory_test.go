package twain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseReleasesOnce(t *testing.T) {
	mem := NewHeapMemory()

	l, err := allocLease(mem, oneValueSize)
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Outstanding())

	require.NoError(t, l.with(func(b []byte) error {
		assert.Len(t, b, oneValueSize)
		assert.Equal(t, 1, mem.Locked())
		return nil
	}))
	assert.Equal(t, 0, mem.Locked())

	require.NoError(t, l.release())
	require.NoError(t, l.release())
	assert.Equal(t, 0, mem.Outstanding())
}

func TestAdoptedZeroHandleIsNoop(t *testing.T) {
	mem := NewHeapMemory()

	assert.NoError(t, adoptLease(mem, 0).release())

	var l *lease
	assert.NoError(t, l.release())
}

func TestHeapMemoryRejectsBadHandles(t *testing.T) {
	mem := NewHeapMemory()

	h, err := mem.Alloc(8)
	require.NoError(t, err)
	require.NoError(t, mem.Free(h))

	assert.ErrorIs(t, mem.Free(h), ErrBadHandle)

	_, err = mem.Lock(h)
	assert.ErrorIs(t, err, ErrBadHandle)

	_, err = mem.Alloc(0)
	assert.ErrorIs(t, err, ErrBadHandle)
}
