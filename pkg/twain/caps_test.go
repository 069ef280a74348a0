package twain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiateRequestsUnlimitedTransfers(t *testing.T) {
	h := newHarness(t)
	h.driveTo(t, StageSourceOpen)

	require.NoError(t, h.m.negotiateCaps())

	assert.Equal(t, StageCapsNegotiated, h.m.Stage())
	assert.Equal(t, XferCountUnlimited, h.m.NegotiatedCount())
	assert.Equal(t, TypeInt16, h.driver.lastSet.ItemType)
	assert.Equal(t, XferCountUnlimited, int16(uint16(h.driver.lastSet.Item)))
	assert.Equal(t, 0, h.driver.count(opCapGet))

	assert.Equal(t, 0, h.mem.Outstanding())
	assert.Equal(t, 0, h.mem.Locked())
}

func TestNegotiateAcceptsSourceCount(t *testing.T) {
	h := newHarness(t)
	h.driveTo(t, StageSourceOpen)
	h.driver.answer(opCapSet, RCCheckStatus)
	h.driver.preferredCount = 5

	require.NoError(t, h.m.negotiateCaps())

	assert.Equal(t, StageCapsNegotiated, h.m.Stage())
	assert.Equal(t, int16(5), h.m.NegotiatedCount())
	assert.Equal(t, 1, h.driver.count(opCapGet))

	// both our container and the one the source handed back are gone
	assert.Equal(t, 0, h.mem.Outstanding())
	assert.Equal(t, 0, h.mem.Locked())
}

func TestNegotiateHardFailure(t *testing.T) {
	h := newHarness(t)
	h.driveTo(t, StageManagerOpen)

	h.driver.answer(opCapSet, RCFailure)
	h.driver.condition = CCCapUnsupported

	err := h.m.Acquire(0)
	require.ErrorIs(t, err, ErrNegotiationRejected)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, CCCapUnsupported, statusErr.Condition)
	assert.Equal(t, RCFailure, statusErr.Code)
	assert.NotEmpty(t, statusErr.Diagnostic())

	assert.Equal(t, StageSourceOpen, h.m.Stage(), "source stays open, never half negotiated")
	assert.Equal(t, int16(0), h.m.NegotiatedCount())
	assert.Equal(t, 0, h.driver.count(opEnableDS))
	assert.Equal(t, 0, h.mem.Outstanding())
}

func TestNegotiateCheckStatusFailures(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(d *fakeDriver)
		want    error
	}{
		{
			name:    "get refused",
			prepare: func(d *fakeDriver) { d.answer(opCapGet, RCFailure) },
			want:    ErrNegotiationRejected,
		},
		{
			name:    "no container",
			prepare: func(d *fakeDriver) { d.getNoContainer = true },
			want:    ErrNoContainer,
		},
		{
			name:    "wrong container type",
			prepare: func(d *fakeDriver) { d.getContainerType = 3 },
			want:    ErrNegotiationRejected,
		},
		{
			name:    "zero count",
			prepare: func(d *fakeDriver) { d.preferredCount = 0 },
			want:    ErrNegotiationRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.driveTo(t, StageSourceOpen)
			h.driver.answer(opCapSet, RCCheckStatus)
			tt.prepare(h.driver)

			err := h.m.negotiateCaps()
			require.ErrorIs(t, err, tt.want)

			assert.Equal(t, StageSourceOpen, h.m.Stage())
			assert.Equal(t, 0, h.mem.Outstanding())
			assert.Equal(t, 0, h.mem.Locked())
		})
	}
}

func TestNegotiateOutOfSequence(t *testing.T) {
	h := newHarness(t)
	h.driveTo(t, StageManagerOpen)

	require.ErrorIs(t, h.m.negotiateCaps(), ErrSequence)
	assert.Zero(t, h.driver.count(opCapSet))
}
