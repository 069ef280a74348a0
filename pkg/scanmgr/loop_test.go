package scanmgr

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/nik9play/scanmgr/pkg/twain"
)

func TestChanLoopRunsPostedWorkInOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	l := newChanLoop(zaptest.NewLogger(t).Sugar())

	var ran []int

	// queued before Run starts
	require.NoError(t, l.Post(func() { ran = append(ran, 1) }))

	done := make(chan error)
	go func() {
		done <- l.Run(func(twain.Event) bool { return false })
	}()

	require.NoError(t, l.Post(func() { ran = append(ran, 2) }))
	require.NoError(t, l.Post(func() {
		ran = append(ran, 3)
		l.Stop()
	}))

	require.NoError(t, <-done)
	assert.Equal(t, []int{1, 2, 3}, ran)
}

func TestChanLoopDrainsOnStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	l := newChanLoop(zaptest.NewLogger(t).Sugar())

	ran := 0
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Post(func() { ran++ }))
	}

	l.Stop()
	l.Stop()

	require.NoError(t, l.Run(nil))
	assert.Equal(t, 3, ran)

	assert.ErrorIs(t, l.Post(func() {}), ErrLoopStopped)
	assert.Equal(t, twain.WindowHandle(0), l.Window())
}

func runLoop(t *testing.T) *ScanManager {
	logger := zaptest.NewLogger(t).Sugar()

	sm := &ScanManager{
		logger:   logger,
		loop:     newChanLoop(logger),
		loopDone: make(chan struct{}),
	}

	go func() {
		defer close(sm.loopDone)
		_ = sm.loop.Run(nil)
	}()

	return sm
}

func TestStopLoopReturnsShutdownResult(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sm := runLoop(t)
	shutdownErr := errors.New("release failed")

	err := sm.stopLoop(func() error { return shutdownErr }, time.Second)
	assert.ErrorIs(t, err, shutdownErr)

	<-sm.loopDone
}

func TestStopLoopAfterLoopExited(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sm := runLoop(t)
	sm.loop.Stop()
	<-sm.loopDone

	calls := 0
	require.NoError(t, sm.stopLoop(func() error {
		calls++
		return nil
	}, time.Second))
	assert.Equal(t, 1, calls)
}

func TestStopLoopTimesOutWhileShutdownRuns(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sm := runLoop(t)

	release := make(chan struct{})
	finished := make(chan struct{})

	// shutdown outlives the wait and still finishes cleanly afterwards
	err := sm.stopLoop(func() error {
		<-release
		close(finished)
		return errors.New("too late")
	}, 10*time.Millisecond)
	assert.ErrorIs(t, err, errLoopTimeout)

	close(release)
	<-finished
	<-sm.loopDone
}
