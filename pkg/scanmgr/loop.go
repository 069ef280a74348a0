package scanmgr

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/nik9play/scanmgr/pkg/twain"
)

// EventHandler is offered every host event before the loop dispatches it.
// Returning true means the event was consumed.
type EventHandler func(ev twain.Event) bool

// hostLoop owns the thread every acquisition call runs on
type hostLoop interface {
	// Run pumps events on the calling goroutine until Stop. Work posted before Stop runs first.
	Run(handler EventHandler) error

	// Post queues fn to run on the loop thread
	Post(fn func()) error

	// Window returns the handle driver dialogs are anchored to
	Window() twain.WindowHandle

	Stop()
}

// ErrLoopStopped is returned when work is posted to a stopped loop
var ErrLoopStopped = errors.New("host loop stopped")

const postQueueSize = 16

// chanLoop is a host loop without native events. Drivers that need a message
// pump can't run on it, but everything else behaves the same.
type chanLoop struct {
	logger *zap.SugaredLogger

	work     chan func()
	stop     chan struct{}
	stopOnce sync.Once
}

func newChanLoop(logger *zap.SugaredLogger) *chanLoop {
	logger = logger.Named("loop")

	l := &chanLoop{
		logger: logger,
		work:   make(chan func(), postQueueSize),
		stop:   make(chan struct{}),
	}

	logger.Debug("Created channel loop instance")

	return l
}

func (l *chanLoop) Run(_ EventHandler) error {
	l.logger.Debug("Loop running")

	for {
		select {
		case fn := <-l.work:
			fn()

		case <-l.stop:
			l.drain()
			l.logger.Debug("Loop stopped")
			return nil
		}
	}
}

func (l *chanLoop) drain() {
	for {
		select {
		case fn := <-l.work:
			fn()
		default:
			return
		}
	}
}

func (l *chanLoop) Post(fn func()) error {
	select {
	case <-l.stop:
		return ErrLoopStopped
	default:
	}

	select {
	case l.work <- fn:
		return nil
	case <-l.stop:
		return ErrLoopStopped
	}
}

func (l *chanLoop) Window() twain.WindowHandle {
	return 0
}

func (l *chanLoop) Stop() {
	l.stopOnce.Do(func() {
		l.logger.Debug("Stopping loop")
		close(l.stop)
	})
}
