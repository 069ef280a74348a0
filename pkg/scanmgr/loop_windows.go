package scanmgr

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/lxn/win"
	"go.uber.org/zap"
	"golang.org/x/sys/windows"

	"github.com/nik9play/scanmgr/pkg/twain"
)

const (
	loopWindowClass = "scanmgrHostWindow"

	// wakes the loop to run posted work
	wmRunPosted = win.WM_APP + 1
)

var loopWndProcCallback = windows.NewCallback(loopWndProc)

func loopWndProc(hwnd win.HWND, msg uint32, wParam, lParam uintptr) uintptr {
	return win.DefWindowProc(hwnd, msg, wParam, lParam)
}

// winLoop pumps the thread message queue of a hidden window, which also parents
// every driver dialog
type winLoop struct {
	logger *zap.SugaredLogger

	hwnd atomic.Uintptr

	lock    sync.Mutex
	queue   []func()
	stopped bool

	// kept off the stack, drivers hold on to its address during event processing
	msg win.MSG
}

func newHostLoop(logger *zap.SugaredLogger) (hostLoop, error) {
	logger = logger.Named("loop")

	l := &winLoop{
		logger: logger,
	}

	logger.Debug("Created window loop instance")

	return l, nil
}

func (l *winLoop) Run(handler EventHandler) error {
	// the window, its queue and every driver call are bound to this thread
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	hwnd, err := createLoopWindow()
	if err != nil {
		l.logger.Errorw("Failed to create host window", "error", err)
		return err
	}

	l.hwnd.Store(uintptr(hwnd))
	defer func() {
		l.hwnd.Store(0)
		win.DestroyWindow(hwnd)
	}()

	l.logger.Debugw("Loop running", "hwnd", hwnd)

	// work posted before the window existed never got a wake-up
	if l.runPosted() {
		return nil
	}

	for {
		switch win.GetMessage(&l.msg, 0, 0, 0) {
		case 0:
			l.runPosted()
			l.logger.Debug("Loop stopped")
			return nil

		case -1:
			return fmt.Errorf("get message: %w", windows.GetLastError())
		}

		if l.msg.HWnd == hwnd && l.msg.Message == wmRunPosted {
			if l.runPosted() {
				win.PostQuitMessage(0)
			}
			continue
		}

		if handler != nil && handler(twain.Event{Msg: unsafe.Pointer(&l.msg)}) {
			continue
		}

		win.TranslateMessage(&l.msg)
		win.DispatchMessage(&l.msg)
	}
}

// runPosted runs everything queued so far and reports whether the loop should stop
func (l *winLoop) runPosted() bool {
	l.lock.Lock()
	queue := l.queue
	l.queue = nil
	stopped := l.stopped
	l.lock.Unlock()

	for _, fn := range queue {
		fn()
	}

	return stopped
}

func (l *winLoop) Post(fn func()) error {
	l.lock.Lock()
	if l.stopped {
		l.lock.Unlock()
		return ErrLoopStopped
	}
	l.queue = append(l.queue, fn)
	l.lock.Unlock()

	return l.wake()
}

func (l *winLoop) wake() error {
	hwnd := win.HWND(l.hwnd.Load())
	if hwnd == 0 {
		// picked up when Run starts
		return nil
	}

	if win.PostMessage(hwnd, wmRunPosted, 0, 0) == 0 {
		return fmt.Errorf("post message: %w", windows.GetLastError())
	}

	return nil
}

func (l *winLoop) Window() twain.WindowHandle {
	return twain.WindowHandle(l.hwnd.Load())
}

func (l *winLoop) Stop() {
	l.lock.Lock()
	if l.stopped {
		l.lock.Unlock()
		return
	}
	l.stopped = true
	l.lock.Unlock()

	l.logger.Debug("Stopping loop")

	if err := l.wake(); err != nil {
		l.logger.Warnw("Failed to wake loop for stop", "error", err)
	}
}

func createLoopWindow() (win.HWND, error) {
	className, err := windows.UTF16PtrFromString(loopWindowClass)
	if err != nil {
		return 0, fmt.Errorf("encode window class: %w", err)
	}

	instance := win.GetModuleHandle(nil)

	wc := win.WNDCLASSEX{
		LpfnWndProc:   loopWndProcCallback,
		HInstance:     instance,
		LpszClassName: className,
	}
	wc.CbSize = uint32(unsafe.Sizeof(wc))

	if atom := win.RegisterClassEx(&wc); atom == 0 {
		if err := windows.GetLastError(); !errors.Is(err, windows.ERROR_CLASS_ALREADY_EXISTS) {
			return 0, fmt.Errorf("register window class: %w", err)
		}
	}

	hwnd := win.CreateWindowEx(
		0,
		className,
		className,
		win.WS_OVERLAPPEDWINDOW,
		win.CW_USEDEFAULT,
		win.CW_USEDEFAULT,
		win.CW_USEDEFAULT,
		win.CW_USEDEFAULT,
		0,
		0,
		instance,
		nil)
	if hwnd == 0 {
		return 0, fmt.Errorf("create window: %w", windows.GetLastError())
	}

	return hwnd, nil
}
