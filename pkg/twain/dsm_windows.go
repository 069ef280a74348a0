package twain

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"unsafe"

	winapi "github.com/lxn/win"
	"go.uber.org/zap"
	"golang.org/x/sys/windows"

	"github.com/nik9play/scanmgr/pkg/win"
)

const (
	dsmName64 = "TWAINDSM.dll"
	dsmName32 = "TWAIN_32.DLL"
)

type dsmLoader struct {
	logger *zap.SugaredLogger
	path   string

	dsm *win.DSM
}

// NewLoader returns a Loader for the system TWAIN driver manager. A non-empty path is
// tried before the standard install locations.
func NewLoader(logger *zap.SugaredLogger, path string) Loader {
	return &dsmLoader{
		logger: logger.Named("dsm"),
		path:   path,
	}
}

func (l *dsmLoader) candidates() []string {
	var paths []string

	if l.path != "" {
		paths = append(paths, l.path)
	}

	if sysDir, err := windows.GetSystemDirectory(); err == nil {
		paths = append(paths, filepath.Join(sysDir, dsmName64))
	}

	if winDir, err := windows.GetWindowsDirectory(); err == nil {
		// the legacy manager is 32-bit only
		if runtime.GOARCH == "386" {
			paths = append(paths, filepath.Join(winDir, dsmName32))
		}
		paths = append(paths, filepath.Join(winDir, dsmName64))
	}

	return paths
}

func (l *dsmLoader) Load() (EntryPoint, error) {
	if l.dsm != nil {
		return &dsmEntry{logger: l.logger, dsm: l.dsm}, nil
	}

	var errs []error

	for _, path := range l.candidates() {
		dsm, err := win.LoadDSM(path)
		if err != nil {
			l.logger.Debugw("Driver manager candidate rejected", "path", path, "error", err)
			errs = append(errs, err)
			continue
		}

		l.logger.Infow("Loaded driver manager", "path", path)
		l.dsm = dsm

		return &dsmEntry{logger: l.logger, dsm: dsm}, nil
	}

	if len(errs) == 0 {
		return nil, errors.New("no driver manager locations to try")
	}

	return nil, errors.Join(errs...)
}

func (l *dsmLoader) Unload() error {
	if l.dsm == nil {
		return nil
	}

	err := l.dsm.Release()
	l.dsm = nil

	if err != nil {
		return fmt.Errorf("release driver manager: %w", err)
	}

	return nil
}

type dsmEntry struct {
	logger *zap.SugaredLogger
	dsm    *win.DSM
}

func (e *dsmEntry) Call(origin *Identity, dest *Identity, dg DataGroup, dat DataArgType, msg Message, data any) ReturnCode {
	p, err := marshalPayload(data)
	if err != nil {
		e.logger.Errorw("Refusing driver call", "dat", dat, "msg", msg, "error", err)
		return RCFailure
	}

	originBuf := encodeIdentity(origin)

	var destBuf []byte
	var destPtr unsafe.Pointer
	if dest != nil {
		destBuf = encodeIdentity(dest)
		destPtr = unsafe.Pointer(&destBuf[0])
	}

	var dataPtr unsafe.Pointer
	if len(p.buf) > 0 {
		dataPtr = unsafe.Pointer(&p.buf[0])
	}

	rc := ReturnCode(e.dsm.Entry(unsafe.Pointer(&originBuf[0]), destPtr, uint32(dg), uint16(dat), uint16(msg), dataPtr))

	runtime.KeepAlive(originBuf)
	runtime.KeepAlive(destBuf)
	runtime.KeepAlive(p.buf)

	if err := decodeIdentity(originBuf, origin); err != nil {
		e.logger.Warnw("Failed to decode origin identity", "error", err)
	}

	if dest != nil {
		if err := decodeIdentity(destBuf, dest); err != nil {
			e.logger.Warnw("Failed to decode destination identity", "error", err)
		}
	}

	if err := p.decode(); err != nil {
		e.logger.Warnw("Failed to decode driver payload", "dat", dat, "msg", msg, "error", err)
	}

	return rc
}

type globalMemory struct{}

// NewSystemMemory returns the Memory the driver manager shares with the application
func NewSystemMemory() Memory {
	return globalMemory{}
}

func (globalMemory) Alloc(size int) (MemHandle, error) {
	h := winapi.GlobalAlloc(winapi.GMEM_MOVEABLE|winapi.GMEM_ZEROINIT, uintptr(size))
	if h == 0 {
		return 0, fmt.Errorf("global alloc: %w", windows.GetLastError())
	}

	return MemHandle(h), nil
}

func (globalMemory) Lock(h MemHandle) ([]byte, error) {
	size, err := win.GlobalSize(windows.Handle(h))
	if err != nil {
		return nil, fmt.Errorf("global size: %w", err)
	}

	// the block lives outside the Go heap
	p := winapi.GlobalLock(winapi.HGLOBAL(h))
	if p == nil {
		return nil, fmt.Errorf("global lock: %w", windows.GetLastError())
	}

	return unsafe.Slice((*byte)(p), size), nil
}

func (globalMemory) Unlock(h MemHandle) {
	winapi.GlobalUnlock(winapi.HGLOBAL(h))
}

func (globalMemory) Free(h MemHandle) error {
	if h == 0 {
		return fmt.Errorf("global free: %w", win.ErrNullHandle)
	}

	// GlobalFree returns NULL on success and the handle on failure
	if winapi.GlobalFree(winapi.HGLOBAL(h)) != 0 {
		return fmt.Errorf("global free: %w", windows.GetLastError())
	}

	return nil
}
