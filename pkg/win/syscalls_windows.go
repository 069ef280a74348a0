package win

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")

	// lxn/win covers the rest of the Global* family but not GlobalSize
	procGlobalSize = modkernel32.NewProc("GlobalSize")
)

// name and ordinal of the driver manager entry point
const (
	dsmEntryName    = "DSM_Entry"
	dsmEntryOrdinal = 1
)

// ErrNullHandle is returned for operations on a zero global handle
var ErrNullHandle = errors.New("null global handle")

// GlobalSize returns the size of a global memory block
func GlobalSize(h windows.Handle) (uintptr, error) {
	r0, _, e1 := procGlobalSize.Call(uintptr(h))
	if r0 == 0 {
		return 0, e1
	}

	return r0, nil
}

// DSM is a loaded TWAIN driver manager module
type DSM struct {
	Path string

	dll  *windows.DLL
	proc *windows.Proc
}

// LoadDSM loads the module at path and resolves DSM_Entry, by name first and by ordinal second
func LoadDSM(path string) (*DSM, error) {
	dll, err := windows.LoadDLL(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	proc, err := dll.FindProc(dsmEntryName)
	if err != nil {
		proc, err = dll.FindProcByOrdinal(dsmEntryOrdinal)
		if err != nil {
			dll.Release()
			return nil, fmt.Errorf("resolve entry point in %s: %w", path, err)
		}
	}

	return &DSM{Path: path, dll: dll, proc: proc}, nil
}

// Entry calls DSM_Entry. Every pointer must reference memory that stays put for the call.
func (d *DSM) Entry(origin, dest unsafe.Pointer, dg uint32, dat, msg uint16, data unsafe.Pointer) uint16 {
	r0, _, _ := d.proc.Call(
		uintptr(origin),
		uintptr(dest),
		uintptr(dg),
		uintptr(dat),
		uintptr(msg),
		uintptr(data))

	return uint16(r0)
}

// Release unloads the module
func (d *DSM) Release() error {
	if d.dll == nil {
		return nil
	}

	err := d.dll.Release()
	d.dll = nil
	d.proc = nil

	return err
}
