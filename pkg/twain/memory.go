package twain

import (
	"errors"
	"fmt"
	"sync"
)

// Memory allocates the shared blocks exchanged with the driver
// (capability containers, native image handles)
type Memory interface {
	Alloc(size int) (MemHandle, error)
	Lock(h MemHandle) ([]byte, error)
	Unlock(h MemHandle)
	Free(h MemHandle) error
}

// ErrBadHandle indicates a handle unknown to the Memory implementation
var ErrBadHandle = errors.New("bad memory handle")

// lease owns a shared block and guarantees it is released exactly once,
// whichever side allocated it
type lease struct {
	mem      Memory
	handle   MemHandle
	released bool
}

func allocLease(mem Memory, size int) (*lease, error) {
	h, err := mem.Alloc(size)
	if err != nil {
		return nil, fmt.Errorf("allocate %d bytes: %w", size, err)
	}

	return &lease{mem: mem, handle: h}, nil
}

// adoptLease takes ownership of a block the driver allocated
func adoptLease(mem Memory, h MemHandle) *lease {
	return &lease{mem: mem, handle: h}
}

// with locks the block for the duration of fn
func (l *lease) with(fn func(b []byte) error) error {
	b, err := l.mem.Lock(l.handle)
	if err != nil {
		return fmt.Errorf("lock shared block: %w", err)
	}
	defer l.mem.Unlock(l.handle)

	return fn(b)
}

func (l *lease) release() error {
	if l == nil || l.released || l.handle == 0 {
		return nil
	}

	l.released = true

	return l.mem.Free(l.handle)
}

// HeapMemory is a process-local Memory. It is used where no driver shares
// memory with the application, and counts outstanding blocks.
type HeapMemory struct {
	lock   sync.Mutex
	blocks map[MemHandle][]byte
	locked map[MemHandle]int
	next   MemHandle
}

// NewHeapMemory creates an empty HeapMemory
func NewHeapMemory() *HeapMemory {
	return &HeapMemory{
		blocks: make(map[MemHandle][]byte),
		locked: make(map[MemHandle]int),
	}
}

// Alloc returns a zeroed block
func (m *HeapMemory) Alloc(size int) (MemHandle, error) {
	if size <= 0 {
		return 0, fmt.Errorf("alloc size %d: %w", size, ErrBadHandle)
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	m.next++
	m.blocks[m.next] = make([]byte, size)

	return m.next, nil
}

// Lock returns the block's bytes
func (m *HeapMemory) Lock(h MemHandle) ([]byte, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	b, ok := m.blocks[h]
	if !ok {
		return nil, ErrBadHandle
	}

	m.locked[h]++

	return b, nil
}

// Unlock balances a Lock
func (m *HeapMemory) Unlock(h MemHandle) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.locked[h] > 0 {
		m.locked[h]--
	}
}

// Free releases the block; freeing twice is an error
func (m *HeapMemory) Free(h MemHandle) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.blocks[h]; !ok {
		return ErrBadHandle
	}

	delete(m.blocks, h)
	delete(m.locked, h)

	return nil
}

// Outstanding returns the number of blocks not yet freed
func (m *HeapMemory) Outstanding() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	return len(m.blocks)
}

// Locked returns the number of outstanding locks across all blocks
func (m *HeapMemory) Locked() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	total := 0
	for _, n := range m.locked {
		total += n
	}

	return total
}
