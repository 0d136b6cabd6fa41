package secretbuf

import (
	"fmt"
	"sync"
)

// Buffer holds sensitive bytes and wipes them on Close. A Buffer must not be
// copied after creation. After Close any access panics.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	locked bool
	closed bool
}

// New allocates a zero-filled buffer of size bytes.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secretbuf: buffer size must be positive, got %d", size)
	}

	data, locked, err := allocate(size)
	if err != nil {
		return nil, err
	}

	return &Buffer{data: data, locked: locked}, nil
}

// Bytes returns the backing slice. The slice is invalid after Close.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secretbuf: use of closed buffer")
	}
	return b.data
}

// Len returns the buffer size.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secretbuf: use of closed buffer")
	}
	return len(b.data)
}

// Locked reports whether the memory is pinned against swapping.
func (b *Buffer) Locked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locked
}

// Zero wipes the contents without releasing the buffer.
func (b *Buffer) Zero() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secretbuf: use of closed buffer")
	}
	Wipe(b.data)
}

// Close wipes and releases the buffer. It is idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	Wipe(b.data)
	err := release(b.data, b.locked)
	b.data = nil
	return err
}

// Wipe overwrites p with zeros. It is meant for heap scratch space that held
// encoded key material.
func Wipe(p []byte) {
	clear(p)
}
