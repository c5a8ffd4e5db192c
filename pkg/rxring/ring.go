// Package rxring implements the fixed-size circular receive buffer the
// transport writes into. It behaves like a DMA ring: the producer never
// blocks and overwrites the oldest bytes once it wraps, and readers track
// their own read position against the current write position.
package rxring

import (
	"context"
	"errors"
	"io"
	"sync"
)

// DefaultSize is the receive ring capacity in bytes.
const DefaultSize = 2048

// Ring is a circular byte buffer with a single producer.
type Ring struct {
	mu  sync.Mutex
	buf []byte
	wr  int
}

// New creates a ring of the given size. A size <= 0 uses DefaultSize.
func New(size int) *Ring {
	if size <= 0 {
		size = DefaultSize
	}
	return &Ring{buf: make([]byte, size)}
}

// Size returns the ring capacity.
func (r *Ring) Size() int { return len(r.buf) }

// Write copies p into the ring at the write position, wrapping around.
// It never fails and never blocks.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range p {
		r.buf[r.wr] = b
		r.wr++
		if r.wr == len(r.buf) {
			r.wr = 0
		}
	}
	return len(p), nil
}

// WriteByte appends a single byte.
func (r *Ring) WriteByte(b byte) error {
	r.mu.Lock()
	r.buf[r.wr] = b
	r.wr++
	if r.wr == len(r.buf) {
		r.wr = 0
	}
	r.mu.Unlock()
	return nil
}

// WritePos returns the current write position.
func (r *Ring) WritePos() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wr
}

// View calls fn with the backing storage and the write position while the
// ring is locked. fn must not retain buf.
func (r *Ring) View(fn func(buf []byte, writePos int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.buf, r.wr)
}

// Fill copies everything read from src into the ring until src fails or
// ctx is cancelled. io.EOF and cancellation return nil.
func (r *Ring) Fill(ctx context.Context, src io.Reader) error {
	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := src.Read(buf)
		if n > 0 {
			_, _ = r.Write(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
