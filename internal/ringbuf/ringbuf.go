// Package ringbuf implements the fixed-capacity byte ring drained by pipe readers.
package ringbuf

// Buffer is a circular byte buffer holding at most Cap() bytes.
//
// The backing array has one spare slot so that a full buffer and an empty
// buffer never share the same index pair. Buffer is not safe for concurrent
// use; callers serialize access with their own lock.
type Buffer struct {
	buf []byte
	r   int
	w   int
}

// New returns an empty buffer that can hold capacity bytes.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		panic("ringbuf: capacity must be positive")
	}
	return &Buffer{buf: make([]byte, capacity+1)}
}

// Cap returns the number of bytes the buffer can hold.
func (b *Buffer) Cap() int {
	return len(b.buf) - 1
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	return (b.w - b.r + len(b.buf)) % len(b.buf)
}

// Free returns the number of bytes that can still be written.
func (b *Buffer) Free() int {
	return b.Cap() - b.Len()
}

// Full reports whether no more bytes can be written.
func (b *Buffer) Full() bool {
	return b.Len() == b.Cap()
}

// Empty reports whether no bytes are buffered.
func (b *Buffer) Empty() bool {
	return b.w == b.r
}

// WritableRegion returns the contiguous free bytes starting at the write
// index. The region never crosses the physical end of the backing array, so
// filling a wrapped buffer takes two rounds of WritableRegion and Commit.
//
// An empty buffer is rewound to index zero first to maximise the region.
func (b *Buffer) WritableRegion() []byte {
	if b.r == b.w {
		b.r, b.w = 0, 0
	}
	size := len(b.buf)
	n := (b.r + size - b.w - 1) % size
	if n > size-b.w {
		n = size - b.w
	}
	return b.buf[b.w : b.w+n]
}

// Commit marks n bytes of the last WritableRegion as written.
func (b *Buffer) Commit(n int) {
	if n < 0 || n > b.Free() {
		panic("ringbuf: commit out of range")
	}
	b.w = (b.w + n) % len(b.buf)
}

// Write copies as much of p as fits and returns the count copied.
func (b *Buffer) Write(p []byte) int {
	total := 0
	for len(p) > 0 {
		region := b.WritableRegion()
		if len(region) == 0 {
			break
		}
		n := copy(region, p)
		b.Commit(n)
		p = p[n:]
		total += n
	}
	return total
}

// Read moves up to len(p) buffered bytes into p in FIFO order.
func (b *Buffer) Read(p []byte) int {
	total := 0
	for len(p) > 0 && !b.Empty() {
		end := b.w
		if b.w < b.r {
			end = len(b.buf)
		}
		n := copy(p, b.buf[b.r:end])
		b.r = (b.r + n) % len(b.buf)
		p = p[n:]
		total += n
	}
	return total
}

// IndexByte returns the offset of the first c among the buffered bytes, or -1.
func (b *Buffer) IndexByte(c byte) int {
	n := b.Len()
	for i := 0; i < n; i++ {
		if b.buf[(b.r+i)%len(b.buf)] == c {
			return i
		}
	}
	return -1
}

// Reset discards all buffered bytes.
func (b *Buffer) Reset() {
	b.r, b.w = 0, 0
}
