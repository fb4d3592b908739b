package io

import (
	"io"
	"sync"
)

// BufferedReaderAt coalesces small reads against an underlying io.ReaderAt
// into fewer, larger ones. It keeps bufferCount buffers of at least
// bufferSize bytes and evicts the least recently used one on a miss.
type BufferedReaderAt struct {
	mtx sync.Mutex

	ra           io.ReaderAt
	readerAtSize int64
	bufferSize   int

	buffers []readerBuffer
	tick    int64
}

type readerBuffer struct {
	buf      []byte
	off      int64
	lastUsed int64
}

func (b *readerBuffer) contains(off, length int64) bool {
	return b.buf != nil && off >= b.off && off+length <= b.off+int64(len(b.buf))
}

var _ io.ReaderAt = (*BufferedReaderAt)(nil)

func NewBufferedReaderAt(ra io.ReaderAt, readerAtSize int64, bufferSize, bufferCount int) *BufferedReaderAt {
	return &BufferedReaderAt{
		ra:           ra,
		readerAtSize: readerAtSize,
		bufferSize:   bufferSize,
		buffers:      make([]readerBuffer, bufferCount),
	}
}

func (r *BufferedReaderAt) ReadAt(b []byte, offset int64) (int, error) {
	length := int64(len(b))
	if len(r.buffers) == 0 || length == 0 {
		return r.ra.ReadAt(b, offset)
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.tick++

	for i := range r.buffers {
		buf := &r.buffers[i]
		if buf.contains(offset, length) {
			buf.lastUsed = r.tick
			copy(b, buf.buf[offset-buf.off:])
			return len(b), nil
		}
	}

	// reads that run past the end are not buffered
	if offset+length > r.readerAtSize {
		return r.ra.ReadAt(b, offset)
	}

	lru := &r.buffers[0]
	for i := range r.buffers {
		if r.buffers[i].lastUsed < lru.lastUsed {
			lru = &r.buffers[i]
		}
	}

	bufOffset, bufLength := calculateBounds(offset, length, r.bufferSize, r.readerAtSize)
	if int64(cap(lru.buf)) >= bufLength {
		lru.buf = lru.buf[:bufLength]
	} else {
		lru.buf = make([]byte, bufLength)
	}

	n, err := r.ra.ReadAt(lru.buf, bufOffset)
	if err != nil && !(err == io.EOF && int64(n) == bufLength) {
		lru.buf = nil
		return 0, err
	}
	lru.off = bufOffset
	lru.lastUsed = r.tick

	copy(b, lru.buf[offset-bufOffset:])
	return len(b), nil
}

// calculateBounds widens the requested range to at least bufferSize bytes
// without leaving [0, readerAtSize). Reads near the end are shifted back.
func calculateBounds(offset, length int64, bufferSize int, readerAtSize int64) (int64, int64) {
	if length < int64(bufferSize) {
		length = int64(bufferSize)
	}

	if offset+length > readerAtSize {
		offset = readerAtSize - length
	}

	if offset < 0 {
		offset = 0
	}

	if offset+length > readerAtSize {
		length = readerAtSize - offset
	}

	return offset, length
}
