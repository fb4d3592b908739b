package backend

import (
	"context"

	"go.uber.org/atomic"
)

// ReaderAt is a shim that allows a RawReader to be used as an io.ReaderAt
// for a single object. It counts the bytes it hands out.
type ReaderAt struct {
	ctx     context.Context
	r       RawReader
	name    string
	keypath KeyPath

	TotalBytesRead atomic.Uint64
}

// NewReaderAt creates a ReaderAt for the object at location.
func NewReaderAt(ctx context.Context, r RawReader, location string) *ReaderAt {
	keypath, name := SplitLocation(location)
	return &ReaderAt{
		ctx:     ctx,
		r:       r,
		name:    name,
		keypath: keypath,
	}
}

// ReadAt implements io.ReaderAt
func (b *ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}
	b.TotalBytesRead.Add(uint64(len(p)))
	err := b.r.ReadRange(b.ctx, b.name, b.keypath, uint64(off), p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}
