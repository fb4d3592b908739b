package backend

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

var ErrDoesNotExist = errors.New("does not exist")

// KeyPath is an ordered set of strings that govern where data is read/written
// from the backend
type KeyPath []string

// RawWriter is a collection of methods to write data to object storage
type RawWriter interface {
	// Write is for in memory data. size is -1 when unknown.
	Write(ctx context.Context, name string, keypath KeyPath, data io.Reader, size int64) error
}

// RawReader is a collection of methods to read data from object storage
type RawReader interface {
	// List returns the names of the objects directly under keypath.
	List(ctx context.Context, keypath KeyPath) ([]string, error)
	// Read is for streaming entire objects from the backend.
	Read(ctx context.Context, name string, keypath KeyPath) (io.ReadCloser, int64, error)
	// ReadRange fills buffer with the bytes of the object starting at offset.
	ReadRange(ctx context.Context, name string, keypath KeyPath, offset uint64, buffer []byte) error
	// Size returns the length of the object in bytes.
	Size(ctx context.Context, name string, keypath KeyPath) (int64, error)
	// Shutdown must be called when the Reader is finished and cleans up any associated resources.
	Shutdown()
}

func ObjectFileName(keypath KeyPath, name string) string {
	return path.Join(path.Join(keypath...), name)
}

// KeyPathWithPrefix returns keypath rooted under prefix when prefix is set.
func KeyPathWithPrefix(keypath KeyPath, prefix string) KeyPath {
	if prefix == "" {
		return keypath
	}
	return append(KeyPath{prefix}, keypath...)
}

// SplitLocation turns an object location such as "dir/sub/file.fgb" into
// the keypath and name the readers expect.
func SplitLocation(location string) (KeyPath, string) {
	location = strings.Trim(path.Clean("/"+location), "/")
	dir, name := path.Split(location)
	dir = strings.Trim(dir, "/")
	if dir == "" {
		return nil, name
	}
	return strings.Split(dir, "/"), name
}

// SizeOf is a convenience wrapper around RawReader.Size taking a location.
func SizeOf(ctx context.Context, r RawReader, location string) (int64, error) {
	keypath, name := SplitLocation(location)
	return r.Size(ctx, name, keypath)
}
