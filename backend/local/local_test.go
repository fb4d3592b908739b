package local

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/geoscan/backend"
)

const objectName = "test.fgb"

func TestReadWrite(t *testing.T) {
	r, w, err := New(&Config{
		Path: t.TempDir(),
	})
	require.NoError(t, err, "unexpected error creating local backend")

	fakeObject := make([]byte, 20)
	_, err = rand.Read(fakeObject)
	require.NoError(t, err, "unexpected error creating fakeObject")

	ctx := context.Background()
	keypaths := []backend.KeyPath{nil, {"a"}, {"a", "b"}}
	for _, kp := range keypaths {
		err = w.Write(ctx, objectName, kp, bytes.NewReader(fakeObject), int64(len(fakeObject)))
		assert.NoError(t, err, "unexpected error writing")
	}

	for _, kp := range keypaths {
		rc, size, err := r.Read(ctx, objectName, kp)
		require.NoError(t, err, "unexpected error reading")
		actual, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, fakeObject, actual)
		assert.Equal(t, int64(len(fakeObject)), size)

		actualReadRange := make([]byte, 5)
		err = r.ReadRange(ctx, objectName, kp, 5, actualReadRange)
		assert.NoError(t, err, "unexpected error range")
		assert.Equal(t, fakeObject[5:10], actualReadRange)

		n, err := r.Size(ctx, objectName, kp)
		assert.NoError(t, err)
		assert.Equal(t, int64(len(fakeObject)), n)
	}

	list, err := r.List(ctx, backend.KeyPath{"a"})
	require.NoError(t, err)
	assert.Equal(t, []string{objectName}, list)
}

func TestMissingObject(t *testing.T) {
	r, _, err := New(&Config{Path: t.TempDir()})
	require.NoError(t, err)

	ctx := context.Background()
	_, _, err = r.Read(ctx, "nope", nil)
	assert.ErrorIs(t, err, backend.ErrDoesNotExist)

	err = r.ReadRange(ctx, "nope", nil, 0, make([]byte, 1))
	assert.ErrorIs(t, err, backend.ErrDoesNotExist)

	_, err = r.Size(ctx, "nope", nil)
	assert.ErrorIs(t, err, backend.ErrDoesNotExist)

	list, err := r.List(ctx, backend.KeyPath{"missing"})
	assert.NoError(t, err)
	assert.Empty(t, list)
}

func TestReaderAt(t *testing.T) {
	r, w, err := New(&Config{Path: t.TempDir()})
	require.NoError(t, err)

	ctx := context.Background()
	data := []byte("0123456789")
	require.NoError(t, w.Write(ctx, objectName, backend.KeyPath{"dir"}, bytes.NewReader(data), -1))

	ra := backend.NewReaderAt(ctx, r, "dir/"+objectName)
	buf := make([]byte, 4)
	n, err := ra.ReadAt(buf, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("3456"), buf)
	assert.Equal(t, uint64(4), ra.TotalBytesRead.Load())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = backend.NewReaderAt(cancelled, r, "dir/"+objectName).ReadAt(buf, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
