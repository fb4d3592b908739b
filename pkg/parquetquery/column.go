package parquetquery

import (
	"io"

	pq "github.com/parquet-go/parquet-go"
)

// ColumnChunkHelper walks the pages of a column chunk in order.
type ColumnChunkHelper struct {
	pq.ColumnChunk
	pages pq.Pages
}

// NextPage wraps pages.ReadPage, opening the pages on first use. The
// caller owns the returned page.
func (h *ColumnChunkHelper) NextPage() (pq.Page, error) {
	if h.pages == nil {
		h.pages = h.ColumnChunk.Pages()
	}
	return h.pages.ReadPage()
}

func (h *ColumnChunkHelper) Close() error {
	if h.pages != nil {
		err := h.pages.Close()
		h.pages = nil
		return err
	}
	return nil
}

// ColumnReader reads the values of a flat, non repeated column chunk in row
// order. Optional columns yield null values for missing rows, so the n-th
// value read always belongs to the n-th row of the chunk.
type ColumnReader struct {
	helper ColumnChunkHelper
	values pq.ValueReader
	done   bool
}

func NewColumnReader(cc pq.ColumnChunk) *ColumnReader {
	return &ColumnReader{helper: ColumnChunkHelper{ColumnChunk: cc}}
}

// ReadValues fills buf with up to len(buf) values from a single page and
// returns io.EOF once the chunk is exhausted. Values may reference page
// memory and must be copied before the next call.
func (r *ColumnReader) ReadValues(buf []pq.Value) (int, error) {
	for !r.done {
		if r.values == nil {
			pg, err := r.helper.NextPage()
			if pg == nil || err == io.EOF {
				r.done = true
				break
			}
			if err != nil {
				return 0, err
			}
			r.values = pg.Values()
		}

		n, err := r.values.ReadValues(buf)
		if err == io.EOF {
			r.values = nil
			if n == 0 {
				continue
			}
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if n > 0 {
			return n, nil
		}
	}
	return 0, io.EOF
}

func (r *ColumnReader) Close() error {
	r.values = nil
	r.done = true
	return r.helper.Close()
}
