/*
   Copyright 2020 YANDEX LLC

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package chhttp

import (
	"context"
	"errors"
	"io"
	"reflect"

	"github.com/prometheus/client_golang/prometheus"

	"golang.yandex/chhttp/internal/rowbinary"
)

// initialBufferSize is the starting size of cursor scratch buffer
const initialBufferSize = 4096

// rowBinaryCursor incrementally reads RowBinary stream and hands complete rows to decoder.
// Decoding errors are sticky: once failed, cursor keeps returning the same error.
type rowBinaryCursor struct {
	resp *response
	body io.Reader

	// pending bytes are buf[start:end]
	buf   []byte
	start int
	end   int
	eof   bool
	done  bool
	err   error
}

// next decodes one row. It returns false at clean end of stream.
func (c *rowBinaryCursor) next(ctx context.Context, decode func(data []byte) (int, error)) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	if c.done {
		return false, nil
	}

	if c.body == nil {
		body, err := c.resp.wait()
		if err != nil {
			return false, c.fail(ctxErr(ctx, err))
		}
		c.body = body
	}

	for {
		if c.end > c.start {
			n, err := decode(c.buf[c.start:c.end])
			if err == nil {
				c.start += n
				return true, nil
			}
			if !errors.Is(err, rowbinary.ErrNotEnoughData) {
				return false, c.fail(&DecodeError{err: err})
			}
		}

		if c.eof {
			if c.end > c.start {
				return false, c.fail(&DecodeError{err: io.ErrUnexpectedEOF})
			}
			c.resp.close()
			c.done = true
			return false, nil
		}

		if err := ctx.Err(); err != nil {
			return false, c.fail(err)
		}
		if err := c.fill(); err != nil {
			return false, c.fail(ctxErr(ctx, err))
		}
	}
}

// fill reads more data, compacting pending bytes and growing buffer when it is full
func (c *rowBinaryCursor) fill() error {
	if c.start > 0 {
		c.end = copy(c.buf, c.buf[c.start:c.end])
		c.start = 0
	}

	if c.end == len(c.buf) {
		buf := make([]byte, max(2*len(c.buf), initialBufferSize))
		copy(buf, c.buf[:c.end])
		c.buf = buf
	}

	n, err := c.body.Read(c.buf[c.end:])
	c.end += n
	if errors.Is(err, io.EOF) {
		c.eof = true
		return nil
	}
	return err
}

// ctxErr reports cancellation of ctx instead of the transport error it caused
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}

func (c *rowBinaryCursor) fail(err error) error {
	c.err = err
	c.resp.close()
	return err
}

// RowCursor emits rows of type T decoded from query result.
// RowCursor is not safe for concurrent use.
type RowCursor[T any] struct {
	raw    rowBinaryCursor
	layout *rowbinary.Layout
	cancel context.CancelFunc
	rows   prometheus.Counter
}

func newRowCursor[T any](resp *response, layout *rowbinary.Layout, cancel context.CancelFunc) *RowCursor[T] {
	return &RowCursor[T]{
		raw:    rowBinaryCursor{resp: resp},
		layout: layout,
		cancel: cancel,
		rows:   resp.client.metrics.rowsDecoded,
	}
}

// Next returns next row or nil when there are no more rows.
// Transport errors are returned as is, server rejection as *BadResponseError
// and malformed data as *DecodeError.
//
// Cancellation of ctx aborts the request even when Next is blocked on network,
// the cursor is unusable afterwards.
func (c *RowCursor[T]) Next(ctx context.Context) (*T, error) {
	stop := context.AfterFunc(ctx, c.cancel)
	defer stop()

	row := new(T)
	v := reflect.ValueOf(row).Elem()

	ok, err := c.raw.next(ctx, func(data []byte) (int, error) {
		v.SetZero()
		return c.layout.Decode(data, v)
	})
	if err != nil {
		c.cancel()
		return nil, err
	}
	if !ok {
		c.cancel()
		return nil, nil
	}

	c.rows.Inc()
	return row, nil
}

// Close releases resources held by cursor. Rows not yet read are discarded.
func (c *RowCursor[T]) Close() error {
	c.cancel()
	if c.raw.err == nil && !c.raw.done {
		c.raw.err = errCursorClosed
	}
	c.raw.resp.close()
	return nil
}

var errCursorClosed = errors.New("chhttp: cursor is closed")
