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
	"fmt"
	"io"
	"reflect"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"golang.yandex/chhttp/internal/compress"
	"golang.yandex/chhttp/internal/rowbinary"
)

// insertBufferSize is the amount of encoded rows collected before being written to request body
const insertBufferSize = 256 << 10

var (
	errInsertEnded   = errors.New("chhttp: insert is already ended")
	errInsertAborted = errors.New("chhttp: insert is aborted")
)

// Insert streams rows of type T into a table using RowBinary format.
// Insert is not safe for concurrent use.
type Insert[T any] struct {
	client *Client
	layout *rowbinary.Layout
	table  string
	rows   prometheus.Counter

	buf    []byte
	pw     *io.PipeWriter
	w      io.Writer
	wc     io.Closer
	cancel context.CancelFunc

	done  chan struct{}
	err   error
	ended bool
}

// NewInsert starts INSERT into table. Columns are taken from layout of T.
// Dotted name is split into database and table, any other non-empty name is quoted as a whole.
// Request is sent in background, rows are streamed as they are written.
func NewInsert[T any](ctx context.Context, cl *Client, table string) (*Insert[T], error) {
	layout, err := rowbinary.For[T]()
	if err != nil {
		return nil, &BindError{Reason: err.Error()}
	}
	if len(layout.Columns()) == 0 {
		return nil, &BindError{Reason: fmt.Sprintf("row type %s has no columns", layout.Type())}
	}

	name, err := quoteTableName(table)
	if err != nil {
		return nil, err
	}
	query := "INSERT INTO " + name + "(" + layout.JoinColumns() + ") FORMAT RowBinary"

	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()

	req, err := cl.newInsertRequest(ctx, query, pr)
	if err != nil {
		cancel()
		return nil, err
	}

	ins := &Insert[T]{
		client: cl,
		layout: layout,
		table:  table,
		rows:   cl.metrics.rowsInserted,
		pw:     pw,
		w:      pw,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	switch cl.compression {
	case CompressionLZ4:
		cw := compress.NewWriter(pw, compress.MethodLZ4)
		ins.w, ins.wc = cw, cw
	case CompressionGzip, CompressionZstd:
		cw, err := compress.NewContentWriter(cl.compression.contentEncoding(), pw)
		if err != nil {
			cancel()
			return nil, &ConfigError{err: err}
		}
		ins.w, ins.wc = cw, cw
	}

	go func() {
		defer close(ins.done)
		ins.err = newResponse(cl, req, "").finish()
		// unblock writer if server finished before reading whole body
		if ins.err != nil {
			_ = pr.CloseWithError(ins.err)
		} else {
			_ = pr.CloseWithError(errInsertEnded)
		}
	}()

	return ins, nil
}

// Write encodes row and sends it to server once enough data is buffered.
func (ins *Insert[T]) Write(row T) error {
	if ins.ended {
		return errInsertEnded
	}

	buf, err := ins.layout.Encode(ins.buf, reflect.ValueOf(row))
	if err != nil {
		return &BindError{Reason: err.Error()}
	}
	ins.buf = buf
	ins.rows.Inc()

	if len(ins.buf) >= insertBufferSize {
		return ins.flush()
	}
	return nil
}

func (ins *Insert[T]) flush() error {
	if len(ins.buf) == 0 {
		return nil
	}

	_, err := ins.w.Write(ins.buf)
	ins.buf = ins.buf[:0]
	if err != nil {
		// prefer error reported by server
		ins.ended = true
		<-ins.done
		ins.cancel()
		if ins.err != nil {
			return ins.err
		}
		return err
	}
	return nil
}

// End sends remaining rows and waits for server to acknowledge insert.
func (ins *Insert[T]) End() error {
	if ins.ended {
		return errInsertEnded
	}

	if err := ins.flush(); err != nil {
		return err
	}
	ins.ended = true

	if ins.wc != nil {
		if err := ins.wc.Close(); err != nil {
			ins.Abort()
			return err
		}
	}
	_ = ins.pw.Close()

	<-ins.done
	ins.cancel()

	if ins.err == nil {
		level.Debug(ins.client.logger).Log("msg", "insert finished", "table", ins.table)
	}
	return ins.err
}

// Abort cancels insert. Rows written so far may or may not be inserted.
func (ins *Insert[T]) Abort() {
	ins.ended = true
	ins.cancel()
	_ = ins.pw.CloseWithError(errInsertAborted)
	<-ins.done
}
