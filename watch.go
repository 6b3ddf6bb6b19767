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
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	jsoniter "github.com/json-iterator/go"
)

// LiveViewMarker starts DDL creating live view for watched query
const LiveViewMarker = "CREATE LIVE VIEW"

// json decodes rows using the same `ch` tags as RowBinary layouts
var json = jsoniter.Config{TagKey: "ch", EscapeHTML: false}.Froze()

// WatchEvent is a row of watched query together with version of live view it belongs to.
type WatchEvent[T any] struct {
	Version uint64
	Row     T
}

// Watch subscribes to changes of a query result using live view.
type Watch struct {
	client  *Client
	sql     sqlBuilder
	view    string
	refresh time.Duration
	limit   uint64
}

// Watch creates subscription on query. Live view for the query is created on fetch
// (CREATE LIVE VIEW IF NOT EXISTS), its name is derived from query text.
func (cl *Client) Watch(query string) *Watch {
	return &Watch{client: cl, sql: newSQLBuilder(query)}
}

// WatchView creates subscription on existing live view.
func (cl *Client) WatchView(name string) *Watch {
	return &Watch{client: cl, view: name}
}

// Bind binds value to the next `?` of watched query
func (w *Watch) Bind(value any) *Watch {
	w.sql.bind(value)
	return w
}

// Refresh sets periodic refresh interval of created live view
func (w *Watch) Refresh(d time.Duration) *Watch {
	w.refresh = d
	return w
}

// Limit limits number of versions to watch. Zero means infinite watch.
func (w *Watch) Limit(n uint64) *Watch {
	w.limit = n
	return w
}

// ViewName returns name of live view for watched query.
func (w *Watch) ViewName() (string, error) {
	if w.view != "" {
		return w.view, nil
	}

	query, err := w.sql.finish()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("lv_%016x", xxhash.Sum64String(query)), nil
}

// prepare creates live view if needed and returns response of WATCH query.
func (w *Watch) prepare(ctx context.Context, events bool) (*response, error) {
	view := w.view
	if view == "" {
		query, err := w.sql.finish()
		if err != nil {
			return nil, err
		}
		view = fmt.Sprintf("lv_%016x", xxhash.Sum64String(query))

		var refresh string
		if w.refresh > 0 {
			refresh = fmt.Sprintf("WITH REFRESH %d ", int64(w.refresh.Round(time.Second)/time.Second))
		}
		ddl := fmt.Sprintf("%s IF NOT EXISTS `%s` %sAS %s", LiveViewMarker, view, refresh, query)

		err = w.client.rawQuery(ddl).
			Setting("allow_experimental_live_view", "1").
			Execute(ctx)
		if err != nil {
			return nil, err
		}
	}

	q := w.client.Query("WATCH ?").Bind(Identifier(view))
	if events {
		q.sql.append(" EVENTS")
	}
	if w.limit > 0 {
		q.sql.append(" LIMIT " + strconv.FormatUint(w.limit, 10))
	}
	q.sql.append(" FORMAT JSONEachRowWithProgress")
	q.Setting("allow_experimental_live_view", "1")

	return q.prepare(ctx, true)
}

// watchLine is a single line of JSONEachRowWithProgress output
type watchLine struct {
	Row       jsoniter.RawMessage `ch:"row"`
	Exception string              `ch:"exception"`
}

type versionField struct {
	Version jsoniter.RawMessage `ch:"_version"`
}

type eventField struct {
	Version jsoniter.RawMessage `ch:"version"`
}

// lineCursor reads rows of JSONEachRowWithProgress stream skipping progress lines.
type lineCursor struct {
	resp   *response
	cancel context.CancelFunc
	r      *bufio.Reader
	done   bool
	err    error
}

func (c *lineCursor) next(ctx context.Context) (jsoniter.RawMessage, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.done {
		return nil, nil
	}

	stop := context.AfterFunc(ctx, c.cancel)
	defer stop()

	if c.r == nil {
		body, err := c.resp.wait()
		if err != nil {
			return nil, c.fail(ctxErr(ctx, err))
		}
		c.r = bufio.NewReader(body)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, c.fail(err)
		}

		line, err := c.r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, c.fail(ctxErr(ctx, err))
		}
		eof := err != nil

		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			var wl watchLine
			if err := json.Unmarshal(line, &wl); err != nil {
				return nil, c.fail(&DecodeError{err: err})
			}
			if wl.Exception != "" {
				return nil, c.fail(&BadResponseError{StatusCode: 200, Reason: wl.Exception})
			}
			if len(wl.Row) > 0 {
				return wl.Row, nil
			}
		}

		if eof {
			c.done = true
			c.cancel()
			c.resp.close()
			return nil, nil
		}
	}
}

func (c *lineCursor) fail(err error) error {
	c.err = err
	c.cancel()
	c.resp.close()
	return err
}

func (c *lineCursor) close() {
	c.cancel()
	c.resp.close()
	if c.err == nil && !c.done {
		c.err = errCursorClosed
	}
}

// parseVersion accepts both quoted and plain UInt64 values
func parseVersion(raw jsoniter.RawMessage) (uint64, error) {
	if len(raw) == 0 {
		return 0, errors.New("version is missing")
	}
	s := string(bytes.Trim(raw, `"`))
	return strconv.ParseUint(s, 10, 64)
}

// WatchCursor emits rows of watched query with their versions.
type WatchCursor[T any] struct {
	lines lineCursor
}

// Next returns next event or nil when the stream is over.
// Cancellation of ctx aborts the watch even while waiting for a new version.
func (c *WatchCursor[T]) Next(ctx context.Context) (*WatchEvent[T], error) {
	raw, err := c.lines.next(ctx)
	if err != nil || raw == nil {
		return nil, err
	}

	var vf versionField
	if err := json.Unmarshal(raw, &vf); err != nil {
		return nil, c.lines.fail(&DecodeError{err: err})
	}
	version, err := parseVersion(vf.Version)
	if err != nil {
		return nil, c.lines.fail(&DecodeError{err: err})
	}

	ev := &WatchEvent[T]{Version: version}
	if err := json.Unmarshal(raw, &ev.Row); err != nil {
		return nil, c.lines.fail(&DecodeError{err: err})
	}
	return ev, nil
}

// Close releases resources held by cursor
func (c *WatchCursor[T]) Close() error {
	c.lines.close()
	return nil
}

// WatchRows starts watching and returns cursor over rows of every new version.
func WatchRows[T any](ctx context.Context, w *Watch) (*WatchCursor[T], error) {
	ctx, cancel := context.WithCancel(ctx)
	resp, err := w.prepare(ctx, false)
	if err != nil {
		cancel()
		return nil, err
	}
	return &WatchCursor[T]{lines: lineCursor{resp: resp, cancel: cancel}}, nil
}

// WatchOne returns the first row of watched query with its version.
func WatchOne[T any](ctx context.Context, w *Watch) (uint64, T, error) {
	var zero T
	if w.limit == 0 {
		w.limit = 1
	}

	cursor, err := WatchRows[T](ctx, w)
	if err != nil {
		return 0, zero, err
	}
	defer func() { _ = cursor.Close() }()

	ev, err := cursor.Next(ctx)
	if err != nil {
		return 0, zero, err
	}
	if ev == nil {
		return 0, zero, ErrRowNotFound
	}
	return ev.Version, ev.Row, nil
}

// EventCursor emits versions of live view, without rows.
type EventCursor struct {
	lines lineCursor
}

// Next returns next version. ok is false when the stream is over.
func (c *EventCursor) Next(ctx context.Context) (version uint64, ok bool, err error) {
	raw, err := c.lines.next(ctx)
	if err != nil || raw == nil {
		return 0, false, err
	}

	var ef eventField
	if err := json.Unmarshal(raw, &ef); err != nil {
		return 0, false, c.lines.fail(&DecodeError{err: err})
	}
	version, err = parseVersion(ef.Version)
	if err != nil {
		return 0, false, c.lines.fail(&DecodeError{err: err})
	}
	return version, true, nil
}

// Close releases resources held by cursor
func (c *EventCursor) Close() error {
	c.lines.close()
	return nil
}

// Events starts watching only versions of live view (WATCH ... EVENTS).
func (w *Watch) Events(ctx context.Context) (*EventCursor, error) {
	ctx, cancel := context.WithCancel(ctx)
	resp, err := w.prepare(ctx, true)
	if err != nil {
		cancel()
		return nil, err
	}
	return &EventCursor{lines: lineCursor{resp: resp, cancel: cancel}}, nil
}

// EventOne returns the first version of live view.
func (w *Watch) EventOne(ctx context.Context) (uint64, error) {
	if w.limit == 0 {
		w.limit = 1
	}

	cursor, err := w.Events(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = cursor.Close() }()

	version, ok, err := cursor.Next(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrRowNotFound
	}
	return version, nil
}
