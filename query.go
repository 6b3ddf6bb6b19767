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
	"fmt"

	"github.com/gofrs/uuid"

	"golang.yandex/chhttp/internal/rowbinary"
)

// Query is a single-use query built from template.
//
// Template placeholders:
//
//	?       next positional argument
//	?fields comma-separated column list of row type, expanded by Fetch functions
//
// Note that every `?` is a placeholder, even inside string literals.
type Query struct {
	client  *Client
	sql     sqlBuilder
	options requestOptions
}

// Query creates query from template
func (cl *Client) Query(template string) *Query {
	return &Query{
		client: cl,
		sql:    newSQLBuilder(template),
	}
}

// rawQuery creates query from already rendered text, placeholders are not interpreted
func (cl *Client) rawQuery(text string) *Query {
	q := cl.Query(text)
	q.sql.raw = true
	return q
}

// Bind binds value to the next `?` of the template.
// Value of type Identifier is rendered as quoted object name, everything else as an escaped literal.
// Binding errors are reported when query is executed.
func (q *Query) Bind(value any) *Query {
	q.sql.bind(value)
	return q
}

// BindNamed binds struct fields (`db` tag) or map values to `:name` placeholders.
// It cannot be combined with positional arguments.
func (q *Query) BindNamed(arg any) *Query {
	q.sql.bindNamed(arg)
	return q
}

// Setting sets ClickHouse setting for this query only, overriding client one
func (q *Query) Setting(name, value string) *Query {
	q.options.settings = setSetting(q.options.settings, name, value)
	return q
}

// QueryID sets query_id of this query
func (q *Query) QueryID(id string) *Query {
	q.options.queryID = id
	return q
}

// Execute executes query discarding its result. Query is always sent with POST.
func (q *Query) Execute(ctx context.Context) error {
	resp, err := q.prepare(ctx, false)
	if err != nil {
		return err
	}
	return resp.finish()
}

// prepare renders query and builds request. Nothing is sent yet.
func (q *Query) prepare(ctx context.Context, readOnly bool) (*response, error) {
	text, err := q.sql.finish()
	if err != nil {
		return nil, err
	}

	opts := q.options
	if opts.queryID == "" && q.client.randomQueryIDs {
		id, err := uuid.NewV4()
		if err != nil {
			return nil, fmt.Errorf("chhttp: generate query id: %w", err)
		}
		opts.queryID = id.String()
	}

	req, err := q.client.newQueryRequest(ctx, text, readOnly, opts)
	if err != nil {
		return nil, err
	}
	return newResponse(q.client, req, opts.queryID), nil
}

// Fetch executes query returning cursor over its rows. ?fields is expanded into columns of T
// and FORMAT RowBinary is appended to the query.
//
// Binding errors are returned immediately, server and decoding errors by RowCursor.Next.
func Fetch[T any](ctx context.Context, q *Query) (*RowCursor[T], error) {
	layout, err := rowbinary.For[T]()
	if err != nil {
		return nil, &BindError{Reason: err.Error()}
	}

	if len(layout.Columns()) > 0 {
		q.sql.bindFields(layout.JoinColumns())
	}
	q.sql.append(" FORMAT RowBinary")

	ctx, cancel := context.WithCancel(ctx)
	resp, err := q.prepare(ctx, true)
	if err != nil {
		cancel()
		return nil, err
	}
	return newRowCursor[T](resp, layout, cancel), nil
}

// FetchOne executes query and returns its first row. ErrRowNotFound is returned for empty result.
func FetchOne[T any](ctx context.Context, q *Query) (T, error) {
	row, err := FetchOptional[T](ctx, q)
	if err != nil {
		var zero T
		return zero, err
	}
	if row == nil {
		var zero T
		return zero, ErrRowNotFound
	}
	return *row, nil
}

// FetchOptional executes query and returns its first row or nil for empty result.
func FetchOptional[T any](ctx context.Context, q *Query) (*T, error) {
	cursor, err := Fetch[T](ctx, q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cursor.Close() }()

	return cursor.Next(ctx)
}

// FetchAll executes query and collects all its rows preserving order.
func FetchAll[T any](ctx context.Context, q *Query) ([]T, error) {
	cursor, err := Fetch[T](ctx, q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cursor.Close() }()

	cl := q.client
	return materialize[T](ctx, cursor, fetchAllChunkSize, func(rows int) {
		cl.tracer.chunkDispatched(rows)
	})
}
