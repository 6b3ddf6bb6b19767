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

package chtest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"golang.yandex/chhttp/internal/rowbinary"
)

// Recording captures a single request for later assertions.
// Recording is a Handler, it must be added to mock to be resolved.
type Recording struct {
	ddl bool

	once  sync.Once
	done  chan struct{}
	query string
	data  []byte
	err   error
}

// RecordDDL records query text of DDL (or any other non-SELECT) statement and responds with success.
func RecordDDL() *Recording {
	return &Recording{ddl: true, done: make(chan struct{})}
}

// Record records INSERT statement together with its rows and responds with success.
func Record() *Recording {
	return &Recording{done: make(chan struct{})}
}

// Handle implements Handler
func (r *Recording) Handle(w http.ResponseWriter, ex *Exchange) error {
	query := strings.TrimSpace(ex.Query)

	var err error
	switch {
	case r.ddl && startsWithFold(query, "SELECT"):
		err = fmt.Errorf("chtest: expected DDL, got %q", ex.Query)
	case !r.ddl && !startsWithFold(query, "INSERT"):
		err = fmt.Errorf("chtest: expected INSERT, got %q", ex.Query)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		r.resolve("", nil, err)
		return err
	}

	r.resolve(ex.Query, ex.Data, nil)
	w.WriteHeader(http.StatusOK)
	return nil
}

func (r *Recording) resolve(query string, data []byte, err error) {
	r.once.Do(func() {
		r.query, r.data, r.err = query, data, err
		close(r.done)
	})
}

func (r *Recording) abandon(err error) {
	r.resolve("", nil, err)
}

func (r *Recording) wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Query waits for recorded request and returns its query text.
func (r *Recording) Query(ctx context.Context) (string, error) {
	if err := r.wait(ctx); err != nil {
		return "", err
	}
	return r.query, nil
}

// Collect waits for recorded INSERT and decodes its rows in insertion order.
func Collect[T any](ctx context.Context, r *Recording) ([]T, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}

	layout, err := rowbinary.For[T]()
	if err != nil {
		return nil, err
	}

	var rows []T
	for data := r.data; len(data) > 0; {
		var row T
		n, err := layout.Decode(data, reflect.ValueOf(&row).Elem())
		if err != nil {
			if errors.Is(err, rowbinary.ErrNotEnoughData) {
				return rows, fmt.Errorf("chtest: truncated row #%d", len(rows))
			}
			return rows, fmt.Errorf("chtest: decode row #%d: %w", len(rows), err)
		}
		rows = append(rows, row)
		data = data[n:]
	}
	return rows, nil
}

func startsWithFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
