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
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"

	"golang.yandex/chhttp/internal/compress"
)

// ErrMockClosed is returned by recordings not resolved before mock was closed
var ErrMockClosed = errors.New("chtest: mock is closed")

// Exchange is a single request received by mock.
type Exchange struct {
	Request *http.Request
	// Query is query text taken from `query` parameter or request body
	Query string
	// Data is decompressed request body when query is passed in URL (INSERT)
	Data []byte
	// Previous is query text of previously served request
	Previous string
}

// Handler serves exactly one request.
// Returned error means request violated handler expectations, it is reported by Mock.Close.
type Handler interface {
	Handle(w http.ResponseWriter, ex *Exchange) error
}

// HandlerFunc is an adapter to use ordinary function as Handler
type HandlerFunc func(w http.ResponseWriter, ex *Exchange) error

// Handle calls f(w, ex)
func (f HandlerFunc) Handle(w http.ResponseWriter, ex *Exchange) error {
	return f(w, ex)
}

// resolver is implemented by handlers that must be notified when mock is closed
type resolver interface {
	abandon(err error)
}

// MockOption configures mock
type MockOption func(*Mock)

// WithLogger sets logger of served requests
func WithLogger(logger log.Logger) MockOption {
	return func(m *Mock) {
		m.logger = logger
	}
}

// Mock emulates ClickHouse HTTP interface on ephemeral local port.
type Mock struct {
	srv    *httptest.Server
	logger log.Logger

	mu         sync.Mutex
	handlers   []Handler
	installed  []Handler
	previous   string
	violations []error
	closed     bool
}

// NewMock starts mock server
func NewMock(opts ...MockOption) *Mock {
	m := &Mock{logger: log.NewNopLogger()}
	for _, opt := range opts {
		opt(m)
	}

	r := mux.NewRouter()
	r.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "Ok.\n")
	}).Methods(http.MethodGet, http.MethodHead)
	r.PathPrefix("/").HandlerFunc(m.serve)

	m.srv = httptest.NewServer(r)
	return m
}

// URL returns base URL of mock
func (m *Mock) URL() string {
	return m.srv.URL
}

// Add installs handler serving the next request not served by previously added handlers.
func (m *Mock) Add(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers = append(m.handlers, h)
	m.installed = append(m.installed, h)
}

// Pending returns number of handlers not yet used
func (m *Mock) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}

// Close stops mock. Returned error lists requests served without handler,
// handler expectation violations and handlers left unused.
func (m *Mock) Close() error {
	m.srv.Close()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	for _, h := range m.installed {
		if r, ok := h.(resolver); ok {
			r.abandon(ErrMockClosed)
		}
	}

	errs := m.violations
	if len(m.handlers) > 0 {
		errs = append(errs, fmt.Errorf("chtest: %d handlers were not used", len(m.handlers)))
	}
	return errors.Join(errs...)
}

// next pops next handler and remembers query of current exchange
func (m *Mock) next(query string) (Handler, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.previous
	m.previous = query

	if len(m.handlers) == 0 {
		return nil, prev
	}
	h := m.handlers[0]
	m.handlers = m.handlers[1:]
	return h, prev
}

func (m *Mock) violate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations = append(m.violations, err)
}

func (m *Mock) serve(w http.ResponseWriter, r *http.Request) {
	ex, err := readExchange(r)
	if err != nil {
		level.Warn(m.logger).Log("msg", "malformed request", "err", err)
		m.violate(err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h, prev := m.next(ex.Query)
	ex.Previous = prev
	if h == nil {
		err := fmt.Errorf("chtest: unexpected request %q", ex.Query)
		level.Warn(m.logger).Log("msg", "no handler installed", "query", ex.Query)
		m.violate(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	level.Debug(m.logger).Log("msg", "serving request", "method", r.Method, "query", ex.Query)
	if err := h.Handle(w, ex); err != nil {
		level.Warn(m.logger).Log("msg", "handler expectation violated", "query", ex.Query, "err", err)
		m.violate(err)
	}
}

// readExchange extracts query text and insert data from request
func readExchange(r *http.Request) (*Exchange, error) {
	ex := &Exchange{Request: r}

	params := r.URL.Query()
	body, err := requestBody(r)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("chtest: read body: %w", err)
	}

	if params.Has("query") {
		ex.Query = params.Get("query")
		ex.Data = data
	} else {
		ex.Query = string(data)
	}
	return ex, nil
}

func requestBody(r *http.Request) (io.ReadCloser, error) {
	if r.URL.Query().Get("decompress") == "1" {
		return io.NopCloser(compress.NewReader(r.Body)), nil
	}

	body, err := compress.NewContentReader(r.Header.Get("Content-Encoding"), r.Body)
	if err != nil {
		return nil, fmt.Errorf("chtest: %w", err)
	}
	return body, nil
}

// responseWriter returns writer compressing response the way client asked for.
// Close must be called before handler returns.
func responseWriter(w http.ResponseWriter, r *http.Request) (io.WriteCloser, error) {
	params := r.URL.Query()

	if params.Get("compress") == "1" {
		return compress.NewWriter(w, compress.MethodLZ4), nil
	}

	if params.Get("enable_http_compression") == "1" {
		for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
			enc = strings.TrimSpace(enc)
			if enc != compress.EncodingGzip && enc != compress.EncodingZstd {
				continue
			}
			w.Header().Set("Content-Encoding", enc)
			return compress.NewContentWriter(enc, w)
		}
	}

	return compress.NewContentWriter("", w)
}

// writeAll sends data compressed as requested
func writeAll(w http.ResponseWriter, r *http.Request, data []byte) error {
	cw, err := responseWriter(w, r)
	if err != nil {
		return err
	}
	if _, err := io.Copy(cw, bytes.NewReader(data)); err != nil {
		return err
	}
	return cw.Close()
}
