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
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/http/httpguts"
)

// DefaultURL of ClickHouse HTTP interface
const DefaultURL = "http://localhost:8123"

// Compression negotiated with server
type Compression uint8

// Supported compression modes
const (
	// CompressionNone disables compression.
	CompressionNone Compression = iota
	// CompressionLZ4 uses ClickHouse native LZ4 blocks (compress=1 / decompress=1).
	CompressionLZ4
	// CompressionGzip uses HTTP gzip content encoding.
	CompressionGzip
	// CompressionZstd uses HTTP zstd content encoding.
	CompressionZstd
)

// String implements fmt.Stringer
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// ParseCompression parses compression name as returned by Compression.String.
// Empty string means CompressionNone.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "gzip":
		return CompressionGzip, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q", s)
	}
}

// contentEncoding returns HTTP content encoding for compression, if any
func (c Compression) contentEncoding() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	default:
		return ""
	}
}

type setting struct {
	name  string
	value string
}

// Client holds configuration shared by all queries issued from it.
// Client is immutable after construction and safe for concurrent use.
type Client struct {
	url            string
	database       string
	user           string
	password       string
	compression    Compression
	settings       []setting
	randomQueryIDs bool

	httpClient *http.Client
	logger     log.Logger
	tracer     Tracer
	registerer prometheus.Registerer
	metrics    *metrics
}

// NewClient constructs client. Configuration errors are reported as *ConfigError.
func NewClient(opts ...ClientOption) (*Client, error) {
	cl := &Client{
		url:        DefaultURL,
		httpClient: http.DefaultClient,
		logger:     log.NewNopLogger(),
	}

	// Apply options
	for _, opt := range opts {
		opt(cl)
	}

	if err := cl.validate(); err != nil {
		return nil, &ConfigError{err: err}
	}

	m, err := newMetrics(cl.registerer)
	if err != nil {
		return nil, &ConfigError{err: err}
	}
	cl.metrics = m
	return cl, nil
}

func (cl *Client) validate() error {
	u, err := url.Parse(cl.url)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", cl.url)
	}

	if !httpguts.ValidHeaderFieldValue(cl.user) {
		return fmt.Errorf("user contains characters not allowed in header")
	}
	if !httpguts.ValidHeaderFieldValue(cl.password) {
		return fmt.Errorf("password contains characters not allowed in header")
	}

	if cl.compression > CompressionZstd {
		return fmt.Errorf("unknown compression %s", cl.compression)
	}

	return nil
}

// URL returns base URL of ClickHouse HTTP interface
func (cl *Client) URL() string {
	return cl.url
}

// Compression returns negotiated compression mode
func (cl *Client) Compression() Compression {
	return cl.compression
}

// Ping checks that server is reachable using HTTP /ping handler.
func (cl *Client) Ping(ctx context.Context) error {
	u, err := url.Parse(cl.url)
	if err != nil {
		return &ConfigError{err: err}
	}
	u = u.JoinPath("ping")
	u.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return &ConfigError{err: err}
	}

	resp, err := cl.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chhttp: ping: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return badResponse(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
