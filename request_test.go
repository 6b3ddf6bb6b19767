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
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, opts ...ClientOption) *Client {
	t.Helper()

	cl, err := NewClient(opts...)
	require.NoError(t, err)
	return cl
}

func TestNewQueryRequestMethod(t *testing.T) {
	cl := newTestClient(t, WithURL("http://ch:8123"))
	ctx := context.Background()

	prefix := "SELECT '"
	pad := func(n int) string {
		return prefix + strings.Repeat("x", n-len(prefix)-1) + "'"
	}

	t.Run("get_at_limit", func(t *testing.T) {
		query := pad(maxQueryLenToUseGet)
		require.Len(t, query, 8192)

		req, err := cl.newQueryRequest(ctx, query, true, requestOptions{})
		require.NoError(t, err)

		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, query, req.URL.Query().Get("query"))
		assert.False(t, req.URL.Query().Has("readonly"))
		assert.EqualValues(t, 0, req.ContentLength)
	})

	t.Run("post_above_limit", func(t *testing.T) {
		query := pad(maxQueryLenToUseGet + 1)

		req, err := cl.newQueryRequest(ctx, query, true, requestOptions{})
		require.NoError(t, err)

		assert.Equal(t, http.MethodPost, req.Method)
		assert.False(t, req.URL.Query().Has("query"))
		assert.Equal(t, "1", req.URL.Query().Get("readonly"))
		assert.EqualValues(t, 8193, req.ContentLength)

		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		assert.Equal(t, query, string(body))
	})

	t.Run("post_not_readonly", func(t *testing.T) {
		req, err := cl.newQueryRequest(ctx, "CREATE TABLE t", false, requestOptions{})
		require.NoError(t, err)

		assert.Equal(t, http.MethodPost, req.Method)
		assert.False(t, req.URL.Query().Has("readonly"))
	})
}

func TestNewQueryRequestParams(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults", func(t *testing.T) {
		cl := newTestClient(t)

		req, err := cl.newQueryRequest(ctx, "SELECT 1", true, requestOptions{})
		require.NoError(t, err)

		assert.Equal(t, "localhost:8123", req.URL.Host)
		assert.Equal(t, []string{"query"}, keys(req.URL.Query()))
		assert.Empty(t, req.Header.Get("X-ClickHouse-User"))
		assert.Empty(t, req.Header.Get("X-ClickHouse-Key"))
		assert.Empty(t, req.Header.Get("Accept-Encoding"))
	})

	t.Run("configured", func(t *testing.T) {
		cl := newTestClient(t,
			WithURL("https://ch.example.com:8443"),
			WithDatabase("logs"),
			WithUser("reader"),
			WithPassword("secret"),
			WithCompression(CompressionLZ4),
			WithSetting("max_threads", "4"),
			WithSetting("max_execution_time", "10"),
		)

		opts := requestOptions{queryID: "q1"}
		opts.settings = setSetting(opts.settings, "max_threads", "8")

		req, err := cl.newQueryRequest(ctx, "SELECT 1", true, opts)
		require.NoError(t, err)

		params := req.URL.Query()
		assert.Equal(t, "https", req.URL.Scheme)
		assert.Equal(t, "logs", params.Get("database"))
		assert.Equal(t, "1", params.Get("compress"))
		assert.Equal(t, "8", params.Get("max_threads"))
		assert.Equal(t, "10", params.Get("max_execution_time"))
		assert.Equal(t, "q1", params.Get("query_id"))
		assert.Equal(t, "reader", req.Header.Get("X-ClickHouse-User"))
		assert.Equal(t, "secret", req.Header.Get("X-ClickHouse-Key"))
	})

	t.Run("http_compression", func(t *testing.T) {
		cl := newTestClient(t, WithCompression(CompressionZstd))

		req, err := cl.newQueryRequest(ctx, "SELECT 1", true, requestOptions{})
		require.NoError(t, err)

		assert.Equal(t, "1", req.URL.Query().Get("enable_http_compression"))
		assert.False(t, req.URL.Query().Has("compress"))
		assert.Equal(t, "zstd", req.Header.Get("Accept-Encoding"))
	})
}

func TestNewInsertRequest(t *testing.T) {
	cl := newTestClient(t, WithCompression(CompressionLZ4), WithDatabase("db"))

	req, err := cl.newInsertRequest(context.Background(), "INSERT INTO t FORMAT RowBinary", strings.NewReader("data"))
	require.NoError(t, err)

	params := req.URL.Query()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "INSERT INTO t FORMAT RowBinary", params.Get("query"))
	assert.Equal(t, "1", params.Get("decompress"))
	assert.Equal(t, "db", params.Get("database"))
	assert.EqualValues(t, -1, req.ContentLength)
}

func TestNewClientConfigErrors(t *testing.T) {
	inputs := []struct {
		Name string
		Opts []ClientOption
	}{
		{Name: "malformed_url", Opts: []ClientOption{WithURL("http://[::1")}},
		{Name: "no_scheme", Opts: []ClientOption{WithURL("ch:8123")}},
		{Name: "no_host", Opts: []ClientOption{WithURL("http://")}},
		{Name: "user_header", Opts: []ClientOption{WithUser("bad\nuser")}},
		{Name: "password_header", Opts: []ClientOption{WithPassword("bad\x00key")}},
		{Name: "compression", Opts: []ClientOption{WithCompression(Compression(42))}},
	}

	for _, input := range inputs {
		t.Run(input.Name, func(t *testing.T) {
			cl, err := NewClient(input.Opts...)
			var cerr *ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Nil(t, cl)
		})
	}
}

func TestNewClientMetricsConflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chhttp_rows_decoded_total",
		Help: "Something else entirely.",
	})))

	var cl *Client
	var err error
	require.NotPanics(t, func() {
		cl, err = NewClient(WithRegisterer(reg))
	})
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Nil(t, cl)
}

func keys(m map[string][]string) []string {
	res := make([]string, 0, len(m))
	for k := range m {
		res = append(res, k)
	}
	return res
}
