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
	"net/url"
	"strings"
)

// maxQueryLenToUseGet is the longest query text sent in URL of a GET request
const maxQueryLenToUseGet = 8192

// requestOptions are per-request parameters on top of client configuration
type requestOptions struct {
	settings []setting
	queryID  string
}

// newQueryRequest builds request carrying query text. Read-only queries short enough are sent
// with GET, everything else with POST and query text as body.
func (cl *Client) newQueryRequest(ctx context.Context, query string, readOnly bool, opts requestOptions) (*http.Request, error) {
	params := cl.baseParams()

	usePost := !readOnly || len(query) > maxQueryLenToUseGet

	method := http.MethodGet
	var body io.Reader
	var contentLength int64
	if usePost {
		method = http.MethodPost
		if readOnly {
			params.Set("readonly", "1")
		}
		body = strings.NewReader(query)
		contentLength = int64(len(query))
	} else {
		params.Set("query", query)
	}

	switch cl.compression {
	case CompressionLZ4:
		params.Set("compress", "1")
	case CompressionGzip, CompressionZstd:
		params.Set("enable_http_compression", "1")
	}

	req, err := cl.newRequest(ctx, method, params, opts, body)
	if err != nil {
		return nil, err
	}
	// net/http derives Content-Length header from it and omits it for bodyless GET
	req.ContentLength = contentLength

	if enc := cl.compression.contentEncoding(); enc != "" {
		req.Header.Set("Accept-Encoding", enc)
	}
	return req, nil
}

// newInsertRequest builds streamed POST request with query in URL and rows as body.
func (cl *Client) newInsertRequest(ctx context.Context, query string, body io.Reader) (*http.Request, error) {
	params := cl.baseParams()
	params.Set("query", query)

	if cl.compression == CompressionLZ4 {
		params.Set("decompress", "1")
	}

	req, err := cl.newRequest(ctx, http.MethodPost, params, requestOptions{}, body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = -1

	if enc := cl.compression.contentEncoding(); enc != "" {
		req.Header.Set("Content-Encoding", enc)
	}
	return req, nil
}

func (cl *Client) baseParams() url.Values {
	params := url.Values{}
	if cl.database != "" {
		params.Set("database", cl.database)
	}
	return params
}

func (cl *Client) newRequest(ctx context.Context, method string, params url.Values, opts requestOptions, body io.Reader) (*http.Request, error) {
	u, err := url.Parse(cl.url)
	if err != nil {
		return nil, &ConfigError{err: err}
	}

	for _, s := range cl.settings {
		params.Set(s.name, s.value)
	}
	for _, s := range opts.settings {
		params.Set(s.name, s.value)
	}
	if opts.queryID != "" {
		params.Set("query_id", opts.queryID)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, &ConfigError{err: err}
	}

	if cl.user != "" {
		req.Header.Set("X-ClickHouse-User", cl.user)
	}
	if cl.password != "" {
		req.Header.Set("X-ClickHouse-Key", cl.password)
	}
	return req, nil
}
