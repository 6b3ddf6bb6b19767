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
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log/level"

	"golang.yandex/chhttp/internal/compress"
)

// maxReasonSize limits amount of error body read from server
const maxReasonSize = 64 << 10

// response is a pending single-use response of a prepared request.
// Request is sent on first wait.
type response struct {
	client  *Client
	req     *http.Request
	queryID string

	sent bool
	err  error
	resp *http.Response
	body io.ReadCloser
}

func newResponse(cl *Client, req *http.Request, queryID string) *response {
	return &response{client: cl, req: req, queryID: queryID}
}

// wait sends request and returns decompressed body of successful response.
func (r *response) wait() (io.Reader, error) {
	if r.sent {
		if r.err != nil {
			return nil, r.err
		}
		return r.body, nil
	}
	r.sent = true

	r.body, r.err = r.send()
	return r.body, r.err
}

func (r *response) send() (io.ReadCloser, error) {
	cl := r.client
	method := r.req.Method

	level.Debug(cl.logger).Log("msg", "sending query", "method", method, "query_id", r.queryID)

	start := time.Now()
	resp, err := cl.httpClient.Do(r.req)
	d := time.Since(start)
	cl.metrics.duration.WithLabelValues(method).Observe(d.Seconds())
	if err != nil {
		cl.metrics.requests.WithLabelValues(method, "error").Inc()
		level.Warn(cl.logger).Log("msg", "request failed", "method", method, "query_id", r.queryID, "err", err)
		return nil, fmt.Errorf("chhttp: send request: %w", err)
	}
	r.resp = resp

	cl.metrics.requests.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	cl.tracer.responseReceived(RequestInfo{
		Method:     method,
		QueryID:    r.queryID,
		StatusCode: resp.StatusCode,
		Duration:   d,
	})

	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		berr := badResponse(resp)
		cl.tracer.badResponse(berr)
		level.Warn(cl.logger).Log("msg", "bad response", "method", method, "query_id", r.queryID, "status", resp.StatusCode, "reason", berr.Reason)
		return nil, berr
	}

	return decompressBody(resp)
}

// finish waits for response and discards its body
func (r *response) finish() error {
	body, err := r.wait()
	if err != nil {
		return err
	}
	defer r.close()

	if _, err := io.Copy(io.Discard, body); err != nil {
		return fmt.Errorf("chhttp: read response: %w", err)
	}
	return nil
}

func (r *response) close() {
	if r.body != nil {
		_ = r.body.Close()
	}
}

// badResponse builds error from non-success response. Reason is body text if any,
// standard status text otherwise.
func badResponse(resp *http.Response) *BadResponseError {
	var reason string

	body, err := compress.NewContentReader(resp.Header.Get("Content-Encoding"), io.LimitReader(resp.Body, maxReasonSize))
	if err == nil {
		data, _ := io.ReadAll(body)
		_ = body.Close()
		reason = strings.TrimSpace(string(data))
	}

	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return &BadResponseError{StatusCode: resp.StatusCode, Reason: reason}
}

// decompressBody wraps body of successful response with decompression negotiated with server
func decompressBody(resp *http.Response) (io.ReadCloser, error) {
	enc := resp.Header.Get("Content-Encoding")
	if enc == "" && resp.Request != nil && resp.Request.URL.Query().Get("compress") == "1" {
		return readCloser{Reader: compress.NewReader(resp.Body), Closer: resp.Body}, nil
	}

	body, err := compress.NewContentReader(enc, resp.Body)
	if err != nil {
		_ = resp.Body.Close()
		return nil, &DecodeError{err: err}
	}
	return readCloser{Reader: body, Closer: multiCloser{body, resp.Body}}, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var err error
	for _, c := range m {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
