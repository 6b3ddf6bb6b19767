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
	"net/http"
	"slices"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
)

// ClientOption is a functional option type for Client constructor
type ClientOption func(*Client)

// WithURL sets base URL of ClickHouse HTTP interface
func WithURL(url string) ClientOption {
	return func(cl *Client) {
		cl.url = url
	}
}

// WithDatabase sets default database passed with every request
func WithDatabase(database string) ClientOption {
	return func(cl *Client) {
		cl.database = database
	}
}

// WithUser sets user passed in X-ClickHouse-User header
func WithUser(user string) ClientOption {
	return func(cl *Client) {
		cl.user = user
	}
}

// WithPassword sets password passed in X-ClickHouse-Key header
func WithPassword(password string) ClientOption {
	return func(cl *Client) {
		cl.password = password
	}
}

// WithCompression sets compression mode
func WithCompression(c Compression) ClientOption {
	return func(cl *Client) {
		cl.compression = c
	}
}

// WithSetting adds ClickHouse setting passed verbatim with every request.
// Setting the same name twice overrides previous value.
func WithSetting(name, value string) ClientOption {
	return func(cl *Client) {
		cl.settings = setSetting(cl.settings, name, value)
	}
}

// WithHTTPClient sets HTTP client used as transport
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithLogger sets logger
func WithLogger(logger log.Logger) ClientOption {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// WithTracer sets tracer for actions happening during query execution
func WithTracer(tracer Tracer) ClientOption {
	return func(cl *Client) {
		cl.tracer = tracer
	}
}

// WithRegisterer sets prometheus registerer for client metrics
func WithRegisterer(reg prometheus.Registerer) ClientOption {
	return func(cl *Client) {
		cl.registerer = reg
	}
}

// WithRandomQueryIDs makes client attach random UUID query_id to queries without explicit one
func WithRandomQueryIDs() ClientOption {
	return func(cl *Client) {
		cl.randomQueryIDs = true
	}
}

func setSetting(settings []setting, name, value string) []setting {
	idx := slices.IndexFunc(settings, func(s setting) bool { return s.name == name })
	if idx >= 0 {
		settings = slices.Clone(settings)
		settings[idx].value = value
		return settings
	}
	return append(slices.Clip(settings), setting{name: name, value: value})
}
