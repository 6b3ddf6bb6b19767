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

import "time"

// RequestInfo describes single request sent to server
type RequestInfo struct {
	Method     string
	QueryID    string
	StatusCode int
	Duration   time.Duration
}

// Tracer is a set of hooks to be called at various stages of query execution.
// Any particular hook may be nil. Functions may be called concurrently from different goroutines.
type Tracer struct {
	// ResponseReceived is called when response headers of a request have been received.
	ResponseReceived func(info RequestInfo)
	// BadResponse is called when server rejected a request.
	BadResponse func(err *BadResponseError)
	// ChunkDispatched is called when FetchAll hands off a full chunk of rows to background worker.
	ChunkDispatched func(rows int)
}

func (t Tracer) responseReceived(info RequestInfo) {
	if t.ResponseReceived != nil {
		t.ResponseReceived(info)
	}
}

func (t Tracer) badResponse(err *BadResponseError) {
	if t.BadResponse != nil {
		t.BadResponse(err)
	}
}

func (t Tracer) chunkDispatched(rows int) {
	if t.ChunkDispatched != nil {
		t.ChunkDispatched(rows)
	}
}
