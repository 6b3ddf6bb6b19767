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
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"golang.yandex/chhttp"
	"golang.yandex/chhttp/internal/rowbinary"
)

// json encodes watched rows using the same `ch` tags as RowBinary layouts
var json = jsoniter.Config{TagKey: rowbinary.TagName}.Froze()

// progressLine is sent before watched rows, client must skip it
const progressLine = `{"progress":{"read_rows":"0","read_bytes":"0","total_rows_to_read":"0"}}` + "\n"

// Provide emulates SELECT returning rows encoded in RowBinary.
func Provide[T any](rows ...T) Handler {
	return HandlerFunc(func(w http.ResponseWriter, ex *Exchange) error {
		layout, err := rowbinary.For[T]()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return err
		}

		var data []byte
		for i := range rows {
			data, err = layout.Encode(data, reflect.ValueOf(rows[i]))
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return fmt.Errorf("chtest: encode row #%d: %w", i, err)
			}
		}

		return writeAll(w, ex.Request, data)
	})
}

// Failure responds with status and empty body.
func Failure(status int) Handler {
	return HandlerFunc(func(w http.ResponseWriter, _ *Exchange) error {
		w.WriteHeader(status)
		return nil
	})
}

// Watch emulates WATCH query streaming rows with their versions.
// Request must follow DDL creating live view.
func Watch[T any](events ...chhttp.WatchEvent[T]) Handler {
	return HandlerFunc(func(w http.ResponseWriter, ex *Exchange) error {
		return streamWatch(w, ex, len(events), func(i int) ([]byte, error) {
			row, err := json.Marshal(events[i].Row)
			if err != nil {
				return nil, err
			}
			return watchRow("_version", events[i].Version, row), nil
		})
	})
}

// WatchOnlyEvents emulates WATCH ... EVENTS query streaming versions only.
// Request must follow DDL creating live view.
func WatchOnlyEvents(versions ...uint64) Handler {
	return HandlerFunc(func(w http.ResponseWriter, ex *Exchange) error {
		return streamWatch(w, ex, len(versions), func(i int) ([]byte, error) {
			return watchRow("version", versions[i], []byte("{}")), nil
		})
	})
}

// watchRow builds `{"row":{"<field>":<version>,...}}` line from JSON object of row.
func watchRow(field string, version uint64, row []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"row":{"`)
	buf.WriteString(field)
	buf.WriteString(`":`)
	buf.WriteString(strconv.FormatUint(version, 10))

	rest := bytes.TrimSpace(row)
	rest = bytes.TrimPrefix(rest, []byte("{"))
	if !bytes.HasPrefix(bytes.TrimSpace(rest), []byte("}")) {
		buf.WriteByte(',')
	}
	buf.Write(rest)
	buf.WriteString("}\n")
	return buf.Bytes()
}

func streamWatch(w http.ResponseWriter, ex *Exchange, n int, line func(i int) ([]byte, error)) error {
	if !strings.Contains(ex.Previous, chhttp.LiveViewMarker) {
		err := fmt.Errorf("chtest: watch is not preceded by %s, previous query is %q", chhttp.LiveViewMarker, ex.Previous)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return err
	}
	if !strings.HasPrefix(strings.TrimSpace(ex.Query), "WATCH") {
		err := fmt.Errorf("chtest: %q is not a WATCH query", ex.Query)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return err
	}

	w.Header().Set("Content-Type", "application/x-ndjson; charset=UTF-8")
	cw, err := responseWriter(w, ex.Request)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return err
	}
	defer func() { _ = cw.Close() }()

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if f, ok := cw.(interface{ Flush() error }); ok {
			_ = f.Flush()
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	ctx := ex.Request.Context()

	if _, err := cw.Write([]byte(progressLine)); err != nil {
		return nil
	}
	flush()

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			// client has gone
			return nil
		}

		data, err := line(i)
		if err != nil {
			return fmt.Errorf("chtest: encode watch event #%d: %w", i, err)
		}
		if _, err := cw.Write(data); err != nil {
			return nil
		}
		flush()
	}
	return nil
}
