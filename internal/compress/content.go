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

package compress

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// HTTP content encodings understood by ClickHouse
const (
	EncodingGzip = "gzip"
	EncodingZstd = "zstd"
)

// NewContentReader wraps r to decode HTTP body compressed with encoding.
// Empty or "identity" encoding returns r as is.
func NewContentReader(encoding string, r io.Reader) (io.ReadCloser, error) {
	switch encoding {
	case "", "identity":
		return io.NopCloser(r), nil
	case EncodingGzip:
		return gzip.NewReader(r)
	case EncodingZstd:
		d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("compress: unsupported content encoding %q", encoding)
	}
}

// NewContentWriter wraps w to encode HTTP body with encoding.
// Close must be called to flush encoder, it does not close w.
func NewContentWriter(encoding string, w io.Writer) (io.WriteCloser, error) {
	switch encoding {
	case "", "identity":
		return nopWriteCloser{w}, nil
	case EncodingGzip:
		return gzip.NewWriter(w), nil
	case EncodingZstd:
		return zstd.NewWriter(w)
	default:
		return nil, fmt.Errorf("compress: unsupported content encoding %q", encoding)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
