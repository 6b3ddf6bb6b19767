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

// Package compress implements ClickHouse native compressed blocks
// and HTTP content encodings supported by ClickHouse.
//
// Native block layout:
//
//	checksum (16) | method (1) | compressed size (4) | decompressed size (4) | payload
//
// Sizes are little-endian, compressed size includes the 9 header bytes following
// the checksum. Checksum is CityHash128 of everything after it.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-faster/city"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression methods of native blocks
const (
	MethodNone byte = 0x02
	MethodLZ4  byte = 0x82
	MethodZSTD byte = 0x90
)

const (
	checksumSize = 16
	headerSize   = 9
	blockHeader  = checksumSize + headerSize

	// MaxBlockSize is the size of uncompressed data put into a single block by Writer.
	MaxBlockSize = 1 << 20
	// maxCompressedSize guards against allocating memory for garbage sizes.
	maxCompressedSize = 1 << 30
)

// ErrChecksumMismatch is returned when block checksum does not match its content.
var ErrChecksumMismatch = errors.New("compress: checksum mismatch")

// CorruptedError is returned when block cannot be decompressed.
type CorruptedError struct {
	Reason string
}

func (e *CorruptedError) Error() string {
	return "compress: corrupted block: " + e.Reason
}

var (
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	zstdEncoder, _ = zstd.NewWriter(nil)
)

// Reader decompresses stream of native blocks.
type Reader struct {
	r      io.Reader
	header [blockHeader]byte
	raw    []byte
	data   []byte
	pos    int
}

// NewReader returns reader of native compressed blocks read from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	for r.pos >= len(r.data) {
		if err := r.readBlock(); err != nil {
			return 0, err
		}
	}

	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func (r *Reader) readBlock() error {
	if _, err := io.ReadFull(r.r, r.header[:]); err != nil {
		// clean EOF is only possible between blocks
		return err
	}

	method := r.header[checksumSize]
	compressed := int(binary.LittleEndian.Uint32(r.header[checksumSize+1:]))
	decompressed := int(binary.LittleEndian.Uint32(r.header[checksumSize+5:]))
	if compressed < headerSize || compressed > maxCompressedSize || decompressed > maxCompressedSize {
		return &CorruptedError{Reason: fmt.Sprintf("invalid sizes %d/%d", compressed, decompressed)}
	}

	r.raw = grow(r.raw, compressed)
	copy(r.raw, r.header[checksumSize:])
	if _, err := io.ReadFull(r.r, r.raw[headerSize:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}

	h := city.CH128(r.raw)
	if h.Low != binary.LittleEndian.Uint64(r.header[0:8]) || h.High != binary.LittleEndian.Uint64(r.header[8:16]) {
		return ErrChecksumMismatch
	}

	payload := r.raw[headerSize:]
	r.data = grow(r.data, decompressed)
	r.pos = 0

	switch method {
	case MethodNone:
		if len(payload) != decompressed {
			return &CorruptedError{Reason: "size mismatch"}
		}
		copy(r.data, payload)
	case MethodLZ4:
		n, err := lz4.UncompressBlock(payload, r.data)
		if err != nil {
			return &CorruptedError{Reason: err.Error()}
		}
		if n != decompressed {
			return &CorruptedError{Reason: "size mismatch"}
		}
	case MethodZSTD:
		out, err := zstdDecoder.DecodeAll(payload, r.data[:0])
		if err != nil {
			return &CorruptedError{Reason: err.Error()}
		}
		if len(out) != decompressed {
			return &CorruptedError{Reason: "size mismatch"}
		}
		r.data = out
	default:
		return &CorruptedError{Reason: fmt.Sprintf("unknown method %#02x", method)}
	}

	return nil
}

// Writer compresses data written to it into native blocks.
type Writer struct {
	w      io.Writer
	method byte
	buf    []byte
	out    []byte
}

// NewWriter returns writer producing native blocks compressed with method.
func NewWriter(w io.Writer, method byte) *Writer {
	return &Writer{w: w, method: method}
}

// Write implements io.Writer. Data is buffered until a full block is collected.
func (w *Writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for len(w.buf) >= MaxBlockSize {
		if err := w.writeBlock(w.buf[:MaxBlockSize]); err != nil {
			return 0, err
		}
		w.buf = w.buf[:copy(w.buf, w.buf[MaxBlockSize:])]
	}
	return len(p), nil
}

// Flush writes buffered data as a (possibly short) block.
func (w *Writer) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	err := w.writeBlock(w.buf)
	w.buf = w.buf[:0]
	return err
}

// Close flushes buffered data. It does not close underlying writer.
func (w *Writer) Close() error {
	return w.Flush()
}

func (w *Writer) writeBlock(data []byte) error {
	method := w.method

	var n int
	switch method {
	case MethodLZ4:
		w.out = grow(w.out, blockHeader+lz4.CompressBlockBound(len(data)))
		var err error
		n, err = lz4.CompressBlock(data, w.out[blockHeader:], nil)
		if err != nil {
			return err
		}
		if n == 0 {
			// incompressible
			method = MethodNone
		}
	case MethodZSTD:
		w.out = grow(w.out, blockHeader)
		w.out = zstdEncoder.EncodeAll(data, w.out)
		n = len(w.out) - blockHeader
	}

	if method == MethodNone {
		w.out = grow(w.out, blockHeader+len(data))
		n = copy(w.out[blockHeader:], data)
	}

	block := w.out[:blockHeader+n]
	block[checksumSize] = method
	binary.LittleEndian.PutUint32(block[checksumSize+1:], uint32(headerSize+n))
	binary.LittleEndian.PutUint32(block[checksumSize+5:], uint32(len(data)))

	h := city.CH128(block[checksumSize:])
	binary.LittleEndian.PutUint64(block[0:8], h.Low)
	binary.LittleEndian.PutUint64(block[8:16], h.High)

	_, err := w.w.Write(block)
	return err
}

// grow returns buf resized to n, reallocating if needed.
func grow(buf []byte, n int) []byte {
	if cap(buf) < n {
		return make([]byte, n)
	}
	return buf[:n]
}
