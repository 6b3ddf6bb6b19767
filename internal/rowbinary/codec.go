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

package rowbinary

import (
	"encoding/binary"
	"math"
	"reflect"
	"time"

	"github.com/gofrs/uuid"
)

type codec interface {
	decode(data []byte, v reflect.Value) (int, error)
	encode(buf []byte, v reflect.Value) ([]byte, error)
}

var (
	timeType = reflect.TypeFor[time.Time]()
	uuidType = reflect.TypeFor[uuid.UUID]()
)

func codecOf(t reflect.Type) (codec, error) {
	switch t {
	case timeType:
		return dateTimeCodec{}, nil
	case uuidType:
		return uuidCodec{}, nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return boolCodec{typ: t}, nil
	case reflect.Int8, reflect.Uint8:
		return fixedCodec{size: 1}, nil
	case reflect.Int16, reflect.Uint16:
		return fixedCodec{size: 2}, nil
	case reflect.Int32, reflect.Uint32, reflect.Float32:
		return fixedCodec{size: 4}, nil
	case reflect.Int64, reflect.Uint64, reflect.Int, reflect.Uint, reflect.Float64:
		return fixedCodec{size: 8}, nil
	case reflect.String:
		return stringCodec{}, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return stringCodec{}, nil
		}
		elem, err := codecOf(t.Elem())
		if err != nil {
			return nil, err
		}
		return &arrayCodec{elem: elem, zeroWidth: t.Elem().Size() == 0}, nil
	case reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return fixedStringCodec{size: t.Len()}, nil
		}
		return nil, &UnsupportedTypeError{Type: t}
	case reflect.Pointer:
		elem, err := codecOf(t.Elem())
		if err != nil {
			return nil, err
		}
		return &nullableCodec{typ: t, elem: elem}, nil
	case reflect.Map:
		key, err := codecOf(t.Key())
		if err != nil {
			return nil, err
		}
		val, err := codecOf(t.Elem())
		if err != nil {
			return nil, err
		}
		return &mapCodec{key: key, val: val, zeroWidth: t.Key().Size() == 0 && t.Elem().Size() == 0}, nil
	case reflect.Struct:
		return newTupleCodec(t)
	default:
		return nil, &UnsupportedTypeError{Type: t}
	}
}

type boolCodec struct {
	typ reflect.Type
}

func (c boolCodec) decode(data []byte, v reflect.Value) (int, error) {
	if len(data) < 1 {
		return 0, ErrNotEnoughData
	}
	switch data[0] {
	case 0:
		v.SetBool(false)
	case 1:
		v.SetBool(true)
	default:
		return 0, &InvalidTagError{Tag: data[0], Type: c.typ}
	}
	return 1, nil
}

func (boolCodec) encode(buf []byte, v reflect.Value) ([]byte, error) {
	if v.Bool() {
		return append(buf, 1), nil
	}
	return append(buf, 0), nil
}

// fixedCodec handles little-endian integers and floats.
type fixedCodec struct {
	size int
}

func (c fixedCodec) decode(data []byte, v reflect.Value) (int, error) {
	if len(data) < c.size {
		return 0, ErrNotEnoughData
	}

	var u uint64
	switch c.size {
	case 1:
		u = uint64(data[0])
	case 2:
		u = uint64(binary.LittleEndian.Uint16(data))
	case 4:
		u = uint64(binary.LittleEndian.Uint32(data))
	case 8:
		u = binary.LittleEndian.Uint64(data)
	}

	switch v.Kind() {
	case reflect.Int8:
		v.SetInt(int64(int8(u)))
	case reflect.Int16:
		v.SetInt(int64(int16(u)))
	case reflect.Int32:
		v.SetInt(int64(int32(u)))
	case reflect.Int64, reflect.Int:
		v.SetInt(int64(u))
	case reflect.Float32:
		v.SetFloat(float64(math.Float32frombits(uint32(u))))
	case reflect.Float64:
		v.SetFloat(math.Float64frombits(u))
	default:
		v.SetUint(u)
	}
	return c.size, nil
}

func (c fixedCodec) encode(buf []byte, v reflect.Value) ([]byte, error) {
	var u uint64
	switch v.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		u = uint64(v.Int())
	case reflect.Float32:
		u = uint64(math.Float32bits(float32(v.Float())))
	case reflect.Float64:
		u = math.Float64bits(v.Float())
	default:
		u = v.Uint()
	}

	switch c.size {
	case 1:
		return append(buf, byte(u)), nil
	case 2:
		return binary.LittleEndian.AppendUint16(buf, uint16(u)), nil
	case 4:
		return binary.LittleEndian.AppendUint32(buf, uint32(u)), nil
	default:
		return binary.LittleEndian.AppendUint64(buf, u), nil
	}
}

// readLength parses LEB128 length prefix.
func readLength(data []byte) (int, int, error) {
	l, n := binary.Uvarint(data)
	switch {
	case n == 0:
		return 0, 0, ErrNotEnoughData
	case n < 0 || l > math.MaxInt32:
		return 0, 0, ErrMalformedLength
	}
	return int(l), n, nil
}

// stringCodec handles String columns mapped to string or []byte.
type stringCodec struct{}

func (stringCodec) decode(data []byte, v reflect.Value) (int, error) {
	l, n, err := readLength(data)
	if err != nil {
		return 0, err
	}
	if len(data) < n+l {
		return 0, ErrNotEnoughData
	}

	raw := data[n : n+l]
	if v.Kind() == reflect.String {
		v.SetString(string(raw))
	} else {
		// data is a scratch buffer that will be reused, copy it
		v.SetBytes(append([]byte(nil), raw...))
	}
	return n + l, nil
}

func (stringCodec) encode(buf []byte, v reflect.Value) ([]byte, error) {
	if v.Kind() == reflect.String {
		s := v.String()
		buf = binary.AppendUvarint(buf, uint64(len(s)))
		return append(buf, s...), nil
	}
	b := v.Bytes()
	buf = binary.AppendUvarint(buf, uint64(len(b)))
	return append(buf, b...), nil
}

// fixedStringCodec handles FixedString(N) columns mapped to [N]byte.
type fixedStringCodec struct {
	size int
}

func (c fixedStringCodec) decode(data []byte, v reflect.Value) (int, error) {
	if len(data) < c.size {
		return 0, ErrNotEnoughData
	}
	reflect.Copy(v, reflect.ValueOf(data[:c.size]))
	return c.size, nil
}

func (c fixedStringCodec) encode(buf []byte, v reflect.Value) ([]byte, error) {
	for i := 0; i < c.size; i++ {
		buf = append(buf, byte(v.Index(i).Uint()))
	}
	return buf, nil
}

// uuidCodec stores UUID as two little-endian UInt64 halves.
type uuidCodec struct{}

func (uuidCodec) decode(data []byte, v reflect.Value) (int, error) {
	if len(data) < 16 {
		return 0, ErrNotEnoughData
	}
	var u uuid.UUID
	binary.BigEndian.PutUint64(u[0:8], binary.LittleEndian.Uint64(data[0:8]))
	binary.BigEndian.PutUint64(u[8:16], binary.LittleEndian.Uint64(data[8:16]))
	v.Set(reflect.ValueOf(u))
	return 16, nil
}

func (uuidCodec) encode(buf []byte, v reflect.Value) ([]byte, error) {
	u := v.Interface().(uuid.UUID)
	buf = binary.LittleEndian.AppendUint64(buf, binary.BigEndian.Uint64(u[0:8]))
	return binary.LittleEndian.AppendUint64(buf, binary.BigEndian.Uint64(u[8:16])), nil
}

// dateTimeCodec stores time.Time as DateTime: seconds since epoch in UInt32.
type dateTimeCodec struct{}

func (dateTimeCodec) decode(data []byte, v reflect.Value) (int, error) {
	if len(data) < 4 {
		return 0, ErrNotEnoughData
	}
	sec := binary.LittleEndian.Uint32(data)
	v.Set(reflect.ValueOf(time.Unix(int64(sec), 0).UTC()))
	return 4, nil
}

func (dateTimeCodec) encode(buf []byte, v reflect.Value) ([]byte, error) {
	t := v.Interface().(time.Time)
	return binary.LittleEndian.AppendUint32(buf, uint32(t.Unix())), nil
}

// nullableCodec maps Nullable(T) to *T.
type nullableCodec struct {
	typ  reflect.Type
	elem codec
}

func (c *nullableCodec) decode(data []byte, v reflect.Value) (int, error) {
	if len(data) < 1 {
		return 0, ErrNotEnoughData
	}
	switch data[0] {
	case 1:
		v.SetZero()
		return 1, nil
	case 0:
	default:
		return 0, &InvalidTagError{Tag: data[0], Type: c.typ}
	}

	elem := reflect.New(c.typ.Elem())
	n, err := c.elem.decode(data[1:], elem.Elem())
	if err != nil {
		return 0, err
	}
	v.Set(elem)
	return n + 1, nil
}

func (c *nullableCodec) encode(buf []byte, v reflect.Value) ([]byte, error) {
	if v.IsNil() {
		return append(buf, 1), nil
	}
	return c.elem.encode(append(buf, 0), v.Elem())
}

// arrayCodec maps Array(T) to []T.
type arrayCodec struct {
	elem codec
	// elements like Tuple() or FixedString(0) occupy no bytes
	zeroWidth bool
}

func (c *arrayCodec) decode(data []byte, v reflect.Value) (int, error) {
	l, off, err := readLength(data)
	if err != nil {
		return 0, err
	}

	// every element occupies at least one byte
	if !c.zeroWidth && len(data)-off < l {
		return 0, ErrNotEnoughData
	}

	s := reflect.MakeSlice(v.Type(), l, l)
	for i := 0; i < l; i++ {
		n, err := c.elem.decode(data[off:], s.Index(i))
		if err != nil {
			return 0, err
		}
		off += n
	}
	v.Set(s)
	return off, nil
}

func (c *arrayCodec) encode(buf []byte, v reflect.Value) ([]byte, error) {
	buf = binary.AppendUvarint(buf, uint64(v.Len()))
	var err error
	for i := 0; i < v.Len(); i++ {
		if buf, err = c.elem.encode(buf, v.Index(i)); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// mapCodec maps Map(K, V) to map[K]V.
type mapCodec struct {
	key       codec
	val       codec
	zeroWidth bool
}

func (c *mapCodec) decode(data []byte, v reflect.Value) (int, error) {
	l, off, err := readLength(data)
	if err != nil {
		return 0, err
	}
	if !c.zeroWidth && len(data)-off < l {
		return 0, ErrNotEnoughData
	}

	t := v.Type()
	m := reflect.MakeMapWithSize(t, l)
	for i := 0; i < l; i++ {
		k := reflect.New(t.Key()).Elem()
		n, err := c.key.decode(data[off:], k)
		if err != nil {
			return 0, err
		}
		off += n

		e := reflect.New(t.Elem()).Elem()
		n, err = c.val.decode(data[off:], e)
		if err != nil {
			return 0, err
		}
		off += n

		m.SetMapIndex(k, e)
	}
	v.Set(m)
	return off, nil
}

func (c *mapCodec) encode(buf []byte, v reflect.Value) ([]byte, error) {
	buf = binary.AppendUvarint(buf, uint64(v.Len()))
	var err error
	iter := v.MapRange()
	for iter.Next() {
		if buf, err = c.key.encode(buf, iter.Key()); err != nil {
			return nil, err
		}
		if buf, err = c.val.encode(buf, iter.Value()); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

type tupleField struct {
	index []int
	codec codec
}

// tupleCodec maps struct fields to consecutive columns (top level) or Tuple elements (nested).
type tupleCodec struct {
	names  []string
	fields []tupleField
}

func newTupleCodec(t reflect.Type) (*tupleCodec, error) {
	fis, err := structFields(t)
	if err != nil {
		return nil, err
	}

	tc := &tupleCodec{
		names:  make([]string, 0, len(fis)),
		fields: make([]tupleField, 0, len(fis)),
	}
	for _, fi := range fis {
		c, err := codecOf(fi.Field.Type)
		if err != nil {
			return nil, err
		}
		tc.names = append(tc.names, fi.Name)
		tc.fields = append(tc.fields, tupleField{index: fi.Index, codec: c})
	}
	return tc, nil
}

func (c *tupleCodec) decode(data []byte, v reflect.Value) (int, error) {
	var off int
	for _, f := range c.fields {
		n, err := f.codec.decode(data[off:], v.FieldByIndex(f.index))
		if err != nil {
			return 0, err
		}
		off += n
	}
	return off, nil
}

func (c *tupleCodec) encode(buf []byte, v reflect.Value) ([]byte, error) {
	var err error
	for _, f := range c.fields {
		if buf, err = f.codec.encode(buf, v.FieldByIndex(f.index)); err != nil {
			return nil, err
		}
	}
	return buf, nil
}
