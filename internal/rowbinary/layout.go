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

// Package rowbinary implements ClickHouse RowBinary encoding of Go values.
//
// A row type is described by its Layout: the list of columns in declared
// order and a codec for every column. Struct fields are mapped to columns
// using the `ch` tag, falling back to the field name.
package rowbinary

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx/reflectx"
)

// TagName is the struct tag used to name columns.
const TagName = "ch"

var (
	// ErrNotEnoughData is returned by Decode when data ends in the middle of a value.
	// The caller is expected to retry once more bytes are available.
	ErrNotEnoughData = errors.New("rowbinary: not enough data")
	// ErrMalformedLength is returned when a length prefix cannot be parsed.
	ErrMalformedLength = errors.New("rowbinary: malformed length prefix")
)

// InvalidTagError is returned when a discriminant byte (Bool, Nullable) has unexpected value.
type InvalidTagError struct {
	Tag  byte
	Type reflect.Type
}

func (e *InvalidTagError) Error() string {
	return fmt.Sprintf("rowbinary: invalid tag %#02x for %s", e.Tag, e.Type)
}

// UnsupportedTypeError is returned when a Go type has no RowBinary representation.
type UnsupportedTypeError struct {
	Type reflect.Type
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("rowbinary: unsupported type %s", e.Type)
}

var mapper = reflectx.NewMapperFunc(TagName, func(s string) string { return s })

// Layout describes how values of a single Go type are laid out in a row.
type Layout struct {
	typ     reflect.Type
	columns []string
	codec   codec
}

var layouts sync.Map // reflect.Type -> *Layout

// LayoutOf returns the cached layout of t.
func LayoutOf(t reflect.Type) (*Layout, error) {
	if l, ok := layouts.Load(t); ok {
		return l.(*Layout), nil
	}

	c, err := codecOf(t)
	if err != nil {
		return nil, err
	}

	l := &Layout{typ: t, codec: c}
	if tc, ok := c.(*tupleCodec); ok {
		l.columns = tc.names
	}

	actual, _ := layouts.LoadOrStore(t, l)
	return actual.(*Layout), nil
}

// For returns the layout of T.
func For[T any]() (*Layout, error) {
	return LayoutOf(reflect.TypeFor[T]())
}

// Type returns Go type described by layout.
func (l *Layout) Type() reflect.Type {
	return l.typ
}

// Columns returns column names in declared order.
// Non-struct types have no named columns.
func (l *Layout) Columns() []string {
	return l.columns
}

// JoinColumns returns back-tick quoted comma-joined column names.
func (l *Layout) JoinColumns() string {
	var b strings.Builder
	for i, name := range l.columns {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('`')
		b.WriteString(strings.ReplaceAll(name, "`", "\\`"))
		b.WriteByte('`')
	}
	return b.String()
}

// Decode decodes exactly one value from data into dst, which must be settable.
// It returns number of consumed bytes. ErrNotEnoughData means data holds an incomplete value
// and dst may be partially overwritten.
func (l *Layout) Decode(data []byte, dst reflect.Value) (int, error) {
	return l.codec.decode(data, dst)
}

// Encode appends encoded src to buf.
func (l *Layout) Encode(buf []byte, src reflect.Value) ([]byte, error) {
	return l.codec.encode(buf, src)
}

// structFields returns mapped fields of struct type t in declared order,
// with anonymous embedded structs flattened.
func structFields(t reflect.Type) ([]*reflectx.FieldInfo, error) {
	tm := mapper.TypeMap(t)

	var walk func(children []*reflectx.FieldInfo) ([]*reflectx.FieldInfo, error)
	walk = func(children []*reflectx.FieldInfo) ([]*reflectx.FieldInfo, error) {
		var res []*reflectx.FieldInfo
		for _, fi := range children {
			if fi == nil {
				continue
			}
			if fi.Embedded {
				if fi.Field.Type.Kind() == reflect.Pointer {
					return nil, &UnsupportedTypeError{Type: fi.Field.Type}
				}
				nested, err := walk(fi.Children)
				if err != nil {
					return nil, err
				}
				res = append(res, nested...)
				continue
			}
			res = append(res, fi)
		}
		return res, nil
	}

	return walk(tm.Tree.Children)
}
