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
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jmoiron/sqlx"
)

// fieldsPlaceholder is expanded into column list of fetched row type
const fieldsPlaceholder = "?fields"

// Identifier is an argument rendered as back-tick quoted object name (column, table, db.table).
// It is validated, never escaped as a literal.
type Identifier string

type argKind uint8

const (
	argLiteral argKind = iota
	argIdentifier
)

// sqlArg is a bound argument: either a literal or an identifier
type sqlArg struct {
	kind  argKind
	value any
}

// sqlBuilder accumulates template and arguments, rendering is postponed until finish.
type sqlBuilder struct {
	template string
	suffix   string
	args     []sqlArg
	named    any
	fields   string
	// raw builder holds already rendered text and does not look for placeholders
	raw bool
}

func newSQLBuilder(template string) sqlBuilder {
	return sqlBuilder{template: template}
}

func (b *sqlBuilder) bind(value any) {
	if id, ok := value.(Identifier); ok {
		b.args = append(b.args, sqlArg{kind: argIdentifier, value: string(id)})
		return
	}
	b.args = append(b.args, sqlArg{kind: argLiteral, value: value})
}

func (b *sqlBuilder) bindNamed(arg any) {
	b.named = arg
}

// bindFields sets column list substituted for every ?fields placeholder
func (b *sqlBuilder) bindFields(columns string) {
	b.fields = columns
}

func (b *sqlBuilder) append(text string) {
	b.suffix += text
}

// finish renders final query text walking template from left to right.
func (b *sqlBuilder) finish() (string, error) {
	if b.raw {
		return b.template + b.suffix, nil
	}

	template, args := b.template, b.args
	if b.named != nil {
		if len(args) > 0 {
			return "", &BindError{Reason: "named and positional arguments cannot be mixed"}
		}

		query, named, err := sqlx.Named(template, b.named)
		if err != nil {
			return "", &BindError{Reason: err.Error()}
		}

		template = query
		args = make([]sqlArg, 0, len(named))
		for _, v := range named {
			args = append(args, sqlArg{kind: argLiteral, value: v})
		}
	}

	var sb strings.Builder
	sb.Grow(len(template) + len(b.suffix))

	next := 0
	rest := template
	for {
		idx := strings.IndexByte(rest, '?')
		if idx < 0 {
			sb.WriteString(rest)
			break
		}
		sb.WriteString(rest[:idx])
		rest = rest[idx:]

		if strings.HasPrefix(rest, fieldsPlaceholder) {
			if b.fields == "" {
				return "", &BindError{Reason: "?fields is not bound"}
			}
			sb.WriteString(b.fields)
			rest = rest[len(fieldsPlaceholder):]
			continue
		}

		if next >= len(args) {
			return "", &BindError{Reason: fmt.Sprintf("no argument for placeholder #%d", next+1)}
		}
		if err := renderArg(&sb, args[next]); err != nil {
			return "", err
		}
		next++
		rest = rest[1:]
	}

	if next < len(args) {
		return "", &BindError{Reason: fmt.Sprintf("%d unused arguments", len(args)-next)}
	}

	sb.WriteString(b.suffix)
	return sb.String(), nil
}

func renderArg(sb *strings.Builder, arg sqlArg) error {
	if arg.kind == argIdentifier {
		return renderIdentifier(sb, arg.value.(string))
	}
	return renderLiteral(sb, reflect.ValueOf(arg.value))
}

// renderIdentifier writes dotted name with every part quoted: db.table -> `db`.`table`
func renderIdentifier(sb *strings.Builder, id string) error {
	if !validIdentifier(id) {
		return &IdentifierError{Identifier: id}
	}

	for i, part := range strings.Split(id, ".") {
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteByte('`')
		sb.WriteString(part)
		sb.WriteByte('`')
	}
	return nil
}

// quoteTableName quotes table name given by caller. Valid dotted identifiers are rendered
// as `db`.`table`, everything else is a single name with back-ticks and backslashes escaped.
func quoteTableName(name string) (string, error) {
	if name == "" {
		return "", &IdentifierError{Identifier: name}
	}

	var sb strings.Builder
	if validIdentifier(name) {
		if err := renderIdentifier(&sb, name); err != nil {
			return "", err
		}
		return sb.String(), nil
	}

	sb.WriteByte('`')
	for i := 0; i < len(name); i++ {
		if c := name[i]; c == '`' || c == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(name[i])
	}
	sb.WriteByte('`')
	return sb.String(), nil
}

func validIdentifier(id string) bool {
	for _, part := range strings.Split(id, ".") {
		if part == "" {
			return false
		}
		for i := 0; i < len(part); i++ {
			c := part[i]
			switch {
			case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
			case c >= '0' && c <= '9' && i > 0:
			default:
				return false
			}
		}
	}
	return true
}

var (
	timeType = reflect.TypeFor[time.Time]()
	uuidType = reflect.TypeFor[uuid.UUID]()
)

func renderLiteral(sb *strings.Builder, v reflect.Value) error {
	if !v.IsValid() {
		sb.WriteString("NULL")
		return nil
	}

	switch v.Type() {
	case timeType:
		// zone is explicit, server would parse bare literal in its own timezone
		sb.WriteString("toDateTime(")
		quoteString(sb, v.Interface().(time.Time).UTC().Format(time.DateTime))
		sb.WriteString(", 'UTC')")
		return nil
	case uuidType:
		quoteString(sb, v.Interface().(uuid.UUID).String())
		return nil
	}

	switch v.Kind() {
	case reflect.String:
		quoteString(sb, v.String())
	case reflect.Bool:
		sb.WriteString(strconv.FormatBool(v.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		sb.WriteString(strconv.FormatInt(v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		sb.WriteString(strconv.FormatUint(v.Uint(), 10))
	case reflect.Float32:
		renderFloat(sb, v.Float(), 32)
	case reflect.Float64:
		renderFloat(sb, v.Float(), 64)
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			sb.WriteString("NULL")
			return nil
		}
		return renderLiteral(sb, v.Elem())
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			if v.Kind() == reflect.Slice {
				quoteString(sb, string(v.Bytes()))
				return nil
			}
			b := make([]byte, v.Len())
			reflect.Copy(reflect.ValueOf(b), v)
			quoteString(sb, string(b))
			return nil
		}

		sb.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := renderLiteral(sb, v.Index(i)); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	default:
		return &BindError{Reason: fmt.Sprintf("unsupported argument type %s", v.Type())}
	}
	return nil
}

func renderFloat(sb *strings.Builder, f float64, bitSize int) {
	switch {
	case math.IsNaN(f):
		sb.WriteString("nan")
	case math.IsInf(f, 1):
		sb.WriteString("inf")
	case math.IsInf(f, -1):
		sb.WriteString("-inf")
	default:
		sb.WriteString(strconv.FormatFloat(f, 'f', -1, bitSize))
	}
}

// quoteString writes s in single quotes escaping quotes and backslashes
func quoteString(sb *strings.Builder, s string) {
	sb.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		if c := s[i]; c == '\'' || c == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	sb.WriteByte('\'')
}
