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
	"math"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(template string, args ...any) (string, error) {
	b := newSQLBuilder(template)
	for _, arg := range args {
		b.bind(arg)
	}
	return b.finish()
}

func TestSQLBuilderArguments(t *testing.T) {
	inputs := []struct {
		Name     string
		Args     []any
		Expected string
		Err      string
	}{
		{
			Name:     "exact",
			Args:     []any{1, "a"},
			Expected: "SELECT 1, 'a'",
		},
		{
			Name: "fewer",
			Args: []any{1},
			Err:  "no argument for placeholder #2",
		},
		{
			Name: "more",
			Args: []any{1, 2, 3},
			Err:  "1 unused arguments",
		},
		{
			Name: "none",
			Err:  "no argument for placeholder #1",
		},
	}

	for _, input := range inputs {
		t.Run(input.Name, func(t *testing.T) {
			query, err := render("SELECT ?, ?", input.Args...)
			if input.Err != "" {
				var berr *BindError
				require.ErrorAs(t, err, &berr)
				assert.Equal(t, input.Err, berr.Reason)
				assert.Empty(t, query)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, input.Expected, query)
		})
	}
}

func TestSQLBuilderLiterals(t *testing.T) {
	id := uuid.Must(uuid.FromString("61f0c404-5cb3-11e7-907b-a6006ad3dba0"))
	name := "ptr"

	inputs := []struct {
		Name     string
		Arg      any
		Expected string
	}{
		{Name: "nil", Arg: nil, Expected: "NULL"},
		{Name: "nil_pointer", Arg: (*int)(nil), Expected: "NULL"},
		{Name: "pointer", Arg: &name, Expected: "'ptr'"},
		{Name: "bool", Arg: true, Expected: "true"},
		{Name: "int", Arg: -42, Expected: "-42"},
		{Name: "uint64", Arg: uint64(math.MaxUint64), Expected: "18446744073709551615"},
		{Name: "float", Arg: 1.5, Expected: "1.5"},
		{Name: "float32", Arg: float32(0.1), Expected: "0.1"},
		{Name: "nan", Arg: math.NaN(), Expected: "nan"},
		{Name: "inf", Arg: math.Inf(1), Expected: "inf"},
		{Name: "minus_inf", Arg: math.Inf(-1), Expected: "-inf"},
		{Name: "string", Arg: "it's", Expected: `'it\'s'`},
		{Name: "bytes", Arg: []byte(`a\b`), Expected: `'a\\b'`},
		{Name: "time", Arg: time.Date(2020, 1, 2, 3, 4, 5, 0, time.FixedZone("MSK", 3*3600)), Expected: "toDateTime('2020-01-02 00:04:05', 'UTC')"},
		{Name: "time_array", Arg: []time.Time{time.Unix(0, 0)}, Expected: "[toDateTime('1970-01-01 00:00:00', 'UTC')]"},
		{Name: "uuid", Arg: id, Expected: "'61f0c404-5cb3-11e7-907b-a6006ad3dba0'"},
		{Name: "array", Arg: []int{1, 2, 3}, Expected: "[1,2,3]"},
		{Name: "nested_array", Arg: [][]string{{"a"}, {}}, Expected: "[['a'],[]]"},
		{Name: "identifier", Arg: Identifier("db.table"), Expected: "`db`.`table`"},
	}

	for _, input := range inputs {
		t.Run(input.Name, func(t *testing.T) {
			query, err := render("?", input.Arg)
			require.NoError(t, err)
			assert.Equal(t, input.Expected, query)
		})
	}

	t.Run("unsupported", func(t *testing.T) {
		_, err := render("?", make(chan int))
		var berr *BindError
		assert.ErrorAs(t, err, &berr)
	})
}

// unquote parses single-quoted string literal with backslash escapes
func unquote(t *testing.T, s string) string {
	t.Helper()

	require.True(t, len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'', "not a string literal: %s", s)
	s = s[1 : len(s)-1]

	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			i++
			require.Less(t, i, len(s), "dangling escape")
			sb.WriteByte(s[i])
		case '\'':
			t.Fatalf("unescaped quote at %d", i)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func TestSQLBuilderEscapingRoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"plain",
		"'",
		`\`,
		`\'`,
		`'; DROP TABLE users; --`,
		"line\nbreak",
		`ends with backslash\`,
		"юникод ' \\ ✓",
	}

	for _, input := range inputs {
		query, err := render("?", input)
		require.NoError(t, err)
		assert.Equal(t, input, unquote(t, query))
	}
}

func TestSQLBuilderIdentifiers(t *testing.T) {
	valid := map[string]string{
		"table":      "`table`",
		"_t1":        "`_t1`",
		"db.table":   "`db`.`table`",
		"a.b.column": "`a`.`b`.`column`",
	}
	for id, expected := range valid {
		query, err := render("?", Identifier(id))
		require.NoError(t, err, id)
		assert.Equal(t, expected, query)
	}

	invalid := []string{"", "1table", "db.", ".table", "with space", "a`b", "drop;table", "a-b"}
	for _, id := range invalid {
		_, err := render("SELECT * FROM ?", Identifier(id))
		var ierr *IdentifierError
		require.ErrorAs(t, err, &ierr, id)
		assert.Equal(t, id, ierr.Identifier)
	}
}

func TestQuoteTableName(t *testing.T) {
	cases := map[string]string{
		"events":        "`events`",
		"db.events":     "`db`.`events`",
		"who cares":     "`who cares`",
		"a`b":           "`a\\`b`",
		`back\slash`:    "`back\\\\slash`",
		"what?":         "`what?`",
		"db.with space": "`db.with space`",
	}
	for name, expected := range cases {
		quoted, err := quoteTableName(name)
		require.NoError(t, err, name)
		assert.Equal(t, expected, quoted)
	}

	_, err := quoteTableName("")
	var ierr *IdentifierError
	assert.ErrorAs(t, err, &ierr)
}

func TestSQLBuilderFields(t *testing.T) {
	b := newSQLBuilder("SELECT ?fields FROM t WHERE no > ?")
	b.bind(1)

	_, err := b.finish()
	var berr *BindError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "?fields is not bound", berr.Reason)

	b.bindFields("`no`,`name`")
	b.append(" FORMAT RowBinary")
	query, err := b.finish()
	require.NoError(t, err)
	assert.Equal(t, "SELECT `no`,`name` FROM t WHERE no > 1 FORMAT RowBinary", query)
}

func TestSQLBuilderNamed(t *testing.T) {
	type filter struct {
		Name  string `db:"name"`
		Limit int    `db:"limit"`
	}

	t.Run("struct", func(t *testing.T) {
		b := newSQLBuilder("SELECT * FROM t WHERE name = :name LIMIT :limit")
		b.bindNamed(filter{Name: "o'neil", Limit: 10})

		query, err := b.finish()
		require.NoError(t, err)
		assert.Equal(t, `SELECT * FROM t WHERE name = 'o\'neil' LIMIT 10`, query)
	})

	t.Run("map", func(t *testing.T) {
		b := newSQLBuilder("SELECT :a + :b")
		b.bindNamed(map[string]any{"a": 1, "b": 2})

		query, err := b.finish()
		require.NoError(t, err)
		assert.Equal(t, "SELECT 1 + 2", query)
	})

	t.Run("mixed", func(t *testing.T) {
		b := newSQLBuilder("SELECT :a + ?")
		b.bindNamed(map[string]any{"a": 1})
		b.bind(2)

		_, err := b.finish()
		var berr *BindError
		assert.ErrorAs(t, err, &berr)
	})
}

func TestSQLBuilderRaw(t *testing.T) {
	b := newSQLBuilder("SELECT '?'")
	b.raw = true
	b.append(" FORMAT TSV")

	query, err := b.finish()
	require.NoError(t, err)
	assert.Equal(t, "SELECT '?' FORMAT TSV", query)
}
