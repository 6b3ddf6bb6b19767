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
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func postQuery(t *testing.T, m *Mock, query string) *http.Response {
	t.Helper()

	resp, err := http.Post(m.URL()+"/", "text/plain", strings.NewReader(query))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestMockPing(t *testing.T) {
	m := NewMock()

	resp, err := http.Get(m.URL() + "/ping")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Ok.\n", string(body))
	assert.NoError(t, m.Close())
}

func TestMockHandlersOrder(t *testing.T) {
	m := NewMock()

	first, second := RecordDDL(), RecordDDL()
	m.Add(first)
	m.Add(second)
	assert.Equal(t, 2, m.Pending())

	postQuery(t, m, "CREATE TABLE a")
	postQuery(t, m, "CREATE TABLE b")
	assert.Equal(t, 0, m.Pending())

	ctx := context.Background()
	query, err := first.Query(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE a", query)

	query, err = second.Query(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE b", query)

	assert.NoError(t, m.Close())
}

func TestMockViolations(t *testing.T) {
	t.Run("unexpected_request", func(t *testing.T) {
		m := NewMock()

		resp := postQuery(t, m, "SELECT 1")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

		err := m.Close()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unexpected request")
	})

	t.Run("unused_handler", func(t *testing.T) {
		m := NewMock()
		m.Add(Failure(http.StatusForbidden))

		err := m.Close()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 handlers were not used")
	})

	t.Run("ddl_expected", func(t *testing.T) {
		m := NewMock()
		rec := RecordDDL()
		m.Add(rec)

		resp := postQuery(t, m, "SELECT 1")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		_, err := rec.Query(context.Background())
		assert.Error(t, err)
		assert.Error(t, m.Close())
	})

	t.Run("watch_without_live_view", func(t *testing.T) {
		m := NewMock()
		m.Add(WatchOnlyEvents(1))

		resp, err := http.Get(m.URL() + "/?" + url.Values{"query": {"WATCH lv"}}.Encode())
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		err = m.Close()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CREATE LIVE VIEW")
	})
}

func TestRecordingAbandoned(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := NewMock()
	rec := Record()
	m.Add(rec)

	done := make(chan error)
	go func() {
		_, err := Collect[struct{ No uint32 }](context.Background(), rec)
		done <- err
	}()

	_ = m.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrMockClosed)
	case <-time.After(time.Second):
		t.Fatal("recording is not resolved on close")
	}
}

func TestRecordingCancelled(t *testing.T) {
	rec := RecordDDL()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rec.Query(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWatchRow(t *testing.T) {
	inputs := []struct {
		Name     string
		Field    string
		Row      string
		Expected string
	}{
		{
			Name:     "row",
			Field:    "_version",
			Row:      `{"no":1}`,
			Expected: `{"row":{"_version":42,"no":1}}` + "\n",
		},
		{
			Name:     "empty",
			Field:    "version",
			Row:      `{}`,
			Expected: `{"row":{"version":42}}` + "\n",
		},
	}

	for _, input := range inputs {
		t.Run(input.Name, func(t *testing.T) {
			assert.Equal(t, input.Expected, string(watchRow(input.Field, 42, []byte(input.Row))))
		})
	}
}
