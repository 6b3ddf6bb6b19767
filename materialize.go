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
	"context"

	"golang.org/x/sync/errgroup"
)

// fetchAllChunkSize is the number of rows handed off to background worker at once
const fetchAllChunkSize = 20000

type rowSource[T any] interface {
	Next(ctx context.Context) (*T, error)
}

// materialize drains src into a slice. Full chunks are appended by a background worker
// while decoding continues. At most one chunk is in flight: dispatching waits for the
// previous one to be appended, so result order is always the order of arrival.
func materialize[T any](ctx context.Context, src rowSource[T], chunkSize int, dispatched func(rows int)) ([]T, error) {
	var result []T

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(1)

	chunk := make([]T, 0, chunkSize)
	for {
		row, err := src.Next(ctx)
		if err != nil {
			_ = g.Wait()
			return nil, err
		}
		if row == nil {
			break
		}

		chunk = append(chunk, *row)
		if len(chunk) < chunkSize {
			continue
		}

		full := chunk
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result = append(result, full...)
			return nil
		})
		dispatched(len(full))
		chunk = make([]T, 0, chunkSize)
	}

	if err := g.Wait(); err != nil {
		return nil, &TaskError{err: err}
	}

	return append(result, chunk...), nil
}
