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
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	rowsDecoded  prometheus.Counter
	rowsInserted prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chhttp",
			Name:      "requests_total",
			Help:      "Total number of requests sent to ClickHouse by method and status code.",
		}, []string{"method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chhttp",
			Name:      "request_duration_seconds",
			Help:      "Time until response headers are received.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		rowsDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chhttp",
			Name:      "rows_decoded_total",
			Help:      "Total number of RowBinary rows decoded by cursors.",
		}),
		rowsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chhttp",
			Name:      "rows_inserted_total",
			Help:      "Total number of rows written by inserts.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.requests, err = register(reg, m.requests); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.rowsDecoded, err = register(reg, m.rowsDecoded); err != nil {
		return nil, err
	}
	if m.rowsInserted, err = register(reg, m.rowsInserted); err != nil {
		return nil, err
	}
	return m, nil
}

// register registers collector, reusing already registered one so that
// several clients may share a registerer.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, fmt.Errorf("register metrics: %w", err)
	}
	return c, nil
}
