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

package cluster

import (
	"time"

	"github.com/go-kit/log"
)

// ClusterOpt is a functional option type for Cluster constructor
type ClusterOpt func(*Cluster)

// WithUpdateInterval sets interval between cluster state updates
func WithUpdateInterval(d time.Duration) ClusterOpt {
	return func(cl *Cluster) {
		cl.updateInterval = d
	}
}

// WithUpdateTimeout sets timeout for update of each node in cluster
func WithUpdateTimeout(d time.Duration) ClusterOpt {
	return func(cl *Cluster) {
		cl.updateTimeout = d
	}
}

// WithNodePicker sets algorithm for node selection (e.g. random, round robin etc)
func WithNodePicker(picker NodePicker) ClusterOpt {
	return func(cl *Cluster) {
		cl.picker = picker
	}
}

// WithTracer sets tracer for actions happening in the background
func WithTracer(tracer Tracer) ClusterOpt {
	return func(cl *Cluster) {
		cl.tracer = tracer
	}
}

// WithLogger sets logger for background updates
func WithLogger(logger log.Logger) ClusterOpt {
	return func(cl *Cluster) {
		cl.logger = logger
	}
}

// WithMaxReplicaDelay treats nodes lagging more than d as dead. Zero disables the limit.
func WithMaxReplicaDelay(d time.Duration) ClusterOpt {
	return func(cl *Cluster) {
		cl.maxReplicaDelay = d
	}
}
