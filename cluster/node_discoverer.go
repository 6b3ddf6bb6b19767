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
	"context"
)

// NodeDiscoverer represents a provider of cluster nodes list.
// NodeDiscoverer must not check nodes liveness or role, just return all nodes registered in cluster
type NodeDiscoverer interface {
	// DiscoverNodes returns list of nodes registered in cluster
	DiscoverNodes(context.Context) ([]*Node, error)
}

var _ NodeDiscoverer = StaticNodeDiscoverer{}

// StaticNodeDiscoverer always returns list of provided nodes
type StaticNodeDiscoverer struct {
	nodes []*Node
}

// NewStaticNodeDiscoverer returns new StaticNodeDiscoverer instance
func NewStaticNodeDiscoverer(nodes ...*Node) StaticNodeDiscoverer {
	return StaticNodeDiscoverer{nodes: nodes}
}

// DiscoverNodes returns nodes provided at construction
func (s StaticNodeDiscoverer) DiscoverNodes(_ context.Context) ([]*Node, error) {
	return s.nodes, nil
}
