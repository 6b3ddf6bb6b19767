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
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// NodePicker decides which node must be used from given set.
// It also provides a comparer to be used to pre-sort nodes for better performance
type NodePicker interface {
	// PickNode returns a single node from given set
	PickNode(nodes []CheckedNode) CheckedNode
	// CompareNodes is a comparison function to be used to sort checked nodes
	CompareNodes(a, b CheckedNode) int
}

var (
	_ NodePicker = (*RandomNodePicker)(nil)
	_ NodePicker = (*RoundRobinNodePicker)(nil)
	_ NodePicker = (*LatencyNodePicker)(nil)
	_ NodePicker = (*ReplicaDelayNodePicker)(nil)
)

// RandomNodePicker returns random node on each call and does not sort checked nodes
type RandomNodePicker struct{}

// PickNode returns random node from picker
func (*RandomNodePicker) PickNode(nodes []CheckedNode) CheckedNode {
	return nodes[rand.IntN(len(nodes))]
}

// CompareNodes always treats nodes as equal, effectively not changing nodes order
func (*RandomNodePicker) CompareNodes(_, _ CheckedNode) int {
	return 0
}

// RoundRobinNodePicker returns next node based on Round Robin algorithm and tries to preserve nodes order across checks
type RoundRobinNodePicker struct {
	idx atomic.Uint32
}

// PickNode returns next node in Round-Robin sequence
func (r *RoundRobinNodePicker) PickNode(nodes []CheckedNode) CheckedNode {
	n := r.idx.Add(1)
	return nodes[(int(n)-1)%len(nodes)]
}

// CompareNodes performs lexicographical comparison of two nodes
func (r *RoundRobinNodePicker) CompareNodes(a, b CheckedNode) int {
	aName, bName := a.Node.String(), b.Node.String()
	if aName < bName {
		return -1
	}
	if aName > bName {
		return 1
	}
	return 0
}

// LatencyNodePicker returns node with least latency and sorts checked nodes by reported latency ascending.
// WARNING: This picker requires that NodeInfoProvider can report node's network latency otherwise code will panic!
type LatencyNodePicker struct{}

// PickNode returns node with least network latency
func (*LatencyNodePicker) PickNode(nodes []CheckedNode) CheckedNode {
	return nodes[0]
}

// CompareNodes performs nodes comparison based on reported network latency
func (*LatencyNodePicker) CompareNodes(a, b CheckedNode) int {
	aLatency := a.Info.(interface{ Latency() time.Duration }).Latency()
	bLatency := b.Info.(interface{ Latency() time.Duration }).Latency()
	return compareDurations(aLatency, bLatency)
}

// ReplicaDelayNodePicker returns node with smallest replica delay and sorts checked nodes by reported delay ascending.
// WARNING: This picker requires that NodeInfoProvider can report node's replication delay otherwise code will panic!
type ReplicaDelayNodePicker struct{}

// PickNode returns node with lowest replica delay
func (*ReplicaDelayNodePicker) PickNode(nodes []CheckedNode) CheckedNode {
	return nodes[0]
}

// CompareNodes performs nodes comparison based on reported replica delay
func (*ReplicaDelayNodePicker) CompareNodes(a, b CheckedNode) int {
	aDelay := a.Info.(interface{ ReplicationDelay() time.Duration }).ReplicationDelay()
	bDelay := b.Info.(interface{ ReplicationDelay() time.Duration }).ReplicationDelay()
	return compareDurations(aDelay, bDelay)
}

func compareDurations(a, b time.Duration) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
