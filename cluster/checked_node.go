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
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// CheckedNodes holds references to any cluster node which state has been checked
type CheckedNodes struct {
	discovered []*Node
	alive      []CheckedNode
	primaries  []CheckedNode
	standbys   []CheckedNode
	err        error
}

// Discovered returns a list of nodes discovered in cluster
func (c CheckedNodes) Discovered() []*Node {
	return c.discovered
}

// Alive returns a list of all successfully checked nodes irregarding their cluster role
func (c CheckedNodes) Alive() []CheckedNode {
	return c.alive
}

// Primaries returns list of all successfully checked nodes with primary role
func (c CheckedNodes) Primaries() []CheckedNode {
	return c.primaries
}

// Standbys returns list of all successfully checked nodes with standby role
func (c CheckedNodes) Standbys() []CheckedNode {
	return c.standbys
}

// Err holds information about cause of node check failure.
func (c CheckedNodes) Err() error {
	return c.err
}

// CheckedNode contains most recent state of single cluster node
type CheckedNode struct {
	Node *Node
	Info NodeInfoProvider
}

// errReplicaDelay is reported for node lagging more than allowed
var errReplicaDelay = errors.New("replica delay is too big")

// checkNodes discovers nodes, checks them in parallel and returns the alive ones
func checkNodes(ctx context.Context, discoverer NodeDiscoverer, checkFn NodeChecker, compareFn func(a, b CheckedNode) int, maxDelay time.Duration, tracer Tracer) CheckedNodes {
	nodes, err := discoverer.DiscoverNodes(ctx)
	if err != nil {
		return CheckedNodes{err: fmt.Errorf("cannot discover cluster nodes: %w", err)}
	}

	var mu sync.Mutex
	checked := make([]CheckedNode, 0, len(nodes))
	var errs NodeCheckErrors

	var wg sync.WaitGroup
	wg.Add(len(nodes))
	for _, node := range nodes {
		go func(node *Node) {
			defer wg.Done()

			// check single node state
			info, err := checkFn(ctx, node.Client())
			if err == nil && maxDelay > 0 {
				if d, ok := info.(interface{ ReplicationDelay() time.Duration }); ok && d.ReplicationDelay() > maxDelay {
					err = fmt.Errorf("%w: %s", errReplicaDelay, d.ReplicationDelay())
				}
			}
			if err != nil {
				cerr := NodeCheckError{
					node: node,
					err:  err,
				}

				// node is dead - make trace call
				tracer.nodeDead(cerr)

				mu.Lock()
				defer mu.Unlock()
				errs = append(errs, cerr)
				return
			}

			cn := CheckedNode{
				Node: node,
				Info: info,
			}

			tracer.nodeAlive(cn)

			mu.Lock()
			defer mu.Unlock()
			checked = append(checked, cn)
		}(node)
	}

	// wait for all nodes to be checked
	wg.Wait()

	slices.SortFunc(checked, compareFn)

	alive := make([]CheckedNode, 0, len(checked))
	primaries := make([]CheckedNode, 0, 1)
	standbys := make([]CheckedNode, 0, len(checked))
	for _, cn := range checked {
		switch cn.Info.Role() {
		case NodeRolePrimary:
			primaries = append(primaries, cn)
		case NodeRoleStandby:
			standbys = append(standbys, cn)
		default:
			// treat node with undetermined role as dead
			cerr := NodeCheckError{
				node: cn.Node,
				err:  errors.New("cannot determine node role"),
			}
			tracer.nodeDead(cerr)
			errs = append(errs, cerr)
			continue
		}
		alive = append(alive, cn)
	}

	res := CheckedNodes{
		discovered: nodes,
		alive:      alive,
		primaries:  primaries,
		standbys:   standbys,
	}
	if len(errs) != 0 {
		res.err = errs
	}
	return res
}

// pickNodeByCriteria is a helper function to pick a single node by given criteria
func pickNodeByCriteria(nodes CheckedNodes, picker NodePicker, criteria NodeStateCriteria) *Node {
	var subset []CheckedNode

	switch criteria {
	case Alive:
		subset = nodes.alive
	case Primary:
		subset = nodes.primaries
	case Standby:
		subset = nodes.standbys
	case PreferPrimary:
		if subset = nodes.primaries; len(subset) == 0 {
			subset = nodes.standbys
		}
	case PreferStandby:
		if subset = nodes.standbys; len(subset) == 0 {
			subset = nodes.primaries
		}
	}

	if len(subset) == 0 {
		return nil
	}

	return picker.PickNode(subset).Node
}
