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
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Default values for cluster config
const (
	DefaultUpdateInterval = time.Second * 5
	DefaultUpdateTimeout  = time.Second
)

// Cluster consists of number of 'nodes' of a single ClickHouse database.
// Background goroutine periodically checks nodes and updates their status.
type Cluster struct {
	tracer Tracer
	logger log.Logger

	// configuration
	updateInterval  time.Duration
	updateTimeout   time.Duration
	discoverer      NodeDiscoverer
	checker         NodeChecker
	picker          NodePicker
	maxReplicaDelay time.Duration

	// status
	checkedNodes atomic.Value
	stop         context.CancelFunc
	stopped      chan struct{}
	closeOnce    sync.Once

	// callers of WaitForNode
	waitersMu sync.Mutex
	waiters   []*waiter
}

// ErrClusterClosed is returned by WaitForNode when cluster is closed while waiting
var ErrClusterClosed = errors.New("cluster is closed")

// NewCluster returns object representing a single 'cluster' of ClickHouse replicas.
// Close function must be called when cluster is not needed anymore.
func NewCluster(discoverer NodeDiscoverer, checker NodeChecker, opts ...ClusterOpt) (*Cluster, error) {
	if discoverer == nil {
		return nil, errors.New("node discoverer required")
	}
	if checker == nil {
		return nil, errors.New("node checker required")
	}

	ctx, stop := context.WithCancel(context.Background())

	cl := &Cluster{
		logger:         log.NewNopLogger(),
		updateInterval: DefaultUpdateInterval,
		updateTimeout:  DefaultUpdateTimeout,
		discoverer:     discoverer,
		checker:        checker,
		picker:         new(RandomNodePicker),
		stop:           stop,
		stopped:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(cl)
	}

	// store initial nodes state
	cl.checkedNodes.Store(CheckedNodes{})

	go cl.backgroundNodesUpdate(ctx)
	return cl, nil
}

// Close stops node updates and waits for the running one to finish.
// Clients of nodes are not owned by cluster and stay usable.
func (cl *Cluster) Close() error {
	cl.closeOnce.Do(func() {
		cl.stop()
		<-cl.stopped
	})
	return nil
}

// Err returns the reason of last nodes check failure, if any
func (cl *Cluster) Err() error {
	return cl.CheckedNodes().Err()
}

// CheckedNodes returns result of last nodes check
func (cl *Cluster) CheckedNodes() CheckedNodes {
	return cl.checkedNodes.Load().(CheckedNodes)
}

// Node returns cluster node with specified status
func (cl *Cluster) Node(criteria NodeStateCriteria) *Node {
	return pickNodeByCriteria(cl.CheckedNodes(), cl.picker, criteria)
}

// WaitForNode with specified status to appear or until context is canceled.
// ErrClusterClosed is returned if cluster is closed while waiting.
func (cl *Cluster) WaitForNode(ctx context.Context, criteria NodeStateCriteria) (*Node, error) {
	if node := cl.Node(criteria); node != nil {
		return node, nil
	}

	w := cl.addWaiter(criteria)
	defer cl.removeWaiter(w)

	// node might have appeared while waiter was being added
	if node := cl.Node(criteria); node != nil {
		return node, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-cl.stopped:
		return nil, ErrClusterClosed
	case node := <-w.ch:
		return node, nil
	}
}

// waiter is a blocked WaitForNode call
type waiter struct {
	criteria NodeStateCriteria
	// buffered, so notification never blocks update loop
	ch chan *Node
}

func (cl *Cluster) addWaiter(criteria NodeStateCriteria) *waiter {
	w := &waiter{criteria: criteria, ch: make(chan *Node, 1)}

	cl.waitersMu.Lock()
	defer cl.waitersMu.Unlock()
	cl.waiters = append(cl.waiters, w)
	return w
}

// removeWaiter forgets waiter which gave up or has been notified
func (cl *Cluster) removeWaiter(w *waiter) {
	cl.waitersMu.Lock()
	defer cl.waitersMu.Unlock()
	cl.waiters = slices.DeleteFunc(cl.waiters, func(x *waiter) bool { return x == w })
}

// notifyWaiters hands nodes of fresh check to waiters whose criteria they match.
// Waiters left without node keep waiting for next update.
func (cl *Cluster) notifyWaiters(nodes CheckedNodes) {
	cl.waitersMu.Lock()
	defer cl.waitersMu.Unlock()

	cl.waiters = slices.DeleteFunc(cl.waiters, func(w *waiter) bool {
		node := pickNodeByCriteria(nodes, cl.picker, w.criteria)
		if node == nil {
			return false
		}
		w.ch <- node
		return true
	})
}

// backgroundNodesUpdate periodically checks list of registered nodes
func (cl *Cluster) backgroundNodesUpdate(ctx context.Context) {
	defer close(cl.stopped)

	// initial update
	cl.updateNodes(ctx)

	ticker := time.NewTicker(cl.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cl.updateNodes(ctx)
		}
	}
}

// updateNodes checks all nodes and notifies waiters
func (cl *Cluster) updateNodes(ctx context.Context) {
	cl.tracer.updateNodes()

	ctx, cancel := context.WithTimeout(ctx, cl.updateTimeout)
	defer cancel()

	checked := checkNodes(ctx, cl.discoverer, cl.checker, cl.picker.CompareNodes, cl.maxReplicaDelay, cl.tracer)
	cl.checkedNodes.Store(checked)

	if err := checked.Err(); err != nil {
		level.Warn(cl.logger).Log("msg", "nodes check failed", "alive", len(checked.Alive()), "err", err)
	} else {
		level.Debug(cl.logger).Log("msg", "nodes checked", "alive", len(checked.Alive()))
	}

	cl.tracer.nodesUpdated(checked)

	cl.notifyWaiters(checked)

	cl.tracer.waitersNotified()
}
