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
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.yandex/chhttp"
	"golang.yandex/chhttp/chtest"
)

// mockNodesDiscoverer returns stored results to tests
type mockNodesDiscoverer struct {
	nodes []*Node
	err   error
}

func (e mockNodesDiscoverer) DiscoverNodes(_ context.Context) ([]*Node, error) {
	return e.nodes, e.err
}

func newMockNode(t *testing.T, name string) (*Node, *chtest.Mock) {
	t.Helper()

	mock := chtest.NewMock()
	t.Cleanup(func() { assert.NoError(t, mock.Close()) })

	cl, err := chhttp.NewClient(chhttp.WithURL(mock.URL()))
	require.NoError(t, err)
	return NewNode(name, cl), mock
}

func newDeadNode(t *testing.T, name string) *Node {
	t.Helper()

	mock := chtest.NewMock()
	url := mock.URL()
	require.NoError(t, mock.Close())

	cl, err := chhttp.NewClient(chhttp.WithURL(url))
	require.NoError(t, err)
	return NewNode(name, cl)
}

func TestCheckNodes(t *testing.T) {
	ctx := context.Background()

	t.Run("discovery_error", func(t *testing.T) {
		discoverer := mockNodesDiscoverer{err: io.EOF}

		nodes := checkNodes(ctx, discoverer, PingChecker, new(RandomNodePicker).CompareNodes, 0, Tracer{})
		assert.Empty(t, nodes.Discovered())
		assert.Empty(t, nodes.Alive())
		assert.ErrorIs(t, nodes.Err(), io.EOF)
	})

	t.Run("replica_roles", func(t *testing.T) {
		primary, primaryMock := newMockNode(t, "primary")
		standby, standbyMock := newMockNode(t, "standby")
		dead := newDeadNode(t, "dead")

		primaryMock.Add(chtest.Provide(replicaStatus{ReadOnly: 0, Delay: 0}))
		standbyMock.Add(chtest.Provide(replicaStatus{ReadOnly: 1, Delay: 3}))

		var deadNodes atomic.Int32
		tracer := Tracer{
			NodeDead: func(error) { deadNodes.Add(1) },
		}

		nodes := checkNodes(ctx, NewStaticNodeDiscoverer(primary, standby, dead), ReplicaChecker, new(ReplicaDelayNodePicker).CompareNodes, 0, tracer)

		require.Len(t, nodes.Alive(), 2)
		assert.Equal(t, primary, nodes.Alive()[0].Node)
		assert.Equal(t, standby, nodes.Alive()[1].Node)

		require.Len(t, nodes.Primaries(), 1)
		assert.Equal(t, primary, nodes.Primaries()[0].Node)
		require.Len(t, nodes.Standbys(), 1)
		assert.Equal(t, standby, nodes.Standbys()[0].Node)
		assert.Equal(t, 3*time.Second, nodes.Standbys()[0].Info.(NodeInfo).ReplicationDelay())

		var cerrs NodeCheckErrors
		require.ErrorAs(t, nodes.Err(), &cerrs)
		require.Len(t, cerrs, 1)
		assert.Equal(t, dead, cerrs[0].Node())
		assert.True(t, cerrs[0].Unreachable())
		assert.Zero(t, cerrs[0].StatusCode())
		assert.Equal(t, []*Node{dead}, cerrs.Unreachable())
		assert.Contains(t, cerrs.Error(), "node dead: ")
		assert.EqualValues(t, 1, deadNodes.Load())
	})

	t.Run("replica_delay_limit", func(t *testing.T) {
		fresh, freshMock := newMockNode(t, "fresh")
		stale, staleMock := newMockNode(t, "stale")

		freshMock.Add(chtest.Provide(replicaStatus{Delay: 1}))
		staleMock.Add(chtest.Provide(replicaStatus{Delay: 600}))

		nodes := checkNodes(ctx, NewStaticNodeDiscoverer(fresh, stale), ReplicaChecker, new(RoundRobinNodePicker).CompareNodes, time.Minute, Tracer{})

		require.Len(t, nodes.Alive(), 1)
		assert.Equal(t, fresh, nodes.Alive()[0].Node)
		assert.ErrorIs(t, nodes.Err(), errReplicaDelay)
	})

	t.Run("query_checker", func(t *testing.T) {
		writable, writableMock := newMockNode(t, "writable")
		readonly, readonlyMock := newMockNode(t, "readonly")

		writableMock.Add(chtest.Provide(true))
		readonlyMock.Add(chtest.Provide(false))

		checker := QueryChecker("SELECT getSetting('readonly') = 0")
		nodes := checkNodes(ctx, NewStaticNodeDiscoverer(writable, readonly), checker, new(RoundRobinNodePicker).CompareNodes, 0, Tracer{})
		require.NoError(t, nodes.Err())

		require.Len(t, nodes.Primaries(), 1)
		assert.Equal(t, writable, nodes.Primaries()[0].Node)
		require.Len(t, nodes.Standbys(), 1)
		assert.Equal(t, readonly, nodes.Standbys()[0].Node)
	})

	t.Run("server_rejects_check", func(t *testing.T) {
		node, mock := newMockNode(t, "forbidden")
		mock.Add(chtest.Failure(http.StatusForbidden))

		nodes := checkNodes(ctx, NewStaticNodeDiscoverer(node), ReplicaChecker, new(RandomNodePicker).CompareNodes, 0, Tracer{})
		assert.Empty(t, nodes.Alive())

		var berr *chhttp.BadResponseError
		require.ErrorAs(t, nodes.Err(), &berr)
		assert.Equal(t, "Forbidden", berr.Reason)

		var cerrs NodeCheckErrors
		require.ErrorAs(t, nodes.Err(), &cerrs)
		require.Len(t, cerrs, 1)
		assert.Equal(t, http.StatusForbidden, cerrs[0].StatusCode())
		assert.False(t, cerrs[0].Unreachable())
		assert.Empty(t, cerrs.Unreachable())
	})
}

func TestPickNodeByCriteria(t *testing.T) {
	primary := CheckedNode{Node: NewNode("primary", nil), Info: NodeInfo{ClusterRole: NodeRolePrimary}}
	standby := CheckedNode{Node: NewNode("standby", nil), Info: NodeInfo{ClusterRole: NodeRoleStandby}}

	full := CheckedNodes{
		alive:     []CheckedNode{primary, standby},
		primaries: []CheckedNode{primary},
		standbys:  []CheckedNode{standby},
	}
	onlyPrimary := CheckedNodes{
		alive:     []CheckedNode{primary},
		primaries: []CheckedNode{primary},
	}
	onlyStandby := CheckedNodes{
		alive:    []CheckedNode{standby},
		standbys: []CheckedNode{standby},
	}

	inputs := []struct {
		Name     string
		Nodes    CheckedNodes
		Criteria NodeStateCriteria
		Expected *Node
	}{
		{Name: "primary", Nodes: full, Criteria: Primary, Expected: primary.Node},
		{Name: "standby", Nodes: full, Criteria: Standby, Expected: standby.Node},
		{Name: "no_standby", Nodes: onlyPrimary, Criteria: Standby},
		{Name: "no_primary", Nodes: onlyStandby, Criteria: Primary},
		{Name: "prefer_primary", Nodes: onlyStandby, Criteria: PreferPrimary, Expected: standby.Node},
		{Name: "prefer_standby", Nodes: onlyPrimary, Criteria: PreferStandby, Expected: primary.Node},
		{Name: "alive", Nodes: onlyPrimary, Criteria: Alive, Expected: primary.Node},
		{Name: "empty", Nodes: CheckedNodes{}, Criteria: Alive},
	}

	for _, input := range inputs {
		t.Run(input.Name, func(t *testing.T) {
			assert.Equal(t, input.Expected, pickNodeByCriteria(input.Nodes, new(RoundRobinNodePicker), input.Criteria))
		})
	}
}

func TestNewCluster(t *testing.T) {
	_, err := NewCluster(nil, PingChecker)
	assert.Error(t, err)

	_, err = NewCluster(NewStaticNodeDiscoverer(), nil)
	assert.Error(t, err)
}

func TestClusterWaitForNode(t *testing.T) {
	alive, _ := newMockNode(t, "alive")
	dead := newDeadNode(t, "dead")

	updated := make(chan CheckedNodes, 1)
	cl, err := NewCluster(
		NewStaticNodeDiscoverer(alive, dead),
		PingChecker,
		WithUpdateInterval(time.Hour),
		WithNodePicker(new(LatencyNodePicker)),
		WithTracer(Tracer{
			NodesUpdated: func(nodes CheckedNodes) {
				select {
				case updated <- nodes:
				default:
				}
			},
		}),
	)
	require.NoError(t, err)
	defer func() { assert.NoError(t, cl.Close()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	node, err := cl.WaitForNode(ctx, Primary)
	require.NoError(t, err)
	assert.Equal(t, alive, node)

	<-updated
	assert.Equal(t, alive, cl.Node(PreferStandby))
	assert.Nil(t, cl.Node(Standby))

	var cerrs NodeCheckErrors
	require.ErrorAs(t, cl.Err(), &cerrs)
	assert.Equal(t, dead, cerrs[0].Node())

	ctx, cancel = context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = cl.WaitForNode(ctx, Standby)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	// abandoned waiter is forgotten
	cl.waitersMu.Lock()
	assert.Empty(t, cl.waiters)
	cl.waitersMu.Unlock()
}

func TestClusterCloseReleasesWaiters(t *testing.T) {
	node, _ := newMockNode(t, "primary")

	cl, err := NewCluster(NewStaticNodeDiscoverer(node), PingChecker, WithUpdateInterval(time.Hour))
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := cl.WaitForNode(context.Background(), Standby)
		errs <- err
	}()

	require.Eventually(t, func() bool {
		cl.waitersMu.Lock()
		defer cl.waitersMu.Unlock()
		return len(cl.waiters) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, cl.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrClusterClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForNode is still blocked after Close")
	}
}

func TestNotifyWaiters(t *testing.T) {
	primary := CheckedNode{Node: NewNode("primary", nil), Info: NodeInfo{ClusterRole: NodeRolePrimary}}
	cl := &Cluster{picker: new(RandomNodePicker)}

	primaryWaiter := cl.addWaiter(Primary)
	standbyWaiter := cl.addWaiter(Standby)

	cl.notifyWaiters(CheckedNodes{alive: []CheckedNode{primary}, primaries: []CheckedNode{primary}})

	assert.Equal(t, primary.Node, <-primaryWaiter.ch)
	assert.Equal(t, []*waiter{standbyWaiter}, cl.waiters)
	assert.Empty(t, standbyWaiter.ch)
}
