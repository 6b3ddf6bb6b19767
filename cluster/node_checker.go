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
	"time"

	"golang.yandex/chhttp"
)

// NodeRole represents role of node in ClickHouse cluster
type NodeRole uint8

const (
	NodeRoleUnknown NodeRole = iota
	// NodeRolePrimary is a node accepting writes
	NodeRolePrimary
	// NodeRoleStandby is a node with read-only replicated tables
	NodeRoleStandby
)

// NodeInfoProvider information about single cluster node
type NodeInfoProvider interface {
	// Role reports role of node in cluster
	Role() NodeRole
}

var _ NodeInfoProvider = NodeInfo{}

// NodeInfo contains various information about single cluster node.
// It implements NodeInfoProvider with additional useful information
type NodeInfo struct {
	// ClusterRole contains determined node's role in cluster
	ClusterRole NodeRole
	// NetworkLatency stores time that has been spent to send check request
	// and receive response from server
	NetworkLatency time.Duration
	// ReplicaDelay is the largest absolute_delay of replicated tables on node
	ReplicaDelay time.Duration
}

// Role reports determined role of node in cluster
func (n NodeInfo) Role() NodeRole {
	return n.ClusterRole
}

// Latency reports time spend on check from client's point of view.
// It can be used in LatencyNodePicker to determine node with fastest response time
func (n NodeInfo) Latency() time.Duration {
	return n.NetworkLatency
}

// ReplicationDelay reports how far replicated tables on node are behind.
// It can be used in ReplicaDelayNodePicker to determine node with most up-to-date data
func (n NodeInfo) ReplicationDelay() time.Duration {
	return n.ReplicaDelay
}

// NodeChecker is a function that can perform request to ClickHouse node and retrieve various information
type NodeChecker func(context.Context, *chhttp.Client) (NodeInfoProvider, error)

// PingChecker checks that node answers /ping. Every alive node is considered primary.
func PingChecker(ctx context.Context, cl *chhttp.Client) (NodeInfoProvider, error) {
	start := time.Now()

	if err := cl.Ping(ctx); err != nil {
		return nil, err
	}

	return NodeInfo{
		ClusterRole:    NodeRolePrimary,
		NetworkLatency: time.Since(start),
	}, nil
}

// replicaStatus is a summary of system.replicas of a single node
type replicaStatus struct {
	ReadOnly uint8  `ch:"readonly"`
	Delay    uint32 `ch:"delay"`
}

// ReplicaChecker checks replication state of node.
// Node with any read-only replicated table is reported as standby.
// Node without replicated tables is primary with zero delay.
func ReplicaChecker(ctx context.Context, cl *chhttp.Client) (NodeInfoProvider, error) {
	start := time.Now()

	status, err := chhttp.FetchOne[replicaStatus](ctx, cl.Query(`
		SELECT
			toUInt8(max(is_readonly)) AS readonly,
			toUInt32(max(absolute_delay)) AS delay
		FROM system.replicas
	`))
	if err != nil {
		return nil, err
	}

	role := NodeRolePrimary
	if status.ReadOnly != 0 {
		role = NodeRoleStandby
	}

	return NodeInfo{
		ClusterRole:    role,
		NetworkLatency: time.Since(start),
		ReplicaDelay:   time.Duration(status.Delay) * time.Second,
	}, nil
}

// QueryChecker returns checker executing query which must return single Bool value
// that signals if node is primary or not. All errors are returned as is.
func QueryChecker(query string) NodeChecker {
	return func(ctx context.Context, cl *chhttp.Client) (NodeInfoProvider, error) {
		start := time.Now()

		primary, err := chhttp.FetchOne[bool](ctx, cl.Query(query))
		if err != nil {
			return nil, err
		}

		role := NodeRoleStandby
		if primary {
			role = NodeRolePrimary
		}

		return NodeInfo{
			ClusterRole:    role,
			NetworkLatency: time.Since(start),
		}, nil
	}
}
