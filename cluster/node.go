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
	"golang.yandex/chhttp"
)

// Node of single ClickHouse cluster
type Node struct {
	name   string
	client *chhttp.Client
}

// NewNode constructs node with given name and client bound to its URL
func NewNode(name string, client *chhttp.Client) *Node {
	return &Node{name: name, client: client}
}

// Client returns client of this node
func (n *Node) Client() *chhttp.Client {
	return n.client
}

// String implements Stringer.
// It uses name provided at construction to uniquely identify a single node
func (n *Node) String() string {
	return n.name
}

// NodeStateCriteria represents a node selection criteria
type NodeStateCriteria uint8

const (
	// Alive is a criteria to choose any alive node
	Alive NodeStateCriteria = iota + 1
	// Primary is a criteria to choose node accepting writes
	Primary
	// Standby is a criteria to choose read-only replica
	Standby
	// PreferPrimary is a criteria to choose primary or any alive node
	PreferPrimary
	// PreferStandby is a criteria to choose standby or any alive node
	PreferStandby
)
