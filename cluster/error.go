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
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.yandex/chhttp"
)

// NodeCheckError reports failed check of a single node
type NodeCheckError struct {
	node *Node
	err  error
}

// Node returns dead node instance
func (e NodeCheckError) Node() *Node {
	return e.node
}

// Error implements `error` interface
func (e NodeCheckError) Error() string {
	return fmt.Sprintf("node %s: %v", e.node, e.err)
}

// Unwrap returns underlying error
func (e NodeCheckError) Unwrap() error {
	return e.err
}

// StatusCode returns HTTP status of response that failed the check,
// zero if check failed for another reason.
func (e NodeCheckError) StatusCode() int {
	var berr *chhttp.BadResponseError
	if errors.As(e.err, &berr) {
		return berr.StatusCode
	}
	return 0
}

// NodeCheckErrors is a set of failed node checks of a single update.
// It can be inspected with errors.Is/As as every check error is unwrapped.
type NodeCheckErrors []NodeCheckError

// Error implements `error` interface
func (es NodeCheckErrors) Error() string {
	msgs := make([]string, 0, len(es))
	for _, e := range es {
		msgs = append(msgs, e.Error())
	}
	return fmt.Sprintf("%d nodes failed check: %s", len(es), strings.Join(msgs, "; "))
}

// Unwrap returns errors of all failed checks
func (es NodeCheckErrors) Unwrap() []error {
	errs := make([]error, 0, len(es))
	for _, e := range es {
		errs = append(errs, e)
	}
	return errs
}

// Unreachable reports whether check failed in transport, before any response was received
func (e NodeCheckError) Unreachable() bool {
	var uerr *url.Error
	return errors.As(e.err, &uerr)
}

// Unreachable returns nodes which did not respond to check
func (es NodeCheckErrors) Unreachable() []*Node {
	var nodes []*Node
	for _, e := range es {
		if e.Unreachable() {
			nodes = append(nodes, e.Node())
		}
	}
	return nodes
}
