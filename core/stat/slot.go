// Copyright 1999-2020 Alibaba Group Holding Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stat

import (
	"sync"

	"github.com/shieldflow/shieldflow/core/base"
)

const (
	NodeSelectorSlotOrder    = 1000
	ClusterBuilderSlotOrder  = 2000
	StatPrepareSlotOrderBase = NodeSelectorSlotOrder
)

// NodeSelectorSlot maintains a context-name -> DefaultNode mapping, one
// instance per resource slot chain. On entry it looks up (or creates and
// publishes) the DefaultNode for the current named Context and attaches
// it under ctx.LastNode() in the calling tree.
//
// The map is copy-on-write: reads see an immutable snapshot with no
// locking at all, because reads dominate writes by many orders of
// magnitude and the map stabilises after the first entry from each
// distinct context — a plain RWMutex on the read path would contend the
// hot path for no benefit once warm.
type NodeSelectorSlot struct {
	resource *base.ResourceWrapper

	writeMu sync.Mutex
	nodes   map[string]*DefaultNode
}

func NewNodeSelectorSlot(resource *base.ResourceWrapper) *NodeSelectorSlot {
	return &NodeSelectorSlot{resource: resource, nodes: make(map[string]*DefaultNode)}
}

func (s *NodeSelectorSlot) Order() uint32 {
	return NodeSelectorSlotOrder
}

func (s *NodeSelectorSlot) Prepare(ctx *base.EntryContext) {
	entry := ctx.Entry()
	if entry == nil {
		return
	}
	cc := entry.Context()
	if cc == nil {
		return
	}

	m := s.nodes // lock-free read of the current snapshot
	node, ok := m[cc.Name()]
	if !ok {
		node = s.createAndPublish(cc)
	}

	entry.SetCurNode(node)
	ctx.StatNode = node
}

func (s *NodeSelectorSlot) createAndPublish(cc *base.Context) *DefaultNode {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Re-check under the write lock: another goroutine may have already
	// published a node for this context name while we were waiting.
	if node, ok := s.nodes[cc.Name()]; ok {
		return node
	}

	node := NewDefaultNode(s.resource, nil) // ClusterNode attached by ClusterBuilderSlot
	if parent, ok := cc.LastNode().(*DefaultNode); ok {
		parent.AddChild(node)
	}

	newMap := make(map[string]*DefaultNode, len(s.nodes)+1)
	for k, v := range s.nodes {
		newMap[k] = v
	}
	newMap[cc.Name()] = node
	s.nodes = newMap
	return node
}

// ClusterBuilderSlot attaches the resource-global ClusterNode (creating it
// on first use) to the DefaultNode built by NodeSelectorSlot, and resolves
// the per-origin StatisticNode when the owning Context carries an origin.
type ClusterBuilderSlot struct {
	resource *base.ResourceWrapper
}

func NewClusterBuilderSlot(resource *base.ResourceWrapper) *ClusterBuilderSlot {
	return &ClusterBuilderSlot{resource: resource}
}

func (s *ClusterBuilderSlot) Order() uint32 {
	return ClusterBuilderSlotOrder
}

func (s *ClusterBuilderSlot) Prepare(ctx *base.EntryContext) {
	dn, ok := ctx.StatNode.(*DefaultNode)
	if !ok || dn == nil {
		return
	}
	cn := GetOrCreateClusterNode(s.resource.Name(), s.resource.Classification())
	if dn.clusterNode == nil {
		dn.clusterNode = cn
	}
	ctx.ClusterNode = cn

	entry := ctx.Entry()
	if entry == nil || entry.Context() == nil {
		return
	}
	if origin := entry.Context().Origin(); origin != "" {
		ctx.OriginNode = cn.OriginNode(origin)
	}
}
