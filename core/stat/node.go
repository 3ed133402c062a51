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

// ClusterNode is the per-resource global statistics aggregator: exactly
// one per resource name, shared across every context that enters that
// resource. It also indexes origin-partitioned StatisticNodes by caller
// name; StatSlot records into them, and flow rules do not read them.
type ClusterNode struct {
	*StatisticNode
	resourceName   string
	resourceType   base.ResourceType
	originCountMu  sync.Mutex
	originCountMap map[string]*StatisticNode
}

func NewClusterNode(resourceName string, resourceType base.ResourceType) *ClusterNode {
	return &ClusterNode{
		StatisticNode:  NewStatisticNode(),
		resourceName:   resourceName,
		resourceType:   resourceType,
		originCountMap: make(map[string]*StatisticNode),
	}
}

func (cn *ClusterNode) ResourceName() string {
	return cn.resourceName
}

func (cn *ClusterNode) ResourceType() base.ResourceType {
	return cn.resourceType
}

// OriginNode returns (creating if absent) the per-origin StatisticNode for
// the given caller name. The map is copy-on-write: writers build a new map
// and publish it under originCountMu, and reads take the same mutex only
// long enough to load the current map before looking up in it — writes
// are rare (one per unique origin ever seen) while reads happen on every
// request carrying an origin.
func (cn *ClusterNode) OriginNode(origin string) *StatisticNode {
	if origin == "" {
		return nil
	}
	m := cn.loadOriginMap()
	if sn, ok := m[origin]; ok {
		return sn
	}

	cn.originCountMu.Lock()
	defer cn.originCountMu.Unlock()
	// Re-check under the lock: another writer may have just published it.
	if sn, ok := cn.originCountMap[origin]; ok {
		return sn
	}
	newMap := make(map[string]*StatisticNode, len(cn.originCountMap)+1)
	for k, v := range cn.originCountMap {
		newMap[k] = v
	}
	sn := NewStatisticNode()
	newMap[origin] = sn
	cn.originCountMap = newMap
	return sn
}

func (cn *ClusterNode) loadOriginMap() map[string]*StatisticNode {
	cn.originCountMu.Lock()
	defer cn.originCountMu.Unlock()
	return cn.originCountMap
}

// DefaultNode is the per-(context-name, resource) statistics node: one per
// distinct context that has entered this resource. Its children form the
// calling tree under the context's entrance node; it forwards every
// counter update to its ClusterNode so a resource's global statistics
// reflect every context that touches it.
type DefaultNode struct {
	*StatisticNode
	resource    *base.ResourceWrapper
	clusterNode *ClusterNode

	childrenMu sync.Mutex
	children   []*DefaultNode
}

func NewDefaultNode(resource *base.ResourceWrapper, clusterNode *ClusterNode) *DefaultNode {
	return &DefaultNode{
		StatisticNode: NewStatisticNode(),
		resource:      resource,
		clusterNode:   clusterNode,
	}
}

func (dn *DefaultNode) Resource() *base.ResourceWrapper {
	return dn.resource
}

func (dn *DefaultNode) ClusterNode() *ClusterNode {
	return dn.clusterNode
}

// AddCount increments this node's own window AND forwards to the
// ClusterNode, so per-context and resource-global statistics stay
// consistent from a single call site (StatSlot never has to remember to
// call both).
func (dn *DefaultNode) AddCount(event base.MetricEvent, count int64) {
	dn.StatisticNode.AddCount(event, count)
	if dn.clusterNode != nil {
		dn.clusterNode.AddCount(event, count)
	}
}

func (dn *DefaultNode) IncreaseConcurrency() {
	dn.StatisticNode.IncreaseConcurrency()
	if dn.clusterNode != nil {
		dn.clusterNode.IncreaseConcurrency()
	}
}

func (dn *DefaultNode) DecreaseConcurrency() {
	dn.StatisticNode.DecreaseConcurrency()
	if dn.clusterNode != nil {
		dn.clusterNode.DecreaseConcurrency()
	}
}

// AddChild records a calling-tree edge from this node to child. Edges go
// parent to child only — there is no back-reference, so there is nothing
// to form a cycle.
func (dn *DefaultNode) AddChild(child *DefaultNode) {
	dn.childrenMu.Lock()
	defer dn.childrenMu.Unlock()
	for _, c := range dn.children {
		if c == child {
			return
		}
	}
	dn.children = append(dn.children, child)
}

func (dn *DefaultNode) Children() []*DefaultNode {
	dn.childrenMu.Lock()
	defer dn.childrenMu.Unlock()
	out := make([]*DefaultNode, len(dn.children))
	copy(out, dn.children)
	return out
}

// entranceResource is the pseudo-resource identity an EntranceNode is
// keyed under: it is never subject to flow rules, only to node-tree
// bookkeeping and metrics.
func entranceResource(contextName string) *base.ResourceWrapper {
	return base.NewResourceWrapper(contextName, base.ResTypeCommon, base.Inbound)
}

var (
	rootClusterNodeOnce sync.Once
	rootClusterNode     *ClusterNode
)

// rootNode is the shared ClusterNode backing every EntranceNode, named
// after base.RootContextName ("machine-root"): the parent of every named
// context's entrance node, matching the data model's shared root.
func rootNode() *ClusterNode {
	rootClusterNodeOnce.Do(func() {
		rootClusterNode = NewClusterNode(base.RootContextName, base.ResTypeCommon)
	})
	return rootClusterNode
}

// NewEntranceNode builds the DefaultNode rooting a new named Context's
// calling tree, parented (via ClusterNode) under the shared root. It is
// installed as base.EntranceNodeFactory by this package's init, breaking
// the core/base <-> core/stat import cycle.
func NewEntranceNode(contextName string) base.StatNode {
	return NewDefaultNode(entranceResource(contextName), rootNode())
}

func init() {
	base.EntranceNodeFactory = NewEntranceNode
}
