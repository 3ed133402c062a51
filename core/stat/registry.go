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

// clusterNodeMap is the process-wide resource-name -> ClusterNode
// registry: exactly one ClusterNode per resource name, per the data
// model's invariant. Guarded by clusterNodeMu on both the read and the
// write path.
var (
	clusterNodeMu  sync.Mutex
	clusterNodeMap = make(map[string]*ClusterNode)
)

// GetOrCreateClusterNode returns the ClusterNode for resourceName,
// creating it on first use.
func GetOrCreateClusterNode(resourceName string, resourceType base.ResourceType) *ClusterNode {
	clusterNodeMu.Lock()
	defer clusterNodeMu.Unlock()
	if cn, ok := clusterNodeMap[resourceName]; ok {
		return cn
	}
	cn := NewClusterNode(resourceName, resourceType)
	newMap := make(map[string]*ClusterNode, len(clusterNodeMap)+1)
	for k, v := range clusterNodeMap {
		newMap[k] = v
	}
	newMap[resourceName] = cn
	clusterNodeMap = newMap
	return cn
}

// GetResourceNode returns the ClusterNode for resourceName, or nil if the
// resource has never been entered.
func GetResourceNode(resourceName string) base.StatNode {
	clusterNodeMu.Lock()
	cn, ok := clusterNodeMap[resourceName]
	clusterNodeMu.Unlock()
	if !ok {
		return nil
	}
	return cn
}

// ResourceNodeList returns a snapshot of every ClusterNode created so far,
// used by the metric aggregator to sweep all resources each tick.
func ResourceNodeList() []*ClusterNode {
	clusterNodeMu.Lock()
	defer clusterNodeMu.Unlock()
	out := make([]*ClusterNode, 0, len(clusterNodeMap))
	for _, cn := range clusterNodeMap {
		out = append(out, cn)
	}
	return out
}

var inboundNodeOnce sync.Once
var inboundNode *ClusterNode

// InboundNode is the process-wide aggregate across every inbound resource,
// incremented by StatSlot alongside each resource's own node whenever
// ctx.Resource.FlowType() == base.Inbound.
func InboundNode() *ClusterNode {
	inboundNodeOnce.Do(func() {
		inboundNode = NewClusterNode("__inbound__", base.ResTypeCommon)
	})
	return inboundNode
}

// ResetForTest clears every process-wide registry. It exists solely so
// tests can start from a clean slate without sharing state across cases
// that each expect their own DefaultNode/ClusterNode bookkeeping.
func ResetForTest() {
	clusterNodeMu.Lock()
	clusterNodeMap = make(map[string]*ClusterNode)
	clusterNodeMu.Unlock()
	inboundNodeOnce = sync.Once{}
}
