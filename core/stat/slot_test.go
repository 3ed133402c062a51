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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shieldflow/shieldflow/core/base"
)

func TestNodeSelectorAndClusterBuilderSlots(t *testing.T) {
	defer ResetForTest()
	resource := base.NewResourceWrapper("slot-prepare-res", base.ResTypeCommon, base.Outbound)
	nodeSelector := NewNodeSelectorSlot(resource)
	clusterBuilder := NewClusterBuilderSlot(resource)

	cc := base.GetOrCreateContext("slot-prepare-ctx", "caller-a")
	chain := base.NewSlotChain()
	ctx := chain.GetPooledContext()
	entry := base.NewSentinelEntry(ctx, chain, cc)

	nodeSelector.Prepare(ctx)
	clusterBuilder.Prepare(ctx)

	require.NotNil(t, ctx.StatNode)
	dn, ok := ctx.StatNode.(*DefaultNode)
	require.True(t, ok)
	assert.Equal(t, resource, dn.Resource())
	require.NotNil(t, ctx.ClusterNode)
	require.NotNil(t, ctx.OriginNode)

	cn := GetOrCreateClusterNode(resource.Name(), resource.Classification())
	assert.Same(t, cn, ctx.ClusterNode)

	require.NoError(t, entry.Exit())
}

func TestNodeSelectorSlotReusesNodePerContext(t *testing.T) {
	defer ResetForTest()
	resource := base.NewResourceWrapper("slot-reuse-res", base.ResTypeCommon, base.Outbound)
	nodeSelector := NewNodeSelectorSlot(resource)
	cc := base.GetOrCreateContext("slot-reuse-ctx", "")
	chain := base.NewSlotChain()

	ctx1 := chain.GetPooledContext()
	e1 := base.NewSentinelEntry(ctx1, chain, cc)
	nodeSelector.Prepare(ctx1)
	require.NoError(t, e1.Exit())

	ctx2 := chain.GetPooledContext()
	e2 := base.NewSentinelEntry(ctx2, chain, cc)
	nodeSelector.Prepare(ctx2)
	require.NoError(t, e2.Exit())

	assert.Same(t, ctx1.StatNode, ctx2.StatNode)
}
