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

package base

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSentinelEntryPushesStack(t *testing.T) {
	cc := GetOrCreateContext("entry-test-root", "")
	chain := NewSlotChain()

	ctx1 := chain.GetPooledContext()
	e1 := NewSentinelEntry(ctx1, chain, cc)
	assert.Nil(t, e1.Parent())
	assert.Same(t, e1, cc.CurEntry())
	assert.Same(t, e1, ctx1.Entry())

	ctx2 := chain.GetPooledContext()
	e2 := NewSentinelEntry(ctx2, chain, cc)
	assert.Same(t, e1, e2.Parent())
	assert.Same(t, e2, e1.Child())
	assert.Same(t, e2, cc.CurEntry())

	require.NoError(t, e2.Exit())
	assert.Same(t, e1, cc.CurEntry())
	assert.Nil(t, e1.Child())

	require.NoError(t, e1.Exit())
	assert.Nil(t, cc.CurEntry())
}

func TestEntryExitOrderViolationIsMispaired(t *testing.T) {
	cc := GetOrCreateContext("entry-test-mispair", "")
	chain := NewSlotChain()

	ctx1 := chain.GetPooledContext()
	e1 := NewSentinelEntry(ctx1, chain, cc)
	ctx2 := chain.GetPooledContext()
	e2 := NewSentinelEntry(ctx2, chain, cc)

	err := e1.Exit()
	assert.Error(t, err)
	assert.IsType(t, &MispairError{}, err)

	require.NoError(t, e2.Exit())
}

func TestEntryDoubleExitFails(t *testing.T) {
	cc := GetOrCreateContext("entry-test-double-exit", "")
	chain := NewSlotChain()
	ctx := chain.GetPooledContext()
	e := NewSentinelEntry(ctx, chain, cc)

	require.NoError(t, e.Exit())
	err := e.Exit()
	assert.Error(t, err)
}

func TestPooledContextReuseSurvivesPriorBlock(t *testing.T) {
	chain := NewSlotChain()
	ctx := chain.GetPooledContext()
	ctx.RuleCheckResult = NewTokenResultBlocked(NewBlockError(BlockTypeFlow, "blocked", nil))
	chain.RefurbishContext(ctx)

	reused := chain.GetPooledContext()
	require.NotNil(t, reused.RuleCheckResult)
	assert.True(t, reused.RuleCheckResult.IsPass())
}
