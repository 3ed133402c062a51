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

type orderedRuleCheckSlot struct {
	order  uint32
	result *TokenResult
}

func (s *orderedRuleCheckSlot) Order() uint32 { return s.order }
func (s *orderedRuleCheckSlot) Check(ctx *EntryContext) *TokenResult {
	return s.result
}

type countingStatSlot struct {
	order     uint32
	passed    int
	blocked   int
	completed int
}

func (s *countingStatSlot) Order() uint32                                    { return s.order }
func (s *countingStatSlot) OnEntryPassed(ctx *EntryContext)                  { s.passed++ }
func (s *countingStatSlot) OnEntryBlocked(ctx *EntryContext, be *BlockError) { s.blocked++ }
func (s *countingStatSlot) OnCompleted(ctx *EntryContext)                    { s.completed++ }

func TestSlotChainPassThrough(t *testing.T) {
	chain := NewSlotChain()
	stats := &countingStatSlot{}
	chain.AddStatSlot(stats)

	ctx := chain.GetPooledContext()
	result := chain.Entry(ctx)
	require.NotNil(t, result)
	assert.True(t, result.IsPass())
	assert.Equal(t, 1, stats.passed)
	assert.Equal(t, 0, stats.blocked)

	cc := GetOrCreateContext("slot-chain-pass", "")
	entry := NewSentinelEntry(ctx, chain, cc)
	require.NoError(t, entry.Exit())
	assert.Equal(t, 1, stats.completed)
}

func TestSlotChainBlockedSkipsCompleted(t *testing.T) {
	chain := NewSlotChain()
	blockRule := &orderedRuleCheckSlot{order: 10, result: NewTokenResultBlocked(NewBlockError(BlockTypeFlow, "nope", nil))}
	chain.AddRuleCheckSlot(blockRule)
	stats := &countingStatSlot{}
	chain.AddStatSlot(stats)

	ctx := chain.GetPooledContext()
	result := chain.Entry(ctx)
	require.NotNil(t, result)
	assert.True(t, result.IsBlocked())
	assert.Equal(t, 0, stats.passed)
	assert.Equal(t, 1, stats.blocked)

	cc := GetOrCreateContext("slot-chain-blocked", "")
	entry := NewSentinelEntry(ctx, chain, cc)
	// exit() is a no-op for a blocked entry: OnCompleted must not fire.
	chain.exit(ctx)
	assert.Equal(t, 0, stats.completed)
	require.NoError(t, entry.Exit())
	assert.Equal(t, 0, stats.completed)
}

func TestSlotChainRuleCheckOrderStopsAtFirstBlock(t *testing.T) {
	chain := NewSlotChain()
	first := &orderedRuleCheckSlot{order: 1, result: nil}
	second := &orderedRuleCheckSlot{order: 2, result: NewTokenResultBlocked(NewBlockError(BlockTypeSystem, "shed", nil))}
	third := &orderedRuleCheckSlot{order: 3, result: NewTokenResultBlocked(NewBlockError(BlockTypeFlow, "unreached", nil))}
	// Added out of order; SlotChain must sort by Order() before running.
	chain.AddRuleCheckSlot(third)
	chain.AddRuleCheckSlot(first)
	chain.AddRuleCheckSlot(second)

	ctx := chain.GetPooledContext()
	result := chain.Entry(ctx)
	require.True(t, result.IsBlocked())
	assert.Equal(t, BlockTypeSystem, result.BlockError().BlockType())
}
