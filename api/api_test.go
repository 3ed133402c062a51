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

package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shieldflow/shieldflow/core/base"
	"github.com/shieldflow/shieldflow/core/flow"
)

func TestEntryAdmitsAndExits(t *testing.T) {
	defer flow.ClearRules()
	entry, blockErr := Entry("api-test-basic")
	require.Nil(t, blockErr)
	require.NotNil(t, entry)
	assert.NotEmpty(t, entry.EntryContext().RequestID)
	assert.NoError(t, entry.Exit())
}

func TestEntryBlockedByFlowRuleNeedsNoExit(t *testing.T) {
	defer flow.ClearRules()
	require.NoError(t, flow.LoadRules([]*flow.Rule{{Resource: "api-test-blocked", Count: 0}}))

	entry, blockErr := Entry("api-test-blocked")
	assert.Nil(t, entry)
	require.NotNil(t, blockErr)
	assert.Equal(t, base.BlockTypeFlow, blockErr.BlockType())
}

func TestEntryReusesContextEntranceNode(t *testing.T) {
	defer flow.ClearRules()
	e1, err1 := Entry("api-test-cache")
	require.Nil(t, err1)
	require.NoError(t, e1.Exit())

	e2, err2 := Entry("api-test-cache")
	require.Nil(t, err2)
	require.NoError(t, e2.Exit())

	assert.Same(t, e1.Context().EntranceNode(), e2.Context().EntranceNode())
}

func TestInboundEntrySetsInboundTrafficType(t *testing.T) {
	defer flow.ClearRules()
	entry, blockErr := InboundEntry("api-test-inbound")
	require.Nil(t, blockErr)
	require.NotNil(t, entry)
	assert.Equal(t, base.Inbound, entry.EntryContext().Resource.FlowType())
	require.NoError(t, entry.Exit())
}

func TestWithOriginAttachesCallerIdentity(t *testing.T) {
	defer flow.ClearRules()
	entry, blockErr := Entry("api-test-origin", WithOrigin("caller-svc"), WithContextName("api-test-origin-ctx"))
	require.Nil(t, blockErr)
	require.NotNil(t, entry)
	assert.Equal(t, "caller-svc", entry.Context().Origin())
	require.NoError(t, entry.Exit())
}
