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

import "fmt"

// BlockType classifies why an entry was blocked. Only flow and system are
// produced by this core; authority/degrade/param are reserved so a host
// slot registered via SlotChain.AddRuleCheckSlot can report in the same
// taxonomy.
type BlockType int8

const (
	BlockTypeFlow BlockType = iota
	BlockTypeSystem
	BlockTypeAuthority
	BlockTypeDegrade
	BlockTypeHotspotParam
)

func (t BlockType) String() string {
	switch t {
	case BlockTypeFlow:
		return "flow"
	case BlockTypeSystem:
		return "system"
	case BlockTypeAuthority:
		return "authority"
	case BlockTypeDegrade:
		return "degrade"
	case BlockTypeHotspotParam:
		return "param"
	default:
		return "unknown"
	}
}

// BlockError is the typed, recoverable failure signalled when a slot
// rejects an entry. The host is expected to catch it at the entry
// boundary; the core never swallows it.
type BlockError struct {
	blockType BlockType
	rule      interface{}
	message   string
}

func NewBlockError(blockType BlockType, message string, rule interface{}) *BlockError {
	return &BlockError{blockType: blockType, rule: rule, message: message}
}

func (e *BlockError) BlockType() BlockType {
	return e.blockType
}

func (e *BlockError) TriggeredRule() interface{} {
	return e.rule
}

func (e *BlockError) Error() string {
	if e.message != "" {
		return fmt.Sprintf("SentinelBlockError: %s: %s", e.blockType, e.message)
	}
	return fmt.Sprintf("SentinelBlockError: %s", e.blockType)
}

// MispairError is the fatal error surfaced when Entry.Exit() is called out
// of LIFO order, or on an already-exited entry. It is never counted as a
// block; it indicates a programming error in the host.
type MispairError struct {
	message string
}

func NewMispairError(message string) *MispairError {
	return &MispairError{message: message}
}

func (e *MispairError) Error() string {
	return "SentinelMispairError: " + e.message
}
