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

import "sync"

// RootContextName is the name of the process-wide root context. Every
// named context's entrance node is parented under the shared root node,
// so a single tree reachable from "machine-root" covers the whole process.
const RootContextName = "machine-root"

// EntranceNodeFactory builds the StatNode that roots a new named Context's
// calling tree. core/stat assigns this at package init time; core/base
// cannot import core/stat directly (core/stat imports core/base), so the
// factory is the seam that breaks the cycle.
var EntranceNodeFactory func(contextName string) StatNode

// Context is the named ambient record for one logical calling thread, per
// the data model: {name, origin, entranceNode, curNode, curEntry}.
// Contexts form a process-wide registry keyed by name; re-entering the
// same named context reuses the entrance node.
type Context struct {
	name         string
	origin       string
	entranceNode StatNode
	curEntry     *SentinelEntry
}

func newContext(name, origin string) *Context {
	var entrance StatNode
	if EntranceNodeFactory != nil {
		entrance = EntranceNodeFactory(name)
	}
	return &Context{
		name:         name,
		origin:       origin,
		entranceNode: entrance,
	}
}

func (c *Context) Name() string {
	return c.name
}

func (c *Context) Origin() string {
	return c.origin
}

func (c *Context) SetOrigin(origin string) {
	c.origin = origin
}

func (c *Context) EntranceNode() StatNode {
	return c.entranceNode
}

// LastNode returns the node the entry on top of this context's stack is
// parented under in the calling tree: its parent entry's node if it has
// one, otherwise the entrance node. Entries are pushed before the chain
// runs, so the entry being prepared is already on top when this is read.
func (c *Context) LastNode() StatNode {
	if c.curEntry != nil && c.curEntry.parent != nil && c.curEntry.parent.curNode != nil {
		return c.curEntry.parent.curNode
	}
	return c.entranceNode
}

// CurEntry returns the entry currently on top of this context's stack, or
// nil if no entry is in flight.
func (c *Context) CurEntry() *SentinelEntry {
	return c.curEntry
}

var (
	contextMapMu sync.Mutex
	contextMap   = make(map[string]*Context)
)

// GetOrCreateContext returns the named Context, creating it (and its
// entrance node) on first use. Contexts are never removed: re-entering the
// same named context always reuses the same entrance node, per the data
// model's lifecycle note.
func GetOrCreateContext(name, origin string) *Context {
	contextMapMu.Lock()
	defer contextMapMu.Unlock()
	c, ok := contextMap[name]
	if !ok {
		c = newContext(name, origin)
		contextMap[name] = c
	} else if origin != "" {
		c.SetOrigin(origin)
	}
	return c
}

// ContextCount reports how many named contexts have been created; used by
// tests asserting that a named context is reused rather than recreated.
func ContextCount() int {
	contextMapMu.Lock()
	defer contextMapMu.Unlock()
	return len(contextMap)
}
