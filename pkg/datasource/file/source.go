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

// Package file is a flow-rule datasource backed by a single JSON or YAML
// file on disk: Source watches it with fsnotify and hot-reloads
// core/flow's rule table whenever it changes, debounced so an editor's
// multi-write save doesn't trigger a reload per write.
package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	yaml "gopkg.in/yaml.v2"

	"github.com/shieldflow/shieldflow/core/flow"
	"github.com/shieldflow/shieldflow/logging"
)

const defaultDebounce = 300 * time.Millisecond

// Source watches one rule file and keeps core/flow's rule table in sync
// with its contents.
type Source struct {
	path     string
	debounce time.Duration

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu           sync.Mutex
	pendingSince time.Time
	pending      bool
}

// NewSource builds a Source for path without starting it. Call Start to
// begin watching, after an initial Load if the caller wants the rules
// in effect before the watcher is live.
func NewSource(path string) (*Source, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Source{
		path:     path,
		debounce: defaultDebounce,
		watcher:  w,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Load reads the file once and installs its rules immediately, without
// requiring the watcher to have fired yet.
func (s *Source) Load() error {
	rules, err := parseRuleFile(s.path)
	if err != nil {
		return err
	}
	return flow.LoadRules(rules)
}

// Start begins watching the file's directory for changes (watching the
// directory rather than the file itself survives editors that
// save-by-rename, which replaces the watched inode).
func (s *Source) Start() {
	s.wg.Add(2)
	go s.watchLoop()
	go s.debounceLoop()
}

// Stop halts watching and releases the fsnotify handle.
func (s *Source) Stop() {
	s.cancel()
	s.watcher.Close()
	s.wg.Wait()
}

func (s *Source) watchLoop() {
	defer s.wg.Done()
	target := filepath.Clean(s.path)
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			s.schedule()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("file rule source watch error", "error", err.Error())
		}
	}
}

func (s *Source) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = true
	s.pendingSince = time.Now()
}

func (s *Source) debounceLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.maybeReload()
		}
	}
}

func (s *Source) maybeReload() {
	s.mu.Lock()
	ready := s.pending && time.Since(s.pendingSince) >= s.debounce
	if ready {
		s.pending = false
	}
	s.mu.Unlock()

	if !ready {
		return
	}
	if err := s.Load(); err != nil {
		logging.Error(err, "failed to reload flow rules from file", "path", s.path)
	}
}

func parseRuleFile(path string) ([]*flow.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rules []*flow.Rule
	if looksLikeYAML(path) {
		err = yaml.Unmarshal(data, &rules)
	} else {
		err = json.Unmarshal(data, &rules)
	}
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func looksLikeYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yml" || ext == ".yaml"
}
