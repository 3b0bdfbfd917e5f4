// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/agent-devtools/pkg/logging"
)

// ErrNotJSONObject is returned when the state file's top level is not an
// object.
var ErrNotJSONObject = errors.New("state file must contain a JSON object")

// DefaultDebounce collapses bursts of writes from editors.
const DefaultDebounce = 50 * time.Millisecond

// FileSource feeds a JSON file's contents into a StateCollector.
//
// # Description
//
// Every reload dispatches ActionReplaceState with the decoded file, so the
// collector emits state_diff events for changed top-level keys. The parent
// directory is watched rather than the file itself, which keeps working
// when editors replace the file by rename.
//
// # Thread Safety
//
// Load may be called concurrently with Run.
type FileSource struct {
	path      string
	collector *StateCollector
	log       *logging.Logger
	debounce  time.Duration

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// NewFileSource creates a source for path. It does not read the file.
func NewFileSource(path string, collector *StateCollector, log *logging.Logger) (*FileSource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve state file: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if log == nil {
		log = logging.Discard()
	}
	return &FileSource{
		path:      abs,
		collector: collector,
		log:       log.With("component", "file_source", "path", abs),
		debounce:  DefaultDebounce,
		watcher:   watcher,
		done:      make(chan struct{}),
	}, nil
}

// Load reads the file and dispatches its contents.
func (f *FileSource) Load() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read state file: %w", err)
	}
	var state map[string]any
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decode state file: %w", err)
	}
	if state == nil {
		return ErrNotJSONObject
	}
	f.collector.Dispatch(Action{
		Type:    ActionReplaceState,
		Payload: state,
		Meta:    map[string]any{"source": filepath.Base(f.path)},
	})
	return nil
}

// Run loads the file, then reloads it on every change until ctx is
// cancelled or Close is called.
func (f *FileSource) Run(ctx context.Context) error {
	if err := f.watcher.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(f.path), err)
	}
	if err := f.Load(); err != nil {
		return err
	}

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.done:
			return nil
		case event, ok := <-f.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(f.debounce)
			} else {
				timer.Reset(f.debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			if err := f.Load(); err != nil {
				f.log.Warn("state file reload failed", "error", err)
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return nil
			}
			f.log.Warn("watcher error", "error", err)
		}
	}
}

// Close stops Run and releases the watcher. Idempotent.
func (f *FileSource) Close() error {
	var err error
	f.stopOnce.Do(func() {
		close(f.done)
		err = f.watcher.Close()
	})
	return err
}
