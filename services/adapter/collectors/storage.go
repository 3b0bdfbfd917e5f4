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
	"sort"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/agent-devtools/pkg/logging"
	"github.com/AleutianAI/agent-devtools/pkg/protocol"
)

// StorageCollector is an observed key-value store with named instances.
//
// Set and Delete update the store and emit key_set or key_delete.
// CaptureSnapshot emits storage_snapshot with every instance's contents.
type StorageCollector struct {
	emit   Emitter
	log    *logging.Logger
	closed atomic.Bool

	mu        sync.Mutex
	instances map[string]map[string]any
}

// NewStorageCollector creates an empty store.
func NewStorageCollector(emit Emitter, log *logging.Logger) *StorageCollector {
	if log == nil {
		log = logging.Discard()
	}
	return &StorageCollector{emit: emit, log: log, instances: make(map[string]map[string]any)}
}

// Set stores value under key in instance.
func (c *StorageCollector) Set(instance, key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kv, ok := c.instances[instance]
	if !ok {
		kv = make(map[string]any)
		c.instances[instance] = kv
	}
	kv[key] = value
	c.send(protocol.EventKeySet, map[string]any{"instance": instance, "key": key, "value": value})
}

// Delete removes key from instance. Missing keys emit nothing.
func (c *StorageCollector) Delete(instance, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kv, ok := c.instances[instance]
	if !ok {
		return
	}
	if _, ok := kv[key]; !ok {
		return
	}
	delete(kv, key)
	c.send(protocol.EventKeyDelete, map[string]any{"instance": instance, "key": key})
}

// Keys returns the sorted keys of instance.
func (c *StorageCollector) Keys(instance string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.instances[instance]))
	for k := range c.instances[instance] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CaptureSnapshot emits a copy of every instance.
func (c *StorageCollector) CaptureSnapshot() {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := make(map[string]any, len(c.instances))
	for name, kv := range c.instances {
		entries := make(map[string]any, len(kv))
		for k, v := range kv {
			entries[k] = v
		}
		state[name] = entries
	}
	c.send(protocol.EventStorageSnapshot, map[string]any{"state": state})
}

// Close stops emission.
func (c *StorageCollector) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *StorageCollector) send(eventType protocol.EventType, payload map[string]any) {
	if c.closed.Load() {
		return
	}
	if _, err := c.emit.Emit(protocol.StreamMMKV, eventType, payload); err != nil {
		c.log.Debug("storage event not recorded", "event_type", eventType, "error", err)
	}
}
