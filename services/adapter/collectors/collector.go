// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package collectors turn application activity into adapter events.
//
// Each collector serves one stream and emits through an Emitter, normally
// the *adapter.Adapter. After Close a collector emits nothing.
//
//	StateCollector       redux       action_dispatched, state_diff, state_snapshot
//	NavigationCollector  navigation  route_change, navigation_snapshot
//	StorageCollector     mmkv        key_set, key_delete, storage_snapshot
//
// FileSource drives a StateCollector from a JSON file on disk.
package collectors

import (
	"github.com/AleutianAI/agent-devtools/pkg/protocol"
)

// Emitter records one event. *adapter.Adapter implements it.
type Emitter interface {
	Emit(stream protocol.Stream, eventType protocol.EventType, payload map[string]any) (protocol.Event, error)
}
