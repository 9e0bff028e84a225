/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package enginerpc

import (
	"maps"
	"sync"
)

// pendingTable associates a domain key (breakpoint id, address, file path)
// with the single outstanding request for that key.
type pendingTable[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]V
}

func newPendingTable[K comparable, V any]() *pendingTable[K, V] {
	return &pendingTable[K, V]{
		entries: make(map[K]V),
	}
}

// Put registers v for key. If a request for the key was already outstanding,
// it is replaced and returned with superseded == true.
func (t *pendingTable[K, V]) Put(key K, v V) (previous V, superseded bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	previous, superseded = t.entries[key]
	t.entries[key] = v
	return previous, superseded
}

// Take retrieves and removes the entry for key.
// The second result is false if no request for the key is outstanding.
func (t *pendingTable[K, V]) Take(key K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, found := t.entries[key]
	if found {
		delete(t.entries, key)
	}
	return v, found
}

// Has returns true if a request for key is outstanding.
func (t *pendingTable[K, V]) Has(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, found := t.entries[key]
	return found
}

// Len returns the number of outstanding requests.
func (t *pendingTable[K, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Drain removes all outstanding requests and returns them.
func (t *pendingTable[K, V]) Drain() map[K]V {
	t.mu.Lock()
	defer t.mu.Unlock()

	drained := maps.Clone(t.entries)
	clear(t.entries)
	return drained
}
