// Copyright 2025 Philipp Hossner
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

// Package ringbuffer provides a thread-safe, fixed-size circular buffer.
//
//	history := ringbuffer.New[Entry](256)
//	history.Add(entry)
//	recent := history.GetLast(10)
package ringbuffer

import "sync"

// RingBuffer holds the most recent items added to it. When full, Add
// overwrites the oldest item.
type RingBuffer[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int // next write position
	count int
}

// New creates a ring buffer holding up to size items. A size below one is
// treated as one.
func New[T any](size int) *RingBuffer[T] {
	if size < 1 {
		size = 1
	}
	return &RingBuffer[T]{items: make([]T, size)}
}

// Add appends item, evicting the oldest item when the buffer is full.
func (rb *RingBuffer[T]) Add(item T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.items[rb.head] = item
	rb.head = (rb.head + 1) % len(rb.items)
	if rb.count < len(rb.items) {
		rb.count++
	}
}

// GetLast returns up to n of the newest items, oldest first.
func (rb *RingBuffer[T]) GetLast(n int) []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n > rb.count {
		n = rb.count
	}
	if n <= 0 {
		return []T{}
	}

	out := make([]T, n)
	start := rb.head - n
	if start < 0 {
		start += len(rb.items)
	}
	for i := 0; i < n; i++ {
		out[i] = rb.items[(start+i)%len(rb.items)]
	}
	return out
}

// GetAll returns every item, oldest first.
func (rb *RingBuffer[T]) GetAll() []T {
	return rb.GetLast(rb.Len())
}

// Len returns the number of items held.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Cap returns the capacity.
func (rb *RingBuffer[T]) Cap() int {
	return len(rb.items)
}

// Clear removes all items.
func (rb *RingBuffer[T]) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var zero T
	for i := range rb.items {
		rb.items[i] = zero
	}
	rb.head = 0
	rb.count = 0
}
