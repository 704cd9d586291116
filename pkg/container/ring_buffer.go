// Copyright 2018-2019 The logrange Authors
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

package container

type (
	// RingBuffer - the ring buffer with fixed capacity. The container has
	// head and tail. Pushing to a full buffer evicts the head element.
	RingBuffer[T any] struct {
		v []T
		h int
		n int
	}
)

// NewRingBuffer - returns new ring buffer with size elements reserved
func NewRingBuffer[T any](size int) *RingBuffer[T] {
	if size < 1 {
		panic("size must be positive")
	}
	rb := new(RingBuffer[T])
	rb.v = make([]T, size)
	return rb
}

// Head - returns head's element. Will panic if size of the RingBuffer is 0
func (rb *RingBuffer[T]) Head() T {
	if rb.n == 0 {
		panic("Buffer is empty")
	}
	return rb.v[rb.h]
}

// Tail - returns tail's element. Will panic if size of the RingBuffer is 0
func (rb *RingBuffer[T]) Tail() T {
	if rb.n == 0 {
		panic("Buffer is empty")
	}
	return rb.v[rb.getIdx(rb.h+rb.n-1)]
}

// At - returns element at the index i, counting from the head. Will panic if
// the index is out of bounds
func (rb *RingBuffer[T]) At(i int) T {
	rb.checkIdx(i)
	return rb.v[rb.getIdx(rb.h+i)]
}

// Len - returns current buffer size
func (rb *RingBuffer[T]) Len() int {
	return rb.n
}

// Capacity - returns the buffer capacity
func (rb *RingBuffer[T]) Capacity() int {
	return len(rb.v)
}

// Push - places value v at the tail. If the buffer is full, the head element
// is evicted and returned with true.
func (rb *RingBuffer[T]) Push(v T) (T, bool) {
	var evicted T
	full := rb.n == len(rb.v)
	if full {
		evicted = rb.v[rb.h]
		rb.h = rb.getIdx(rb.h + 1)
	} else {
		rb.n++
	}
	rb.v[rb.getIdx(rb.h+rb.n-1)] = v
	return evicted, full
}

// AdvanceHead - removes the head element and returns it
func (rb *RingBuffer[T]) AdvanceHead() T {
	if rb.n < 1 {
		panic("The buffer is empty")
	}
	var zero T
	v := rb.v[rb.h]
	rb.v[rb.h] = zero
	rb.n--
	rb.h = rb.getIdx(rb.h + 1)
	return v
}

// Search returns the smallest index i in [0, Len()) at which f(At(i)) is
// true, or Len(). f must be false for a prefix of the elements and true for
// the rest of them, as for sort.Search
func (rb *RingBuffer[T]) Search(f func(T) bool) int {
	lo, hi := 0, rb.n
	for lo < hi {
		m := int(uint(lo+hi) >> 1)
		if !f(rb.At(m)) {
			lo = m + 1
		} else {
			hi = m
		}
	}
	return lo
}

// IsFull - returns true if the buffer is full Len() == Capacity()
func (rb *RingBuffer[T]) IsFull() bool {
	return rb.n == len(rb.v)
}

// Clear - drops the buffer size to 0
func (rb *RingBuffer[T]) Clear() {
	var zero T
	for i := range rb.v {
		rb.v[i] = zero
	}
	rb.h = 0
	rb.n = 0
}

func (rb *RingBuffer[T]) getIdx(i int) int {
	if i >= len(rb.v) {
		return i - len(rb.v)
	}
	if i < 0 {
		return len(rb.v) + i
	}
	return i
}

func (rb *RingBuffer[T]) checkIdx(i int) {
	if i < 0 || i >= rb.n {
		panic("Index out of bounds")
	}
}
