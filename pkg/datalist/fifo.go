// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package datalist

import (
	"sync"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

// FIFO is a bounded queue read by a fixed number of consumers. Each
// consumer holds its own cursor and sees every item in insertion order.
// An item is dropped once the slowest cursor has passed it.
type FIFO[T any] struct {
	_mu        sync.Mutex
	_notFull   *sync.Cond
	_notEmpty  *sync.Cond
	_items     []T
	_base      int64
	_cursors   []int64
	_nextIter  int
	_capacity  int
	_eoi       bool
	_cancelled bool
	_total     int64
}

func NewFIFO[T any](capacity, consumers int) *FIFO[T] {
	util.AssertFunc(capacity > 0 && consumers > 0)
	fifo := &FIFO[T]{
		_capacity: capacity,
		_cursors:  make([]int64, consumers),
	}
	fifo._notFull = sync.NewCond(&fifo._mu)
	fifo._notEmpty = sync.NewCond(&fifo._mu)
	return fifo
}

// Insert blocks while the queue is full. It returns false when the queue
// was cancelled and the item was dropped.
func (fifo *FIFO[T]) Insert(item T) bool {
	fifo._mu.Lock()
	defer fifo._mu.Unlock()
	util.AssertFunc(!fifo._eoi)
	for len(fifo._items) >= fifo._capacity && !fifo._cancelled {
		fifo._notFull.Wait()
	}
	if fifo._cancelled {
		return false
	}
	fifo._items = append(fifo._items, item)
	fifo._total++
	fifo._notEmpty.Broadcast()
	return true
}

// EndOfInput closes the producer side. Calling it twice is harmless.
func (fifo *FIFO[T]) EndOfInput() {
	fifo._mu.Lock()
	defer fifo._mu.Unlock()
	if fifo._eoi {
		return
	}
	fifo._eoi = true
	fifo._notEmpty.Broadcast()
}

// GetIterator hands out the next consumer cursor.
func (fifo *FIFO[T]) GetIterator() int {
	fifo._mu.Lock()
	defer fifo._mu.Unlock()
	util.AssertFunc(fifo._nextIter < len(fifo._cursors))
	it := fifo._nextIter
	fifo._nextIter++
	return it
}

// Next blocks until an item is available for it. ok is false at end of
// input or after Cancel.
func (fifo *FIFO[T]) Next(it int) (item T, ok bool) {
	fifo._mu.Lock()
	defer fifo._mu.Unlock()
	for {
		if fifo._cancelled {
			return item, false
		}
		pos := fifo._cursors[it] - fifo._base
		if pos < int64(len(fifo._items)) {
			item = fifo._items[pos]
			fifo._cursors[it]++
			fifo.trim()
			return item, true
		}
		if fifo._eoi {
			return item, false
		}
		fifo._notEmpty.Wait()
	}
}

func (fifo *FIFO[T]) trim() {
	low := fifo._cursors[0]
	for _, c := range fifo._cursors[1:] {
		low = min(low, c)
	}
	drop := int(low - fifo._base)
	if drop <= 0 {
		return
	}
	var zero T
	for i := 0; i < drop; i++ {
		fifo._items[i] = zero
	}
	fifo._items = fifo._items[drop:]
	fifo._base = low
	fifo._notFull.Broadcast()
}

// Drain consumes everything left for it without returning it.
func (fifo *FIFO[T]) Drain(it int) int {
	cnt := 0
	for {
		_, ok := fifo.Next(it)
		if !ok {
			return cnt
		}
		cnt++
	}
}

// Cancel wakes every blocked producer and consumer. Subsequent inserts are
// dropped and reads return nothing.
func (fifo *FIFO[T]) Cancel() {
	fifo._mu.Lock()
	defer fifo._mu.Unlock()
	fifo._cancelled = true
	fifo._items = nil
	fifo._notFull.Broadcast()
	fifo._notEmpty.Broadcast()
}

func (fifo *FIFO[T]) Cancelled() bool {
	fifo._mu.Lock()
	defer fifo._mu.Unlock()
	return fifo._cancelled
}

func (fifo *FIFO[T]) EndOfInputReached() bool {
	fifo._mu.Lock()
	defer fifo._mu.Unlock()
	return fifo._eoi
}

// Size is the number of items not yet passed by every cursor.
func (fifo *FIFO[T]) Size() int {
	fifo._mu.Lock()
	defer fifo._mu.Unlock()
	return len(fifo._items)
}

// TotalSize is the number of items ever inserted.
func (fifo *FIFO[T]) TotalSize() int64 {
	fifo._mu.Lock()
	defer fifo._mu.Unlock()
	return fifo._total
}
