// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package cube

import (
	"container/list"

	"github.com/pbnjay/memory"
)

// DefaultCacheCapacity sizes an LRU frame cache from a fraction of physical
// memory divided by one frame's footprint, the same totalMiBs-derived
// budgeting idiom cmd/nightlight uses for its stacking batch size.
func DefaultCacheCapacity(frameWidth, frameHeight int, memoryFraction float64) int {
	frameBytes := int64(frameWidth) * int64(frameHeight) * 4 // decoded frames are float32
	if frameBytes <= 0 {
		return 1
	}
	budget := int64(float64(memory.TotalMemory()) * memoryFraction)
	capacity := int(budget / frameBytes)
	if capacity < 1 {
		capacity = 1
	}
	return capacity
}

// LruFrameCache bounds resident z-frames by count, evicting the least
// recently accessed frame when full. Capacity is typically sized from
// physical memory divided by frame size, mirroring the teacher's
// totalMiBs-derived batch-sizing idiom in cmd/nightlight.
type LruFrameCache struct {
	capacity int
	entries  map[int]*list.Element
	order    *list.List // front = most recently used
}

type lruEntry struct {
	z    int
	data []float32
}

// NewLruFrameCache creates a cache holding at most capacity frames.
// A non-positive capacity is treated as 1.
func NewLruFrameCache(capacity int) *LruFrameCache {
	if capacity < 1 {
		capacity = 1
	}
	return &LruFrameCache{
		capacity: capacity,
		entries:  make(map[int]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get returns a clone of the cached frame z, and whether it was present.
// Cloning keeps the cache's backing slice immune to caller mutation.
func (c *LruFrameCache) Get(z int) ([]float32, bool) {
	el, ok := c.entries[z]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	src := el.Value.(*lruEntry).data
	out := make([]float32, len(src))
	copy(out, src)
	return out, true
}

// Put inserts or refreshes frame z, evicting the least-recently-used entry
// if the cache is at capacity.
func (c *LruFrameCache) Put(z int, data []float32) {
	if el, ok := c.entries[z]; ok {
		el.Value.(*lruEntry).data = data
		c.order.MoveToFront(el)
		return
	}
	if len(c.entries) >= c.capacity {
		back := c.order.Back()
		if back != nil {
			c.order.Remove(back)
			delete(c.entries, back.Value.(*lruEntry).z)
		}
	}
	el := c.order.PushFront(&lruEntry{z: z, data: data})
	c.entries[z] = el
}

// Len reports the number of frames currently resident.
func (c *LruFrameCache) Len() int { return c.order.Len() }
