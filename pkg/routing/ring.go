package routing

import "sync"

const defaultRingCapacity = 100

// Ring is a thread-safe fixed-size circular buffer with oldest-first eviction.
type Ring struct {
	events   []*Event
	head     int // index of oldest element
	tail     int // index where next element will be inserted
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewRing creates a ring with the given capacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = defaultRingCapacity
	}
	return &Ring{
		events:   make([]*Event, capacity),
		capacity: capacity,
	}
}

// Add inserts an event and reports whether the oldest one was evicted.
func (r *Ring) Add(event *Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.tail] = event
	r.tail = (r.tail + 1) % r.capacity

	if r.size < r.capacity {
		r.size++
		return false
	}
	r.head = (r.head + 1) % r.capacity
	return true
}

// All returns the buffered events, oldest first.
func (r *Ring) All() []*Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Event, 0, r.size)
	for i := 0; i < r.size; i++ {
		result = append(result, r.events[(r.head+i)%r.capacity])
	}
	return result
}

// After returns the events buffered after the one with the given ID. An unknown ID
// returns everything.
func (r *Ring) After(id string) []*Event {
	all := r.All()
	for i, event := range all {
		if event.ID == id {
			return all[i+1:]
		}
	}
	return all
}

// Len returns the current number of events.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Capacity returns the maximum capacity of the ring.
func (r *Ring) Capacity() int {
	return r.capacity
}
