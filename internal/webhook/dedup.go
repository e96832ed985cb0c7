package webhook

import (
	"container/list"
	"sync"
)

// defaultDedupCapacity bounds the replay cache. The processor retries
// notifications for at most a couple of days; 10k keys comfortably covers
// that window for a single distributor.
const defaultDedupCapacity = 10000

// Dedup is a bounded first-in-first-out set of notification keys. Insertion
// and membership are a single atomic step so two concurrent deliveries of
// the same notification cannot both pass.
type Dedup struct {
	mu    sync.Mutex
	cap   int
	seen  map[string]struct{}
	order *list.List
}

func NewDedup(capacity int) *Dedup {
	if capacity <= 0 {
		capacity = defaultDedupCapacity
	}
	return &Dedup{
		cap:   capacity,
		seen:  make(map[string]struct{}, capacity),
		order: list.New(),
	}
}

// CheckAndInsert returns true when the key was not seen before and records
// it. When the cache is full the oldest key is evicted first.
func (d *Dedup) CheckAndInsert(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return false
	}
	if d.order.Len() >= d.cap {
		oldest := d.order.Front()
		d.order.Remove(oldest)
		delete(d.seen, oldest.Value.(string))
	}
	d.seen[key] = struct{}{}
	d.order.PushBack(key)
	return true
}

func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}
