package core

import "container/list"

// RequestDeduper rejects repeated client request ids on one orderbook.
// Not thread-safe: only accessed under the owning orderbook's lock.
type RequestDeduper struct {
	seen       *IdempotencyLRU
	duplicates map[string]int64 // kind -> count
}

func NewRequestDeduper(capacity int) *RequestDeduper {
	return &RequestDeduper{
		seen:       NewIdempotencyLRU(capacity),
		duplicates: make(map[string]int64),
	}
}

// IsDuplicate reports whether the request id was already processed.
// An empty id is never a duplicate.
func (d *RequestDeduper) IsDuplicate(kind, requestID string) bool {
	if requestID == "" || !d.seen.Contains(kind+":"+requestID) {
		return false
	}
	d.duplicates[kind]++
	return true
}

// MarkProcessed records the id after a successful operation. Rejected
// requests are not marked so a client may retry them.
func (d *RequestDeduper) MarkProcessed(kind, requestID string) {
	if requestID != "" {
		d.seen.Add(kind + ":" + requestID)
	}
}

func (d *RequestDeduper) Duplicates(kind string) int64 { return d.duplicates[kind] }
func (d *RequestDeduper) Size() int                    { return d.seen.Size() }
func (d *RequestDeduper) Evictions() int64             { return d.seen.Evictions() }

// IdempotencyLRU is a bounded key set that forgets the least recently
// touched key first. Not thread-safe.
type IdempotencyLRU struct {
	capacity  int
	index     map[string]*list.Element
	order     *list.List // front = most recent; values are string keys
	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: max(capacity, 1),
		index:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Contains reports membership and marks the key as recently used
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, ok := lru.index[key]
	if ok {
		lru.order.MoveToFront(elem)
	}
	return ok
}

func (lru *IdempotencyLRU) Add(key string) {
	if lru.Contains(key) {
		return
	}
	lru.index[key] = lru.order.PushFront(key)

	for lru.order.Len() > lru.capacity {
		oldest := lru.order.Back()
		lru.order.Remove(oldest)
		delete(lru.index, oldest.Value.(string))
		lru.evictions++
	}
}

func (lru *IdempotencyLRU) Size() int        { return lru.order.Len() }
func (lru *IdempotencyLRU) Evictions() int64 { return lru.evictions }
