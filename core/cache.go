package core

import "github.com/tidwall/tinylru"

// handleCache bounds the number of sealed-segment read handles kept
// open by a Buffer at once. Recency tracking is delegated to
// tinylru.LRU exactly the way oxia's server/wal/log.go drives its
// scache (Resize at construction, SetEvicted on every insert); a plain
// map supplies the O(1) lookup that oxia's Log doesn't need (it keeps
// segments in a slice already) but a name-keyed cache does.
type handleCache struct {
	lru    tinylru.LRU
	byName map[string]*segment
}

func newHandleCache(capacity int) *handleCache {
	c := &handleCache{byName: make(map[string]*segment)}
	c.lru.Resize(capacity)
	return c
}

// get looks up name and, on a hit, re-touches it in the LRU so a
// repeatedly-read cold segment doesn't look least-recently-used next
// to entries nobody has asked for since they were inserted.
func (c *handleCache) get(name string) (*segment, bool) {
	seg, ok := c.byName[name]
	if !ok {
		return nil, false
	}
	_ = c.touch(name, seg)
	return seg, true
}

// put inserts seg under name. If the cache is at capacity this evicts
// the least recently used entry, closing it if nothing else holds a
// reference.
func (c *handleCache) put(name string, seg *segment) error {
	c.byName[name] = seg
	return c.touch(name, seg)
}

// touch (re-)inserts name/seg into the LRU, refreshing its recency,
// and handles any resulting eviction the same way regardless of
// whether the entry was new (put) or already present (get).
func (c *handleCache) touch(name string, seg *segment) error {
	_, _, evictedKey, evictedValue, evicted := c.lru.SetEvicted(name, seg)
	if !evicted {
		return nil
	}

	oldName, _ := evictedKey.(string)
	cur, present := c.byName[oldName]
	if !present || cur != evictedValue {
		// A stale entry left behind by remove: whoever removed it has
		// already released its handle.
		return nil
	}
	delete(c.byName, oldName)
	if cur != seg {
		return cur.closeIfUnused()
	}
	return nil
}

// remove drops name from the lookup map; it does not evict tinylru's
// own bookkeeping entry, which is harmless — a later SetEvicted for a
// name no longer in byName is simply a no-op from put's perspective.
func (c *handleCache) remove(name string) (*segment, bool) {
	seg, ok := c.byName[name]
	if ok {
		delete(c.byName, name)
	}
	return seg, ok
}
