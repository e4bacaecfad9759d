package kvmux

import "sync"

// recordCache memoizes the last-read contents of header and bucket records
// for repeated Get calls.
//
// Every local mutation evicts the touched record's entry as soon as the
// mutating transaction has been issued, so the cache reflects the last
// local write attempt, not necessarily a committed value. It offers no
// consistency guarantee against writers in other processes.
//
// A nil *recordCache is a valid no-op cache.
type recordCache struct {
	mu      sync.RWMutex
	records map[string][]byte
}

func newRecordCache() *recordCache {
	return &recordCache{records: make(map[string][]byte)}
}

func (c *recordCache) get(name string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.records[name]
	return data, ok
}

func (c *recordCache) set(name string, data []byte) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[name] = data
}

func (c *recordCache) invalidate(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, name)
}

func (c *recordCache) purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[string][]byte)
}
