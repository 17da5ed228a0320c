// Package cache memoizes aggregation results keyed by input fingerprints.
package cache

import (
	"sync"
	"time"

	"storeledger/backend/internal/domain"
)

const DefaultCapacity = 100

type entry struct {
	fingerprint string
	result      *domain.StoreResult
	storedAt    time.Time
	seq         uint64
}

type globalEntry struct {
	fingerprint string
	results     *domain.StoreResults
	storedAt    time.Time
}

// ResultCache holds one entry per store plus one all-store entry. An entry
// is returned only while its fingerprint matches the current inputs.
type ResultCache struct {
	mu       sync.Mutex
	capacity int
	mode     Mode
	seq      uint64
	now      func() time.Time
	stores   map[string]entry
	global   *globalEntry
}

func NewResultCache(capacity int, mode Mode) *ResultCache {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if mode != ModeFull {
		mode = ModeSummary
	}
	return &ResultCache{
		capacity: capacity,
		mode:     mode,
		now:      time.Now,
		stores:   map[string]entry{},
	}
}

func (c *ResultCache) Mode() Mode {
	return c.mode
}

func (c *ResultCache) GetStoreResult(storeID string, data *domain.ImportedData, settings domain.AppSettings, daysInMonth int) (*domain.StoreResult, bool) {
	fp := StoreFingerprint(storeID, data, settings, daysInMonth, c.mode)

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.stores[storeID]
	if !ok || e.fingerprint != fp {
		return nil, false
	}
	return e.result, true
}

func (c *ResultCache) SetStoreResult(storeID string, data *domain.ImportedData, settings domain.AppSettings, daysInMonth int, result *domain.StoreResult) {
	fp := StoreFingerprint(storeID, data, settings, daysInMonth, c.mode)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(storeID, fp, result)
}

func (c *ResultCache) GetGlobalResult(data *domain.ImportedData, settings domain.AppSettings, daysInMonth int) (*domain.StoreResults, bool) {
	fp := GlobalFingerprint(data, settings, daysInMonth, c.mode)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.global == nil || c.global.fingerprint != fp {
		return nil, false
	}
	return c.global.results, true
}

// SetGlobalResult stores the all-store map and back-fills every store entry
// it contains.
func (c *ResultCache) SetGlobalResult(data *domain.ImportedData, settings domain.AppSettings, daysInMonth int, results *domain.StoreResults) {
	globalFP := GlobalFingerprint(data, settings, daysInMonth, c.mode)
	storeFPs := make(map[string]string, results.Len())
	for _, id := range results.Order {
		storeFPs[id] = StoreFingerprint(id, data, settings, daysInMonth, c.mode)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.global = &globalEntry{fingerprint: globalFP, results: results, storedAt: c.now()}
	for _, id := range results.Order {
		c.putLocked(id, storeFPs[id], results.ByStore[id])
	}
}

func (c *ResultCache) putLocked(storeID, fp string, result *domain.StoreResult) {
	c.seq++
	c.stores[storeID] = entry{fingerprint: fp, result: result, storedAt: c.now(), seq: c.seq}
	if len(c.stores) > c.capacity {
		c.evictOldestLocked()
	}
}

// evictOldestLocked drops the single oldest store entry.
func (c *ResultCache) evictOldestLocked() {
	oldestID := ""
	var oldest entry
	for id, e := range c.stores {
		if oldestID == "" || e.storedAt.Before(oldest.storedAt) || (e.storedAt.Equal(oldest.storedAt) && e.seq < oldest.seq) {
			oldestID = id
			oldest = e
		}
	}
	if oldestID != "" {
		delete(c.stores, oldestID)
	}
}

func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stores = map[string]entry{}
	c.global = nil
}

func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stores)
}

func (c *ResultCache) HasGlobal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.global != nil
}
