// Package store provides the delivered-track index backing idempotent
// resubmission, using a Bloom filter fast path over an exact set.
package store

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DeliveredIndex is a thread-safe set of delivery keys
// (platform|trackID|destination). The Bloom filter short-circuits the common
// miss, the map answers exactly, and the LRU bounds memory by evicting the
// oldest keys once capacity is exceeded.
type DeliveredIndex struct {
	keys              map[string]struct{}
	bloom             *bloom.BloomFilter
	lru               *lru.Cache[string, struct{}]
	mutex             sync.RWMutex
	maxKeys           int
	falsePositiveRate float64
}

// NewDeliveredIndex creates an index with the given capacity and Bloom
// false positive rate.
func NewDeliveredIndex(maxKeys int, falsePositiveRate float64) *DeliveredIndex {
	lruCache, _ := lru.New[string, struct{}](maxKeys)
	return &DeliveredIndex{
		keys:              make(map[string]struct{}),
		bloom:             bloom.NewWithEstimates(uint(maxKeys), falsePositiveRate),
		lru:               lruCache,
		maxKeys:           maxKeys,
		falsePositiveRate: falsePositiveRate,
	}
}

// Has reports whether a delivery key is recorded.
func (di *DeliveredIndex) Has(key string) bool {
	di.mutex.RLock()
	defer di.mutex.RUnlock()

	if !di.bloom.TestString(key) {
		return false
	}
	_, exists := di.keys[key]
	return exists
}

// Add records a delivery key.
func (di *DeliveredIndex) Add(key string) {
	di.mutex.Lock()
	defer di.mutex.Unlock()

	if _, exists := di.keys[key]; exists {
		return
	}
	di.keys[key] = struct{}{}
	di.bloom.AddString(key)
	di.lru.Add(key, struct{}{})

	if len(di.keys) > di.maxKeys {
		di.evictOldest()
	}
}

// Load clears the index and seeds it from the history store's delivered
// keys at startup.
func (di *DeliveredIndex) Load(keys []string) {
	di.mutex.Lock()
	defer di.mutex.Unlock()

	di.keys = make(map[string]struct{})
	di.bloom = bloom.NewWithEstimates(uint(di.maxKeys), di.falsePositiveRate)
	di.lru.Purge()

	for _, key := range keys {
		if key == "" {
			continue
		}
		di.keys[key] = struct{}{}
		di.bloom.AddString(key)
		di.lru.Add(key, struct{}{})
	}
	for len(di.keys) > di.maxKeys {
		di.evictOldest()
	}
}

// Size returns the number of recorded keys.
func (di *DeliveredIndex) Size() int {
	di.mutex.RLock()
	defer di.mutex.RUnlock()
	return len(di.keys)
}

func (di *DeliveredIndex) evictOldest() {
	oldestKey, _, ok := di.lru.GetOldest()
	if !ok {
		return
	}
	delete(di.keys, oldestKey)
	di.lru.Remove(oldestKey)
	// The Bloom filter does not support removal; stale positives fall
	// through to the exact map.
}
