package cache

import (
	"sync"
)

// MemCache is an in-memory CacheProvider.
// It is primarily meant for testing and for running without a db file.
type MemCache struct {
	mutex *sync.RWMutex
	db    map[string]map[string]CacheEntry
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]map[string]CacheEntry),
	}
}

func (m MemCache) Get(partition, key string) (CacheEntry, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[partition][key]
	return entry, ok, nil
}

func (m MemCache) Put(ce CacheEntry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.db[ce.Partition] == nil {
		m.db[ce.Partition] = make(map[string]CacheEntry)
	}
	m.db[ce.Partition][ce.Key] = ce
	return nil
}

func (m MemCache) Purge(partition, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db[partition], key)
	return nil
}

func (m MemCache) Keys(partition string, cb func(string)) error {
	m.mutex.RLock()
	keys := make([]string, 0, len(m.db[partition]))
	for key := range m.db[partition] {
		keys = append(keys, key)
	}
	m.mutex.RUnlock()
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (m MemCache) Partitions() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	partitions := make([]string, 0, len(m.db))
	for name, entries := range m.db {
		if len(entries) > 0 {
			partitions = append(partitions, name)
		}
	}
	return partitions, nil
}

func (m MemCache) DeletePartition(partition string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, partition)
	return nil
}
