package cache

import (
	"sort"
	"sync"
)

// CacheProvider is an interface for a cache provider.
// It stores and retrieves []byte values, which represent HTTP responses,
// in named generations. A generation is created implicitly by the first Put.
// A missing key is not an error.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// Get returns the stored bytes for the key in the given generation.
	// It also returns a boolean indicating whether the key was found.
	Get(generation, key string) ([]byte, bool, error)
	// Put stores the bytes under the key, replacing a previous entry.
	Put(generation, key string, bytes []byte) error
	// Has checks if the specified key exists in the generation.
	Has(generation, key string) bool
	// Purge removes a single key from the generation.
	Purge(generation, key string) error
	// Delete removes a whole generation.
	Delete(generation string) error
	// Generations lists the names of all stored generations.
	Generations() ([]string, error)
	// Close releases the underlying storage.
	Close() error
}

// Handle is a provider bound to one generation.
type Handle struct {
	provider   CacheProvider
	generation string
}

// Open returns a handle for the generation.
func Open(provider CacheProvider, generation string) Handle {
	return Handle{provider: provider, generation: generation}
}

func (h Handle) Generation() string {
	return h.generation
}

func (h Handle) Get(key string) ([]byte, bool, error) {
	return h.provider.Get(h.generation, key)
}

func (h Handle) Put(key string, bytes []byte) error {
	return h.provider.Put(h.generation, key, bytes)
}

func (h Handle) Has(key string) bool {
	return h.provider.Has(h.generation, key)
}

func (h Handle) Purge(key string) error {
	return h.provider.Purge(h.generation, key)
}

type MemCache struct {
	mutex *sync.RWMutex
	db    map[string]map[string][]byte
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]map[string][]byte),
	}
}

func (m MemCache) Get(generation, key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[generation][key]
	if !ok {
		return nil, false, nil
	}
	return entry, true, nil
}

func (m MemCache) Put(generation, key string, bytes []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.db[generation] == nil {
		m.db[generation] = make(map[string][]byte)
	}
	// callers may reuse their buffer
	stored := make([]byte, len(bytes))
	copy(stored, bytes)
	m.db[generation][key] = stored
	return nil
}

func (m MemCache) Has(generation, key string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.db[generation][key]
	return ok
}

func (m MemCache) Purge(generation, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db[generation], key)
	return nil
}

func (m MemCache) Delete(generation string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, generation)
	return nil
}

func (m MemCache) Generations() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.db))
	for name := range m.db {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m MemCache) Close() error {
	return nil
}
