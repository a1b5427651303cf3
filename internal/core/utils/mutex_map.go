package utils

import (
	"fmt"
	"sync"
)

type mutexEntry struct {
	mu      sync.Mutex
	waiters int
}

// MutexMap provides a lock per string key so operations on unrelated keys
// never serialize each other. Entries are dropped once the last waiter
// releases the lock, keeping the map bounded by the number of in-flight keys.
type MutexMap struct {
	edit    sync.Mutex
	entries map[string]*mutexEntry
	maxSize int
}

func NewMutexMap(maxSize int) MutexMap {
	return MutexMap{
		entries: make(map[string]*mutexEntry),
		maxSize: maxSize,
	}
}

func (m *MutexMap) Lock(key string) error {
	m.edit.Lock()

	entry := m.entries[key]
	if entry == nil {
		if len(m.entries) >= m.maxSize {
			m.edit.Unlock()
			return fmt.Errorf("max size reached")
		}
		entry = &mutexEntry{}
		m.entries[key] = entry
	}
	entry.waiters++
	m.edit.Unlock()

	entry.mu.Lock()
	return nil
}

func (m *MutexMap) Unlock(key string) error {
	m.edit.Lock()
	defer m.edit.Unlock()

	entry := m.entries[key]
	if entry == nil {
		return fmt.Errorf("key %s not found", key)
	}

	entry.mu.Unlock()
	entry.waiters--
	if entry.waiters == 0 {
		delete(m.entries, key)
	}

	return nil
}
