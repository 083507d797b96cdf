package testutil

import (
	"context"
	"sync"

	"github.com/c360/litesync/errors"
)

// MockKVStore is an in-memory key-value bucket.
type MockKVStore struct {
	mu   sync.RWMutex
	data map[string][]byte
	puts int
	gets int
}

// NewMockKVStore creates a new mock KV store.
func NewMockKVStore() *MockKVStore {
	return &MockKVStore{data: make(map[string][]byte)}
}

// Get returns the value under key or errors.ErrKeyNotFound.
func (kv *MockKVStore) Get(_ context.Context, key string) ([]byte, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	kv.gets++
	val, ok := kv.data[key]
	if !ok {
		return nil, errors.ErrKeyNotFound
	}
	return append([]byte(nil), val...), nil
}

// Update replaces the value under key with fn(current). current is nil when
// the key does not exist.
func (kv *MockKVStore) Update(_ context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	next, err := fn(kv.data[key])
	if err != nil {
		return err
	}
	kv.data[key] = next
	kv.puts++
	return nil
}

// Keys returns all keys.
func (kv *MockKVStore) Keys() []string {
	kv.mu.RLock()
	defer kv.mu.RUnlock()

	keys := make([]string, 0, len(kv.data))
	for k := range kv.data {
		keys = append(keys, k)
	}
	return keys
}

// Puts returns how many updates were applied.
func (kv *MockKVStore) Puts() int {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	return kv.puts
}

// Gets returns how many reads were made.
func (kv *MockKVStore) Gets() int {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	return kv.gets
}
