package localcache

import (
	"context"
	"sync"
)

// KV is the key/value surface the cache persists into.
type KV interface {
	// Get reports ok=false when key has never been written.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
}

// Partitioner is implemented by stores that can keep each client's keys apart.
type Partitioner interface {
	Partition(clientID string) KV
}

// partition returns the view of kv that belongs to clientID.
func partition(kv KV, clientID string) KV {
	if p, ok := kv.(Partitioner); ok {
		return p.Partition(clientID)
	}
	return prefixedKV{kv: kv, prefix: clientID + "/"}
}

type prefixedKV struct {
	kv     KV
	prefix string
}

func (p prefixedKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return p.kv.Get(ctx, p.prefix+key)
}

func (p prefixedKV) Set(ctx context.Context, key string, value []byte) error {
	return p.kv.Set(ctx, p.prefix+key, value)
}

type memoryKey struct {
	client string
	key    string
}

type memoryValues struct {
	mu     sync.RWMutex
	values map[memoryKey][]byte
}

// MemoryKV keeps values for the life of the process.
type MemoryKV struct {
	client string
	data   *memoryValues
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: &memoryValues{values: make(map[memoryKey][]byte)}}
}

// Partition shares the underlying map but scopes every key to clientID.
func (m *MemoryKV) Partition(clientID string) KV {
	return &MemoryKV{client: clientID, data: m.data}
}

func (m *MemoryKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	m.data.mu.RLock()
	defer m.data.mu.RUnlock()

	v, ok := m.data.values[memoryKey{client: m.client, key: key}]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryKV) Set(ctx context.Context, key string, value []byte) error {
	_ = ctx
	m.data.mu.Lock()
	defer m.data.mu.Unlock()

	m.data.values[memoryKey{client: m.client, key: key}] = append([]byte(nil), value...)
	return nil
}
