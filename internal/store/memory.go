package store

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sync"
	"time"
)

// MemoryStore is an in-process ContentStore used in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
	etag        string
	uploaded    time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

// Put stores the object bytes and assigns an etag and upload time, matching
// the metadata a real store supplies.
func (m *MemoryStore) Put(ctx context.Context, namespace, path string, body io.Reader, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	sum := md5.Sum(data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[Key(namespace, path)] = memoryObject{
		data:        data,
		contentType: contentType,
		etag:        hex.EncodeToString(sum[:]),
		uploaded:    time.Now().UTC(),
	}
	return nil
}

// Get returns a stored object or ErrNotFound.
func (m *MemoryStore) Get(ctx context.Context, namespace, path string) (*Object, error) {
	m.mu.RLock()
	obj, ok := m.objects[Key(namespace, path)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &Object{
		Body:         io.NopCloser(bytes.NewReader(obj.data)),
		ContentType:  obj.contentType,
		ETag:         obj.etag,
		LastModified: obj.uploaded,
		Size:         int64(len(obj.data)),
	}, nil
}

// Len reports the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
