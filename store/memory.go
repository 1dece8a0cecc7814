package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pithecene-io/smelter/fault"
	"github.com/pithecene-io/smelter/types"
)

// Memory is an in-process Store for tests. It is safe for concurrent use
// and supports per-operation failure injection.
type Memory struct {
	mu       sync.RWMutex
	objects  map[string]memObject
	failures map[string][]error
}

type memObject struct {
	data        []byte
	contentType string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		objects:  make(map[string]memObject),
		failures: make(map[string][]error),
	}
}

func key(bucket, name string) string {
	return bucket + "/" + name
}

// Fail arranges for the next n calls of op ("get", "put", "copy",
// "list") to return err.
func (m *Memory) Fail(op string, n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.failures[op] = append(m.failures[op], err)
	}
}

func (m *Memory) takeFailure(op string) error {
	queue := m.failures[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	m.failures[op] = queue[1:]
	return err
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, bucket, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("get"); err != nil {
		return nil, fault.Classify("store.get", err)
	}
	obj, ok := m.objects[key(bucket, name)]
	if !ok {
		return nil, fault.Permanent("store.get", fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, name))
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

// Put implements Store.
func (m *Memory) Put(ctx context.Context, bucket, name string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("put"); err != nil {
		return "", fault.Classify("store.put", err)
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	m.objects[key(bucket, name)] = memObject{data: stored, contentType: contentType}
	return "mem://" + key(bucket, name), nil
}

// Copy implements Store.
func (m *Memory) Copy(ctx context.Context, srcBucket, srcName, dstBucket, dstName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("copy"); err != nil {
		return "", fault.Classify("store.copy", err)
	}
	src, ok := m.objects[key(srcBucket, srcName)]
	if !ok {
		return "", fault.Permanent("store.copy", fmt.Errorf("%w: %s/%s", ErrNotFound, srcBucket, srcName))
	}
	stored := make([]byte, len(src.data))
	copy(stored, src.data)
	m.objects[key(dstBucket, dstName)] = memObject{data: stored, contentType: src.contentType}
	return "mem://" + key(dstBucket, dstName), nil
}

// List implements Store.
func (m *Memory) List(ctx context.Context, bucket, prefix string) ([]types.ObjectRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("list"); err != nil {
		return nil, fault.Classify("store.list", err)
	}
	var refs []types.ObjectRef
	for k := range m.objects {
		b, name, _ := strings.Cut(k, "/")
		if b == bucket && strings.HasPrefix(name, prefix) {
			refs = append(refs, types.ObjectRef{Bucket: b, Name: name})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

// Exists reports whether the object is present. Test helper.
func (m *Memory) Exists(bucket, name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key(bucket, name)]
	return ok
}

// Data returns the stored bytes, or nil if absent. Test helper.
func (m *Memory) Data(bucket, name string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key(bucket, name)]
	if !ok {
		return nil
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out
}

// ContentType returns the stored content type, or "". Test helper.
func (m *Memory) ContentType(bucket, name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[key(bucket, name)].contentType
}

// Len returns the object count. Test helper.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

var _ Store = (*Memory)(nil)
