package registry

import (
	"cmp"
	"slices"
	"sync"
)

// InstanceKey identifies one detector.
type InstanceKey struct {
	Model   string
	Version string
	Key     string
}

func compareKeys(a, b InstanceKey) int {
	if c := cmp.Compare(a.Model, b.Model); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Key, b.Key); c != 0 {
		return c
	}
	return cmp.Compare(a.Version, b.Version)
}

// InstanceStore holds live detectors. Implementations must make
// LoadOrCreate atomic: two callers racing on a new key get the same value.
type InstanceStore[T any] interface {
	LoadOrCreate(k InstanceKey, create func() T) (v T, created bool)
	Get(k InstanceKey) (T, bool)
	Delete(k InstanceKey) (T, bool)
	DeleteModel(model string) []T
	// Find returns the instance of model for key under any version.
	Find(model, key string) (InstanceKey, T, bool)
	// Keys returns every key, sorted by model, key and version.
	Keys() []InstanceKey
}

type detectorKey struct {
	model, key string
}

// MemoryInstances is a map-backed InstanceStore. Find is a constant-time
// lookup through an index of the live versions per (model, key).
type MemoryInstances[T any] struct {
	mu       sync.Mutex
	items    map[InstanceKey]T
	versions map[detectorKey][]string
}

// NewMemoryInstances returns an empty store.
func NewMemoryInstances[T any]() *MemoryInstances[T] {
	return &MemoryInstances[T]{
		items:    make(map[InstanceKey]T),
		versions: make(map[detectorKey][]string),
	}
}

// unindex removes k from the version index. Callers hold s.mu.
func (s *MemoryInstances[T]) unindex(k InstanceKey) {
	dk := detectorKey{k.Model, k.Key}
	vs := slices.DeleteFunc(s.versions[dk], func(v string) bool { return v == k.Version })
	if len(vs) == 0 {
		delete(s.versions, dk)
		return
	}
	s.versions[dk] = vs
}

func (s *MemoryInstances[T]) LoadOrCreate(k InstanceKey, create func() T) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.items[k]; ok {
		return v, false
	}
	v := create()
	s.items[k] = v
	dk := detectorKey{k.Model, k.Key}
	s.versions[dk] = append(s.versions[dk], k.Version)
	return v, true
}

func (s *MemoryInstances[T]) Get(k InstanceKey) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[k]
	return v, ok
}

func (s *MemoryInstances[T]) Delete(k InstanceKey) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[k]
	if ok {
		delete(s.items, k)
		s.unindex(k)
	}
	return v, ok
}

func (s *MemoryInstances[T]) DeleteModel(model string) []T {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []InstanceKey
	for k := range s.items {
		if k.Model == model {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, compareKeys)

	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.items[k])
		delete(s.items, k)
		delete(s.versions, detectorKey{k.Model, k.Key})
	}
	return out
}

func (s *MemoryInstances[T]) Find(model, key string) (InstanceKey, T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if vs := s.versions[detectorKey{model, key}]; len(vs) > 0 {
		k := InstanceKey{Model: model, Version: vs[0], Key: key}
		return k, s.items[k], true
	}
	var zero T
	return InstanceKey{}, zero, false
}

func (s *MemoryInstances[T]) Keys() []InstanceKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]InstanceKey, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)
	return keys
}
