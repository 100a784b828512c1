// Package memory keeps blobs in process memory.
package memory

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // etag only
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"inventory/internal/blob/core"
)

type object struct {
	meta core.Object
	data []byte
}

// Store implements core.Store over a map.
type Store struct {
	mu   sync.RWMutex
	objs map[string]object
	now  func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{objs: make(map[string]object), now: func() time.Time { return time.Now().UTC() }}
}

// Driver implements core.Store.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Put implements core.Store.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Object, error) {
	key, err := core.CleanKey(key)
	if err != nil {
		return core.Object{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return core.Object{}, fmt.Errorf("read %s: %w", key, err)
	}
	sum := md5.Sum(data) //nolint:gosec
	meta := core.Object{
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(sum[:]),
		LastModified: s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objs[key]; ok {
		return core.Object{}, fmt.Errorf("%w: %s", core.ErrExists, key)
	}
	s.objs[key] = object{meta: meta, data: data}
	return meta, nil
}

// Get implements core.Store. The returned reader owns a private copy.
func (s *Store) Get(_ context.Context, key string) (core.Object, io.ReadCloser, error) {
	key, err := core.CleanKey(key)
	if err != nil {
		return core.Object{}, nil, err
	}
	s.mu.RLock()
	obj, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return core.Object{}, nil, fmt.Errorf("%w: %s", core.ErrNotFound, key)
	}
	return obj.meta, io.NopCloser(bytes.NewReader(bytes.Clone(obj.data))), nil
}

// List implements core.Store.
func (s *Store) List(_ context.Context, prefix string) ([]core.Object, error) {
	s.mu.RLock()
	out := make([]core.Object, 0, len(s.objs))
	for key, obj := range s.objs {
		if strings.HasPrefix(key, prefix) {
			out = append(out, obj.meta)
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b core.Object) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

// Delete implements core.Store.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	key, err := core.CleanKey(key)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objs[key]
	delete(s.objs, key)
	return ok, nil
}
