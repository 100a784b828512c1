// Package fs stores blobs as files under a root directory. Each object has a
// JSON sidecar (<file>.meta) carrying its content type and etag.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"inventory/internal/blob/core"
)

const (
	metaSuffix = ".meta"
	tempPrefix = ".tmp-"
)

// DefaultRoot is used when New receives an empty root.
const DefaultRoot = "./blobdata"

// Store implements core.Store on the local filesystem.
type Store struct {
	root string
}

type sidecar struct {
	ContentType string    `json:"content_type,omitempty"`
	ETag        string    `json:"etag"`
	Size        int64     `json:"size"`
	Written     time.Time `json:"written"`
}

// New creates root if needed.
func New(root string) (*Store, error) {
	if root == "" {
		root = DefaultRoot
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the directory objects are stored under.
func (s *Store) Root() string { return s.root }

// Driver implements core.Store.
func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

func (s *Store) path(key string) (string, string, error) {
	key, err := core.CleanKey(key)
	if err != nil {
		return "", "", err
	}
	if strings.HasSuffix(key, metaSuffix) || strings.HasPrefix(filepath.Base(key), tempPrefix) {
		return "", "", fmt.Errorf("%w: %q is reserved", core.ErrInvalidKey, key)
	}
	return key, filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Put streams r into a temp file and links it into place, so a key is never
// visible half written and an existing key is never replaced.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Object, error) {
	key, dst, err := s.path(key)
	if err != nil {
		return core.Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return core.Object{}, fmt.Errorf("create dir for %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), tempPrefix+"*")
	if err != nil {
		return core.Object{}, fmt.Errorf("stage %s: %w", key, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return core.Object{}, fmt.Errorf("write %s: %w", key, err)
	}

	meta := sidecar{ContentType: opts.ContentType, ETag: hex.EncodeToString(h.Sum(nil)), Size: size, Written: time.Now().UTC()}
	if err := os.Link(tmp.Name(), dst); err != nil {
		if errors.Is(err, iofs.ErrExist) {
			return core.Object{}, fmt.Errorf("%w: %s", core.ErrExists, key)
		}
		return core.Object{}, fmt.Errorf("publish %s: %w", key, err)
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return core.Object{}, err
	}
	if err := os.WriteFile(dst+metaSuffix, raw, 0o644); err != nil {
		return core.Object{}, fmt.Errorf("write metadata for %s: %w", key, err)
	}
	return meta.object(key), nil
}

// Get implements core.Store.
func (s *Store) Get(_ context.Context, key string) (core.Object, io.ReadCloser, error) {
	key, p, err := s.path(key)
	if err != nil {
		return core.Object{}, nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, iofs.ErrNotExist) {
		return core.Object{}, nil, fmt.Errorf("%w: %s", core.ErrNotFound, key)
	}
	if err != nil {
		return core.Object{}, nil, fmt.Errorf("open %s: %w", key, err)
	}
	obj, err := s.describe(key, p)
	if err != nil {
		_ = f.Close()
		return core.Object{}, nil, err
	}
	return obj, f, nil
}

// List walks the root and returns objects whose key starts with prefix.
func (s *Store) List(_ context.Context, prefix string) ([]core.Object, error) {
	var out []core.Object
	err := filepath.WalkDir(s.root, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() || strings.HasSuffix(name, metaSuffix) || strings.HasPrefix(name, tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		obj, err := s.describe(key, p)
		if err != nil {
			return err
		}
		out = append(out, obj)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	slices.SortFunc(out, func(a, b core.Object) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

// Delete implements core.Store.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	key, p, err := s.path(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	_ = os.Remove(p + metaSuffix)
	return true, nil
}

// describe reads the sidecar, falling back to file info for objects copied in
// by hand.
func (s *Store) describe(key, p string) (core.Object, error) {
	raw, err := os.ReadFile(p + metaSuffix)
	if err == nil {
		var meta sidecar
		if err := json.Unmarshal(raw, &meta); err != nil {
			return core.Object{}, fmt.Errorf("decode metadata for %s: %w", key, err)
		}
		return meta.object(key), nil
	}
	if !errors.Is(err, iofs.ErrNotExist) {
		return core.Object{}, fmt.Errorf("read metadata for %s: %w", key, err)
	}
	info, err := os.Stat(p)
	if err != nil {
		return core.Object{}, fmt.Errorf("stat %s: %w", key, err)
	}
	return core.Object{Key: key, Size: info.Size(), LastModified: info.ModTime().UTC()}, nil
}

func (m sidecar) object(key string) core.Object {
	return core.Object{Key: key, Size: m.Size, ContentType: m.ContentType, ETag: m.ETag, LastModified: m.Written}
}
