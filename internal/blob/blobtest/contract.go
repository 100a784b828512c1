// Package blobtest holds the behaviour every core.Store must share.
package blobtest

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"inventory/internal/blob/core"
)

// Run exercises a fresh store from factory against the blob contract.
func Run(t *testing.T, factory func(t *testing.T) core.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("put get", func(t *testing.T) {
		s := factory(t)
		obj, err := s.Put(ctx, "exports/a.json", strings.NewReader(`{"a":1}`), core.PutOptions{ContentType: "application/json"})
		if err != nil {
			t.Fatalf("put: %v", err)
		}
		if obj.Key != "exports/a.json" || obj.Size != 7 || obj.ContentType != "application/json" {
			t.Fatalf("unexpected object %+v", obj)
		}
		got, rc, err := s.Get(ctx, "exports/a.json")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer rc.Close()
		body, _ := io.ReadAll(rc)
		if string(body) != `{"a":1}` || got.Size != 7 {
			t.Fatalf("unexpected read %q %+v", body, got)
		}
	})

	t.Run("create only", func(t *testing.T) {
		s := factory(t)
		if _, err := s.Put(ctx, "k", strings.NewReader("one"), core.PutOptions{}); err != nil {
			t.Fatalf("put: %v", err)
		}
		if _, err := s.Put(ctx, "k", strings.NewReader("two"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
			t.Fatalf("expected ErrExists, got %v", err)
		}
		_, rc, err := s.Get(ctx, "k")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer rc.Close()
		if body, _ := io.ReadAll(rc); string(body) != "one" {
			t.Fatalf("expected original content kept, got %q", body)
		}
	})

	t.Run("missing", func(t *testing.T) {
		s := factory(t)
		if _, _, err := s.Get(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if existed, err := s.Delete(ctx, "nope"); err != nil || existed {
			t.Fatalf("expected delete of missing key to report false, got %v %v", existed, err)
		}
	})

	t.Run("list sorted by prefix", func(t *testing.T) {
		s := factory(t)
		for _, k := range []string{"exports/b.csv", "other/x", "exports/a.json", "exports/c.json"} {
			if _, err := s.Put(ctx, k, strings.NewReader(k), core.PutOptions{}); err != nil {
				t.Fatalf("put %s: %v", k, err)
			}
		}
		objs, err := s.List(ctx, "exports/")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		var keys []string
		for _, o := range objs {
			keys = append(keys, o.Key)
		}
		if strings.Join(keys, ",") != "exports/a.json,exports/b.csv,exports/c.json" {
			t.Fatalf("unexpected keys %v", keys)
		}
		all, err := s.List(ctx, "")
		if err != nil || len(all) != 4 {
			t.Fatalf("expected 4 objects, got %d (%v)", len(all), err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := factory(t)
		if _, err := s.Put(ctx, "exports/a.json", strings.NewReader("x"), core.PutOptions{}); err != nil {
			t.Fatalf("put: %v", err)
		}
		if existed, err := s.Delete(ctx, "exports/a.json"); err != nil || !existed {
			t.Fatalf("expected delete to report true, got %v %v", existed, err)
		}
		if objs, _ := s.List(ctx, ""); len(objs) != 0 {
			t.Fatalf("expected empty store, got %+v", objs)
		}
		if _, err := s.Put(ctx, "exports/a.json", strings.NewReader("y"), core.PutOptions{}); err != nil {
			t.Fatalf("expected key reusable after delete: %v", err)
		}
	})

	t.Run("invalid keys", func(t *testing.T) {
		s := factory(t)
		for _, k := range []string{"", "/abs", "../up"} {
			if _, err := s.Put(ctx, k, strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
				t.Fatalf("put %q: expected ErrInvalidKey, got %v", k, err)
			}
		}
	})
}
