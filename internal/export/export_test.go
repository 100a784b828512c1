package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	blobcore "inventory/internal/blob/core"
	"inventory/internal/core"
	blobmemory "inventory/internal/infra/blob/memory"
	"inventory/internal/infra/persistence/memory"
	"inventory/pkg/domain"
)

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func newExporter(t *testing.T, tasks ...domain.Task) (*Exporter, *blobmemory.Store) {
	t.Helper()
	repo := core.NewOfflineTasksRepository(memory.NewStore(core.NewDefaultRulesEngine()))
	for _, task := range tasks {
		if _, _, err := repo.InsertTask(context.Background(), task); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	blobs := blobmemory.New()
	seq := 0
	e := New(repo, blobs,
		WithClock(core.ClockFunc(func() time.Time { return fixedNow })),
		WithIDs(func() string { seq++; return fmt.Sprintf("id%d", seq) }),
	)
	return e, blobs
}

var sample = []domain.Task{
	{ID: 1, Name: "Apples", Priority: domain.PriorityHigh, Price: 1.25, Quantity: 10},
	{ID: 2, Name: `Nuts, "salted"`, Priority: domain.PriorityLow, Price: 3, Quantity: 0},
}

func TestExportRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatCSV} {
		t.Run(string(format), func(t *testing.T) {
			e, _ := newExporter(t, sample...)
			obj, err := e.Export(context.Background(), format)
			if err != nil {
				t.Fatalf("export: %v", err)
			}
			if want := "exports/20260304T050607Z-id1." + string(format); obj.Key != want {
				t.Fatalf("expected key %s, got %s", want, obj.Key)
			}
			if obj.ContentType != format.contentType() {
				t.Fatalf("unexpected content type %q", obj.ContentType)
			}
			got, err := e.Load(context.Background(), obj.Key)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if !reflect.DeepEqual(got, sample) {
				t.Fatalf("expected %+v, got %+v", sample, got)
			}
		})
	}
}

func TestExportEmptyJSONHasTaskArray(t *testing.T) {
	e, blobs := newExporter(t)
	obj, err := e.Export(context.Background(), FormatJSON)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	_, rc, _ := blobs.Get(context.Background(), obj.Key)
	body, _ := io.ReadAll(rc)
	if !strings.Contains(string(body), `"tasks": []`) || !strings.Contains(string(body), `"exported_at": "2026-03-04T05:06:07Z"`) {
		t.Fatalf("unexpected document %s", body)
	}
}

func TestExportListAndCollision(t *testing.T) {
	e, _ := newExporter(t, sample...)
	ctx := context.Background()
	if _, err := e.Export(ctx, FormatCSV); err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := e.Export(ctx, FormatJSON); err != nil {
		t.Fatalf("export: %v", err)
	}
	objs, err := e.List(ctx)
	if err != nil || len(objs) != 2 {
		t.Fatalf("expected two exports, got %+v (%v)", objs, err)
	}
	if objs[0].Key >= objs[1].Key {
		t.Fatalf("expected sorted keys, got %+v", objs)
	}

	e.newID = func() string { return "id1" }
	if _, err := e.Export(ctx, FormatCSV); !errors.Is(err, blobcore.ErrExists) {
		t.Fatalf("expected key collision to surface ErrExists, got %v", err)
	}
	if _, err := e.Export(ctx, Format("xml")); err == nil {
		t.Fatalf("expected unknown format error")
	}
}

func TestLoadErrors(t *testing.T) {
	e, blobs := newExporter(t)
	ctx := context.Background()
	put := func(key, body string) {
		t.Helper()
		if _, err := blobs.Put(ctx, key, strings.NewReader(body), blobcore.PutOptions{}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	put("exports/bad-header.csv", "a,b,c,d,e\n")
	put("exports/bad-row.csv", "id,name,priority,price,quantity\nx,a,High,1,1\n")
	put("exports/bad-price.csv", "id,name,priority,price,quantity\n1,a,High,p,1\n")
	put("exports/bad-qty.csv", "id,name,priority,price,quantity\n1,a,High,1,q\n")
	put("exports/short.csv", "id,name,priority,price,quantity\n1,a\n")
	put("exports/empty.csv", "")
	put("exports/bad.json", "{")

	for _, key := range []string{
		"exports/bad-header.csv", "exports/bad-row.csv", "exports/bad-price.csv",
		"exports/bad-qty.csv", "exports/short.csv", "exports/empty.csv",
		"exports/bad.json", "exports/missing.json", "exports/file.txt",
	} {
		if _, err := e.Load(ctx, key); err == nil {
			t.Fatalf("load %s: expected error", key)
		}
	}
}

func TestParseFormat(t *testing.T) {
	for raw, want := range map[string]Format{"json": FormatJSON, " CSV ": FormatCSV} {
		if got, err := ParseFormat(raw); err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseFormat("yaml"); err == nil {
		t.Fatalf("expected error")
	}
}
