// Package export snapshots the task list into a blob store as JSON or CSV and
// reads earlier snapshots back.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	blobcore "inventory/internal/blob/core"
	"inventory/internal/core"
	"inventory/pkg/domain"
)

// Prefix is the key prefix every snapshot is stored under.
const Prefix = "exports/"

// Format is a snapshot encoding.
type Format string

const (
	// FormatJSON writes a Document.
	FormatJSON Format = "json"
	// FormatCSV writes one header row and one row per task.
	FormatCSV Format = "csv"
)

// ParseFormat accepts json or csv in any case.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatJSON, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unknown export format %q", raw)
	}
}

func (f Format) contentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Document is the JSON snapshot layout.
type Document struct {
	ExportedAt time.Time     `json:"exported_at"`
	Tasks      []domain.Task `json:"tasks"`
}

var csvHeader = []string{"id", "name", "priority", "price", "quantity"}

// TaskLister is the read side the exporter needs.
type TaskLister interface {
	ListTasks(ctx context.Context) []domain.Task
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithClock sets the time source used for keys and timestamps.
func WithClock(clock core.Clock) Option {
	return func(e *Exporter) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger core.Logger) Option {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithIDs replaces the random suffix generator.
func WithIDs(next func() string) Option {
	return func(e *Exporter) {
		if next != nil {
			e.newID = next
		}
	}
}

// Exporter writes task snapshots.
type Exporter struct {
	tasks  TaskLister
	store  blobcore.Store
	clock  core.Clock
	logger core.Logger
	newID  func() string
}

// New returns an exporter reading from tasks and writing to store.
func New(tasks TaskLister, store blobcore.Store, opts ...Option) *Exporter {
	e := &Exporter{
		tasks:  tasks,
		store:  store,
		clock:  core.ClockFunc(nil),
		logger: nopLogger{},
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export encodes the current task list and stores it under
// exports/<timestamp>-<id>.<format>.
func (e *Exporter) Export(ctx context.Context, format Format) (blobcore.Object, error) {
	now := e.clock.Now().UTC()
	tasks := e.tasks.ListTasks(ctx)
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatJSON:
		err = writeJSON(&buf, Document{ExportedAt: now, Tasks: tasks})
	case FormatCSV:
		err = writeCSV(&buf, tasks)
	default:
		return blobcore.Object{}, fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return blobcore.Object{}, fmt.Errorf("encode %s export: %w", format, err)
	}
	key := fmt.Sprintf("%s%s-%s.%s", Prefix, now.Format("20060102T150405Z"), e.newID(), format)
	obj, err := e.store.Put(ctx, key, &buf, blobcore.PutOptions{ContentType: format.contentType()})
	if err != nil {
		e.logger.Error("export failed", "key", key, "error", err)
		return blobcore.Object{}, fmt.Errorf("store export: %w", err)
	}
	e.logger.Info("export written", "key", obj.Key, "tasks", len(tasks), "bytes", obj.Size, "driver", e.store.Driver())
	return obj, nil
}

// List returns stored snapshots, oldest first.
func (e *Exporter) List(ctx context.Context) ([]blobcore.Object, error) {
	return e.store.List(ctx, Prefix)
}

// Load decodes a stored snapshot. The format comes from the key's extension.
func (e *Exporter) Load(ctx context.Context, key string) ([]domain.Task, error) {
	format, err := ParseFormat(strings.TrimPrefix(path.Ext(key), "."))
	if err != nil {
		return nil, err
	}
	_, rc, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if format == FormatCSV {
		return readCSV(rc)
	}
	var doc Document
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return doc.Tasks, nil
}

func writeJSON(w io.Writer, doc Document) error {
	if doc.Tasks == nil {
		doc.Tasks = []domain.Task{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func writeCSV(w io.Writer, tasks []domain.Task) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, t := range tasks {
		row := []string{
			strconv.FormatInt(t.ID, 10),
			t.Name,
			string(t.Priority),
			strconv.FormatFloat(t.Price, 'f', -1, 64),
			strconv.Itoa(t.Quantity),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func readCSV(r io.Reader) ([]domain.Task, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if strings.Join(header, ",") != strings.Join(csvHeader, ",") {
		return nil, fmt.Errorf("unexpected csv header %v", header)
	}
	var tasks []domain.Task
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return tasks, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		task, err := parseRow(row)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		tasks = append(tasks, task)
	}
}

func parseRow(row []string) (domain.Task, error) {
	id, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return domain.Task{}, fmt.Errorf("id: %w", err)
	}
	price, err := strconv.ParseFloat(row[3], 64)
	if err != nil {
		return domain.Task{}, fmt.Errorf("price: %w", err)
	}
	qty, err := strconv.Atoi(row[4])
	if err != nil {
		return domain.Task{}, fmt.Errorf("quantity: %w", err)
	}
	return domain.Task{ID: id, Name: row[1], Priority: domain.Priority(row[2]), Price: price, Quantity: qty}, nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
