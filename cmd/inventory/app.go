package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"inventory/internal/blob"
	"inventory/internal/config"
	"inventory/internal/controller"
	"inventory/internal/core"
	"inventory/internal/export"
)

// app is the wiring shared by every command: store, repository and the
// background dispatcher.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    core.PersistentStore
	repo     *core.OfflineTasksRepository
	dispatch *controller.Dispatcher
	report   func(io.Writer) error
	errOut   io.Writer
}

func openApp(cfgPath string, errOut io.Writer) (*app, error) {
	errOut = &syncWriter{w: errOut}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log, errOut)
	if err != nil {
		return nil, err
	}
	store, err := core.OpenPersistentStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}

	a := &app{cfg: cfg, logger: logger, store: store, errOut: errOut}
	opts := []core.Option{
		core.WithLogger(logger),
		core.WithIdleWindow(cfg.Stream.IdleWindow),
		core.WithAuditRecorder(auditLog{logger: logger}),
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(errOut)))
	}
	metrics, report, err := newMetrics(cfg.Metrics)
	if err != nil {
		_ = core.CloseStore(store)
		return nil, err
	}
	if metrics != nil {
		opts = append(opts, core.WithMetricsRecorder(metrics))
	}
	a.report = report
	a.repo = core.NewOfflineTasksRepository(store, opts...)
	a.dispatch = controller.NewDispatcher(cfg.Dispatcher.Workers, cfg.Dispatcher.QueueSize, logger)
	a.dispatch.Start()
	logger.Debug("inventory opened", "storage", cfg.Storage.Driver, "metrics", cfg.Metrics)
	return a, nil
}

// close drains pending writes, prints metrics and releases the store.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if err := a.dispatch.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop dispatcher: %w", err))
	}
	if a.report != nil {
		if err := a.report(a.errOut); err != nil {
			errs = append(errs, fmt.Errorf("report metrics: %w", err))
		}
	}
	if err := core.CloseStore(a.store); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

func (a *app) exporter(ctx context.Context) (*export.Exporter, error) {
	store, err := blob.Open(ctx, a.cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("open %s blob store: %w", a.cfg.Blob.Driver, err)
	}
	return export.New(a.repo, store, export.WithLogger(a.logger)), nil
}

func newLogger(cfg config.Log, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func newMetrics(kind string) (core.MetricsRecorder, func(io.Writer) error, error) {
	switch kind {
	case config.MetricsExpvar:
		rec := core.NewExpvarMetricsRecorder("")
		return rec, func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{rec.Name(): rec.Snapshot()})
		}, nil
	case config.MetricsPrometheus:
		reg := prometheus.NewRegistry()
		rec, err := core.NewPrometheusMetricsRecorder(reg)
		if err != nil {
			return nil, nil, err
		}
		return rec, func(w io.Writer) error {
			families, err := reg.Gather()
			if err != nil {
				return err
			}
			for _, mf := range families {
				if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
					return err
				}
			}
			return nil
		}, nil
	default:
		return nil, nil, nil
	}
}

// auditLog writes repository audit entries to the process logger.
type auditLog struct {
	logger *slog.Logger
}

func (a auditLog) Record(ctx context.Context, e core.AuditEntry) {
	level := slog.LevelDebug
	if e.Status == core.AuditStatusError {
		level = slog.LevelWarn
	}
	a.logger.LogAttrs(ctx, level, "audit",
		slog.String("operation", e.Operation),
		slog.String("action", string(e.Action)),
		slog.Int64("id", e.EntityID),
		slog.String("status", string(e.Status)),
		slog.Duration("duration", e.Duration),
		slog.String("error", e.Error),
	)
}

// syncWriter serialises writes from the logger, the tracer and the metrics
// report, which share stderr.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
