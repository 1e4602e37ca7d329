// Package service contains the application services that sit between the
// inbound adapters and the domain: snapshot lifecycle and hot reload.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaygate/relaygate/internal/config"
	"github.com/relaygate/relaygate/internal/domain/route"
	"github.com/relaygate/relaygate/internal/domain/ssrf"
)

// ReloadService owns the live configuration snapshot and the hot-reload
// protocol. The snapshot sits behind an atomic pointer: readers capture it
// once per request and observe it for the request's entire lifetime.
// Reloads are serialised by the loader mutex; the swap is all-or-nothing.
type ReloadService struct {
	mu        sync.Mutex
	snapshot  atomic.Pointer[route.Snapshot]
	cfg       atomic.Pointer[config.Config]
	validator *ssrf.Validator
	logger    *slog.Logger
	tracer    trace.Tracer
	startedAt time.Time
	reloads   atomic.Int64
}

// NewReloadService creates the service with an initial config and snapshot.
func NewReloadService(cfg *config.Config, initial *route.Snapshot, validator *ssrf.Validator, logger *slog.Logger) *ReloadService {
	s := &ReloadService{
		validator: validator,
		logger:    logger,
		tracer:    otel.Tracer("relaygate/reload"),
		startedAt: time.Now(),
	}
	s.cfg.Store(cfg)
	s.snapshot.Store(initial)
	return s
}

// Snapshot returns the live snapshot. Callers hold the returned pointer
// for the duration of one request; a concurrent reload never mutates it.
func (s *ReloadService) Snapshot() *route.Snapshot {
	return s.snapshot.Load()
}

// Config returns the live configuration document.
func (s *ReloadService) Config() *config.Config {
	return s.cfg.Load()
}

// Uptime returns the time since the service started.
func (s *ReloadService) Uptime() time.Duration {
	return time.Since(s.startedAt)
}

// Reloads returns the number of successful reloads.
func (s *ReloadService) Reloads() int64 {
	return s.reloads.Load()
}

// Reload re-reads the configuration document, validates it (including the
// SSRF gate on every route target), and atomically swaps the live
// snapshot. On any failure the old snapshot remains fully in force and the
// error is returned to the caller.
func (s *ReloadService) Reload(ctx context.Context) (*route.Snapshot, error) {
	// Loader mutex: concurrent reload attempts are serialised.
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "config.reload")
	defer span.End()

	cfg, err := config.Reload()
	if err != nil {
		s.logger.Warn("config reload rejected", "error", err)
		return nil, fmt.Errorf("reload config: %w", err)
	}

	snap, err := config.BuildSnapshot(ctx, cfg, s.validator, time.Now())
	if err != nil {
		s.logger.Warn("config reload rejected", "error", err)
		return nil, fmt.Errorf("build snapshot: %w", err)
	}

	// Atomic store: new requests see the new snapshot, in-flight
	// requests finish on the one they captured.
	s.cfg.Store(cfg)
	s.snapshot.Store(snap)
	s.reloads.Add(1)

	span.SetAttributes(attribute.Int("routes", snap.Len()))
	s.logger.Info("config reloaded", "routes", snap.Len())
	return snap, nil
}
