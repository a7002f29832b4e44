/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package sampler collects numeric metric samples per category on fixed
// intervals and feeds them into the series store. Sources are pluggable;
// the built-in runtime source covers the "system" category.
package sampler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/calder-ops/vigil/internal/series"
	"github.com/calder-ops/vigil/internal/store"
	"github.com/calder-ops/vigil/internal/telemetry"
)

// Category names for built-in sampling intervals.
const (
	CategorySystem      = "system"
	CategoryApplication = "application"
	CategoryService     = "service"
	CategoryCustom      = "custom"
)

// Source supplies samples for one category.
type Source interface {
	// Category returns the metric category this source feeds.
	Category() string

	// Collect gathers the current samples. Implementations must respect ctx.
	Collect(ctx context.Context) ([]series.Sample, error)
}

// Config configures the sampler.
type Config struct {
	// Intervals maps category name to sampling interval.
	Intervals map[string]time.Duration

	// SnapshotTTL bounds how long persisted category snapshots live in the
	// side-store. Default: 24h.
	SnapshotTTL time.Duration
}

// DefaultConfig returns the default per-category intervals.
func DefaultConfig() Config {
	return Config{
		Intervals: map[string]time.Duration{
			CategorySystem:      10 * time.Second,
			CategoryApplication: 30 * time.Second,
			CategoryService:     60 * time.Second,
			CategoryCustom:      30 * time.Second,
		},
		SnapshotTTL: 24 * time.Hour,
	}
}

// Sampler runs one collection loop per registered source.
type Sampler struct {
	seriesStore *series.Store
	sideStore   store.Store
	cfg         Config
	log         logr.Logger

	mu      sync.Mutex
	sources []Source

	wg sync.WaitGroup
}

// New creates a sampler. sideStore may be nil: snapshots are then skipped
// and the sampler runs purely in memory.
func New(seriesStore *series.Store, sideStore store.Store, cfg Config, log logr.Logger) *Sampler {
	defaults := DefaultConfig()
	if len(cfg.Intervals) == 0 {
		cfg.Intervals = defaults.Intervals
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = defaults.SnapshotTTL
	}

	return &Sampler{
		seriesStore: seriesStore,
		sideStore:   sideStore,
		cfg:         cfg,
		log:         log.WithName("sampler"),
	}
}

// Register adds a source. Must be called before Start.
func (s *Sampler) Register(src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = append(s.sources, src)
}

// Start runs one collection loop per source until ctx is cancelled.
// It blocks until all loops have exited.
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	sources := append([]Source(nil), s.sources...)
	s.mu.Unlock()

	s.log.Info("Sampler starting", "sources", len(sources))

	for _, src := range sources {
		interval := s.interval(src.Category())
		s.wg.Add(1)
		go func(src Source, interval time.Duration) {
			defer s.wg.Done()
			s.loop(ctx, src, interval)
		}(src, interval)
	}

	s.wg.Wait()
	s.log.Info("Sampler stopped")
	return nil
}

func (s *Sampler) interval(category string) time.Duration {
	if d, ok := s.cfg.Intervals[category]; ok && d > 0 {
		return d
	}
	if d, ok := s.cfg.Intervals[CategoryCustom]; ok && d > 0 {
		return d
	}
	return 30 * time.Second
}

func (s *Sampler) loop(ctx context.Context, src Source, interval time.Duration) {
	s.collectOnce(ctx, src)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collectOnce(ctx, src)
		}
	}
}

// collectOnce gathers samples from one source, appends them to the series
// store, and best-effort persists a category snapshot. Collection or
// persistence failures are logged and never stop the loop.
func (s *Sampler) collectOnce(ctx context.Context, src Source) {
	ctx, span := telemetry.StartSampleSpan(ctx, src.Category())
	defer span.End()

	collectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	samples, err := src.Collect(collectCtx)
	if err != nil {
		s.log.Error(err, "Sample collection failed", "category", src.Category())
		return
	}

	now := time.Now().UTC()
	for _, sample := range samples {
		if sample.Category == "" {
			sample.Category = src.Category()
		}
		if sample.Timestamp.IsZero() {
			sample.Timestamp = now
		}
		s.seriesStore.Append(sample)
	}

	s.persistSnapshot(ctx, src.Category())
}

func (s *Sampler) persistSnapshot(ctx context.Context, category string) {
	if s.sideStore == nil {
		return
	}

	snapshot := s.seriesStore.Snapshot(category)
	if len(snapshot) == 0 {
		return
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		s.log.Error(err, "Snapshot marshal failed", "category", category)
		return
	}

	persistCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.sideStore.Set(persistCtx, store.Key("series", category), data, s.cfg.SnapshotTTL); err != nil {
		// Fire-and-continue: persistence must not block evaluation.
		s.log.Error(err, "Snapshot persist failed", "category", category)
	}
}
