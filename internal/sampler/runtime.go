/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package sampler

import (
	"context"
	"runtime"
	"time"

	"github.com/calder-ops/vigil/internal/series"
)

// RuntimeSource samples Go runtime metrics for the "system" category.
type RuntimeSource struct{}

// NewRuntimeSource creates the built-in system metric source.
func NewRuntimeSource() *RuntimeSource { return &RuntimeSource{} }

// Category implements Source.
func (r *RuntimeSource) Category() string { return CategorySystem }

// Collect implements Source.
func (r *RuntimeSource) Collect(_ context.Context) ([]series.Sample, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	now := time.Now().UTC()
	mk := func(metric string, value float64) series.Sample {
		return series.Sample{Category: CategorySystem, Metric: metric, Value: value, Timestamp: now}
	}

	return []series.Sample{
		mk("mem.heap_alloc_bytes", float64(mem.HeapAlloc)),
		mk("mem.sys_bytes", float64(mem.Sys)),
		mk("gc.pause_total_ms", float64(mem.PauseTotalNs)/1e6),
		mk("goroutines", float64(runtime.NumGoroutine())),
		mk("cpu.count", float64(runtime.NumCPU())),
	}, nil
}

// FuncSource adapts a plain function into a Source; used for application,
// service, and custom instrumentation supplied by the embedder.
type FuncSource struct {
	category string
	collect  func(ctx context.Context) ([]series.Sample, error)
}

// NewFuncSource wraps collect as a Source for the given category.
func NewFuncSource(category string, collect func(ctx context.Context) ([]series.Sample, error)) *FuncSource {
	return &FuncSource{category: category, collect: collect}
}

// Category implements Source.
func (f *FuncSource) Category() string { return f.category }

// Collect implements Source.
func (f *FuncSource) Collect(ctx context.Context) ([]series.Sample, error) {
	return f.collect(ctx)
}
