// Package series keeps bounded in-memory time-series buffers for sampled
// metrics and provides the windowed aggregation functions used by rule
// evaluation.
package series

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Sample is one immutable metric observation.
type Sample struct {
	Category  string    `json:"category"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Aggregation names an aggregation function over a sample window.
type Aggregation string

const (
	AggAvg    Aggregation = "avg"
	AggSum    Aggregation = "sum"
	AggMin    Aggregation = "min"
	AggMax    Aggregation = "max"
	AggCount  Aggregation = "count"
	AggLatest Aggregation = "latest"
)

// ValidAggregation reports whether agg is a known aggregation.
func ValidAggregation(agg Aggregation) bool {
	switch agg {
	case AggAvg, AggSum, AggMin, AggMax, AggCount, AggLatest:
		return true
	default:
		return false
	}
}

// Aggregate reduces samples with the named function.
//
// The empty window is defined per function: sum and count return (0, true);
// avg, min, max, and latest return (0, false), meaning "no evaluation", so a
// missing-data window can never satisfy a threshold.
func Aggregate(samples []Sample, agg Aggregation) (float64, bool) {
	if len(samples) == 0 {
		switch agg {
		case AggSum, AggCount:
			return 0, true
		default:
			return 0, false
		}
	}

	switch agg {
	case AggAvg:
		var total float64
		for _, s := range samples {
			total += s.Value
		}
		return total / float64(len(samples)), true
	case AggSum:
		var total float64
		for _, s := range samples {
			total += s.Value
		}
		return total, true
	case AggMin:
		min := samples[0].Value
		for _, s := range samples[1:] {
			if s.Value < min {
				min = s.Value
			}
		}
		return min, true
	case AggMax:
		max := samples[0].Value
		for _, s := range samples[1:] {
			if s.Value > max {
				max = s.Value
			}
		}
		return max, true
	case AggCount:
		return float64(len(samples)), true
	case AggLatest:
		latest := samples[0]
		for _, s := range samples[1:] {
			if s.Timestamp.After(latest.Timestamp) {
				latest = s
			}
		}
		return latest.Value, true
	default:
		return 0, false
	}
}

// Store holds one bounded buffer per (category, metric) pair.
type Store struct {
	mu       sync.RWMutex
	capacity int
	buffers  map[string][]Sample
}

// NewStore creates a series store. capacity bounds each per-metric buffer;
// it is typically retention / sampling interval.
func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = 1
	}
	return &Store{
		capacity: capacity,
		buffers:  make(map[string][]Sample),
	}
}

func bufferKey(category, metric string) string {
	return category + "\x00" + metric
}

// Append records a sample, evicting the oldest entry once the buffer is full.
func (s *Store) Append(sample Sample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}

	key := bufferKey(sample.Category, sample.Metric)

	s.mu.Lock()
	defer s.mu.Unlock()

	buf := append(s.buffers[key], sample)
	if len(buf) > s.capacity {
		buf = buf[len(buf)-s.capacity:]
	}
	s.buffers[key] = buf
}

// Range returns samples for metric with from < Timestamp <= to, across all
// categories, ordered by timestamp.
func (s *Store) Range(metric string, from, to time.Time) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Sample
	suffix := "\x00" + metric
	for key, buf := range s.buffers {
		if !strings.HasSuffix(key, suffix) {
			continue
		}
		for _, sample := range buf {
			if sample.Timestamp.After(from) && !sample.Timestamp.After(to) {
				out = append(out, sample)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Snapshot returns a copy of all samples for one category, newest last.
func (s *Store) Snapshot(category string) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Sample
	prefix := category + "\x00"
	for key, buf := range s.buffers {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, buf...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Prune drops samples older than cutoff. Returns the number removed.
func (s *Store) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, buf := range s.buffers {
		kept := buf[:0]
		for _, sample := range buf {
			if sample.Timestamp.After(cutoff) {
				kept = append(kept, sample)
			} else {
				removed++
			}
		}
		if len(kept) == 0 {
			delete(s.buffers, key)
			continue
		}
		s.buffers[key] = kept
	}
	return removed
}

// Len returns the total number of buffered samples.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, buf := range s.buffers {
		total += len(buf)
	}
	return total
}

// String implements fmt.Stringer for diagnostics.
func (s *Store) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("series.Store{buffers: %d, capacity: %d}", len(s.buffers), s.capacity)
}
