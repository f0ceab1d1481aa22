// Package stats provides bounded rolling time series and the
// risk-adjusted performance ratios used to score strategies.
package stats

import (
	"sync"
	"time"
)

// Series is a bounded, thread-safe time series. Appending beyond the
// maximum length evicts the oldest point.
type Series struct {
	name       string
	data       []float64
	timestamps []int64 // unix nanos
	maxLength  int
	mu         sync.RWMutex
}

// NewSeries creates an empty series with the given capacity bound.
func NewSeries(name string, maxLength int) *Series {
	if maxLength <= 0 {
		maxLength = 1024
	}
	return &Series{
		name:       name,
		data:       make([]float64, 0, maxLength),
		timestamps: make([]int64, 0, maxLength),
		maxLength:  maxLength,
	}
}

// Name returns the series name.
func (s *Series) Name() string { return s.name }

// Append adds a data point with an explicit timestamp.
func (s *Series) Append(value float64, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = append(s.data, value)
	s.timestamps = append(s.timestamps, ts.UnixNano())

	if len(s.data) > s.maxLength {
		s.data = s.data[1:]
		s.timestamps = s.timestamps[1:]
	}
}

// AppendNow adds a data point stamped with the current time.
func (s *Series) AppendNow(value float64) {
	s.Append(value, time.Now())
}

// Last returns the most recent value.
func (s *Series) Last() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.data) == 0 {
		return 0, false
	}
	return s.data[len(s.data)-1], true
}

// Len returns the number of stored points.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Values returns a copy of all stored values, oldest first.
func (s *Series) Values() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]float64, len(s.data))
	copy(out, s.data)
	return out
}

// TailValues returns a copy of the most recent n values.
func (s *Series) TailValues(n int) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > len(s.data) {
		n = len(s.data)
	}
	out := make([]float64, n)
	copy(out, s.data[len(s.data)-n:])
	return out
}

// ValuesSince returns a copy of the values stamped at or after t.
func (s *Series) ValuesSince(t time.Time) []float64 {
	cutoff := t.UnixNano()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]float64, 0)
	for i, ts := range s.timestamps {
		if ts >= cutoff {
			out = append(out, s.data[i])
		}
	}
	return out
}

// Clear removes every point.
func (s *Series) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make([]float64, 0, s.maxLength)
	s.timestamps = make([]int64, 0, s.maxLength)
}

// SeriesManager owns a set of named series.
type SeriesManager struct {
	series map[string]*Series
	mu     sync.RWMutex
}

// NewSeriesManager creates an empty manager.
func NewSeriesManager() *SeriesManager {
	return &SeriesManager{series: make(map[string]*Series)}
}

// Get returns the series with the given name.
func (m *SeriesManager) Get(name string) (*Series, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.series[name]
	return s, ok
}

// GetOrCreate returns the named series, creating it if absent.
func (m *SeriesManager) GetOrCreate(name string, maxLength int) *Series {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.series[name]; ok {
		return s
	}
	s := NewSeries(name, maxLength)
	m.series[name] = s
	return s
}

// Remove deletes the named series.
func (m *SeriesManager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.series, name)
}

// List returns every series name.
func (m *SeriesManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.series))
	for name := range m.series {
		names = append(names, name)
	}
	return names
}
