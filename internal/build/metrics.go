package build

import (
	"sync"
	"time"
)

// Metrics tracks build performance
type Metrics struct {
	mutex    sync.RWMutex
	snapshot MetricsSnapshot
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	TotalBuilds      int64         `json:"total_builds"`
	SuccessfulBuilds int64         `json:"successful_builds"`
	FailedBuilds     int64         `json:"failed_builds"`
	CacheHits        int64         `json:"cache_hits"`
	AverageDuration  time.Duration `json:"average_duration"`
	TotalDuration    time.Duration `json:"total_duration"`
}

// NewMetrics creates a new build metrics tracker
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordBuild records a finished build.
func (m *Metrics) RecordBuild(duration time.Duration, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	s := &m.snapshot
	s.TotalBuilds++
	s.TotalDuration += duration

	if err != nil {
		s.FailedBuilds++
	} else {
		s.SuccessfulBuilds++
	}

	s.AverageDuration = s.TotalDuration / time.Duration(s.TotalBuilds)
}

// RecordHit records a lookup served by an existing build.
func (m *Metrics) RecordHit() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.snapshot.CacheHits++
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.snapshot
}

// HitRate returns the share of lookups served without a new build, in percent.
func (s MetricsSnapshot) HitRate() float64 {
	lookups := s.CacheHits + s.TotalBuilds
	if lookups == 0 {
		return 0.0
	}
	return float64(s.CacheHits) / float64(lookups) * 100.0
}
