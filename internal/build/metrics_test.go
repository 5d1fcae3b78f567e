package build

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRecordBuild(t *testing.T) {
	metrics := NewMetrics()

	metrics.RecordBuild(100*time.Millisecond, nil)
	metrics.RecordBuild(300*time.Millisecond, errors.New("boom"))

	snapshot := metrics.GetSnapshot()
	assert.Equal(t, int64(2), snapshot.TotalBuilds)
	assert.Equal(t, int64(1), snapshot.SuccessfulBuilds)
	assert.Equal(t, int64(1), snapshot.FailedBuilds)
	assert.Equal(t, 400*time.Millisecond, snapshot.TotalDuration)
	assert.Equal(t, 200*time.Millisecond, snapshot.AverageDuration)
}

func TestMetricsSnapshotIsACopy(t *testing.T) {
	metrics := NewMetrics()
	metrics.RecordHit()

	snapshot := metrics.GetSnapshot()
	metrics.RecordHit()

	assert.Equal(t, int64(1), snapshot.CacheHits)
	assert.Equal(t, int64(2), metrics.GetSnapshot().CacheHits)
}

func TestMetricsConcurrentUpdates(t *testing.T) {
	metrics := NewMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				metrics.RecordBuild(time.Millisecond, nil)
				metrics.RecordHit()
			}
		}()
	}
	wg.Wait()

	snapshot := metrics.GetSnapshot()
	assert.Equal(t, int64(1000), snapshot.TotalBuilds)
	assert.Equal(t, int64(1000), snapshot.CacheHits)
	assert.InDelta(t, 50.0, snapshot.HitRate(), 0.001)
}
