package build

import (
	"sync"
	"time"
)

// BuildMetrics tracks generation outcomes
type BuildMetrics struct {
	TotalBuilds      int64
	SuccessfulBuilds int64
	FailedBuilds     int64
	SupersededBuilds int64
	AverageDuration  time.Duration
	TotalDuration    time.Duration
	LastDuration     time.Duration
	mutex            sync.RWMutex
}

// NewBuildMetrics creates a new build metrics tracker
func NewBuildMetrics() *BuildMetrics {
	return &BuildMetrics{}
}

// RecordBuild records a finished generation. Superseded generations count
// towards the total but not towards the average duration.
func (bm *BuildMetrics) RecordBuild(result Result) {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	bm.TotalBuilds++

	switch {
	case result.Superseded:
		bm.SupersededBuilds++
		return
	case result.Err != nil:
		bm.FailedBuilds++
	default:
		bm.SuccessfulBuilds++
	}

	bm.TotalDuration += result.Duration
	bm.LastDuration = result.Duration

	// Update average duration
	if completed := bm.SuccessfulBuilds + bm.FailedBuilds; completed > 0 {
		bm.AverageDuration = bm.TotalDuration / time.Duration(completed)
	}
}

// GetSnapshot returns a snapshot of current metrics
func (bm *BuildMetrics) GetSnapshot() BuildMetrics {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()
	// Return a copy without the mutex to avoid lock copying issues
	return BuildMetrics{
		TotalBuilds:      bm.TotalBuilds,
		SuccessfulBuilds: bm.SuccessfulBuilds,
		FailedBuilds:     bm.FailedBuilds,
		SupersededBuilds: bm.SupersededBuilds,
		AverageDuration:  bm.AverageDuration,
		TotalDuration:    bm.TotalDuration,
		LastDuration:     bm.LastDuration,
	}
}

// GetSuccessRate returns the share of completed generations that succeeded,
// as a percentage
func (bm *BuildMetrics) GetSuccessRate() float64 {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	completed := bm.SuccessfulBuilds + bm.FailedBuilds
	if completed == 0 {
		return 0.0
	}

	return float64(bm.SuccessfulBuilds) / float64(completed) * 100.0
}
