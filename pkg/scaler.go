package fileintegrity

import (
	"context"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
)

// Scaler tuning
const (
	ScalerPeriod               = 100 * time.Millisecond
	ScalerImprovementThreshold = 0.02
)

// ThroughputScaler grows the hash worker pool while each added worker still
// raises the hashed bytes per second. It never removes workers.
type ThroughputScaler struct {
	progress   *scanProgress
	addWorker  func()
	maxWorkers int

	lastBytes      int64
	lastSample     time.Time
	lastThroughput float64
}

// NewThroughputScaler creates a scaler reading progress and calling addWorker
// to start one more worker
func NewThroughputScaler(progress *scanProgress, addWorker func()) *ThroughputScaler {
	return &ThroughputScaler{
		progress:   progress,
		addWorker:  addWorker,
		maxWorkers: maxWorkerCount(),
	}
}

// maxWorkerCount is twice the available parallelism, at least MinWorkerCap
func maxWorkerCount() int {
	return max(MinWorkerCap, 2*runtime.GOMAXPROCS(0))
}

// Run samples throughput every ScalerPeriod until ctx is done
func (s *ThroughputScaler) Run(ctx context.Context) {
	ticker := time.NewTicker(ScalerPeriod)
	defer ticker.Stop()

	s.lastSample = time.Now()
	s.lastBytes = s.progress.bytesHashed.Load()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sample(now)
		}
	}
}

// sample computes the throughput since the previous sample and starts a
// worker when it improved by more than the threshold. It reports whether a
// worker was added.
func (s *ThroughputScaler) sample(now time.Time) bool {
	elapsed := now.Sub(s.lastSample)
	if elapsed <= 0 {
		return false
	}
	bytes := s.progress.bytesHashed.Load()
	throughput := float64(bytes-s.lastBytes) / elapsed.Seconds()
	improved := throughput > s.lastThroughput*(1+ScalerImprovementThreshold)

	s.lastSample = now
	s.lastBytes = bytes
	s.lastThroughput = throughput

	workers := int(s.progress.workers.Load())
	if IsDebugEnabled("scaler") {
		logger.Debug().
			Str("throughput", humanize.IBytes(uint64(throughput))+"/s").
			Int("workers", workers).
			Bool("improved", improved).
			Msg("scaler sample")
	}
	if !improved || workers >= s.maxWorkers {
		return false
	}
	s.addWorker()
	VerboseLog(2, "scaler: throughput %s/s, starting worker %d", humanize.IBytes(uint64(throughput)), workers+1)
	return true
}
