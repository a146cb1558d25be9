package util

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// MaxTimeAdjustment caps the network offset at ±70 minutes.
	MaxTimeAdjustment = 70 * 60

	// minTimeSamples is how many peer samples are needed before the
	// offset takes effect.
	minTimeSamples = 5

	// maxTimeSamples bounds the sample set; one sample per peer.
	maxTimeSamples = 200
)

// TimeData derives network-adjusted time from peer-reported clock
// offsets: adjusted time is local time plus the median offset, capped.
// The consensus core consumes this through its AdjustedTime hook.
type TimeData struct {
	mu      sync.Mutex
	sources map[string]struct{}
	samples []int64
	offset  int64
	logger  *slog.Logger
	now     func() int64
}

func NewTimeData(logger *slog.Logger) *TimeData {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimeData{
		sources: make(map[string]struct{}),
		logger:  logger,
		now:     func() int64 { return time.Now().Unix() },
	}
}

// SetTimeSource overrides the local clock.
func (td *TimeData) SetTimeSource(now func() int64) {
	td.mu.Lock()
	defer td.mu.Unlock()
	td.now = now
}

// AddTimeSample records one peer's clock offset. Repeated samples from
// the same source are ignored, as is everything past the sample cap.
func (td *TimeData) AddTimeSample(source string, offset int64) {
	td.mu.Lock()
	defer td.mu.Unlock()

	if _, seen := td.sources[source]; seen {
		return
	}
	if len(td.samples) >= maxTimeSamples {
		return
	}
	td.sources[source] = struct{}{}
	td.samples = append(td.samples, offset)

	if len(td.samples) < minTimeSamples || len(td.samples)%2 != 1 {
		// Recompute only on odd sample counts so the median is stable.
		return
	}

	sorted := append([]int64(nil), td.samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	median := sorted[len(sorted)/2]

	if median > MaxTimeAdjustment || median < -MaxTimeAdjustment {
		td.offset = 0
		td.logger.Warn("local clock differs significantly from network peers",
			"median_offset_seconds", median)
		return
	}
	td.offset = median
}

// Offset returns the current capped median offset.
func (td *TimeData) Offset() int64 {
	td.mu.Lock()
	defer td.mu.Unlock()
	return td.offset
}

// AdjustedTime is local time corrected by the network offset.
func (td *TimeData) AdjustedTime() int64 {
	td.mu.Lock()
	defer td.mu.Unlock()
	return td.now() + td.offset
}
