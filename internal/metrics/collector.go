package metrics

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"
)

// EngineStats is a point-in-time view of engine state for gauges
type EngineStats struct {
	ReviewsPending  int
	ProspectsActive int
}

// StatsProvider provides engine statistics for gauges
type StatsProvider interface {
	EngineStats(ctx context.Context) (*EngineStats, error)
}

// Collector periodically updates gauges
type Collector struct {
	metrics     *Metrics
	stats       StatsProvider
	storagePath string
	interval    time.Duration
	startTime   time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCollector creates a new gauge collector
func NewCollector(m *Metrics, stats StatsProvider, storagePath string, interval time.Duration) *Collector {
	if interval == 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		metrics:     m,
		stats:       stats,
		storagePath: storagePath,
		interval:    interval,
		startTime:   time.Now(),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the collector background task
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop stops the collector
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}

// Collect updates all gauges once
func (c *Collector) Collect(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.stats != nil {
		if stats, err := c.stats.EngineStats(ctx); err == nil {
			c.metrics.ReviewsPending.Set(float64(stats.ReviewsPending))
			c.metrics.ProspectsActive.Set(float64(stats.ProspectsActive))
		}
	}
}
