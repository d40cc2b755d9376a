package metrics

import (
	"sync"
	"time"

	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/logging"
)

// RuleCounts is a point-in-time view of the managed rule index.
type RuleCounts struct {
	ByFamily map[string]int
}

// Source reports the current rule counts.
type Source func() RuleCounts

// Collector periodically copies rule counts and uptime into the registry.
type Collector struct {
	mu         sync.Mutex
	registry   *Registry
	logger     *logging.Logger
	source     Source
	interval   time.Duration
	started    time.Time
	stopCh     chan struct{}
	stopOnce   sync.Once
	lastUpdate time.Time
	last       RuleCounts
}

// NewCollector creates a new metrics collector.
func NewCollector(logger *logging.Logger, interval time.Duration, source Source) *Collector {
	return &Collector{
		registry: Get(),
		logger:   logging.OrDefault(logger).WithComponent("metrics"),
		source:   source,
		interval: interval,
		started:  clock.Now(),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the metrics collection loop. It blocks until Stop.
func (c *Collector) Start() {
	c.logger.Info("Starting metrics collector", "interval", c.interval.String())

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect()
	for {
		select {
		case <-ticker.C:
			c.Collect()
		case <-c.stopCh:
			c.logger.Info("Stopping metrics collector")
			return
		}
	}
}

// Stop stops the metrics collection loop.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Collect samples the source once.
func (c *Collector) Collect() {
	var counts RuleCounts
	if c.source != nil {
		counts = c.source()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for family, n := range counts.ByFamily {
		c.registry.SetActive(family, n)
	}
	// Families that disappeared read as zero.
	for family := range c.last.ByFamily {
		if _, ok := counts.ByFamily[family]; !ok {
			c.registry.SetActive(family, 0)
		}
	}
	c.last = counts
	c.registry.Uptime.Set(clock.Since(c.started).Seconds())
	c.lastUpdate = clock.Now()
}

// GetLastUpdate returns when the collector last ran.
func (c *Collector) GetLastUpdate() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdate
}

// GetLast returns the most recent sample.
func (c *Collector) GetLast() RuleCounts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
