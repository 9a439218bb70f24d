package metrics

import "time"

// ActorSource is the minimal surface the Collector polls for gauge metrics.
// pkg/runtime.Manager satisfies this directly; the interface lives here
// (rather than importing pkg/runtime) so metrics stays a leaf package with
// no dependency on the runtime it instruments.
type ActorSource interface {
	ActiveCount() int
}

// Collector periodically samples gauge-style metrics that aren't naturally
// updated at the point of occurrence (active actor count), mirroring
// Warren's ticker-driven Collector over the cluster manager.
type Collector struct {
	source ActorSource
	stopCh chan struct{}
}

// NewCollector constructs a Collector polling source.
func NewCollector(source ActorSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins the periodic sampling loop.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the sampling loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.source == nil {
		return
	}
	ActiveActorsGauge.Set(float64(c.source.ActiveCount()))
}
