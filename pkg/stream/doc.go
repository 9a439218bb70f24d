/*
Package stream implements nexus's per-agent multicast channel (spec §4.2,
component C2: Message Stream).

Every agent owns exactly one Stream. Publishing delivers an envelope to
every subscriber registered on that stream; the Event Router (pkg/router)
decides *which* agents' streams a given publish touches, and this package
only handles delivery once a target stream has been chosen.

# Architecture

	┌───────────────────────── STREAM ──────────────────────────┐
	│                                                             │
	│   Produce(ctx, envelope)                                   │
	│        │                                                    │
	│        ▼                                                    │
	│   ┌─────────────────────────────────────────────┐         │
	│   │  for each subscriber (type-filter matched,   │         │
	│   │  not paused): non-blocking send, else        │         │
	│   │  Wait-until-timeout or Drop-and-count         │         │
	│   └──────────────────┬────────────────────────────┘         │
	│                      │                                       │
	│         ┌────────────┼────────────┐                         │
	│         ▼            ▼            ▼                         │
	│   subscriber A   subscriber B   subscriber C                │
	│   (buffered,     (buffered,     (buffered,                  │
	│    own goroutine) own goroutine) own goroutine)              │
	│         │            │            │                         │
	│         ▼            ▼            ▼                         │
	│     handler()    handler()    handler()                     │
	└─────────────────────────────────────────────────────────────┘

Each subscriber has its own buffered channel and its own consumer
goroutine, so a slow or panicking handler never blocks or crashes
delivery to any other subscriber (§4.2's error-isolation requirement).
Ordering is FIFO per subscriber; there is no ordering guarantee across
subscribers.

# Backpressure

The default DropPolicy is Wait: Produce blocks on a full subscriber
buffer until space frees up or Config.BackpressureTimeout elapses, at
which point it returns types.ErrBackpressureTimeout having already
delivered to every subscriber that had room. Configuring DropPolicy as
Drop instead skips full subscribers immediately and reports the drop
through Config.OnDrop, which pkg/metrics wires to a counter.

# See Also

  - pkg/subscription for retry/health/resume on top of a Stream's handles
  - pkg/router for the direction-based target resolution that decides
    which streams get produced to
*/
package stream
