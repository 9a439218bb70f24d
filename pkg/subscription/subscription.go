// Package subscription implements the Subscription Manager (spec §4.3,
// component C3): a runtime-agnostic layer of retry, health, and resume
// semantics on top of whatever stream implementation a backend provides.
package subscription

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cuemby/nexus/pkg/log"
	"github.com/cuemby/nexus/pkg/stream"
	"github.com/cuemby/nexus/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Target is the minimal surface a Subscription Manager needs from an
// underlying transport. pkg/stream.Stream satisfies this directly; a
// cluster runtime backend can satisfy it with a remote-proxying stream.
type Target interface {
	Subscribe(handler stream.Handler, typeFilter string) (*types.SubscriptionHandle, error)
	Unsubscribe(subscriptionID string)
	Handle(subscriptionID string) *types.SubscriptionHandle
	SetPaused(subscriptionID string, paused bool)
}

// Config controls retry backoff and health evaluation, per §4.3.
type Config struct {
	BaseDelay   time.Duration
	Factor      float64
	Jitter      float64 // fraction, e.g. 0.25 for ±25%
	MaxAttempts int
	IdleWindow  time.Duration
	// Rand is the jitter source; overridable for deterministic tests.
	Rand *rand.Rand
}

// DefaultConfig returns the §4.3 defaults: base 100ms, factor 2, jitter
// ±25%, 5 attempts, 60s idle window.
func DefaultConfig() Config {
	return Config{
		BaseDelay:   100 * time.Millisecond,
		Factor:      2,
		Jitter:      0.25,
		MaxAttempts: 5,
		IdleWindow:  60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.Factor <= 0 {
		c.Factor = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.IdleWindow <= 0 {
		c.IdleWindow = 60 * time.Second
	}
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return c
}

// tracked is the Manager's bookkeeping for one logical subscription. Its
// external SubscriptionID stays stable across reconnects even though the
// underlying target subscription id may change.
type tracked struct {
	mu           sync.Mutex
	handle       types.SubscriptionHandle
	underlyingID string
	handler      stream.Handler
	typeFilter   string
}

// Manager unifies subscription lifecycle across runtimes: create with
// retry, idempotent unsubscribe, health checks, and reconnect.
type Manager struct {
	target Target
	cfg    Config
	logger zerolog.Logger

	mu      sync.RWMutex
	handles map[string]*tracked

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Manager fronting target.
func New(target Target, cfg Config) *Manager {
	return &Manager{
		target:  target,
		cfg:     cfg.withDefaults(),
		logger:  log.WithComponent("subscription"),
		handles: make(map[string]*tracked),
		stopCh:  make(chan struct{}),
	}
}

// Create attempts to subscribe, retrying with exponential backoff and
// jitter on failure. Returns the handle, or propagates
// types.ErrSubscriptionCreateFailed after the retry budget is exhausted.
func (m *Manager) Create(ctx context.Context, handler stream.Handler, typeFilter string) (*types.SubscriptionHandle, error) {
	t := &tracked{
		handle: types.SubscriptionHandle{
			SubscriptionID: uuid.NewString(),
			State:          types.SubscriptionCreating,
		},
		handler:    handler,
		typeFilter: typeFilter,
	}

	underlying, err := m.subscribeWithRetry(ctx, t)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.underlyingID = underlying.SubscriptionID
	t.handle.StreamID = underlying.StreamID
	t.handle.State = types.SubscriptionActive
	t.handle.LastActivityAt = underlying.LastActivityAt
	result := t.handle
	t.mu.Unlock()

	m.mu.Lock()
	m.handles[result.SubscriptionID] = t
	m.mu.Unlock()

	return &result, nil
}

func (m *Manager) subscribeWithRetry(ctx context.Context, t *tracked) (*types.SubscriptionHandle, error) {
	delay := m.cfg.BaseDelay
	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxAttempts; attempt++ {
		underlying, err := m.target.Subscribe(t.handler, t.typeFilter)
		if err == nil {
			return underlying, nil
		}
		lastErr = err
		t.mu.Lock()
		t.handle.RetryCount = attempt + 1
		t.mu.Unlock()

		if attempt == m.cfg.MaxAttempts-1 {
			break
		}
		wait := applyJitter(delay, m.cfg.Jitter, m.cfg.Rand)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay = time.Duration(float64(delay) * m.cfg.Factor)
	}
	m.logger.Warn().Err(lastErr).Int("attempts", m.cfg.MaxAttempts).Msg("subscription create exhausted retries")
	return nil, fmt.Errorf("%w: %v", types.ErrSubscriptionCreateFailed, lastErr)
}

func applyJitter(d time.Duration, jitter float64, r *rand.Rand) time.Duration {
	if jitter <= 0 {
		return d
	}
	spread := float64(d) * jitter
	offset := (r.Float64()*2 - 1) * spread // in [-spread, +spread]
	jittered := float64(d) + offset
	if jittered < 0 {
		jittered = 0
	}
	return time.Duration(jittered)
}

// Unsubscribe releases handle. Idempotent: a nil handle, or one already
// terminated/unknown, is a no-op per §4.3.
func (m *Manager) Unsubscribe(handle *types.SubscriptionHandle) {
	if handle == nil {
		return
	}
	m.mu.Lock()
	t, ok := m.handles[handle.SubscriptionID]
	if ok {
		delete(m.handles, handle.SubscriptionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	underlyingID := t.underlyingID
	t.handle.State = types.SubscriptionTerminated
	t.mu.Unlock()
	if underlyingID != "" {
		m.target.Unsubscribe(underlyingID)
	}
}

// HealthCheck reports whether handle is alive and active within the
// configured idle window, per §4.3. A false result marks the handle
// unhealthy.
func (m *Manager) HealthCheck(handle *types.SubscriptionHandle) bool {
	if handle == nil {
		return false
	}
	m.mu.RLock()
	t, ok := m.handles[handle.SubscriptionID]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	t.mu.Lock()
	underlyingID := t.underlyingID
	t.mu.Unlock()

	live := m.target.Handle(underlyingID)
	healthy := live != nil && live.State == types.SubscriptionActive &&
		time.Since(live.LastActivityAt) <= m.cfg.IdleWindow

	t.mu.Lock()
	if live != nil {
		t.handle.LastActivityAt = live.LastActivityAt
	}
	if !healthy {
		t.handle.State = types.SubscriptionUnhealthy
	}
	t.mu.Unlock()
	return healthy
}

// Reconnect re-subscribes while preserving the original handler and type
// filter. Failure after retries is reported, not thrown, and leaves the
// handle unhealthy, per §4.3.
func (m *Manager) Reconnect(ctx context.Context, handle *types.SubscriptionHandle) (*types.SubscriptionHandle, error) {
	if handle == nil {
		return nil, types.ErrSubscriptionCreateFailed
	}
	m.mu.RLock()
	t, ok := m.handles[handle.SubscriptionID]
	m.mu.RUnlock()
	if !ok {
		return nil, types.ErrSubscriptionCreateFailed
	}

	t.mu.Lock()
	if t.underlyingID != "" {
		m.target.Unsubscribe(t.underlyingID)
		t.underlyingID = ""
	}
	t.mu.Unlock()

	underlying, err := m.subscribeWithRetry(ctx, t)
	if err != nil {
		t.mu.Lock()
		t.handle.State = types.SubscriptionUnhealthy
		result := t.handle
		t.mu.Unlock()
		return &result, err
	}

	t.mu.Lock()
	t.underlyingID = underlying.SubscriptionID
	t.handle.StreamID = underlying.StreamID
	t.handle.State = types.SubscriptionActive
	t.handle.LastActivityAt = underlying.LastActivityAt
	result := t.handle
	t.mu.Unlock()
	return &result, nil
}

// SetPaused pauses or resumes delivery for handle without releasing it.
func (m *Manager) SetPaused(handle *types.SubscriptionHandle, paused bool) {
	if handle == nil {
		return
	}
	m.mu.RLock()
	t, ok := m.handles[handle.SubscriptionID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	t.mu.Lock()
	underlyingID := t.underlyingID
	if paused {
		t.handle.State = types.SubscriptionPaused
	} else {
		t.handle.State = types.SubscriptionActive
	}
	t.mu.Unlock()
	if underlyingID != "" {
		m.target.SetPaused(underlyingID, paused)
	}
}

// GetActive returns only handles that are currently healthy and not
// paused, per §4.3.
func (m *Manager) GetActive() []*types.SubscriptionHandle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	active := make([]*types.SubscriptionHandle, 0, len(m.handles))
	for _, t := range m.handles {
		t.mu.Lock()
		if t.handle.State == types.SubscriptionActive {
			h := t.handle
			active = append(active, &h)
		}
		t.mu.Unlock()
	}
	return active
}

// Supervise runs a periodic health/reconnect loop: every interval it health
// checks every tracked handle and attempts a reconnect for any that went
// unhealthy. Mirrors the ticker-driven reconciliation loop used elsewhere
// in nexus; callers may ignore it and drive health checks manually instead.
func (m *Manager) Supervise(ctx context.Context, interval time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.superviseOnce(ctx)
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			}
		}
	}()
}

func (m *Manager) superviseOnce(ctx context.Context) {
	m.mu.RLock()
	snapshot := make([]*types.SubscriptionHandle, 0, len(m.handles))
	for _, t := range m.handles {
		t.mu.Lock()
		h := t.handle
		t.mu.Unlock()
		snapshot = append(snapshot, &h)
	}
	m.mu.RUnlock()

	for _, h := range snapshot {
		if m.HealthCheck(h) {
			continue
		}
		if _, err := m.Reconnect(ctx, h); err != nil {
			m.logger.Warn().Err(err).Str("subscription_id", h.SubscriptionID).Msg("reconnect failed, handle remains unhealthy")
		}
	}
}

// Stop halts the supervision loop started by Supervise.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}
