package principal

import (
	"context"
	"sync"
	"time"
)

// ActivityKind is one qualifying user interaction. Anything outside the fixed
// set does not reset the inactivity timer.
type ActivityKind string

const (
	ActivityPointerDown ActivityKind = "pointerdown"
	ActivityKeyDown     ActivityKind = "keydown"
	ActivityScroll      ActivityKind = "scroll"
	ActivityTouchStart  ActivityKind = "touchstart"
	ActivityClick       ActivityKind = "click"
)

var qualifyingActivity = map[ActivityKind]struct{}{
	ActivityPointerDown: {},
	ActivityKeyDown:     {},
	ActivityScroll:      {},
	ActivityTouchStart:  {},
	ActivityClick:       {},
}

// Monitor force-logs-out token-backed sessions after a period with no
// qualifying interaction. Host-asserted and bypass sessions are never timed
// out. It arms and disarms itself on resolver transitions; Stop tears down
// the timer so nothing survives a session change.
type Monitor struct {
	resolver *Resolver
	timeout  time.Duration
	logger   Logger
	sink     ActivitySink
	notice   func()

	mu      sync.Mutex
	timer   *time.Timer
	armed   bool
	stopped bool
	epoch   uint64
}

// NewMonitor builds a monitor bound to the resolver. Call Start once.
func NewMonitor(resolver *Resolver, cfg Config) *Monitor {
	timeout := DefaultInactivityTimeout
	if cfg != nil && cfg.GetInactivityTimeout() > 0 {
		timeout = cfg.GetInactivityTimeout()
	}

	return &Monitor{
		resolver: resolver,
		timeout:  timeout,
		logger:   defLogger{},
		sink:     noopActivitySink{},
	}
}

// WithActivitySink configures an ActivitySink for timeout events.
func (m *Monitor) WithActivitySink(sink ActivitySink) *Monitor {
	m.sink = normalizeActivitySink(sink)
	return m
}

// WithLogger overrides the monitor logger.
func (m *Monitor) WithLogger(logger Logger) *Monitor {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// WithNotice sets the user-visible callback invoked after an inactivity logout.
func (m *Monitor) WithNotice(fn func()) *Monitor {
	m.notice = fn
	return m
}

// Start subscribes to resolver transitions and arms the timer when the
// current session qualifies.
func (m *Monitor) Start() {
	m.resolver.OnChange(m.evaluate)
	m.evaluate(m.resolver.Snapshot())
}

// Stop disarms the timer and detaches the monitor permanently.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.disarmLocked()
	m.mu.Unlock()
}

// Touch resets the timer for a qualifying interaction kind. Unknown kinds and
// touches on an unarmed monitor are ignored.
func (m *Monitor) Touch(kind ActivityKind) {
	if _, ok := qualifyingActivity[kind]; !ok {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.armed {
		return
	}

	// the epoch bump voids a firing already in flight: if the old timer fired
	// and its expire is waiting on the lock, it sees a stale epoch and returns
	if m.timer != nil {
		m.timer.Stop()
	}
	m.epoch++
	epoch := m.epoch
	m.timer = time.AfterFunc(m.timeout, func() {
		m.expire(epoch)
	})
}

// Active reports whether the timer is currently armed.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed
}

func (m *Monitor) evaluate(res Resolution) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	if res.Principal.TokenBacked() {
		m.armLocked()
		return
	}

	m.disarmLocked()
}

func (m *Monitor) armLocked() {
	if m.armed {
		return
	}

	m.armed = true
	m.epoch++
	epoch := m.epoch
	m.timer = time.AfterFunc(m.timeout, func() {
		m.expire(epoch)
	})
	m.logger.Debug("inactivity monitor armed for %s", m.timeout)
}

func (m *Monitor) disarmLocked() {
	if !m.armed {
		return
	}

	m.armed = false
	m.epoch++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.logger.Debug("inactivity monitor disarmed")
}

func (m *Monitor) expire(epoch uint64) {
	m.mu.Lock()
	if !m.armed || m.epoch != epoch {
		// a disarm or reset won the race; the firing is void
		m.mu.Unlock()
		return
	}
	m.armed = false
	m.timer = nil
	m.mu.Unlock()

	m.logger.Info("session timed out after %s of inactivity", m.timeout)

	event := ActivityEvent{
		EventType:  ActivityEventInactivityTimeout,
		OccurredAt: time.Now(),
	}
	if p := m.resolver.Snapshot().Principal; p != nil {
		event.PrincipalID = p.ID
		event.Origin = p.Origin
	}
	if err := normalizeActivitySink(m.sink).Record(context.Background(), event); err != nil {
		m.logger.Warn("activity sink record error: %v", err)
	}

	if err := m.resolver.Logout(context.Background()); err != nil {
		m.logger.Error("inactivity logout failed: %v", err)
	}

	if m.notice != nil {
		m.notice()
	}
}
