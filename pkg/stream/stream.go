// Package stream implements the Session Stream Manager (spec §4.8):
// per-session bounded event queues with monotonic sequence numbers,
// TTL lease renewal on every access, ack-based truncation, and lazy
// expiry. Grounded on SessionState, StreamEvent, SessionEventPage,
// SessionAccessError, create_session, renew_session_lease,
// append_session_event, and collect_session_events in
// prx-memory-mcp/src/server.rs.
package stream

import (
	"sync"
	"time"
)

const maxQueuedEvents = 512

// Event is one queued stream event.
type Event struct {
	Seq       uint64
	Payload   any
	CreatedMs int64
}

type sessionState struct {
	nextSeq       uint64
	events        []Event
	lastTouchMs   int64
	ackedSeq      uint64
	leaseExpireMs int64
}

// Page is the result of CollectEvents: a slice of events plus the
// cursor/lease bookkeeping the caller needs to continue polling.
type Page struct {
	Events         []Event
	EffectiveFrom  uint64
	NextFrom       uint64
	AckApplied     *uint64
	LeaseExpiresMs int64
}

// AccessErrorKind classifies why a session operation failed, mapped to
// HTTP 404/410/500 by the transport layer (spec §6).
type AccessErrorKind string

const (
	AccessNotFound AccessErrorKind = "not_found"
	AccessExpired  AccessErrorKind = "expired"
	AccessPoisoned AccessErrorKind = "poisoned"
)

// AccessError is returned by every Manager method once a session id is
// involved.
type AccessError struct {
	Kind      AccessErrorKind
	SessionID string
}

func (e *AccessError) Error() string {
	switch e.Kind {
	case AccessExpired:
		return "session expired: " + e.SessionID
	case AccessPoisoned:
		return "session store lock poisoned"
	default:
		return "session not found: " + e.SessionID
	}
}

// Manager owns every live session. now is injected so tests can drive
// expiry deterministically instead of sleeping real time.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	ttl      time.Duration
	now      func() time.Time
	counter  uint64

	onExpired func(count int)
}

// NewManager builds a Manager with the given session lease TTL. ttl is
// clamped to [1s, 24h] per spec §6 (PRX_MEMORY_STREAM_SESSION_TTL_MS).
func NewManager(ttl time.Duration) *Manager {
	if ttl < time.Second {
		ttl = time.Second
	}
	if ttl > 24*time.Hour {
		ttl = 24 * time.Hour
	}
	return &Manager{
		sessions: make(map[string]*sessionState),
		ttl:      ttl,
		now:      time.Now,
	}
}

// OnExpired registers a callback invoked (outside the lock) whenever
// lazy cleanup evicts sessions, so the caller can record metrics.
func (m *Manager) OnExpired(fn func(count int)) { m.onExpired = fn }

// LeaseTTLMs returns the configured session lease lifetime in
// milliseconds, echoed back to callers of session/start.
func (m *Manager) LeaseTTLMs() int64 { return m.ttl.Milliseconds() }

func (m *Manager) nowMs() int64 { return m.now().UnixMilli() }

// cleanupExpiredLocked must be called with m.mu held. exempt, if
// non-empty, is left untouched even if its lease has lapsed: the caller
// is about to look it up itself and needs to tell an expired session
// (AccessExpired) apart from one that never existed (AccessNotFound),
// a distinction this pass would otherwise erase by deleting it first.
func (m *Manager) cleanupExpiredLocked(nowMs int64, exempt string) int {
	before := len(m.sessions)
	for id, s := range m.sessions {
		if id == exempt {
			continue
		}
		if s.leaseExpireMs <= nowMs {
			delete(m.sessions, id)
		}
	}
	return before - len(m.sessions)
}

func (m *Manager) reportExpired(n int) {
	if n > 0 && m.onExpired != nil {
		m.onExpired(n)
	}
}

// CreateSession allocates a new session id and lease, returning the id
// and its lease expiry (epoch ms).
func (m *Manager) CreateSession() (string, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowMs()
	id := sessionID(now, m.counter)
	m.counter++

	expired := m.cleanupExpiredLocked(now, "")
	leaseExpires := now + m.ttl.Milliseconds()
	m.sessions[id] = &sessionState{
		nextSeq:       1,
		lastTouchMs:   now,
		leaseExpireMs: leaseExpires,
	}
	m.reportExpired(expired)
	return id, leaseExpires
}

// RenewLease extends a session's lease and returns the new expiry.
func (m *Manager) RenewLease(sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowMs()
	expired := m.cleanupExpiredLocked(now, sessionID)
	m.reportExpired(expired)

	state, ok := m.sessions[sessionID]
	if !ok {
		return 0, &AccessError{Kind: AccessNotFound, SessionID: sessionID}
	}
	if state.leaseExpireMs <= now {
		delete(m.sessions, sessionID)
		return 0, &AccessError{Kind: AccessExpired, SessionID: sessionID}
	}
	state.lastTouchMs = now
	state.leaseExpireMs = now + m.ttl.Milliseconds()
	return state.leaseExpireMs, nil
}

// AppendEvent enqueues payload onto sessionID's event queue, capping it
// at 512 events (oldest dropped first), and returns its sequence number
// plus the session's renewed lease expiry.
func (m *Manager) AppendEvent(sessionID string, payload any) (seq uint64, leaseExpiresMs int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowMs()
	expired := m.cleanupExpiredLocked(now, sessionID)
	m.reportExpired(expired)

	state, ok := m.sessions[sessionID]
	if !ok {
		return 0, 0, &AccessError{Kind: AccessNotFound, SessionID: sessionID}
	}
	if state.leaseExpireMs <= now {
		delete(m.sessions, sessionID)
		return 0, 0, &AccessError{Kind: AccessExpired, SessionID: sessionID}
	}

	seq = state.nextSeq
	state.nextSeq++
	state.lastTouchMs = now
	state.leaseExpireMs = now + m.ttl.Milliseconds()
	state.events = append(state.events, Event{Seq: seq, Payload: payload, CreatedMs: now})
	if len(state.events) > maxQueuedEvents {
		state.events = state.events[len(state.events)-maxQueuedEvents:]
	}
	return seq, state.leaseExpireMs, nil
}

// CollectEvents returns up to limit events with seq >= fromSeq (clamped
// to the oldest still-queued event), optionally applying ackSeq to
// truncate everything at or below it first.
func (m *Manager) CollectEvents(sessionID string, fromSeq uint64, limit int, ackSeq *uint64) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowMs()
	expired := m.cleanupExpiredLocked(now, sessionID)
	m.reportExpired(expired)

	state, ok := m.sessions[sessionID]
	if !ok {
		return Page{}, &AccessError{Kind: AccessNotFound, SessionID: sessionID}
	}
	if state.leaseExpireMs <= now {
		delete(m.sessions, sessionID)
		return Page{}, &AccessError{Kind: AccessExpired, SessionID: sessionID}
	}

	var ackApplied *uint64
	if ackSeq != nil {
		if *ackSeq > state.ackedSeq {
			state.ackedSeq = *ackSeq
		}
		kept := state.events[:0:0]
		for _, e := range state.events {
			if e.Seq <= state.ackedSeq {
				continue
			}
			kept = append(kept, e)
		}
		state.events = kept
		acked := state.ackedSeq
		ackApplied = &acked
	}

	state.lastTouchMs = now
	state.leaseExpireMs = now + m.ttl.Milliseconds()

	oldestSeq := state.nextSeq
	if len(state.events) > 0 {
		oldestSeq = state.events[0].Seq
	}
	effectiveFrom := fromSeq
	if oldestSeq > effectiveFrom {
		effectiveFrom = oldestSeq
	}

	var page []Event
	for _, e := range state.events {
		if e.Seq < effectiveFrom {
			continue
		}
		page = append(page, e)
		if limit > 0 && len(page) >= limit {
			break
		}
	}
	nextFrom := effectiveFrom
	if len(page) > 0 {
		nextFrom = page[len(page)-1].Seq + 1
	}

	return Page{
		Events:         page,
		EffectiveFrom:  effectiveFrom,
		NextFrom:       nextFrom,
		AckApplied:     ackApplied,
		LeaseExpiresMs: state.leaseExpireMs,
	}, nil
}

// ActiveCount returns the number of live (non-lazily-expired) sessions,
// used for /metrics/summary.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowMs()
	expired := m.cleanupExpiredLocked(now, "")
	m.reportExpired(expired)
	return len(m.sessions)
}
