package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, ttl time.Duration) (*Manager, *time.Time) {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	m := NewManager(ttl)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestCreateSessionAndCollectEvents(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	id, leaseExpires := m.CreateSession()
	require.NotEmpty(t, id)
	assert.Greater(t, leaseExpires, int64(0))

	page, err := m.CollectEvents(id, 1, 50, nil)
	require.NoError(t, err)
	assert.Empty(t, page.Events)
	assert.Equal(t, uint64(1), page.EffectiveFrom)
}

func TestAppendEventIncrementsSeq(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	id, _ := m.CreateSession()

	seq1, _, err := m.AppendEvent(id, map[string]any{"n": 1})
	require.NoError(t, err)
	seq2, _, err := m.AppendEvent(id, map[string]any{"n": 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq1)
	assert.Equal(t, uint64(2), seq2)

	page, err := m.CollectEvents(id, 1, 50, nil)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	assert.Equal(t, uint64(1), page.Events[0].Seq)
	assert.Equal(t, uint64(2), page.Events[1].Seq)
	assert.Equal(t, uint64(3), page.NextFrom)
}

func TestCollectEventsAppliesAck(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	id, _ := m.CreateSession()
	m.AppendEvent(id, "a")
	m.AppendEvent(id, "b")
	m.AppendEvent(id, "c")

	ack := uint64(2)
	page, err := m.CollectEvents(id, 1, 50, &ack)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, uint64(3), page.Events[0].Seq)
	require.NotNil(t, page.AckApplied)
	assert.Equal(t, uint64(2), *page.AckApplied)

	// A later collect with fromSeq below the acked watermark is clamped up.
	page2, err := m.CollectEvents(id, 1, 50, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), page2.EffectiveFrom)
}

func TestCollectEventsRespectsLimit(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	id, _ := m.CreateSession()
	for i := 0; i < 5; i++ {
		m.AppendEvent(id, i)
	}
	page, err := m.CollectEvents(id, 1, 2, nil)
	require.NoError(t, err)
	assert.Len(t, page.Events, 2)
	assert.Equal(t, uint64(3), page.NextFrom)
}

func TestUnknownSessionReturnsNotFound(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	_, err := m.CollectEvents("nonexistent", 1, 50, nil)
	require.Error(t, err)
	var ae *AccessError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AccessNotFound, ae.Kind)
}

func TestExpiredLeaseReturnsExpiredAndLazilyEvicts(t *testing.T) {
	m, now := newTestManager(t, time.Minute)
	id, _ := m.CreateSession()

	*now = now.Add(2 * time.Minute)
	_, err := m.CollectEvents(id, 1, 50, nil)
	require.Error(t, err)
	var ae *AccessError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AccessExpired, ae.Kind)

	// the session is now gone entirely
	_, err = m.RenewLease(id)
	require.Error(t, err)
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AccessNotFound, ae.Kind)
}

func TestRenewLeaseExtendsExpiry(t *testing.T) {
	m, now := newTestManager(t, time.Minute)
	id, firstExpiry := m.CreateSession()

	*now = now.Add(30 * time.Second)
	newExpiry, err := m.RenewLease(id)
	require.NoError(t, err)
	assert.Greater(t, newExpiry, firstExpiry)
}

func TestOnExpiredCallbackFiresOnLazyCleanup(t *testing.T) {
	m, now := newTestManager(t, time.Minute)
	id, _ := m.CreateSession()

	var expiredCount int
	m.OnExpired(func(n int) { expiredCount += n })

	*now = now.Add(2 * time.Minute)
	m.CreateSession() // triggers cleanupExpiredLocked as a side effect

	assert.Equal(t, 1, expiredCount)
	_ = id
}

func TestLeaseTTLMsReflectsClamping(t *testing.T) {
	m := NewManager(time.Millisecond)
	assert.Equal(t, time.Second.Milliseconds(), m.LeaseTTLMs())

	m2 := NewManager(48 * time.Hour)
	assert.Equal(t, (24 * time.Hour).Milliseconds(), m2.LeaseTTLMs())
}

func TestActiveCount(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	assert.Equal(t, 0, m.ActiveCount())
	m.CreateSession()
	m.CreateSession()
	assert.Equal(t, 2, m.ActiveCount())
}
