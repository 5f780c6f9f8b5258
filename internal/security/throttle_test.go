package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	records []Record
	err     error
	inserts int
}

func (m *memoryStore) Stats(_ context.Context, key string, event EventType, since time.Time) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Stats{}, m.err
	}
	var stats Stats
	for _, rec := range m.records {
		if rec.Event != event || rec.CreatedAt.Before(since) {
			continue
		}
		if rec.SubjectKey != key {
			continue
		}
		stats.Count++
		if rec.CreatedAt.After(stats.Latest) {
			stats.Latest = rec.CreatedAt
		}
	}
	return stats, nil
}

func (m *memoryStore) Insert(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryStore) seed(key string, event EventType, n int, at time.Time) {
	for i := 0; i < n; i++ {
		m.records = append(m.records, Record{SubjectKey: key, Event: event, CreatedAt: at})
	}
}

type countingObserver struct {
	denials []SecurityType
}

func (c *countingObserver) ObserveThrottle(typ SecurityType, _ Delay) {
	c.denials = append(c.denials, typ)
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestThrottle(store Store, opts ...Option) *Throttle {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewThrottle(store, DefaultConfig(), logger, opts...)
}

func TestCheckBelowDelayThresholdPasses(t *testing.T) {
	store := &memoryStore{}
	store.seed("alice@example.com", EventLoginFailure, 2, fixedNow.Add(-time.Second))
	th := newTestThrottle(store)

	require.NoError(t, th.Check(context.Background(), "Alice@Example.com", UserLogin))
}

func TestCheckBetweenThresholdsReturnsRemainingDelay(t *testing.T) {
	store := &memoryStore{}
	// 3 failures owe 2s * 3^2 = 18s after the latest one.
	store.seed("alice@example.com", EventLoginFailure, 3, fixedNow.Add(-5*time.Second))
	th := newTestThrottle(store)

	err := th.Check(context.Background(), "alice@example.com", UserLogin)
	secErr, ok := AsSecurityError(err)
	require.True(t, ok)
	assert.Equal(t, UserLogin, secErr.Type)
	assert.False(t, secErr.RemainingDelay.IsCaptcha())
	assert.Equal(t, 13, secErr.RemainingDelay.Seconds())
	assert.Contains(t, secErr.UserMessage(), "13 seconds")
}

func TestCheckDelayElapsedPasses(t *testing.T) {
	store := &memoryStore{}
	store.seed("alice@example.com", EventLoginFailure, 4, fixedNow.Add(-2*time.Minute))
	th := newTestThrottle(store)

	require.NoError(t, th.Check(context.Background(), "alice@example.com", UserLogin))
}

func TestSixFailuresRequireCaptcha(t *testing.T) {
	store := &memoryStore{}
	th := newTestThrottle(store)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		require.NoError(t, th.RecordLogin(ctx, "bob@example.com", "", false))
	}

	err := th.CheckLogin(ctx, "bob@example.com", "10.0.0.1")
	secErr, ok := AsSecurityError(err)
	require.True(t, ok)
	assert.True(t, secErr.RemainingDelay.IsCaptcha())

	raw, err := json.Marshal(secErr.RemainingDelay)
	require.NoError(t, err)
	assert.JSONEq(t, `"captcha"`, string(raw))
}

func TestSuccessfulLoginsDoNotCount(t *testing.T) {
	store := &memoryStore{}
	th := newTestThrottle(store)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, th.RecordLogin(ctx, "carol@example.com", "10.0.0.2", true))
	}
	require.NoError(t, th.CheckLogin(ctx, "carol@example.com", "10.0.0.2"))
}

func TestCheckLoginThrottlesByIP(t *testing.T) {
	store := &memoryStore{}
	store.seed("10.0.0.3", EventLoginFailure, 5, fixedNow.Add(-time.Minute))
	th := newTestThrottle(store)

	err := th.CheckLogin(context.Background(), "new@example.com", "10.0.0.3")
	secErr, ok := AsSecurityError(err)
	require.True(t, ok)
	assert.Equal(t, UserLogin, secErr.Type)
	assert.True(t, secErr.RemainingDelay.IsCaptcha())
	assert.NotContains(t, secErr.Error(), "10.0.0.3")
}

func TestGlobalEmailRuleRequiresCaptcha(t *testing.T) {
	store := &memoryStore{}
	store.seed(GlobalKey, EventEmailSent, 300, fixedNow.Add(-time.Hour))
	obs := &countingObserver{}
	th := newTestThrottle(store, WithObserver(obs))

	err := th.CheckEmail(context.Background(), "fresh@example.com", "10.0.0.4")
	secErr, ok := AsSecurityError(err)
	require.True(t, ok)
	assert.Equal(t, GlobalEmail, secErr.Type)
	assert.True(t, secErr.RemainingDelay.IsCaptcha())
	assert.Equal(t, []SecurityType{GlobalEmail}, obs.denials)
}

func TestGlobalRuleIgnoresRecordsOutsideWindow(t *testing.T) {
	store := &memoryStore{}
	store.seed(GlobalKey, EventLoginFailure, 600, fixedNow.Add(-2*time.Hour))
	th := newTestThrottle(store)

	require.NoError(t, th.Check(context.Background(), GlobalKey, GlobalLogin))
}

func TestStoreFailureFailsClosed(t *testing.T) {
	cause := errors.New("connection refused")
	store := &memoryStore{err: cause}
	th := newTestThrottle(store)

	err := th.CheckLogin(context.Background(), "dave@example.com", "10.0.0.5")
	secErr, ok := AsSecurityError(err)
	require.True(t, ok)
	assert.True(t, secErr.RemainingDelay.IsCaptcha())
	assert.ErrorIs(t, err, cause)
}

func TestUnknownTypeFailsClosed(t *testing.T) {
	th := newTestThrottle(&memoryStore{})
	err := th.Check(context.Background(), "x", SecurityType(99))
	secErr, ok := AsSecurityError(err)
	require.True(t, ok)
	assert.True(t, secErr.RemainingDelay.IsCaptcha())
}

func TestChecksNeverInsert(t *testing.T) {
	store := &memoryStore{}
	th := newTestThrottle(store)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, th.CheckLogin(ctx, "eve@example.com", "10.0.0.6"))
		require.NoError(t, th.CheckEmail(ctx, "eve@example.com", "10.0.0.6"))
	}
	assert.Zero(t, store.inserts)
}

func TestRecordEmailWritesOneRowPerSubject(t *testing.T) {
	store := &memoryStore{}
	th := newTestThrottle(store)
	require.NoError(t, th.RecordEmail(context.Background(), " Frank@Example.com ", "10.0.0.7"))

	require.Len(t, store.records, 3)
	assert.Equal(t, "frank@example.com", store.records[0].SubjectKey)
	assert.Equal(t, "10.0.0.7", store.records[1].SubjectKey)
	assert.Equal(t, GlobalKey, store.records[2].SubjectKey)
	assert.Equal(t, EventEmailSent, store.records[0].Event)
}

func TestGlobalLoginCountsEachFailureOnce(t *testing.T) {
	store := &memoryStore{}
	th := newTestThrottle(store)
	ctx := context.Background()
	record := func(from, n int) {
		for i := from; i < from+n; i++ {
			email := fmt.Sprintf("user%d@example.com", i)
			ip := fmt.Sprintf("10.1.%d.%d", i/250, i%250)
			require.NoError(t, th.RecordLogin(ctx, email, ip, false))
		}
	}

	record(0, 250)
	require.NoError(t, th.CheckLogin(ctx, "fresh@example.com", "10.9.9.9"))

	record(250, 249)
	require.NoError(t, th.CheckLogin(ctx, "fresh@example.com", "10.9.9.9"))

	record(499, 1)
	err := th.CheckLogin(ctx, "fresh@example.com", "10.9.9.9")
	secErr, ok := AsSecurityError(err)
	require.True(t, ok)
	assert.Equal(t, GlobalLogin, secErr.Type)
	assert.True(t, secErr.RemainingDelay.IsCaptcha())
}

func TestGlobalEmailCountsEachSendOnce(t *testing.T) {
	store := &memoryStore{}
	th := newTestThrottle(store)
	ctx := context.Background()
	for i := 0; i < 299; i++ {
		require.NoError(t, th.RecordEmail(ctx, fmt.Sprintf("user%d@example.com", i), fmt.Sprintf("10.2.%d.%d", i/250, i%250)))
	}
	require.NoError(t, th.CheckEmail(ctx, "fresh@example.com", "10.9.9.9"))

	require.NoError(t, th.RecordEmail(ctx, "last@example.com", "10.9.9.8"))
	secErr, ok := AsSecurityError(th.CheckEmail(ctx, "fresh@example.com", "10.9.9.9"))
	require.True(t, ok)
	assert.Equal(t, GlobalEmail, secErr.Type)
}

func TestDisabledChecksPass(t *testing.T) {
	store := &memoryStore{}
	store.seed("gina@example.com", EventLoginFailure, 50, fixedNow)
	cfg := DefaultConfig()
	cfg.LoginEnabled = false
	th := NewThrottle(store, cfg, nil, WithClock(func() time.Time { return fixedNow }))

	require.NoError(t, th.CheckLogin(context.Background(), "gina@example.com", ""))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Login.CaptchaThreshold = cfg.Login.DelayThreshold
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.GlobalEmail = append(cfg.GlobalEmail, GlobalRule{Window: time.Hour})
	assert.Error(t, cfg.Validate())
}

func TestDelayJSON(t *testing.T) {
	raw, err := json.Marshal(map[string]Delay{"wait": WaitSeconds(12)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"wait":12}`, string(raw))
}

func TestConfigRetention(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 30*24*time.Hour, cfg.Retention())

	cfg.GlobalEmail = nil
	cfg.GlobalLogin = nil
	assert.Equal(t, time.Hour, cfg.Retention())
}
