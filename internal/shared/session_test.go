package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessions(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "caseflow_session", time.Hour, false), mr
}

func roundTrip(t *testing.T, sm *SessionManager, cookie *http.Cookie) *Session {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	return sess
}

func committedCookie(t *testing.T, sm *SessionManager, sess *Session) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(context.Background(), rec, sess))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestSessionPersistsUserAndFlash(t *testing.T) {
	sm, _ := newTestSessions(t)
	sess := roundTrip(t, sm, nil)
	sess.SetUser(42)
	sess.AddFlash(FlashMessage{Kind: "success", Message: "Welcome back"})
	cookie := committedCookie(t, sm, sess)

	loaded := roundTrip(t, sm, cookie)
	id, ok := loaded.UserID()
	require.True(t, ok)
	assert.Equal(t, int64(42), id)
	flash := loaded.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "Welcome back", flash.Message)
	assert.Nil(t, loaded.PopFlash())
}

func TestSessionUnknownCookieStartsFresh(t *testing.T) {
	sm, _ := newTestSessions(t)
	sess := roundTrip(t, sm, &http.Cookie{Name: sm.CookieName(), Value: "attacker-chosen"})
	assert.NotEqual(t, "attacker-chosen", sess.ID)
	_, ok := sess.UserID()
	assert.False(t, ok)
}

func TestSessionRenewDropsOldID(t *testing.T) {
	sm, mr := newTestSessions(t)
	sess := roundTrip(t, sm, nil)
	first := committedCookie(t, sm, sess)
	require.True(t, mr.Exists("caseflow:session:"+first.Value))

	loaded := roundTrip(t, sm, first)
	sm.Renew(loaded)
	loaded.SetUser(7)
	second := committedCookie(t, sm, loaded)

	assert.NotEqual(t, first.Value, second.Value)
	assert.False(t, mr.Exists("caseflow:session:"+first.Value))
	assert.True(t, mr.Exists("caseflow:session:"+second.Value))
}

func TestSessionDestroyExpiresCookie(t *testing.T) {
	sm, mr := newTestSessions(t)
	sess := roundTrip(t, sm, nil)
	cookie := committedCookie(t, sm, sess)

	loaded := roundTrip(t, sm, cookie)
	sm.Destroy(loaded)
	cleared := committedCookie(t, sm, loaded)
	assert.Equal(t, -1, cleared.MaxAge)
	assert.False(t, mr.Exists("caseflow:session:"+cookie.Value))
}

func TestCSRFTokenBoundToSession(t *testing.T) {
	sm, _ := newTestSessions(t)
	csrf := NewCSRFManager("csrf-secret")
	ctx := context.Background()

	a := roundTrip(t, sm, nil)
	b := roundTrip(t, sm, nil)
	token, err := csrf.EnsureToken(ctx, a)
	require.NoError(t, err)

	again, err := csrf.EnsureToken(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, token, again)
	require.NoError(t, csrf.VerifyToken(ctx, a, token))

	b.Set(CSRFSessionKey, token)
	assert.ErrorIs(t, csrf.VerifyToken(ctx, b, token), ErrCSRFTokenMismatch)
	assert.ErrorIs(t, csrf.VerifyToken(ctx, a, ""), ErrCSRFTokenMissing)
	assert.ErrorIs(t, csrf.VerifyToken(ctx, a, "forged.token"), ErrCSRFTokenMismatch)
}

func TestCSRFRotateAfterRenew(t *testing.T) {
	sm, _ := newTestSessions(t)
	csrf := NewCSRFManager("csrf-secret")
	ctx := context.Background()

	sess := roundTrip(t, sm, nil)
	old, err := csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)

	sm.Renew(sess)
	csrf.Rotate(sess)
	fresh, err := csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)
	assert.NotEqual(t, old, fresh)
	assert.Error(t, csrf.VerifyToken(ctx, sess, old))
	assert.NoError(t, csrf.VerifyToken(ctx, sess, fresh))
}
