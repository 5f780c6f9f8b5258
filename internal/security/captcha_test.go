package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifierPostsFormAndReadsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "s3cret", r.PostForm.Get("secret"))
		assert.Equal(t, "10.1.1.1", r.PostForm.Get("remoteip"))
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("response") == "good" {
			_, _ = w.Write([]byte(`{"success":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	}))
	defer srv.Close()

	v := NewVerifier("s3cret", srv.URL, srv.Client())
	require.True(t, v.Enabled())

	ok, err := v.Verify(context.Background(), "good", "10.1.1.1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = v.Verify(context.Background(), "bad", "10.1.1.1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifierWithoutSecretRejects(t *testing.T) {
	v := NewVerifier("", "", nil)
	assert.False(t, v.Enabled())
	ok, err := v.Verify(context.Background(), "anything", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifierReportsUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	v := NewVerifier("s3cret", srv.URL, srv.Client())
	ok, err := v.Verify(context.Background(), "good", "")
	assert.Error(t, err)
	assert.False(t, ok)
}
