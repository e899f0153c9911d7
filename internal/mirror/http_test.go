package mirror

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"credential-sync/internal/model"
)

func TestHTTPStoreSetPassword(t *testing.T) {
	var (
		calls int
		got   setPasswordRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/users/password", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	store := NewHTTPStore(server.URL+"/", "secret", time.Second, zap.NewNop())
	require.NoError(t, store.SetPassword(context.Background(), "u@x.com", "Pw1!"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, setPasswordRequest{Email: "u@x.com", Password: "Pw1!"}, got)
}

func TestHTTPStoreNon2xxIsRemoteError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "user not found", http.StatusNotFound)
	}))
	defer server.Close()

	err := NewHTTPStore(server.URL, "", time.Second, zap.NewNop()).
		SetPassword(context.Background(), "u@x.com", "Pw1!")

	assert.ErrorIs(t, err, model.ErrRemote)
	assert.NotErrorIs(t, err, model.ErrUnreachable)
	assert.NotContains(t, err.Error(), "Pw1!")
}

func TestHTTPStoreTimeoutIsUnreachable(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	err := NewHTTPStore(server.URL, "", 50*time.Millisecond, zap.NewNop()).
		SetPassword(context.Background(), "u@x.com", "Pw1!")

	assert.ErrorIs(t, err, model.ErrUnreachable)
}

func TestHTTPStoreConnectionRefusedIsUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := NewHTTPStore(url, "", time.Second, zap.NewNop()).
		SetPassword(context.Background(), "u@x.com", "Pw1!")

	assert.ErrorIs(t, err, model.ErrUnreachable)
}
