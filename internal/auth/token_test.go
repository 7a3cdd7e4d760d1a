package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailherald/mailherald/internal/config"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func tokenServer(t *testing.T, expiresIn int, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": fmt.Sprintf("tok-%d", hits.Load()),
			"token_type":   "Bearer",
			"expires_in":   expiresIn,
		})
	}))
}

func graphAccount() config.Account {
	return config.Account{
		Name:         "corp",
		Protocol:     "graph",
		ChannelID:    "chan-1",
		TenantID:     "tenant-1",
		ClientID:     "client-1",
		ClientSecret: "secret",
		UserEmail:    "inbox@corp.example",
	}
}

func TestAcquireCachesUntilExpiry(t *testing.T) {
	var hits atomic.Int64
	srv := tokenServer(t, 3600, &hits)
	defer srv.Close()

	p := NewProvider(srv.URL, discard)

	tok1, err := p.Acquire(context.Background(), graphAccount())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok1)

	tok2, err := p.Acquire(context.Background(), graphAccount())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok2)

	assert.Equal(t, int64(1), hits.Load(), "second acquire must reuse the cached token")
}

func TestAcquireRefreshesExpiredToken(t *testing.T) {
	var hits atomic.Int64
	// expires_in below the oauth2 expiry delta: the token is already stale
	// when cached, so every acquire re-exchanges.
	srv := tokenServer(t, 1, &hits)
	defer srv.Close()

	p := NewProvider(srv.URL, discard)

	_, err := p.Acquire(context.Background(), graphAccount())
	require.NoError(t, err)

	tok, err := p.Acquire(context.Background(), graphAccount())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, int64(2), hits.Load())
}

func TestAcquireCacheIsPerAccount(t *testing.T) {
	var hits atomic.Int64
	srv := tokenServer(t, 3600, &hits)
	defer srv.Close()

	p := NewProvider(srv.URL, discard)

	first := graphAccount()
	second := graphAccount()
	second.Name = "sales"

	_, err := p.Acquire(context.Background(), first)
	require.NoError(t, err)
	_, err = p.Acquire(context.Background(), second)
	require.NoError(t, err)

	assert.Equal(t, int64(2), hits.Load(), "each account exchanges its own token")
}

func TestAcquireExchangeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, discard)

	_, err := p.Acquire(context.Background(), graphAccount())
	assert.Error(t, err)
}
