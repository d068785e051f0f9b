// --- File: internal/platform/wns/gateway_test.go ---
package wns_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-registry/internal/platform/wns"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTokenServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, "ms-app://s-1-15-2-test", r.Form.Get("client_id"))
		assert.Equal(t, "super-secret", r.Form.Get("client_secret"))
		assert.Equal(t, "notify.windows.com", r.Form.Get("scope"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "wns-access-token",
			"token_type":   "bearer",
			"expires_in":   86400,
		})
	}))
}

func newGateway(tokenURL string) *wns.Gateway {
	return wns.NewGateway(wns.Config{
		PackageSID: "ms-app://s-1-15-2-test",
		SecretKey:  "super-secret",
		TokenURL:   tokenURL,
	}, newTestLogger())
}

func TestGateway_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("posts a toast with the right headers", func(t *testing.T) {
		var tokenHits atomic.Int32
		tokenServer := newTokenServer(t, &tokenHits)
		defer tokenServer.Close()

		var gotBody string
		channel := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "wns/toast", r.Header.Get("X-WNS-Type"))
			assert.Equal(t, "text/xml", r.Header.Get("Content-Type"))
			assert.Equal(t, "Bearer wns-access-token", r.Header.Get("Authorization"))
			body, _ := io.ReadAll(r.Body)
			gotBody = string(body)
			w.WriteHeader(http.StatusOK)
		}))
		defer channel.Close()

		gw := newGateway(tokenServer.URL)
		err := gw.Send(ctx, channel.URL, "pizza time")

		require.NoError(t, err)
		assert.Contains(t, gotBody, `template="ToastText01"`)
		assert.Contains(t, gotBody, "pizza time")
	})

	t.Run("reuses the cached access token", func(t *testing.T) {
		var tokenHits atomic.Int32
		tokenServer := newTokenServer(t, &tokenHits)
		defer tokenServer.Close()

		channel := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer channel.Close()

		gw := newGateway(tokenServer.URL)
		require.NoError(t, gw.Send(ctx, channel.URL, "first"))
		require.NoError(t, gw.Send(ctx, channel.URL, "second"))

		assert.Equal(t, int32(1), tokenHits.Load())
	})

	t.Run("refreshes the token once on a 401", func(t *testing.T) {
		var tokenHits atomic.Int32
		tokenServer := newTokenServer(t, &tokenHits)
		defer tokenServer.Close()

		var channelHits atomic.Int32
		channel := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if channelHits.Add(1) == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer channel.Close()

		gw := newGateway(tokenServer.URL)
		err := gw.Send(ctx, channel.URL, "retry me")

		require.NoError(t, err)
		assert.Equal(t, int32(2), channelHits.Load())
		assert.Equal(t, int32(2), tokenHits.Load())
	})

	t.Run("a dead channel is reported as gone", func(t *testing.T) {
		var tokenHits atomic.Int32
		tokenServer := newTokenServer(t, &tokenHits)
		defer tokenServer.Close()

		channel := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusGone)
		}))
		defer channel.Close()

		gw := newGateway(tokenServer.URL)
		err := gw.Send(ctx, channel.URL, "anyone there?")

		require.ErrorIs(t, err, wns.ErrChannelGone)
	})

	t.Run("a failed token grant aborts the send", func(t *testing.T) {
		tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer tokenServer.Close()

		gw := newGateway(tokenServer.URL)
		err := gw.Send(ctx, "http://unused.invalid", "never sent")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "token request rejected")
	})
}

func TestGateway_SendBulk(t *testing.T) {
	ctx := context.Background()

	var tokenHits atomic.Int32
	tokenServer := newTokenServer(t, &tokenHits)
	defer tokenServer.Close()

	// One live channel, one dead one; the batch must reach both.
	var liveHits atomic.Int32
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		liveHits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer live.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer dead.Close()

	gw := newGateway(tokenServer.URL)
	err := gw.SendBulk(ctx, []string{dead.URL, live.URL}, "broadcast")

	require.NoError(t, err)
	assert.Equal(t, int32(1), liveHits.Load())
}
