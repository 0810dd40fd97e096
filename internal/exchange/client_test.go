package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/p2p-trade-sync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.LevelFatal, logging.FormatText)
}

func newTestClient(baseURL string) *Client {
	return NewClient(&ClientConfig{
		APIKey:        "test-key",
		APISecret:     "test-secret",
		BaseURL:       baseURL,
		RecvWindow:    5 * time.Second,
		MinRequestGap: time.Millisecond,
		Logger:        testLogger(),
	})
}

func serverTimeHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t.Helper()
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"retCode": 0,
			"retMsg":  "OK",
			"result": map[string]string{
				"timeNano": strconv.FormatInt(time.Now().UnixNano(), 10),
			},
		})
	}
}

func TestSyncClock(t *testing.T) {
	t.Run("stores offset from server time", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, serverTimePath, r.URL.Path)
			serverTimeHandler(t)(w, r)
		}))
		defer srv.Close()

		client := newTestClient(srv.URL)
		err := client.SyncClock(context.Background())
		require.NoError(t, err)

		client.mu.Lock()
		defer client.mu.Unlock()
		assert.True(t, client.clockSynced)
		// Local test server, so the offset must be tiny.
		assert.Less(t, client.clockOffset.Abs(), time.Second)
	})

	t.Run("non-zero result code is an API error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"retCode": 10002,
				"retMsg":  "invalid request",
			})
		}))
		defer srv.Close()

		client := newTestClient(srv.URL)
		err := client.SyncClock(context.Background())

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 10002, apiErr.Code)
	})

	t.Run("garbage server time is rejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"retCode": 0,
				"result":  map[string]string{"timeNano": "not-a-number"},
			})
		}))
		defer srv.Close()

		client := newTestClient(srv.URL)
		err := client.SyncClock(context.Background())
		require.Error(t, err)
	})
}

func TestFetchTradePage(t *testing.T) {
	t.Run("fails fast before clock sync", func(t *testing.T) {
		client := newTestClient("http://127.0.0.1:0")
		_, _, err := client.FetchTradePage(context.Background(), 1, 20, Filters{})
		assert.ErrorIs(t, err, ErrClockNotSynced)
	})

	t.Run("signs the request", func(t *testing.T) {
		var captured *http.Request
		var capturedBody []byte

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == serverTimePath {
				serverTimeHandler(t)(w, r)
				return
			}
			captured = r.Clone(context.Background())
			capturedBody, _ = io.ReadAll(r.Body)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"retCode": 0,
				"result":  map[string]interface{}{"count": 0, "items": []interface{}{}},
			})
		}))
		defer srv.Close()

		client := newTestClient(srv.URL)
		require.NoError(t, client.SyncClock(context.Background()))

		_, _, err := client.FetchTradePage(context.Background(), 1, 20, Filters{})
		require.NoError(t, err)
		require.NotNil(t, captured)

		assert.Equal(t, "test-key", captured.Header.Get("X-API-KEY"))
		assert.Equal(t, "5000", captured.Header.Get("X-RECV-WINDOW"))

		timestamp := captured.Header.Get("X-TIMESTAMP")
		require.NotEmpty(t, timestamp)

		mac := hmac.New(sha256.New, []byte("test-secret"))
		mac.Write([]byte(timestamp + "test-key" + "5000" + string(capturedBody)))
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), captured.Header.Get("X-SIGN"))
	})

	t.Run("parses items and total count", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == serverTimePath {
				serverTimeHandler(t)(w, r)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"retCode": 0,
				"result": map[string]interface{}{
					"count": 42,
					"items": []map[string]interface{}{
						{"id": "o-1", "status": 50, "side": 1},
						{"id": "o-2", "status": 50, "side": 0},
					},
				},
			})
		}))
		defer srv.Close()

		client := newTestClient(srv.URL)
		require.NoError(t, client.SyncClock(context.Background()))

		items, total, err := client.FetchTradePage(context.Background(), 1, 20, Filters{})
		require.NoError(t, err)
		assert.Equal(t, 42, total)
		require.Len(t, items, 2)
		assert.Equal(t, "o-1", items[0].OrderNo())
	})

	t.Run("non-zero result code is an API error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == serverTimePath {
				serverTimeHandler(t)(w, r)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"retCode": 10005,
				"retMsg":  "permission denied",
			})
		}))
		defer srv.Close()

		client := newTestClient(srv.URL)
		require.NoError(t, client.SyncClock(context.Background()))

		_, _, err := client.FetchTradePage(context.Background(), 1, 20, Filters{})
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 10005, apiErr.Code)
	})
}

func TestFetchChatMessages(t *testing.T) {
	t.Run("returns transcript messages", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == serverTimePath {
				serverTimeHandler(t)(w, r)
				return
			}
			assert.Equal(t, chatListPath, r.URL.Path)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"ret_code": 0,
				"result": []map[string]interface{}{
					{"id": "m-1", "message": "hello", "contentType": "str"},
				},
			})
		}))
		defer srv.Close()

		client := newTestClient(srv.URL)
		require.NoError(t, client.SyncClock(context.Background()))

		messages := client.FetchChatMessages(context.Background(), "order-1", 100)
		require.Len(t, messages, 1)
		assert.Equal(t, "hello", messages[0].Message)
	})

	t.Run("failures yield an empty transcript, never an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == serverTimePath {
				serverTimeHandler(t)(w, r)
				return
			}
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		client := newTestClient(srv.URL)
		require.NoError(t, client.SyncClock(context.Background()))

		messages := client.FetchChatMessages(context.Background(), "order-1", 100)
		assert.Empty(t, messages)
	})

	t.Run("exchange rejection yields an empty transcript", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == serverTimePath {
				serverTimeHandler(t)(w, r)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"ret_code": 12110,
				"ret_msg":  "order not found",
			})
		}))
		defer srv.Close()

		client := newTestClient(srv.URL)
		require.NoError(t, client.SyncClock(context.Background()))

		messages := client.FetchChatMessages(context.Background(), "missing", 100)
		assert.Empty(t, messages)
	})
}

func TestAPIErrorMessage(t *testing.T) {
	err := &APIError{Code: 10002, Message: "invalid request"}
	assert.Equal(t, "exchange API error 10002: invalid request", err.Error())
	assert.False(t, errors.Is(err, ErrClockNotSynced))
}
