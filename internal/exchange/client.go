// Package exchange wraps authenticated calls to the exchange's P2P trade and
// chat endpoints and implements the fallback fetch strategy chain.
package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/p2p-trade-sync/internal/logging"
	"github.com/p2p-trade-sync/internal/types"
	"golang.org/x/time/rate"
)

const (
	serverTimePath = "/server-time"
	orderListPath  = "/p2p/order/list"
	chatListPath   = "/p2p/order/message/listpage"
)

// ErrClockNotSynced is returned when an authenticated call is attempted
// before SyncClock has established the server time offset. This is a
// programming-contract violation, not a transient condition.
var ErrClockNotSynced = errors.New("exchange: clock not synced, call SyncClock first")

// APIError is a business-level rejection: the transport succeeded but the
// exchange answered with a non-zero result code.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange API error %d: %s", e.Code, e.Message)
}

// Filters narrows a trade page query. Zero values are omitted from the
// request body.
type Filters struct {
	TokenID   string
	Side      *int
	Status    *int
	BeginTime int64 // epoch milliseconds
	EndTime   int64 // epoch milliseconds
}

// ClientConfig configures an exchange API client for one set of credentials.
type ClientConfig struct {
	APIKey         string
	APISecret      string
	BaseURL        string
	RecvWindow     time.Duration
	RequestTimeout time.Duration
	// MinRequestGap throttles all outbound requests from this client.
	MinRequestGap time.Duration
	Logger        *logging.Logger
}

// Client is an authenticated exchange API client. It owns the time offset
// against the exchange's clock so that signed requests fall inside the
// server's acceptance window.
type Client struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logging.Logger

	mu          sync.Mutex
	clockOffset time.Duration
	clockSynced bool
}

// NewClient creates a new exchange API client
func NewClient(cfg *ClientConfig) *Client {
	recvWindow := cfg.RecvWindow
	if recvWindow == 0 {
		recvWindow = 5 * time.Second
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	gap := cfg.MinRequestGap
	if gap == 0 {
		gap = 300 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger(logging.LevelInfo, logging.FormatJSON)
	}

	return &Client{
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		baseURL:    cfg.BaseURL,
		recvWindow: recvWindow,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(gap), 1),
		logger:     logger.WithField("component", "exchange"),
	}
}

// serverTimeResponse is the unauthenticated server clock envelope.
type serverTimeResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		TimeNano string `json:"timeNano"`
	} `json:"result"`
}

// SyncClock fetches the server time once and stores the offset applied to
// every timestamp used in request signing. Must be called before any
// authenticated call.
func (c *Client) SyncClock(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+serverTimePath, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	body, err := c.execute(req)
	if err != nil {
		return fmt.Errorf("failed to fetch server time: %w", err)
	}

	var parsed serverTimeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("failed to parse server time: %w", err)
	}
	if parsed.RetCode != 0 {
		return &APIError{Code: parsed.RetCode, Message: parsed.RetMsg}
	}

	nanos, err := strconv.ParseInt(parsed.Result.TimeNano, 10, 64)
	if err != nil || nanos <= 0 {
		return fmt.Errorf("invalid server time %q", parsed.Result.TimeNano)
	}

	offset := time.Until(time.Unix(0, nanos))

	c.mu.Lock()
	c.clockOffset = offset
	c.clockSynced = true
	c.mu.Unlock()

	c.logger.WithField("offsetMs", offset.Milliseconds()).Debug("exchange clock synced")
	return nil
}

// orderListRequest is the POST body for the trade page endpoint.
type orderListRequest struct {
	Page      int    `json:"page"`
	Size      int    `json:"size"`
	TokenID   string `json:"tokenId,omitempty"`
	Side      *int   `json:"side,omitempty"`
	Status    *int   `json:"status,omitempty"`
	BeginTime int64  `json:"beginTime,omitempty"`
	EndTime   int64  `json:"endTime,omitempty"`
}

// orderListResponse is the trade page envelope.
type orderListResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Count int              `json:"count"`
		Items []types.RawTrade `json:"items"`
	} `json:"result"`
}

// FetchTradePage returns one page of raw trades plus the upstream total
// count. A non-zero exchange result code surfaces as *APIError; transport
// failures propagate as plain errors.
func (c *Client) FetchTradePage(ctx context.Context, page, size int, f Filters) ([]types.RawTrade, int, error) {
	body, err := json.Marshal(orderListRequest{
		Page:      page,
		Size:      size,
		TokenID:   f.TokenID,
		Side:      f.Side,
		Status:    f.Status,
		BeginTime: f.BeginTime,
		EndTime:   f.EndTime,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode request: %w", err)
	}

	raw, err := c.doSigned(ctx, orderListPath, body)
	if err != nil {
		return nil, 0, err
	}

	var parsed orderListResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, 0, fmt.Errorf("failed to parse trade page: %w", err)
	}
	if parsed.RetCode != 0 {
		return nil, 0, &APIError{Code: parsed.RetCode, Message: parsed.RetMsg}
	}

	return parsed.Result.Items, parsed.Result.Count, nil
}

// chatListRequest is the POST body for the chat transcript endpoint.
type chatListRequest struct {
	OrderID string `json:"orderId"`
	Size    int    `json:"size"`
}

// chatListResponse is the chat transcript envelope.
type chatListResponse struct {
	RetCode int                 `json:"ret_code"`
	RetMsg  string              `json:"ret_msg"`
	Result  []types.ChatMessage `json:"result"`
}

// FetchChatMessages returns the chat transcript for an order. A missing or
// unfetchable transcript is a normal, recoverable condition: failures are
// logged and an empty list is returned rather than an error.
func (c *Client) FetchChatMessages(ctx context.Context, orderID string, size int) []types.ChatMessage {
	body, err := json.Marshal(chatListRequest{OrderID: orderID, Size: size})
	if err != nil {
		c.logger.WithError(err).Warn("failed to encode chat request")
		return nil
	}

	raw, err := c.doSigned(ctx, chatListPath, body)
	if err != nil {
		c.logger.WithError(err).WithField("orderId", orderID).Warn("chat fetch failed")
		return nil
	}

	var parsed chatListResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		c.logger.WithError(err).WithField("orderId", orderID).Warn("failed to parse chat response")
		return nil
	}
	if parsed.RetCode != 0 {
		c.logger.WithFields(map[string]interface{}{
			"orderId": orderID,
			"retCode": parsed.RetCode,
			"retMsg":  parsed.RetMsg,
		}).Warn("chat fetch rejected by exchange")
		return nil
	}

	return parsed.Result
}

// doSigned performs an authenticated POST. POST requests sign the JSON body;
// the signature covers timestamp + api key + recv window + payload.
func (c *Client) doSigned(ctx context.Context, path string, body []byte) ([]byte, error) {
	c.mu.Lock()
	synced := c.clockSynced
	offset := c.clockOffset
	c.mu.Unlock()

	if !synced {
		return nil, ErrClockNotSynced
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	timestamp := strconv.FormatInt(time.Now().Add(offset).UnixMilli(), 10)
	recvWindow := strconv.FormatInt(c.recvWindow.Milliseconds(), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("X-TIMESTAMP", timestamp)
	req.Header.Set("X-RECV-WINDOW", recvWindow)
	req.Header.Set("X-SIGN", c.sign(timestamp, recvWindow, string(body)))

	return c.execute(req)
}

// sign computes the hex HMAC-SHA256 over timestamp + key + recvWindow + payload.
func (c *Client) sign(timestamp, recvWindow, payload string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(timestamp + c.apiKey + recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) execute(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d - %s", resp.StatusCode, string(body))
	}

	return body, nil
}
