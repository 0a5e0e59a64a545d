package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
)

// HTTPGateway sends SMS through a token-authenticated JSON API:
// POST {api}/login issues a bearer token, POST {api}/sms sends a campaign.
type HTTPGateway struct {
	apiURL   string
	username string
	password string
	sender   string
	client   *http.Client
	now      func() time.Time

	tokenMutex  sync.RWMutex
	token       string
	tokenExpiry time.Time
}

// Config holds gateway credentials
type Config struct {
	APIURL   string
	Username string
	Password string
	Sender   string
}

// NewHTTPGateway creates a new gateway client
func NewHTTPGateway(config Config) *HTTPGateway {
	return &HTTPGateway{
		apiURL:   strings.TrimRight(config.APIURL, "/"),
		username: config.Username,
		password: config.Password,
		sender:   config.Sender,
		client:   &http.Client{Timeout: 30 * time.Second},
		now:      time.Now,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Status     string `json:"status"`
	Comment    string `json:"comment"`
	Token      string `json:"token"`
	Expiration int    `json:"expiration"` // seconds
	ErrCode    string `json:"errCode"`
}

type recipient struct {
	Mobile string `json:"mobile"`
}

type sendRequest struct {
	MSISDN        []recipient `json:"msisdn"`
	Message       string      `json:"message"`
	SourceAddress string      `json:"sourceAddress,omitempty"`
	TransactionID int64       `json:"transaction_id"`
}

type sendResponse struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
	ErrCode string `json:"errCode"`
}

var nonDigits = regexp.MustCompile(`[^0-9]`)

// FormatPhone reduces an international number to digits only, country code included
func FormatPhone(phone string) (string, error) {
	digits := nonDigits.ReplaceAllString(phone, "")
	digits = strings.TrimPrefix(digits, "00")
	if len(digits) < 7 || len(digits) > 15 {
		return "", fmt.Errorf("invalid phone number length: %d digits", len(digits))
	}
	return digits, nil
}

func (g *HTTPGateway) postJSON(ctx context.Context, path, token string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response (HTTP %d): %w", resp.StatusCode, err)
	}
	return nil
}

func (g *HTTPGateway) login(ctx context.Context) (string, error) {
	var resp loginResponse
	if err := g.postJSON(ctx, "/login", "", loginRequest{Username: g.username, Password: g.password}, &resp); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if resp.Status != "success" || resp.Token == "" {
		return "", fmt.Errorf("login failed: %s (error code: %s)", resp.Comment, resp.ErrCode)
	}

	g.tokenMutex.Lock()
	g.token = resp.Token
	g.tokenExpiry = g.now().Add(time.Duration(resp.Expiration) * time.Second)
	g.tokenMutex.Unlock()
	return resp.Token, nil
}

// validToken returns the cached token unless it expires within five minutes
func (g *HTTPGateway) validToken(ctx context.Context) (string, error) {
	g.tokenMutex.RLock()
	token, expiry := g.token, g.tokenExpiry
	g.tokenMutex.RUnlock()

	if token != "" && g.now().Before(expiry.Add(-5*time.Minute)) {
		return token, nil
	}
	return g.login(ctx)
}

// Send sends message to a single phone number
func (g *HTTPGateway) Send(ctx context.Context, phone, message string) (int64, error) {
	mobile, err := FormatPhone(phone)
	if err != nil {
		return 0, err
	}

	token, err := g.validToken(ctx)
	if err != nil {
		return 0, err
	}

	transactionID := g.now().UnixMicro()
	req := sendRequest{
		MSISDN:        []recipient{{Mobile: mobile}},
		Message:       message,
		SourceAddress: g.sender,
		TransactionID: transactionID,
	}

	var resp sendResponse
	if err := g.postJSON(ctx, "/sms", token, req, &resp); err != nil {
		return 0, fmt.Errorf("send sms: %w", err)
	}
	if resp.Status != "success" {
		return 0, fmt.Errorf("SMS sending failed: %s (error code: %s)", resp.Comment, resp.ErrCode)
	}
	return transactionID, nil
}

// Name returns the name of this gateway
func (g *HTTPGateway) Name() string {
	return "http-sms"
}
