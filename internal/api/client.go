// Package api is the client for the remote blink-tracking backend. The
// paths, verbs and bodies are fixed by the backend contract; the client
// never invents fields the endpoints do not expect.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"blinkd/internal/domain"
)

// StatusError is a response that arrived but carried a non-2xx status.
// The sync engine treats it differently from a transport error: a
// rejected upload halts the pass, an unreachable backend means offline.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned HTTP %d", e.Code)
	}
	return fmt.Sprintf("backend returned HTTP %d: %s", e.Code, e.Detail)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Login exchanges credentials for a bearer token via POST /token
// (form-encoded, OAuth2 password style).
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	values := url.Values{}
	values.Set("username", email)
	values.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token",
		strings.NewReader(values.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", &StatusError{Code: http.StatusUnauthorized, Detail: "empty access token"}
	}
	return out.AccessToken, nil
}

// Register creates an account via POST /register.
func (c *Client) Register(ctx context.Context, email, password string) error {
	body := map[string]interface{}{
		"email":    email,
		"password": password,
		"consent":  true,
	}
	req, err := c.jsonRequest(ctx, http.MethodPost, "/register", body, "")
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// UploadBlink submits one pending record via POST /blinks/upload. The
// body carries exactly blink_count (plus timestamp when the record has
// one, the legacy shape).
func (c *Client) UploadBlink(ctx context.Context, token string, rec domain.BlinkRecord) error {
	body := map[string]interface{}{"blink_count": rec.BlinkCount}
	if rec.Timestamp != "" {
		body["timestamp"] = rec.Timestamp
	}
	req, err := c.jsonRequest(ctx, http.MethodPost, "/blinks/upload", body, token)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// ListBlinks fetches the user's uploaded history via GET /blinks/user.
func (c *Client) ListBlinks(ctx context.Context, token string) ([]domain.UploadedBlink, error) {
	req, err := c.jsonRequest(ctx, http.MethodGet, "/blinks/user", nil, token)
	if err != nil {
		return nil, err
	}
	var out []domain.UploadedBlink
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StopTracker tells the backend to release the camera via
// POST /eye-tracker/stop. This is the out-of-band half of the dual stop
// signal; the in-band half travels over the websocket.
func (c *Client) StopTracker(ctx context.Context, token string) (string, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost, "/eye-tracker/stop", nil, token)
	if err != nil {
		return "", err
	}
	var out struct {
		Message string `json:"message"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, body interface{}, token string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Detail: readDetail(resp.Body)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// readDetail pulls the backend's {"detail": ...} message out of an
// error response, falling back to the raw body.
func readDetail(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return strings.TrimSpace(string(raw))
}
