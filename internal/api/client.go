// Package api is the HTTP client for the room directory service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ldnlink/internal/ldnerr"
)

// Client talks to the room directory.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
}

// NewClient creates a client for the given base URL (e.g. http://host:port).
// authToken, when non-empty, is sent as a bearer token on every request.
func NewClient(baseURL, authToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		http:      &http.Client{Timeout: timeout},
	}
}

// Register publishes a hosted session and returns its handle plus the
// relay parameters assigned to it.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (RegisterResponse, error) {
	var resp RegisterResponse
	err := c.postJSON(ctx, "/register", req, &resp)
	return resp, err
}

// Keepalive refreshes a registration before its TTL lapses and returns
// the directory's view of the member count.
func (c *Client) Keepalive(ctx context.Context, req KeepaliveRequest) (KeepaliveResponse, error) {
	var resp KeepaliveResponse
	err := c.postJSON(ctx, "/keepalive", req, &resp)
	return resp, err
}

// Unregister withdraws a hosted session.
func (c *Client) Unregister(ctx context.Context, handle string) error {
	return c.postJSON(ctx, "/unregister", UnregisterRequest{Handle: handle}, nil)
}

// Scan lists sessions. Zero filter fields match everything.
func (c *Client) Scan(ctx context.Context, appID uint64, name string, channel uint16) (ScanResponse, error) {
	q := url.Values{}
	if appID != 0 {
		q.Set("app_id", strconv.FormatUint(appID, 10))
	}
	if name != "" {
		q.Set("name", name)
	}
	if channel != 0 {
		q.Set("channel", strconv.Itoa(int(channel)))
	}
	endpoint := "/scan"
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	var resp ScanResponse
	err := c.getJSON(ctx, endpoint, &resp)
	return resp, err
}

// Join negotiates membership in a session.
func (c *Client) Join(ctx context.Context, req JoinRequest) (JoinResponse, error) {
	var resp JoinResponse
	err := c.postJSON(ctx, "/join", req, &resp)
	return resp, err
}

// Leave releases the slot a Join consumed so the session can admit a
// replacement.
func (c *Client) Leave(ctx context.Context, handle, memberHandle string) error {
	return c.postJSON(ctx, "/leave", LeaveRequest{Handle: handle, MemberHandle: memberHandle}, nil)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return ldnerr.Wrap(ldnerr.KindTransportFault, "directory "+req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return statusError(req.URL.Path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return ldnerr.Wrap(ldnerr.KindTransportFault, "directory "+req.URL.Path, err)
	}
	return nil
}

func statusError(path string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ldnerr.Wrap(ldnerr.KindUnauthenticated, "directory "+path, err)
	case http.StatusUpgradeRequired:
		return ldnerr.Wrap(ldnerr.KindVersionMismatch, "directory "+path, err)
	case http.StatusBadRequest:
		return ldnerr.Wrap(ldnerr.KindValidationFailed, "directory "+path, err)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ldnerr.Wrap(ldnerr.KindTimeout, "directory "+path, err)
	default:
		return ldnerr.Wrap(ldnerr.KindTransportFault, "directory "+path, err)
	}
}
