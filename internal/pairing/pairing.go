// Package pairing turns the credentials a user is given into a verified
// connection triple.
package pairing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/whimmy-ai/whimmy-plugin/internal/conn"
)

// Scheme is the connection URI scheme.
const Scheme = "whimmy"

// ExchangePath is where pairing codes are redeemed.
const ExchangePath = "/api/v1/plugin/pair"

// ProbeTimeout bounds how long Probe waits for the backend's first frame.
const ProbeTimeout = 5 * time.Second

var (
	// ErrInvalidCode is returned when the backend rejects a pairing code.
	ErrInvalidCode = errors.New("invalid pairing code")
	// ErrInvalidURI is returned for malformed connection URIs.
	ErrInvalidURI = errors.New("invalid connection URI")
)

// ParseConnectionURI parses whimmy://token@host[:port][?tls=false].
func ParseConnectionURI(raw string) (conn.Info, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return conn.Info{}, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if u.Scheme != Scheme {
		return conn.Info{}, fmt.Errorf("%w: scheme must be %s://", ErrInvalidURI, Scheme)
	}
	if u.Host == "" {
		return conn.Info{}, fmt.Errorf("%w: missing host", ErrInvalidURI)
	}
	if u.User == nil || u.User.Username() == "" {
		return conn.Info{}, fmt.Errorf("%w: missing token", ErrInvalidURI)
	}

	info := conn.Info{Host: u.Host, Token: u.User.Username(), UseTLS: true}
	if v := u.Query().Get("tls"); v != "" {
		tls, err := strconv.ParseBool(v)
		if err != nil {
			return conn.Info{}, fmt.Errorf("%w: tls=%q", ErrInvalidURI, v)
		}
		info.UseTLS = tls
	}
	return info, nil
}

// exchangeResponse is the backend's answer to a pairing code.
type exchangeResponse struct {
	Host   string `json:"host"`
	Token  string `json:"token"`
	UseTLS *bool  `json:"useTls"`
	Error  string `json:"error,omitempty"`
}

// Exchange redeems a pairing code at baseURL, e.g. https://api.whimmy.ai.
func Exchange(ctx context.Context, client *http.Client, baseURL, code string) (conn.Info, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return conn.Info{}, ErrInvalidCode
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	body, _ := json.Marshal(map[string]string{"code": code})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+ExchangePath, bytes.NewReader(body))
	if err != nil {
		return conn.Info{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return conn.Info{}, fmt.Errorf("pairing request: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusGone:
		return conn.Info{}, fmt.Errorf("%w: %s", ErrInvalidCode, strings.TrimSpace(string(data)))
	case resp.StatusCode >= 300:
		return conn.Info{}, fmt.Errorf("pairing failed: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var out exchangeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return conn.Info{}, fmt.Errorf("decode pairing response: %w", err)
	}
	if out.Token == "" {
		return conn.Info{}, fmt.Errorf("%w: %s", ErrInvalidCode, out.Error)
	}

	info := conn.Info{Host: out.Host, Token: out.Token, UseTLS: true}
	if info.Host == "" {
		if u, err := url.Parse(baseURL); err == nil {
			info.Host = u.Host
			info.UseTLS = u.Scheme != "http"
		}
	}
	if out.UseTLS != nil {
		info.UseTLS = *out.UseTLS
	}
	return info, nil
}

// Probe opens a socket with info and waits briefly for the backend's first
// frame. A socket that opens but stays quiet still counts as reachable.
func Probe(ctx context.Context, info conn.Info) error {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, info.URL(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("backend rejected token: %s", resp.Status)
		}
		return fmt.Errorf("connect %s: %w", info.Host, err)
	}
	defer ws.Close()

	deadline, _ := ctx.Deadline()
	ws.SetReadDeadline(deadline)
	_, _, err = ws.ReadMessage()

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseNormalClosure {
		return fmt.Errorf("backend closed the socket: %w", err)
	}

	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return nil
}

// TokenExpiry reads the exp claim of a JWT without verifying it. Tokens
// that are not JWTs, or carry no exp, report the zero time.
func TokenExpiry(token string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
