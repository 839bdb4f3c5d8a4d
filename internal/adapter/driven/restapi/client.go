// Package restapi talks to the signaling server's REST endpoints on behalf
// of one signed-in user.
package restapi

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

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yalive/internal/core/domain"
)

const userHeader = "X-User-ID"

// Client implements port.StreamAPI and port.CallAPI.
type Client struct {
	base *url.URL
	user domain.UserData
	http *http.Client
}

func New(baseURL string, user domain.UserData, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "parse api url %q", baseURL)
	}
	return &Client{
		base: u,
		user: user,
		http: &http.Client{Timeout: timeout},
	}, nil
}

// StatusError is a non-2xx reply.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Msg    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, e.Msg)
}

type tokenResponse struct {
	Token string `json:"token"`
}

type userDataRequest struct {
	UserData domain.UserData `json:"userData"`
}

func (c *Client) CreateViewerToken(ctx context.Context, host, self domain.UserID) (string, error) {
	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/streams/create-viewer-token", map[string]domain.UserID{
		"hostIdentity": host,
		"selfIdentity": self,
	}, &resp)
	return resp.Token, err
}

func (c *Client) CreateStream(ctx context.Context, meta domain.StreamMetadata) (domain.StreamSession, error) {
	var s domain.StreamSession
	err := c.do(ctx, http.MethodPost, "/streams/create", meta, &s)
	return s, err
}

func (c *Client) GetStream(ctx context.Context, room domain.RoomID) (domain.StreamSession, error) {
	var s domain.StreamSession
	err := c.do(ctx, http.MethodGet, "/streams/"+url.PathEscape(room.String()), nil, &s)
	return s, err
}

func (c *Client) StartStream(ctx context.Context, room domain.RoomID) error {
	return c.do(ctx, http.MethodPost, "/streams/"+url.PathEscape(room.String())+"/start", nil, nil)
}

func (c *Client) EndStream(ctx context.Context, room domain.RoomID) error {
	return c.do(ctx, http.MethodPost, "/streams/"+url.PathEscape(room.String())+"/end", nil, nil)
}

func (c *Client) JoinStream(ctx context.Context, room domain.RoomID, user domain.UserData) (string, error) {
	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/streams/"+url.PathEscape(room.String())+"/join", userDataRequest{UserData: user}, &resp)
	return resp.Token, err
}

func (c *Client) BroadcastToken(ctx context.Context, room domain.RoomID, user domain.UserData) (string, error) {
	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/streams/"+url.PathEscape(room.String())+"/broadcast", userDataRequest{UserData: user}, &resp)
	return resp.Token, err
}

func (c *Client) UpdateChatSettings(ctx context.Context, user domain.UserID, settings domain.ChatSettings) error {
	body := struct {
		Settings domain.ChatSettings `json:"settings"`
	}{Settings: settings}
	return c.do(ctx, http.MethodPut, "/streams/user/"+url.PathEscape(user.String())+"/chat-settings", body, nil)
}

func (c *Client) CallToken(ctx context.Context, code string, user domain.UserData) (string, error) {
	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/calls/"+url.PathEscape(code)+"/token", userDataRequest{UserData: user}, &resp)
	return resp.Token, err
}

func (c *Client) LeaveCall(ctx context.Context, code string) error {
	return c.do(ctx, http.MethodPost, "/calls/"+url.PathEscape(code)+"/leave", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errors.Wrapf(err, "encode %s %s", method, path)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return errors.Wrapf(err, "build %s %s", method, path)
	}
	req.Header.Set(userHeader, c.user.Identity.String())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("API request failed")
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Msg: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s %s", method, path)
	}
	return nil
}
