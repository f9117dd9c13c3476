package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SessionHeader carries the server assigned session id on streamable HTTP transports.
const SessionHeader = "Mcp-Session-Id"

const maxResponseSize = 10 << 20

// Client talks JSON-RPC over HTTP POST to a single remote tool server. Responses may come back
// as plain JSON or as a server-sent event stream.
type Client struct {
	name       string
	url        string
	headers    map[string]string
	httpClient *http.Client

	mu          sync.Mutex
	sessionID   string
	initialized bool
	serverName  string
}

type ClientOption func(*Client)

func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func NewClient(name string, url string, opts ...ClientOption) *Client {
	c := &Client{
		name:       name,
		url:        url,
		headers:    map[string]string{},
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string {
	return c.name
}

// SessionID returns the session id the server assigned, if any.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Initialize performs the handshake. It is called implicitly by ListTools and CallTool.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	done := c.initialized
	c.mu.Unlock()
	if done {
		return nil
	}

	params := map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "marionette",
			"version": "0.1.0",
		},
	}
	var result initializeResult
	if err := c.call(ctx, "initialize", params, &result); err != nil {
		return errors.Wrapf(err, "initialize %s", c.name)
	}

	if err := c.notify(ctx, "notifications/initialized"); err != nil {
		return errors.Wrapf(err, "initialized notification %s", c.name)
	}

	c.mu.Lock()
	c.initialized = true
	c.serverName = result.ServerInfo.Name
	c.mu.Unlock()

	log.Debug().
		Str("mcp_server", c.name).
		Str("server_name", result.ServerInfo.Name).
		Str("server_version", result.ServerInfo.Version).
		Str("protocol_version", result.ProtocolVersion).
		Msg("mcp: server initialized")
	return nil
}

// ListTools returns every tool the server exposes, following pagination cursors.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}

	var defs []ToolDefinition
	cursor := ""
	for {
		var params interface{}
		if cursor != "" {
			params = map[string]string{"cursor": cursor}
		}
		var result toolsListResult
		if err := c.call(ctx, "tools/list", params, &result); err != nil {
			return nil, errors.Wrapf(err, "tools/list %s", c.name)
		}
		defs = append(defs, result.Tools...)
		if result.NextCursor == "" || result.NextCursor == cursor {
			break
		}
		cursor = result.NextCursor
	}

	log.Debug().Str("mcp_server", c.name).Int("count", len(defs)).Msg("mcp: discovered tools")
	return defs, nil
}

// CallTool invokes a remote tool. The text of all content blocks is joined with newlines; a
// result flagged isError is returned as text together with isError set.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, bool, error) {
	if err := c.Initialize(ctx); err != nil {
		return "", false, err
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	var result callToolResult
	if err := c.call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	}, &result); err != nil {
		return "", false, errors.Wrapf(err, "tools/call %s", name)
	}
	return contentText(result.Content), result.IsError, nil
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := uuid.NewString()
	resp, err := c.post(ctx, Request{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params}, id)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(resp.Result, out), "decode %s result", method)
}

func (c *Client) notify(ctx context.Context, method string) error {
	_, err := c.post(ctx, Request{JSONRPC: jsonrpcVersion, Method: method}, "")
	return err
}

// post sends one message. For notifications id is empty and no response is decoded.
func (c *Client) post(ctx context.Context, msg Request, id string) (*Response, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if sid := c.SessionID(); sid != "" {
		req.Header.Set(SessionHeader, sid)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "post %s", c.url)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
	}()

	if sid := resp.Header.Get(SessionHeader); sid != "" {
		c.mu.Lock()
		c.sessionID = sid
		c.mu.Unlock()
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if id == "" {
		return nil, nil
	}
	if resp.StatusCode == http.StatusAccepted {
		return nil, errors.Errorf("server accepted request %s without a response", msg.Method)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		return readEventStream(resp.Body, id)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	var r Response
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	return &r, nil
}

// readEventStream scans server-sent events until the response for id arrives. Events for other
// ids (server requests and notifications) are skipped.
func readEventStream(r io.Reader, id string) (*Response, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxResponseSize)

	var data strings.Builder
	dispatch := func() (*Response, bool) {
		defer data.Reset()
		if data.Len() == 0 {
			return nil, false
		}
		var resp Response
		if err := json.Unmarshal([]byte(data.String()), &resp); err != nil {
			log.Debug().Err(err).Msg("mcp: skipping undecodable event")
			return nil, false
		}
		if !resp.matches(id) {
			return nil, false
		}
		return &resp, true
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if resp, ok := dispatch(); ok {
				return resp, nil
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read event stream")
	}
	if resp, ok := dispatch(); ok {
		return resp, nil
	}
	return nil, errors.Errorf("event stream ended without a response to request %s", id)
}

func contentText(blocks []ContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s]", b.Type))
	}
	return strings.Join(parts, "\n")
}
