/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package jsonrpc provides a JSON-RPC 2.0 client whose calls are scheduled by a throttle executor.
// Identical calls (same method and params) made concurrently share a single request.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/atomic"

	"github.com/acronis/go-callthrottle/httpclient"
	"github.com/acronis/go-callthrottle/log"
	"github.com/acronis/go-callthrottle/throttle"
)

const jsonRPCVersion = "2.0"

// ErrNullResult is returned by Call when the server returned no result and no error.
var ErrNullResult = errors.New("jsonrpc: null result")

// Error is an error object returned by a JSON-RPC server.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// RPCCode returns the JSON-RPC error code. The throttle classifier uses it.
func (e *Error) RPCCode() int { return e.Code }

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

// Opts represents options for Client.
type Opts struct {
	// HTTPClient sends requests. It must not throttle on its own. A plain http.Client by default.
	HTTPClient *http.Client

	// Priority of all calls made by the client.
	Priority int

	// Logger is used for logging. Disabled by default.
	Logger log.FieldLogger
}

// Client calls methods of a single JSON-RPC endpoint.
type Client struct {
	url      string
	executor throttle.Executor
	http     *http.Client
	priority int
	logger   log.FieldLogger
	nextID   atomic.Uint64
}

// NewClient creates a client for the endpoint at url throttled by executor.
func NewClient(url string, executor throttle.Executor, opts Opts) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	return &Client{url: url, executor: executor, http: opts.HTTPClient, priority: opts.Priority, logger: opts.Logger}
}

// Call invokes method with params and decodes the result into result (a pointer), if it is not nil.
// Server errors are returned as *Error.
func (c *Client) Call(ctx context.Context, method string, params interface{}, result interface{}) error {
	rawParams, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshal params of %s: %w", method, err)
	}
	// Instances may be shared between endpoints, so the URL is part of the key.
	key := c.url + " " + method
	if rawParams != nil {
		key += ":" + string(rawParams)
	}

	raw, err := throttle.ExecuteWithPriority(ctx, c.executor, key, c.priority,
		func(ctx context.Context) (json.RawMessage, error) {
			return c.send(ctx, method, rawParams)
		})
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if len(raw) == 0 || string(raw) == "null" {
		return ErrNullResult
	}
	if err = json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("unmarshal result of %s: %w", method, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	id := c.nextID.Inc()
	body, err := json.Marshal(request{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if httpclient.IsThrottlingStatus(resp.StatusCode) || resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusForbidden {
		return nil, httpclient.NewStatusError(resp)
	}

	var rpcResp response
	if err = json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode response of %s (HTTP status %d): %w", method, resp.StatusCode, err)
	}
	if rpcResp.Error != nil {
		c.logger.Debug("jsonrpc call failed", log.String("method", method),
			log.Int("code", rpcResp.Error.Code), log.String("message", rpcResp.Error.Message))
		return nil, rpcResp.Error
	}
	if rpcResp.ID != id {
		return nil, fmt.Errorf("response id %d does not match request id %d", rpcResp.ID, id)
	}
	return rpcResp.Result, nil
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}
