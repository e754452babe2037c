// Package client is the caller side of the bridge.
//
// A Client serializes each operation into a JSON request and hands it to a
// CallHost function, which carries it to the bridge and returns the raw
// response. Inside a WASM guest CallHost is the imported host function (see
// wasi/guest); in tests it can call host.Bridge.HandleRequest directly.
//
//	c := client.New(func(req []byte) ([]byte, error) {
//	    return bridge.HandleRequest(ctx, req)
//	})
//	if err := c.Open("file:///data/app.db", true); err != nil { ... }
//	rows, truncated, err := c.QueryArray("SELECT name FROM users WHERE id = ?", "7")
package client

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/tomyedwab/sqlbridge/sqlbridge/args"
	"github.com/tomyedwab/sqlbridge/sqlbridge/types"
)

// CallHost carries one request payload to the bridge and returns the
// response payload.
type CallHost func(requestPayload []byte) (responsePayload []byte, err error)

// HostError is an error envelope returned by the bridge.
type HostError struct {
	Kind    string
	Message string
}

func (e *HostError) Error() string {
	return fmt.Sprintf("sqlbridge: %s: %s", e.Kind, e.Message)
}

// Client issues bridge operations through a CallHost.
type Client struct {
	callHost CallHost
	nextID   atomic.Uint64
}

// New returns a Client that uses callHost for every operation.
func New(callHost CallHost) *Client {
	return &Client{callHost: callHost}
}

// Open opens path, creating the file when create is set.
func (c *Client) Open(path string, create bool) error {
	flag := 0
	if create {
		flag = 1
	}
	_, err := c.call(types.ActionOpen, path, flag)
	return err
}

// QueryScalar returns the first column of the first row, or nil when the
// query yields no rows or the value is NULL.
func (c *Client) QueryScalar(query string, params ...string) (*string, error) {
	resp, err := c.call(types.ActionQueryScalar, query, nonNil(params))
	if err != nil {
		return nil, err
	}
	var v *string
	if err := json.Unmarshal(resp.Payload, &v); err != nil {
		return nil, fmt.Errorf("sqlbridge: failed to decode scalar payload: %w", err)
	}
	return v, nil
}

// QueryArray returns the rows of the query. truncated reports that the
// bridge cut the result short.
func (c *Client) QueryArray(query string, params ...string) (rows [][]*string, truncated bool, err error) {
	resp, err := c.call(types.ActionQueryArray, query, nonNil(params))
	if err != nil {
		return nil, false, err
	}
	if err := json.Unmarshal(resp.Payload, &rows); err != nil {
		return nil, false, fmt.Errorf("sqlbridge: failed to decode array payload: %w", err)
	}
	return rows, resp.Truncated, nil
}

// ExecBatch runs statements in order; the first failure stops the batch.
func (c *Client) ExecBatch(statements ...string) error {
	_, err := c.call(types.ActionBatchExec, nonNil(statements))
	return err
}

// Close closes the bridge's database. Closing twice is not an error.
func (c *Client) Close() error {
	_, err := c.call(types.ActionClose)
	return err
}

func (c *Client) call(action string, values ...any) (types.Response, error) {
	if c.callHost == nil {
		return types.Response{}, fmt.Errorf("sqlbridge: CallHost function is not set")
	}
	a, err := args.Of(values...)
	if err != nil {
		return types.Response{}, fmt.Errorf("sqlbridge: failed to marshal %s arguments: %w", action, err)
	}
	req := types.Request{
		ID:     strconv.FormatUint(c.nextID.Add(1), 10),
		Action: action,
		Args:   a,
	}

	reqPayload, err := json.Marshal(req)
	if err != nil {
		return types.Response{}, fmt.Errorf("sqlbridge: failed to marshal %s request: %w", action, err)
	}
	respPayload, err := c.callHost(reqPayload)
	if err != nil {
		return types.Response{}, fmt.Errorf("sqlbridge: CallHost for %s failed: %w", action, err)
	}

	var resp types.Response
	if err := json.Unmarshal(respPayload, &resp); err != nil {
		return types.Response{}, fmt.Errorf("sqlbridge: failed to unmarshal %s response: %w", action, err)
	}
	if !resp.OK() {
		return resp, &HostError{Kind: resp.Kind, Message: resp.Error}
	}
	return resp, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
