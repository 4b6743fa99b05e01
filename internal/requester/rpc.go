package requester

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/torosent/lopnur/internal/httpclient"
	"github.com/torosent/lopnur/internal/model"
	"github.com/torosent/lopnur/internal/runner"
	"github.com/torosent/lopnur/internal/tracing"
)

// RPCError is a JSON-RPC error object returned by a provider.
type RPCError struct {
	Code    int64
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

var errMissingResult = errors.New("rpc response has no result")

type rpcClient struct {
	http      *http.Client
	headers   http.Header
	propagate bool
}

// call sends one JSON-RPC request and returns its result member.
func (c *rpcClient) call(ctx context.Context, endpoint, method string, params ...any) (gjson.Result, error) {
	req, err := httpclient.NewRPCRequest(method, params...).Build(ctx, endpoint, c.headers)
	if err != nil {
		return gjson.Result{}, err
	}
	if c.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	body, err := httpclient.ReadBody(resp.Body, 0)
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.Result{}, &runner.HTTPError{StatusCode: resp.StatusCode, Body: httpclient.Snippet(body, 256)}
	}
	return parseResponse(body)
}

func parseResponse(body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("invalid rpc response: %s", httpclient.Snippet(body, 128))
	}
	doc := gjson.ParseBytes(body)
	if e := doc.Get("error"); e.Exists() && e.Type != gjson.Null {
		return gjson.Result{}, &RPCError{Code: e.Get("code").Int(), Message: e.Get("message").String()}
	}
	result := doc.Get("result")
	if !result.Exists() {
		return gjson.Result{}, errMissingResult
	}
	return result, nil
}

// method returns a Requester that calls a fixed JSON-RPC method.
func (c *rpcClient) method(name string, params []any, check func(gjson.Result) error) runner.Requester {
	return runner.RequesterFunc(func(ctx context.Context, p model.Provider) error {
		result, err := c.call(ctx, p.Endpoint, name, params...)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(result); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
		return nil
	})
}

func expectNumber(r gjson.Result) error {
	if r.Type != gjson.Number {
		return fmt.Errorf("unexpected result %s", r.Raw)
	}
	return nil
}

func expectString(want string) func(gjson.Result) error {
	return func(r gjson.Result) error {
		if r.Type != gjson.String || r.String() != want {
			return fmt.Errorf("unexpected result %s", r.Raw)
		}
		return nil
	}
}

func expectPath(path string) func(gjson.Result) error {
	return func(r gjson.Result) error {
		if v := r.Get(path); !v.Exists() || v.String() == "" {
			return fmt.Errorf("result missing %s", path)
		}
		return nil
	}
}
