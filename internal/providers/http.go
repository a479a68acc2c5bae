package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"
)

// HTTPDoer is satisfied by *fasthttp.Client and by test doubles.
type HTTPDoer interface {
	DoDeadline(req *fasthttp.Request, resp *fasthttp.Response, deadline time.Time) error
}

func newHTTPClient(timeout time.Duration) *fasthttp.Client {
	return &fasthttp.Client{
		MaxConnsPerHost:     64,
		ReadTimeout:         timeout,
		WriteTimeout:        timeout,
		MaxIdleConnDuration: 60 * time.Second,
	}
}

// httpCall is one outbound API request. Exactly one of JSON or Form is used.
type httpCall struct {
	Method  string
	URL     string
	JSON    any
	Form    map[string]string
	Headers map[string]string
	User    string
	Pass    string
	// IDHeader names a response header carrying the provider message id.
	IDHeader string
}

type httpResult struct {
	Body []byte
	ID   string
}

// do performs call and returns the response for 2xx statuses. The
// deadline is the earlier of ctx's and now+timeout.
func do(ctx context.Context, client HTTPDoer, timeout time.Duration, call httpCall) (*httpResult, error) {
	if err := ctx.Err(); err != nil {
		if err == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, Transient("cancelled", "request cancelled: %v", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(call.URL)
	method := call.Method
	if method == "" {
		method = fasthttp.MethodPost
	}
	req.Header.SetMethod(method)

	switch {
	case call.JSON != nil:
		body, err := json.Marshal(call.JSON)
		if err != nil {
			return nil, Permanent("encode", "failed to marshal request: %v", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	case call.Form != nil:
		args := req.PostArgs()
		for k, v := range call.Form {
			args.Set(k, v)
		}
		req.Header.SetContentType("application/x-www-form-urlencoded")
	}
	for k, v := range call.Headers {
		req.Header.Set(k, v)
	}
	if call.User != "" || call.Pass != "" {
		token := base64.StdEncoding.EncodeToString([]byte(call.User + ":" + call.Pass))
		req.Header.Set(fasthttp.HeaderAuthorization, "Basic "+token)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := client.DoDeadline(req, resp, deadline); err != nil {
		return nil, classifyTransport(err)
	}

	status := resp.StatusCode()
	if status < 200 || status > 299 {
		return nil, classifyHTTP(status, resp.Body())
	}

	out := &httpResult{Body: append([]byte(nil), resp.Body()...)}
	if call.IDHeader != "" {
		out.ID = string(resp.Header.Peek(call.IDHeader))
	}
	return out, nil
}
