package providers

import (
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

type capturedRequest struct {
	Method string
	URL    string
	Body   []byte
	Header map[string]string
	Form   map[string]string
}

// fakeDoer records requests and answers them with handler.
type fakeDoer struct {
	mu       sync.Mutex
	handler  func(req *fasthttp.Request, resp *fasthttp.Response) error
	requests []capturedRequest
}

func newFakeDoer(handler func(req *fasthttp.Request, resp *fasthttp.Response) error) *fakeDoer {
	return &fakeDoer{handler: handler}
}

func respondJSON(status int, body string) func(*fasthttp.Request, *fasthttp.Response) error {
	return func(_ *fasthttp.Request, resp *fasthttp.Response) error {
		resp.SetStatusCode(status)
		resp.Header.SetContentType("application/json")
		resp.SetBodyString(body)
		return nil
	}
}

func (f *fakeDoer) DoDeadline(req *fasthttp.Request, resp *fasthttp.Response, _ time.Time) error {
	c := capturedRequest{
		Method: string(req.Header.Method()),
		URL:    req.URI().String(),
		Body:   append([]byte(nil), req.Body()...),
		Header: map[string]string{},
		Form:   map[string]string{},
	}
	for _, h := range []string{"Authorization", "Content-Type", "X-Postmark-Server-Token"} {
		if v := req.Header.Peek(h); len(v) > 0 {
			c.Header[h] = string(v)
		}
	}
	req.PostArgs().VisitAll(func(k, v []byte) {
		c.Form[string(k)] = string(v)
	})

	f.mu.Lock()
	f.requests = append(f.requests, c)
	f.mu.Unlock()
	return f.handler(req, resp)
}

func (f *fakeDoer) last() capturedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeDoer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}
