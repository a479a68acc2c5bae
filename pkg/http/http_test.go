package xhttp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func newCtx(method, path string) *RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	return ctx
}

func TestDefaultRouter_JSONErrors(t *testing.T) {
	r := CreateDefaultRouter()
	r.GET("/api/v1/jobs", func(ctx *RequestCtx) { ctx.SetStatusCode(StatusOK) })

	ctx := newCtx(fasthttp.MethodGet, "/api/v1/nothing")
	r.Handler(ctx)
	assert.Equal(t, StatusNotFound, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"error":"Not Found"}`, string(ctx.Response.Body()))

	ctx = newCtx(fasthttp.MethodDelete, "/api/v1/jobs")
	r.Handler(ctx)
	assert.Equal(t, StatusMethodNotAllowed, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"error":"Method Not Allowed"}`, string(ctx.Response.Body()))
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(func(ctx *RequestCtx) { panic("boom") })

	ctx := newCtx(fasthttp.MethodGet, "/api/v1/jobs")
	assert.NotPanics(t, func() { h(ctx) })
	assert.Equal(t, StatusInternalServerError, ctx.Response.StatusCode())
	assert.Equal(t, "application/json", string(ctx.Response.Header.ContentType()))
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(func(ctx *RequestCtx) {
		seen, _ = ctx.UserValue("request_id").(string)
	})

	ctx := newCtx(fasthttp.MethodGet, "/")
	h(ctx)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, string(ctx.Response.Header.Peek(HeaderRequestID)))

	ctx = newCtx(fasthttp.MethodGet, "/")
	ctx.Request.Header.Set(HeaderRequestID, "req-1")
	h(ctx)
	assert.Equal(t, "req-1", seen)
}

func TestShouldSkip(t *testing.T) {
	assert.True(t, shouldSkip("/api/v1/health"))
	assert.True(t, shouldSkip("/metrics"))
	assert.False(t, shouldSkip("/api/v1/dispatch/jobs"))
}

func TestEngine_MiddlewareOrder(t *testing.T) {
	e := NewServer(DefaultServerOption)
	var order []string
	mark := func(name string) MiddlewareFunc {
		return func(next RequestHandler) RequestHandler {
			return func(ctx *RequestCtx) {
				order = append(order, name)
				next(ctx)
			}
		}
	}
	e.Use(mark("outer"))
	e.Use(mark("inner"))
	e.Router.GET("/x", func(ctx *RequestCtx) { order = append(order, "handler") })
	e.DoRouting()

	e.Server.Handler(newCtx(fasthttp.MethodGet, "/x"))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}
