package xhttp

import (
	"strconv"

	"github.com/fasthttp/router"
)

type Router = router.Router

// CreateDefaultRouter returns a router that answers unknown routes and
// methods with the same JSON error shape the handlers use and keeps the
// matched route path for request logs.
func CreateDefaultRouter() *Router {
	r := router.New()
	r.RedirectFixedPath = true
	r.RedirectTrailingSlash = true
	r.SaveMatchedRoutePath = true
	r.HandleOPTIONS = false
	r.HandleMethodNotAllowed = true
	r.NotFound = func(ctx *RequestCtx) { jsonError(ctx, StatusNotFound) }
	r.MethodNotAllowed = func(ctx *RequestCtx) { jsonError(ctx, StatusMethodNotAllowed) }
	return r
}

func jsonError(ctx *RequestCtx, status int) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBodyString(`{"error":` + strconv.Quote(StatusText(status)) + `}`)
}
