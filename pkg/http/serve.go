package xhttp

import (
	"reflect"
	"runtime"
	"slices"
	"time"

	"github.com/nimasrn/school-notify/pkg/logger"
	"github.com/valyala/fasthttp"
)

type Server = fasthttp.Server

type ServerOption struct {
	Name string

	// Idle keep-alive connections are closed after this long so that a burst
	// of portal traffic cannot exhaust file descriptors.
	IdleTimeout time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	ReadBufferSize     int
	WriteBufferSize    int
	MaxRequestBodySize int
	Concurrency        int
	MaxConnsPerIP      int
}

var DefaultServerOption = ServerOption{
	Name:               "school-notify",
	IdleTimeout:        10 * time.Second,
	ReadTimeout:        2500 * time.Millisecond,
	WriteTimeout:       2500 * time.Millisecond,
	ReadBufferSize:     4 * 1024,
	WriteBufferSize:    4 * 1024,
	MaxRequestBodySize: 4 * 1024 * 1024,
	Concurrency:        30_000,
	MaxConnsPerIP:      10_000,
}

type Engine struct {
	*Router
	*Server
	option ServerOption
	middle []MiddlewareFunc
}

func NewServer(options ServerOption) *Engine {
	return &Engine{
		Server: &fasthttp.Server{
			Name:                  options.Name,
			Concurrency:           options.Concurrency,
			ReadBufferSize:        options.ReadBufferSize,
			WriteBufferSize:       options.WriteBufferSize,
			ReadTimeout:           options.ReadTimeout,
			WriteTimeout:          options.WriteTimeout,
			IdleTimeout:           options.IdleTimeout,
			MaxConnsPerIP:         options.MaxConnsPerIP,
			MaxRequestBodySize:    options.MaxRequestBodySize,
			TCPKeepalive:          true,
			NoDefaultServerHeader: true,
			NoDefaultContentType:  true,
			CloseOnShutdown:       true,
			LogAllErrors:          true,
			Logger:                logger.GetLogger(),
			ErrorHandler: func(ctx *fasthttp.RequestCtx, err error) {
				logger.Warn("[xhttp] connection error", "error", err)
			},
		},
		Router: CreateDefaultRouter(),
		option: options,
	}
}

func CreateServer() *Engine {
	return NewServer(DefaultServerOption)
}

// WithTimeouts overrides read/write timeouts when they are set (non zero).
func (e *Engine) WithTimeouts(read, write time.Duration) *Engine {
	if read > 0 {
		e.Server.ReadTimeout = read
	}
	if write > 0 {
		e.Server.WriteTimeout = write
	}
	return e
}

func (e *Engine) ListenAndServe(addr string) error {
	e.DoRouting()
	logger.Info("[xhttp] server is listening", "addr", addr)
	return e.Server.ListenAndServe(addr)
}

// DoRouting freezes the route table and wraps it with the registered
// middleware. The first middleware passed to Use is the outermost.
func (e *Engine) DoRouting() {
	for method, routes := range e.Router.List() {
		for _, r := range routes {
			logger.Debug("[xhttp] route", "method", method, "path", r)
		}
	}
	handler := e.Router.Handler
	chain := slices.Clone(e.middle)
	slices.Reverse(chain)
	for _, m := range chain {
		handler = m(handler)
		logger.Debug("[xhttp] middleware registered", "name", runtime.FuncForPC(reflect.ValueOf(m).Pointer()).Name())
	}
	e.Server.Handler = handler
}

func (e *Engine) Use(middleware MiddlewareFunc) {
	e.middle = append(e.middle, middleware)
}

func (e *Engine) Shutdown() {
	logger.Info("[xhttp] server is shutting down")
	if err := e.Server.Shutdown(); err != nil {
		logger.Error("[xhttp] error while shutting down", "error", err)
	}
}
