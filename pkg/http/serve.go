package xhttp

import (
	"os"
	"reflect"
	"runtime"
	"slices"
	"strconv"
	"time"

	"github.com/nimasrn/number-market/pkg/logger"
	"github.com/valyala/fasthttp"
)

// Env overrides, all in milliseconds:
// HTTP_SERVER_READ_TIMEOUT
// HTTP_SERVER_WRITE_TIMEOUT
// HTTP_SERVER_REQUEST_TIMEOUT

var (
	defaultReadTimeout    = time.Millisecond * 2500
	defaultWriteTimeout   = time.Millisecond * 2500
	defaultRequestTimeout = time.Millisecond * 5000
)

func init() {
	defaultReadTimeout = durationFromEnv("HTTP_SERVER_READ_TIMEOUT", defaultReadTimeout)
	defaultWriteTimeout = durationFromEnv("HTTP_SERVER_WRITE_TIMEOUT", defaultWriteTimeout)
	defaultRequestTimeout = durationFromEnv("HTTP_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout)
}

func durationFromEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" || raw == "0" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return time.Millisecond * time.Duration(v)
}

type Server = fasthttp.Server

type ServerOption struct {
	Name string

	// idle keep-alive connections are closed after this long
	IdleTimeout time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// handlers still running after RequestTimeout get a 408
	RequestTimeout time.Duration

	MaxRequestBodySize int
	Concurrency        int
}

func DefaultServerOption() ServerOption {
	return ServerOption{
		Name:               "number-market",
		IdleTimeout:        10 * time.Second,
		ReadTimeout:        defaultReadTimeout,
		WriteTimeout:       defaultWriteTimeout,
		RequestTimeout:     defaultRequestTimeout,
		MaxRequestBodySize: 1 * 1024 * 1024,
		Concurrency:        10_000,
	}
}

type Engine struct {
	*Router
	*Server
	option ServerOption
	middle []MiddlewareFunc
}

func NewServer(option ServerOption) *Engine {
	return &Engine{
		Router: CreateDefaultRouter(),
		Server: &fasthttp.Server{
			Name:                  option.Name,
			IdleTimeout:           option.IdleTimeout,
			ReadTimeout:           option.ReadTimeout,
			WriteTimeout:          option.WriteTimeout,
			MaxRequestBodySize:    option.MaxRequestBodySize,
			Concurrency:           option.Concurrency,
			NoDefaultServerHeader: true,
			CloseOnShutdown:       true,
			Logger:                logger.Default(),
			ErrorHandler: func(ctx *RequestCtx, err error) {
				logger.Warn("[xhttp] request error", "error", err, "path", string(ctx.Path()))
			},
		},
		option: option,
	}
}

func CreateServer() *Engine {
	return NewServer(DefaultServerOption())
}

func (e *Engine) ListenAndServe(addr string) error {
	e.DoRouting()
	e.Server.Logger.Printf("[xhttp] server is listening on %s", addr)
	return e.Server.ListenAndServe(addr)
}

// DoRouting installs the router behind the registered middleware. The first
// middleware added runs outermost.
func (e *Engine) DoRouting() {
	for method, routes := range e.Router.List() {
		for _, r := range routes {
			e.Server.Logger.Printf("[xhttp] method: %s, path: %s", method, r)
		}
	}
	handler := e.Router.Handler
	if e.option.RequestTimeout > 0 {
		handler = TimeoutMiddleware(e.option.RequestTimeout)(handler)
	}
	middle := slices.Clone(e.middle)
	slices.Reverse(middle)
	for i, m := range middle {
		handler = m(handler)
		e.Server.Logger.Printf("[xhttp] middleware %d registered - %s", i+1, runtime.FuncForPC(reflect.ValueOf(m).Pointer()).Name())
	}
	e.Server.Handler = handler
}

// Handler returns the routed handler chain, for tests that drive a
// RequestCtx directly. Such tests must zero RequestTimeout: the timeout
// wrapper needs a serving fasthttp.Server.
func (e *Engine) Handler() RequestHandler {
	e.DoRouting()
	return e.Server.Handler
}

func (e *Engine) Use(middleware MiddlewareFunc) {
	e.middle = append(e.middle, middleware)
}

func (e *Engine) Shutdown() {
	e.Server.Logger.Printf("[xhttp] server is shutting down, process id: %d", os.Getpid())
	if err := e.Server.Shutdown(); err != nil {
		e.Server.Logger.Printf("[xhttp] error while shutting down: %v", err)
	}
}
