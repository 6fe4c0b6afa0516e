package router

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"reflect"
	"runtime"

	"github.com/go-chi/chi/v5"
)

var DefaultError = JsonError{
	Code: http.StatusInternalServerError,
	Err:  "internal server error",
}

// Router is a wrapper around chi.Router that provides error handling.
// Handlers can return an error that will then get mapped to an error response.
// Error mappers can be registered for specific errors to provide custom error responses.
type Router struct {
	chi.Router
	// mappers is shared with every sub-router derived from this one.
	mappers      *[]errorMapping
	defaultError JsonError
	logger       *slog.Logger
}

type errorMapping struct {
	target error
	fn     ErrorMapper
}

func New(opts ...RouterOption) *Router {
	return newRouter(chi.NewRouter(), opts...)
}

type RouterOption func(*Router)

func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

func WithDefaultError(err JsonError) RouterOption {
	return func(r *Router) {
		r.defaultError = err
	}
}

func newRouter(chiRouter chi.Router, opts ...RouterOption) *Router {
	router := &Router{
		Router:       chiRouter,
		mappers:      &[]errorMapping{},
		defaultError: DefaultError,
		logger:       slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}

	for _, opt := range opts {
		opt(router)
	}
	return router
}

// derive wraps chiRouter with the same logger, default error and mappers.
func (a *Router) derive(chiRouter chi.Router) *Router {
	return &Router{
		Router:       chiRouter,
		mappers:      a.mappers,
		defaultError: a.defaultError,
		logger:       a.logger,
	}
}

// HandlerFunc is a function that handles an HTTP request and returns an error.
// When the handler fails to handle the request it should not write anything to the response writer
// instead it should return an error that will be mapped to an error response.
type HandlerFunc func(http.ResponseWriter, *http.Request) error

type Middleware func(http.Handler) HandlerFunc

// ErrorMapper is a function that maps go errors to API errors.
type ErrorMapper func(error) Error

// RegisterErrorMapper maps every error that matches err under errors.Is.
// Mappers are tried in registration order.
func (a *Router) RegisterErrorMapper(err error, fn ErrorMapper) {
	*a.mappers = append(*a.mappers, errorMapping{target: err, fn: fn})
}

// mapError maps a go error to an API error.
// The mapping works as following:
//   - if the error is already an API error it will be returned as is.
//   - otherwise the first mapper whose error matches is used.
//   - if no error mapper is found the default error will be returned.
func (a *Router) mapError(err error) Error {
	var apiErr Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	for _, m := range *a.mappers {
		if errors.Is(err, m.target) {
			return m.fn(err)
		}
	}
	return a.defaultError
}

func (a *Router) handleWithErr(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err != nil {
			handlerFn := runtime.FuncForPC(reflect.ValueOf(h).Pointer())
			resError := a.mapError(err)
			level := slog.LevelDebug
			if resError.StatusCode() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			a.logger.Log(r.Context(), level, err.Error(), slog.String("handler", handlerFn.Name()))
			if err := resError.Respond(w); err != nil {
				a.logger.Error(err.Error())
			}
		}
	}
}

func (a *Router) Get(path string, h HandlerFunc) {
	a.Router.Get(path, a.handleWithErr(h))
}

func (a *Router) Post(path string, h HandlerFunc) {
	a.Router.Post(path, a.handleWithErr(h))
}

func (a *Router) Put(path string, h HandlerFunc) {
	a.Router.Put(path, a.handleWithErr(h))
}

func (a *Router) Delete(path string, h HandlerFunc) {
	a.Router.Delete(path, a.handleWithErr(h))
}

func (a *Router) Route(path string, f func(r *Router)) {
	a.Router.Route(path, func(r chi.Router) {
		f(a.derive(r))
	})
}

func (a *Router) Group(f func(r *Router)) *Router {
	ch := a.Router.Group(func(r chi.Router) {
		f(a.derive(r))
	})
	return a.derive(ch)
}

func (a *Router) Use(middleware Middleware) {
	a.Router.Use(func(h http.Handler) http.Handler {
		return a.handleWithErr(middleware(h))
	})
}

func (a *Router) With(middleware Middleware) *Router {
	ch := a.Router.With(func(h http.Handler) http.Handler {
		return a.handleWithErr(middleware(h))
	})
	return a.derive(ch)
}
