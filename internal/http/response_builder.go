// Package http provides HTTP server and handler implementations.
//
// This file implements the Builder Pattern for constructing JSON responses
// and maps domain errors onto status codes.

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"movimenti/internal/amqp"
	"movimenti/internal/core"
	"movimenti/internal/query"
	"movimenti/internal/services"
	"movimenti/internal/store"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	payload    any
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string     `json:"error"`
	Kind  core.Kind  `json:"kind,omitempty"`
	Field core.Field `json:"field,omitempty"`
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.payload = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.payload == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_ = json.NewEncoder(w).Encode(b.payload)
}

// ErrorResponse creates a standard error response.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Body(ErrorBody{Error: message})
}

func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

func UnauthorizedError() *JSONResponseBuilder {
	return NewJSONResponse().
		Status(http.StatusUnauthorized).
		Header("WWW-Authenticate", `Bearer realm="movimenti"`).
		Body(ErrorBody{Error: "authentication required", Kind: core.KindUnauthorized})
}

func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

func TooManyRequestsError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, try again later")
}

func InternalServerError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, message)
}

// errorResponseFor maps a service error to its HTTP representation. Store
// failures are reported without their underlying message.
func errorResponseFor(err error) *JSONResponseBuilder {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return ErrorResponse(http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, store.ErrNotFound):
		return NotFoundError("transaction not found")
	case errors.Is(err, services.ErrEmptyPatch):
		return BadRequestError(err.Error())
	case errors.Is(err, query.ErrInvalidSortField), errors.Is(err, query.ErrInvalidDirection):
		return BadRequestError(err.Error())
	case errors.Is(err, services.ErrAsyncUnavailable), errors.Is(err, amqp.ErrCircuitOpen):
		return ErrorResponse(http.StatusServiceUnavailable, "asynchronous import unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorResponse(http.StatusGatewayTimeout, "request timed out")
	}

	kind := core.KindOf(err)
	body := ErrorBody{Error: err.Error(), Kind: kind, Field: core.FieldOf(err)}
	switch kind {
	case core.KindUnauthorized:
		return UnauthorizedError()
	case core.KindParse:
		return NewJSONResponse().Status(http.StatusBadRequest).Body(body)
	case core.KindInvalidDate, core.KindInvalidAmount, core.KindRequiredFieldMissing, core.KindInvalidDescription:
		return NewJSONResponse().Status(http.StatusUnprocessableEntity).Body(body)
	case core.KindStoreWrite, core.KindStoreRead:
		return NewJSONResponse().
			Status(http.StatusBadGateway).
			Body(ErrorBody{Error: "storage backend unavailable", Kind: kind})
	default:
		return InternalServerError("internal error")
	}
}
