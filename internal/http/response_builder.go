package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"finboard/internal/core"
	"finboard/internal/daily"
	"finboard/internal/extract"
	"finboard/internal/log"
	"finboard/internal/middleware/trace"
	"finboard/internal/services"
	"finboard/internal/storage"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	raw        []byte
	headers    map[string]string
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
	b.body = v
	return b
}

// Raw sets an already encoded JSON body.
func (b *JSONResponseBuilder) Raw(data []byte) *JSONResponseBuilder {
	b.raw = data
	return b
}

// Encode returns the encoded body.
func (b *JSONResponseBuilder) Encode() ([]byte, error) {
	if b.raw != nil {
		return b.raw, nil
	}
	if b.body == nil {
		return nil, nil
	}
	data, err := json.Marshal(b.body)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	data, err := b.Encode()
	if err != nil {
		http.Error(w, `{"error":"response encoding failed"}`, http.StatusInternalServerError)
		return
	}
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if data != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	w.WriteHeader(b.statusCode)
	if len(data) > 0 {
		_, _ = w.Write(data)
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error         string `json:"error"`
	RequestID     string `json:"request_id,omitempty"`
	TransactionID int64  `json:"transaction_id,omitempty"`
	Removed       int64  `json:"removed,omitempty"`
	Remaining     int64  `json:"remaining,omitempty"`
}

// ErrorResponse creates a standard error response.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Body(errorBody{Error: message})
}

// statusFor maps service and storage errors to HTTP status codes.
func statusFor(err error) int {
	var reqErr *RequestError
	var valErr *ValidationError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.As(err, &valErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrMergeNotConfirmed):
		return http.StatusPreconditionRequired
	case errors.Is(err, services.ErrNotAPair):
		return http.StatusConflict
	case errors.Is(err, services.ErrPartialMerge):
		return http.StatusMultiStatus
	case errors.Is(err, services.ErrMergeFailed):
		return http.StatusBadGateway
	case errors.Is(err, storage.ErrDeleted):
		return http.StatusGone
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, storage.ErrInvalidReference):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrInvalidMonth),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidType),
		errors.Is(err, core.ErrInvalidTimestamp),
		errors.Is(err, core.ErrEmptyDescription),
		errors.Is(err, core.ErrEmptyName):
		return http.StatusUnprocessableEntity
	case errors.Is(err, extract.ErrInputTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, extract.ErrUnsupportedMIME):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, extract.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, extract.ErrNoDrafts):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeError logs err and sends the matching status. Server errors never
// leak their cause except for malformed timestamps, whose transaction id is
// reported so the row can be fixed.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	status := statusFor(err)
	body := errorBody{Error: err.Error(), RequestID: trace.GetRequestID(ctx)}

	var malformed *daily.MalformedTimestampError
	var partial *services.PartialMergeError
	switch {
	case errors.As(err, &malformed):
		body.TransactionID = malformed.ID
	case errors.As(err, &partial):
		body.Removed = partial.Removed
		body.Remaining = partial.Remaining
	case status == http.StatusInternalServerError:
		body.Error = "internal error"
	}

	level := slog.LevelInfo
	if status >= 500 || status == http.StatusMultiStatus {
		level = slog.LevelError
	}
	fields := log.NewFields().WithOperation(op).WithError(err)
	fields[log.FieldStatusCode] = status
	log.FromContext(ctx).Fields(ctx, level, "Request failed", fields)

	NewJSONResponse().Status(status).Body(body).Write(w)
}
