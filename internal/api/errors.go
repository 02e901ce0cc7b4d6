package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/Tech-Tweakers/polaris-core/internal/inference"
)

var ErrInvalidRequest = errors.New("invalid_request")

var errQueueFull = errors.New("too many generate calls in flight")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// statusFor maps a generate error to an HTTP status and error type.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, errQueueFull):
		return http.StatusTooManyRequests, "queue_full"
	case errors.Is(err, inference.ErrContextExhausted):
		return http.StatusUnprocessableEntity, "context_exhausted"
	case errors.Is(err, inference.ErrTokenization):
		return http.StatusUnprocessableEntity, "tokenization_error"
	case errors.Is(err, inference.ErrModelUnavailable):
		return http.StatusServiceUnavailable, "model_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "cancelled"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}
