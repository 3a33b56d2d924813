package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/lan-chat/internal/chat"
	"github.com/npezzotti/lan-chat/internal/feed"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(code int) *ApiError {
	return &ApiError{
		StatusCode: code,
		Message:    lower(http.StatusText(code)),
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound)
}

func NewConflictError() *ApiError {
	return newApiError(http.StatusConflict)
}

func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden)
}

func NewRequestEntityTooLargeError() *ApiError {
	return newApiError(http.StatusRequestEntityTooLarge)
}

func NewTooManyRequestsError() *ApiError {
	return newApiError(http.StatusTooManyRequests)
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

// apiErrorFrom maps a service error to its HTTP form. Validation errors
// keep their detail so the client can show it.
func apiErrorFrom(err error) *ApiError {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, chat.ErrTooLarge), errors.As(err, &maxBytesErr):
		return NewRequestEntityTooLargeError()
	case errors.Is(err, chat.ErrValidation):
		errResp := NewBadRequestError()
		errResp.Message = err.Error()
		return errResp
	case errors.Is(err, chat.ErrNotFound), errors.Is(err, feed.ErrViewerNotFound):
		return NewNotFoundError()
	case errors.Is(err, chat.ErrConflict):
		return NewConflictError()
	case errors.Is(err, chat.ErrForbidden):
		return NewForbiddenError()
	default:
		return NewInternalServerError(err)
	}
}
