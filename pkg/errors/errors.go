package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")

	ErrAttachmentTooLarge    = errors.New("attachment is too large")
	ErrUnsupportedAttachment = errors.New("attachment must be an image")
	ErrEmptyComposer         = errors.New("message is empty")
	ErrNoCounterpart         = errors.New("counterpart is not known")
	ErrRateLimited           = errors.New("too many messages, slow down")
	ErrSessionClosed         = errors.New("session is closed")
	ErrAmbiguousCounterpart  = errors.New("counterpart cannot be inferred")
)

// Kind classifies messaging failures for presentation code.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindTransientSend
	KindSubscription
	KindAmbiguousCounterpart
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransientSend:
		return "transient_send_failure"
	case KindSubscription:
		return "subscription_failure"
	case KindAmbiguousCounterpart:
		return "ambiguous_counterpart"
	default:
		return "unknown"
	}
}

// Error wraps a store or validation failure with its kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(op string, err error) error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

func TransientSend(op string, err error) error {
	return &Error{Kind: KindTransientSend, Op: op, Err: err}
}

func Subscription(op string, err error) error {
	return &Error{Kind: KindSubscription, Op: op, Err: err}
}

func AmbiguousCounterpart(op string, err error) error {
	return &Error{Kind: KindAmbiguousCounterpart, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

type APIError struct {
	Message string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Code    int    `json:"code"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(message string, code int) *APIError {
	return &APIError{
		Message: message,
		Code:    code,
	}
}

// Store failures are reported with a fixed message; the wrapped transport error is for logs only.
var publicMessages = map[Kind]string{
	KindTransientSend: "message could not be sent, please try again",
	KindSubscription:  "messages are temporarily unavailable",
}

// FromError converts any error into the payload returned to clients.
func FromError(err error) *APIError {
	status := HTTPStatusFromError(err)
	kind := KindOf(err)

	msg := err.Error()
	if public, ok := publicMessages[kind]; ok {
		msg = public
	} else if status == http.StatusInternalServerError {
		msg = ErrInternalServer.Error()
	}

	apiErr := NewAPIError(msg, status)
	if kind != KindUnknown {
		apiErr.Kind = kind.String()
	}
	return apiErr
}

func HTTPStatusFromError(err error) int {
	switch {
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	}

	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindTransientSend:
		return http.StatusBadGateway
	case KindSubscription:
		return http.StatusServiceUnavailable
	case KindAmbiguousCounterpart:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
