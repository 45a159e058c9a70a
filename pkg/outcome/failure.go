package outcome

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a Failure.
type Kind int

const (
	// KindClientError is any caller-caused 4xx failure.
	KindClientError Kind = iota
	// KindBadRequest is a malformed or invalid caller input.
	KindBadRequest
	// KindNotFound means the requested resource or route does not exist.
	KindNotFound
	// KindNoMoreHandlers means the handler queue was exhausted.
	KindNoMoreHandlers
	// KindInternal is an unexpected failure surfaced for diagnostics.
	KindInternal
	// KindUnavailable is a deliberate, operator-controlled suspension.
	KindUnavailable
)

var kindNames = map[Kind]string{
	KindClientError:    "client_error",
	KindBadRequest:     "bad_request",
	KindNotFound:       "not_found",
	KindNoMoreHandlers: "no_more_handlers",
	KindInternal:       "internal_error",
	KindUnavailable:    "unavailable",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// parent returns the kind this kind specializes, and false for roots.
func (k Kind) parent() (Kind, bool) {
	switch k {
	case KindBadRequest, KindNotFound:
		return KindClientError, true
	case KindNoMoreHandlers:
		return KindNotFound, true
	default:
		return 0, false
	}
}

// isA reports whether k equals target or specializes it.
func (k Kind) isA(target Kind) bool {
	for {
		if k == target {
			return true
		}
		p, ok := k.parent()
		if !ok {
			return false
		}
		k = p
	}
}

// Failure is a failed outcome. It implements error so it can be returned from
// handlers and propagated through the chain.
type Failure struct {
	kind    Kind
	status  int
	message string
	cause   error
}

// Sentinels usable with errors.Is. Matching follows the kind hierarchy, so a
// no-more-handlers failure matches ErrNoMoreHandlers, ErrNotFound and
// ErrClientError.
var (
	ErrClientError    = &Failure{kind: KindClientError, status: http.StatusBadRequest, message: "client error"}
	ErrBadRequest     = &Failure{kind: KindBadRequest, status: http.StatusBadRequest, message: "bad request"}
	ErrNotFound       = &Failure{kind: KindNotFound, status: http.StatusNotFound, message: "not found"}
	ErrNoMoreHandlers = &Failure{kind: KindNoMoreHandlers, status: http.StatusNotFound, message: "no more handlers"}
	ErrInternal       = &Failure{kind: KindInternal, status: http.StatusInternalServerError, message: "internal error"}
	ErrUnavailable    = &Failure{kind: KindUnavailable, status: http.StatusServiceUnavailable, message: "service unavailable"}
)

// ClientError returns a generic caller-caused failure. Status codes outside
// the 4xx range are replaced by 400.
func ClientError(status int, format string, args ...any) *Failure {
	if status < 400 || status > 499 {
		status = http.StatusBadRequest
	}
	return &Failure{kind: KindClientError, status: status, message: sprintf(format, args...)}
}

// BadRequest returns a 400 failure.
func BadRequest(format string, args ...any) *Failure {
	return &Failure{kind: KindBadRequest, status: http.StatusBadRequest, message: sprintf(format, args...)}
}

// NotFound returns a 404 failure.
func NotFound(format string, args ...any) *Failure {
	return &Failure{kind: KindNotFound, status: http.StatusNotFound, message: sprintf(format, args...)}
}

// NoMoreHandlers returns the failure raised when a handler delegates past the
// end of the queue.
func NoMoreHandlers() *Failure {
	return &Failure{kind: KindNoMoreHandlers, status: http.StatusNotFound, message: "there were no handlers left in the handler queue"}
}

// InternalError returns a 500 failure wrapping cause, which may be nil.
func InternalError(cause error, format string, args ...any) *Failure {
	return &Failure{kind: KindInternal, status: http.StatusInternalServerError, message: sprintf(format, args...), cause: cause}
}

// Unavailable returns a 503 failure.
func Unavailable(format string, args ...any) *Failure {
	return &Failure{kind: KindUnavailable, status: http.StatusServiceUnavailable, message: sprintf(format, args...)}
}

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

// Kind returns the failure classification.
func (f *Failure) Kind() Kind { return f.kind }

// StatusCode returns the fixed status code of the failure kind.
func (f *Failure) StatusCode() int { return f.status }

// Message returns the human-readable message.
func (f *Failure) Message() string { return f.message }

// IsSuccess always reports false.
func (f *Failure) IsSuccess() bool { return false }

// IsClientError reports whether the failure is caller-caused (4xx class).
func (f *Failure) IsClientError() bool { return f.kind.isA(KindClientError) }

func (f *Failure) Error() string {
	msg := f.message
	if msg == "" {
		msg = f.kind.String()
	}
	if f.cause != nil {
		return fmt.Sprintf("%d %s: %v", f.status, msg, f.cause)
	}
	return fmt.Sprintf("%d %s", f.status, msg)
}

// WithCause returns a copy of f carrying cause.
func (f *Failure) WithCause(cause error) *Failure {
	c := *f
	c.cause = cause
	return &c
}

// Unwrap returns the underlying cause, if any.
func (f *Failure) Unwrap() error { return f.cause }

// Is matches another Failure when this failure's kind equals or specializes
// the target's kind.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok || t == nil {
		return false
	}
	return f.kind.isA(t.kind)
}

// AsFailure returns err as a Failure, converting foreign errors into internal
// errors. It returns nil for a nil error.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return InternalError(err, "unexpected error")
}

// IsClientError reports whether err carries a caller-caused failure.
func IsClientError(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.IsClientError()
}

// StatusOf returns the status code carried by err, 500 for foreign errors and
// 200 for nil.
func StatusOf(err error) int {
	if err == nil {
		return StatusSuccess
	}
	return AsFailure(err).StatusCode()
}
