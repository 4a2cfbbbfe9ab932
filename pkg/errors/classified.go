package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// Kind tags a ClassifiedError. Retry decisions depend on the kind only.
type Kind string

const (
	KindTimeout    Kind = "TIMEOUT"
	KindNetwork    Kind = "NETWORK_ERROR"
	KindServer     Kind = "SERVER_ERROR"
	KindValidation Kind = "VALIDATION_ERROR"
	KindAuth       Kind = "AUTH_ERROR"
	KindUnexpected Kind = "UNEXPECTED_ERROR"
)

// IsRetryable reports whether failures of the given kind may be attempted again.
func IsRetryable(kind Kind) bool {
	switch kind {
	case KindTimeout, KindNetwork, KindServer:
		return true
	default:
		return false
	}
}

// ClassifiedError is the single failure shape every external integration reports.
type ClassifiedError struct {
	Kind      Kind
	Message   string
	Code      string
	Retryable bool
	Server    string
	Method    string
	TraceID   string
	Status    int
	Context   map[string]string
	Err       error
}

// NewClassified builds a classified error; Retryable follows the kind.
func NewClassified(kind Kind, message string, cause error) *ClassifiedError {
	return &ClassifiedError{
		Kind:      kind,
		Message:   message,
		Code:      string(kind),
		Retryable: IsRetryable(kind),
		Err:       cause,
	}
}

func (e *ClassifiedError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Server != "" || e.Method != "" {
		fmt.Fprintf(&b, " [%s.%s]", e.Server, e.Method)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrValidation) and friends match classified errors.
func (e *ClassifiedError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrUnavailable:
		return e.Kind == KindTimeout || e.Kind == KindNetwork || e.Kind == KindServer
	}
	return false
}

// WithOrigin returns a copy tagged with the originating server, method and trace id.
// Fields that are already set are preserved.
func (e *ClassifiedError) WithOrigin(server, method, traceID string) *ClassifiedError {
	out := *e
	if out.Server == "" {
		out.Server = server
	}
	if out.Method == "" {
		out.Method = method
	}
	if out.TraceID == "" {
		out.TraceID = traceID
	}
	return &out
}

// StatusError carries an upstream HTTP status so Classify can bucket it.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.Code)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Code, e.Body)
}

// HTTPStatusCode matches the accessor exposed by the AWS SDK response errors.
func (e *StatusError) HTTPStatusCode() int {
	return e.Code
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// FromStatus classifies an HTTP status code. Only 5xx is retryable; 401/403 are
// credential failures and every other 4xx is a bad request.
func FromStatus(status int, message string, cause error) *ClassifiedError {
	var ce *ClassifiedError
	switch {
	case status >= 500:
		ce = NewClassified(KindServer, message, cause)
	case status == 401 || status == 403:
		ce = NewClassified(KindAuth, message, cause)
	default:
		ce = NewClassified(KindValidation, message, cause)
	}
	ce.Status = status
	return ce
}

// Classify maps any error onto the taxonomy. Nil stays nil.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewClassified(KindTimeout, "call timed out", err)
	}

	var coder httpStatusCoder
	if errors.As(err, &coder) && coder.HTTPStatusCode() > 0 {
		return FromStatus(coder.HTTPStatusCode(), err.Error(), err)
	}

	if isNetworkError(err) {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return NewClassified(KindTimeout, err.Error(), err)
		}
		return NewClassified(KindNetwork, err.Error(), err)
	}

	return NewClassified(KindUnexpected, err.Error(), err)
}

func isNetworkError(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
