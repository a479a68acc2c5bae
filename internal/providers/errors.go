package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/valyala/fasthttp"
)

// DeliveryError is returned by every adapter. Temporary errors may succeed
// on retry; the rest will fail the same way again.
type DeliveryError struct {
	Temporary bool
	Code      string
	Message   string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

var (
	ErrProviderInactive = &DeliveryError{Code: "provider_inactive", Message: "provider inactive"}
	ErrTimeout          = &DeliveryError{Temporary: true, Code: "timeout", Message: "timeout"}
)

func Transient(code, format string, args ...any) *DeliveryError {
	return &DeliveryError{Temporary: true, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Permanent(code, format string, args ...any) *DeliveryError {
	return &DeliveryError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsTransient reports whether err is worth retrying. Errors that did not come
// from an adapter are assumed transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Temporary
	}
	return true
}

func IsPermanent(err error) bool {
	return err != nil && !IsTransient(err)
}

// classifyHTTP maps a non-2xx provider response onto a DeliveryError.
func classifyHTTP(status int, body []byte) *DeliveryError {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 256 {
		detail = detail[:256]
	}
	msg := fmt.Sprintf("provider returned %d", status)
	if detail != "" {
		msg += ": " + detail
	}
	code := fmt.Sprintf("http_%d", status)
	switch {
	case status == fasthttp.StatusTooManyRequests, status >= 500:
		return &DeliveryError{Temporary: true, Code: code, Message: msg}
	case status == fasthttp.StatusRequestTimeout:
		return ErrTimeout
	default:
		return &DeliveryError{Code: code, Message: msg}
	}
}

// classifyTransport handles failures where no response was read.
func classifyTransport(err error) *DeliveryError {
	if isTimeout(err) {
		return ErrTimeout
	}
	return Transient("transport", "request failed: %v", err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, fasthttp.ErrTimeout) ||
		errors.Is(err, fasthttp.ErrDialTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
