package outcome

import (
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"time"
)

// TransientNetworkError marks a failure that is worth retrying: timeouts,
// refused connections, transient SMTP 4xx replies.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient network error during %s: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// Temporary reports that the error is retryable.
func (e *TransientNetworkError) Temporary() bool { return true }

// ProtocolRejection marks a permanent failure: an explicit SMTP 5xx reply or
// a malformed address. Items failing this way are never retried.
type ProtocolRejection struct {
	Code    int
	Message string
}

func (e *ProtocolRejection) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("permanent rejection: %d %s", e.Code, e.Message)
	}
	return fmt.Sprintf("permanent rejection: %s", e.Message)
}

// ResourceExhausted signals that a shared resource (rate-limit slot, eligible
// account) is unavailable. It is not a failure of the work item; the item is
// deferred and its attempt count is left untouched.
type ResourceExhausted struct {
	Resource   string
	RetryAfter time.Duration
}

func (e *ResourceExhausted) Error() string {
	return fmt.Sprintf("resource exhausted: %s (retry after %s)", e.Resource, e.RetryAfter)
}

// ConfigurationError marks a fail-fast condition detected before an item
// enters the queue: missing plan definition, malformed work item.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// IsRetryable reports whether an execution error should be retried up to the
// plan's ceiling. Unknown errors default to retryable so a worker bug never
// dead-letters an item on its own.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var rejection *ProtocolRejection
	if errors.As(err, &rejection) {
		return false
	}
	var cfg *ConfigurationError
	if errors.As(err, &cfg) {
		return false
	}

	var transient *TransientNetworkError
	if errors.As(err, &transient) {
		return true
	}
	if tempErr, ok := err.(interface{ Temporary() bool }); ok && tempErr.Temporary() {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var proto *textproto.Error
	if errors.As(err, &proto) {
		return proto.Code >= 400 && proto.Code < 500
	}

	return true
}

// IsDeferral reports whether the error is a ResourceExhausted deferral and
// returns the wait hint when it is.
func IsDeferral(err error) (time.Duration, bool) {
	var exhausted *ResourceExhausted
	if errors.As(err, &exhausted) {
		return exhausted.RetryAfter, true
	}
	return 0, false
}

// ClassifySMTP wraps an SMTP dialogue error into the taxonomy. net/smtp
// surfaces server replies as *textproto.Error; 4xx replies are transient,
// 5xx replies permanent. Anything else is treated as a network problem.
func ClassifySMTP(op string, err error) error {
	if err == nil {
		return nil
	}

	var proto *textproto.Error
	if errors.As(err, &proto) {
		if proto.Code >= 500 {
			return &ProtocolRejection{Code: proto.Code, Message: proto.Msg}
		}
		return &TransientNetworkError{Op: op, Err: err}
	}

	return &TransientNetworkError{Op: op, Err: err}
}
