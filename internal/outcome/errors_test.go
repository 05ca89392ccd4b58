package outcome

import (
	"errors"
	"fmt"
	"net/textproto"
	"testing"
	"time"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient network", &TransientNetworkError{Op: "dial", Err: errors.New("refused")}, true},
		{"wrapped transient", fmt.Errorf("send: %w", &TransientNetworkError{Op: "data", Err: errors.New("reset")}), true},
		{"protocol rejection", &ProtocolRejection{Code: 550, Message: "no such user"}, false},
		{"wrapped rejection", fmt.Errorf("rcpt: %w", &ProtocolRejection{Code: 553}), false},
		{"configuration error", &ConfigurationError{Reason: "no plan"}, false},
		{"smtp 4xx", &textproto.Error{Code: 451, Msg: "try again"}, true},
		{"smtp 5xx", &textproto.Error{Code: 554, Msg: "rejected"}, false},
		{"unknown error", errors.New("something odd"), true},
	}

	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("IsRetryable(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsDeferral(t *testing.T) {
	wait, ok := IsDeferral(&ResourceExhausted{Resource: "send rate limit", RetryAfter: 30 * time.Second})
	if !ok {
		t.Fatal("expected a deferral")
	}
	if wait != 30*time.Second {
		t.Errorf("wait = %v, want 30s", wait)
	}

	wrapped := fmt.Errorf("admit: %w", &ResourceExhausted{RetryAfter: time.Minute})
	if _, ok := IsDeferral(wrapped); !ok {
		t.Error("deferral should survive wrapping")
	}

	if _, ok := IsDeferral(errors.New("plain")); ok {
		t.Error("plain errors are not deferrals")
	}
	if _, ok := IsDeferral(nil); ok {
		t.Error("nil is not a deferral")
	}
}

func TestClassifySMTP(t *testing.T) {
	if got := ClassifySMTP("mail", nil); got != nil {
		t.Fatalf("nil error should stay nil, got %v", got)
	}

	var rejection *ProtocolRejection
	err := ClassifySMTP("rcpt", &textproto.Error{Code: 550, Msg: "mailbox unavailable"})
	if !errors.As(err, &rejection) {
		t.Fatalf("550 should classify as a rejection, got %T", err)
	}
	if rejection.Code != 550 || rejection.Message != "mailbox unavailable" {
		t.Errorf("rejection = %+v", rejection)
	}

	var transient *TransientNetworkError
	err = ClassifySMTP("rcpt", &textproto.Error{Code: 451, Msg: "greylisted"})
	if !errors.As(err, &transient) {
		t.Fatalf("451 should classify as transient, got %T", err)
	}

	err = ClassifySMTP("connect", errors.New("connection refused"))
	if !errors.As(err, &transient) {
		t.Fatalf("dial errors should classify as transient, got %T", err)
	}
	if transient.Op != "connect" {
		t.Errorf("op = %q", transient.Op)
	}
}

func TestForError(t *testing.T) {
	if got := ForError(nil); got != ResultDelivered {
		t.Errorf("nil = %q", got)
	}
	if got := ForError(&TransientNetworkError{Op: "dial", Err: errors.New("timeout")}); got != ResultTempFailed {
		t.Errorf("transient = %q", got)
	}
	if got := ForError(&ProtocolRejection{Code: 550}); got != ResultPermFailed {
		t.Errorf("rejection = %q", got)
	}
}
