package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "fake timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

var _ net.Error = fakeTimeoutErr{}

func TestIsRecoverableClassifiesByKind(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{NewRoute("dial", "example.com", 443, nil), true},
		{NewIO("reading response", nil), true},
		{NewProtocol("bad status line", nil), false},
		{NewRequest("missing URL"), false},
		{NewSecurity("example.com", 443, nil), false},
		{NewTimeout("connect", time.Second), false},
		{fmt.Errorf("plain error, not an *Error"), false},
	}
	for _, c := range cases {
		if got := IsRecoverable(c.err); got != c.want {
			t.Errorf("IsRecoverable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestIsTimeoutCoversStructuredNetAndContextErrors(t *testing.T) {
	if !IsTimeout(NewTimeout("connect", time.Second)) {
		t.Errorf("expected a KindTimeout *Error to report IsTimeout")
	}
	if !IsTimeout(fakeTimeoutErr{}) {
		t.Errorf("expected a net.Error with Timeout()==true to report IsTimeout")
	}
	if !IsTimeout(context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded to report IsTimeout")
	}
	if IsTimeout(NewRequest("bad request")) {
		t.Errorf("expected a non-timeout *Error to not report IsTimeout")
	}
}

func TestErrorUnwrapAndIs(t *testing.T) {
	cause := fmt.Errorf("underlying socket error")
	e := NewIO("writing request body", cause)
	if !errors.Is(e, cause) {
		t.Errorf("expected errors.Is to find the wrapped cause")
	}

	sameKind := New(KindIO, "op", "msg", nil)
	if !errors.Is(e, sameKind) {
		t.Errorf("expected two *Error values of the same Kind to satisfy errors.Is")
	}
	otherKind := New(KindProtocol, "op", "msg", nil)
	if errors.Is(e, otherKind) {
		t.Errorf("expected *Error values of differing Kind to not satisfy errors.Is")
	}
}

func TestErrorMessageIncludesHostAndCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	e := NewRoute("dial", "example.com", 443, cause)
	msg := e.Error()
	for _, want := range []string{"[route]", "dial", "example.com:443", "connection refused"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestGetKindReturnsEmptyForUnstructuredErrors(t *testing.T) {
	if got := GetKind(fmt.Errorf("plain")); got != "" {
		t.Errorf("GetKind(plain error) = %q, want empty", got)
	}
	if got := GetKind(NewSecurity("example.com", 443, nil)); got != KindSecurity {
		t.Errorf("GetKind = %q, want %q", got, KindSecurity)
	}
}
