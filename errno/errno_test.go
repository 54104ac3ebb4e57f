package errno

import (
	"errors"
	"testing"
)

func TestCodeError(t *testing.T) {
	cases := []struct {
		code Code
		want string
	}{
		{EWOULDBLOCK, "EWOULDBLOCK"},
		{ECONNRESET, "ECONNRESET"},
		{Code(-999), "errno(-999)"},
	}
	for _, c := range cases {
		if got := c.code.Error(); got != c.want {
			t.Errorf("Code(%d).Error() = %q, want %q", c.code, got, c.want)
		}
	}
}

func TestCodeOK(t *testing.T) {
	if !Code(0).OK() {
		t.Error("Code(0) should be OK")
	}
	if !Code(1).OK() {
		t.Error("Code(1) should be OK")
	}
	if ESOCK.OK() {
		t.Error("ESOCK should not be OK")
	}
}

func TestWrapAndUnwrap(t *testing.T) {
	cause := errors.New("dial failed")
	err := Wrap(ECONNREFUSED, cause, "connect")
	code, ok := FromError(err)
	if !ok || code != ECONNREFUSED {
		t.Fatalf("FromError = %v, %v, want ECONNREFUSED, true", code, ok)
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to unwrap to cause")
	}
}

func TestWrapNilCause(t *testing.T) {
	err := Wrap(EINVAL, nil, "whatever")
	code, ok := FromError(err)
	if !ok || code != EINVAL {
		t.Fatalf("FromError = %v, %v, want EINVAL, true", code, ok)
	}
}

func TestFromErrorPlainCode(t *testing.T) {
	code, ok := FromError(ETIMEDOUT)
	if !ok || code != ETIMEDOUT {
		t.Fatalf("FromError(ETIMEDOUT) = %v, %v", code, ok)
	}
}

func TestFromErrorForeign(t *testing.T) {
	if _, ok := FromError(errors.New("boom")); ok {
		t.Error("expected ok=false for a foreign error")
	}
}
