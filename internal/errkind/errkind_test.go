package errkind

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsAndKindOf(t *testing.T) {
	base := errors.New("boom")
	wrapped := fmt.Errorf("outer: %w", New(Disconnected, "rpc.call", base))

	if !Is(wrapped, Disconnected) {
		t.Fatalf("expected Is(wrapped, Disconnected) to be true")
	}
	if Is(wrapped, Io) {
		t.Fatalf("expected Is(wrapped, Io) to be false")
	}
	if KindOf(wrapped) != Disconnected {
		t.Fatalf("KindOf = %q, want %q", KindOf(wrapped), Disconnected)
	}
	if KindOf(base) != "" {
		t.Fatalf("KindOf(plain error) should be empty, got %q", KindOf(base))
	}
}

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("eof")
	e := New(Io, "stream.read", base)
	if !errors.Is(e, base) {
		t.Fatalf("expected errors.Is to unwrap to base")
	}
}
