// ABOUTME: Tests for wire kind peeking and timestamp formatting.

package protocol

import (
	"testing"
	"time"
)

func TestPeekKind(t *testing.T) {
	kind, err := PeekKind([]byte(`{"type":"context_update","data":{}}`))
	if err != nil {
		t.Fatalf("PeekKind failed: %v", err)
	}
	if kind != KindContextUpdate {
		t.Errorf("expected context_update, got %s", kind)
	}
}

func TestPeekKind_MissingType(t *testing.T) {
	kind, err := PeekKind([]byte(`{"data":{}}`))
	if err != nil {
		t.Fatalf("PeekKind failed: %v", err)
	}
	if kind != "" {
		t.Errorf("expected empty kind, got %s", kind)
	}
}

func TestPeekKind_NotJSON(t *testing.T) {
	if _, err := PeekKind([]byte(`hello`)); err == nil {
		t.Error("expected error for non-JSON input")
	}
}

func TestNowIsRFC3339(t *testing.T) {
	if _, err := time.Parse(time.RFC3339Nano, Now()); err != nil {
		t.Errorf("Now() not parseable: %v", err)
	}
}
