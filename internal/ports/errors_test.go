package ports

import (
	"errors"
	"fmt"
	"testing"
)

func TestOpErrorUnwrapsKindAndCause(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := NewOpError("insert_record", ErrStoreQuery, cause)

	if !errors.Is(err, ErrStoreQuery) {
		t.Fatalf("expected kind to match")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to match")
	}
	if errors.Is(err, ErrStoreAuth) {
		t.Fatalf("unexpected kind match")
	}
	if got := err.Error(); got != "insert_record: store: query failed: connection reset by peer" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestFatalMarker(t *testing.T) {
	base := NewOpError("connect", ErrStoreAuth, nil)
	if IsFatal(base) {
		t.Fatalf("unmarked error reported fatal")
	}
	wrapped := fmt.Errorf("cycle: %w", Fatal(base))
	if !IsFatal(wrapped) {
		t.Fatalf("expected wrapped fatal error to be detected")
	}
	if !errors.Is(wrapped, ErrStoreAuth) {
		t.Fatalf("expected fatal marker to keep kind reachable")
	}
	if Fatal(nil) != nil {
		t.Fatalf("Fatal(nil) must be nil")
	}
}

func TestSpoolStatsPending(t *testing.T) {
	if got := (SpoolStats{OldestUncommitted: 1, LatestAppended: 0}).Pending(); got != 0 {
		t.Fatalf("expected 0 pending, got %d", got)
	}
	if got := (SpoolStats{OldestUncommitted: 3, LatestAppended: 5}).Pending(); got != 3 {
		t.Fatalf("expected 3 pending, got %d", got)
	}
}
