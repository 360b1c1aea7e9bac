package state

import "testing"

func TestVersionTracker(t *testing.T) {
	tr := NewVersionTracker()

	// Unknown user always resyncs.
	if !tr.NeedsResync("u_1", 1) {
		t.Fatalf("unknown user should resync")
	}

	tr.MarkDelivered("u_1", 3)
	if tr.NeedsResync("u_1", 3) {
		t.Fatalf("matching base should not resync")
	}
	if !tr.NeedsResync("u_1", 2) {
		t.Fatalf("stale base should resync")
	}

	// Delivery marks are monotonic; a late, out-of-order mark cannot move the
	// stream backwards.
	tr.MarkDelivered("u_1", 2)
	if tr.NeedsResync("u_1", 3) {
		t.Fatalf("late mark moved stream backwards")
	}

	tr.Forget("u_1")
	if !tr.NeedsResync("u_1", 3) {
		t.Fatalf("forgotten user should resync")
	}
}
