package state

import "sync"

// VersionTracker remembers the last snapshot version delivered to each user's
// update stream. A client presenting a base_version that does not match its
// last-delivered version has missed a delta and must take a full AOI resync;
// partial-diff catch-up is never attempted.
type VersionTracker struct {
	mu        sync.Mutex
	delivered map[string]uint64
}

func NewVersionTracker() *VersionTracker {
	return &VersionTracker{delivered: map[string]uint64{}}
}

// MarkDelivered records that the user has been sent state at version v.
func (t *VersionTracker) MarkDelivered(userID string, v uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v > t.delivered[userID] {
		t.delivered[userID] = v
	}
}

// NeedsResync reports whether the client's claimed base version is out of
// step with what was last delivered to it.
func (t *VersionTracker) NeedsResync(userID string, base uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.delivered[userID]
	if !ok {
		return true
	}
	return base != last
}

// Forget drops tracking for a disconnected user.
func (t *VersionTracker) Forget(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.delivered, userID)
}
