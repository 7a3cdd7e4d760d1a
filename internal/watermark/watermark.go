// Package watermark tracks the last-delivered message identifier for one
// account. State is process-lifetime only and is owned exclusively by that
// account's poller, so no locking is needed.
package watermark

import "github.com/mailherald/mailherald/internal/source"

// Tracker is one account's dedup state. The zero value is ready to use:
// an unset UID watermark is zero and an unset opaque identifier matches
// nothing.
type Tracker struct {
	uid    uint32
	lastID string
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// IsNew reports whether uid lies strictly above the stored watermark.
func (t *Tracker) IsNew(uid uint32) bool {
	return uid > t.uid
}

// Advance raises the UID watermark to uid. It never regresses, even when
// messages are processed out of numeric order.
func (t *Tracker) Advance(uid uint32) {
	if uid > t.uid {
		t.uid = uid
	}
}

// UID returns the stored UID watermark.
func (t *Tracker) UID() uint32 {
	return t.uid
}

// CutNew takes a newest-first batch of opaque-identifier messages and returns
// the not-yet-delivered ones, oldest first. Opaque identifiers are not
// comparable, so the stored identifier acts as an equality stop-point: it and
// everything fetched after it is considered already delivered. An empty batch
// yields an empty result.
func (t *Tracker) CutNew(batch []source.RawMessage) []source.RawMessage {
	cut := len(batch)
	if t.lastID != "" {
		for i, m := range batch {
			if m.ID == t.lastID {
				cut = i
				break
			}
		}
	}

	fresh := make([]source.RawMessage, 0, cut)
	for i := cut - 1; i >= 0; i-- {
		fresh = append(fresh, batch[i])
	}
	return fresh
}

// AdvanceID records the identifier of the newest message processed in the
// cycle.
func (t *Tracker) AdvanceID(id string) {
	if id != "" {
		t.lastID = id
	}
}

// LastID returns the stored opaque identifier.
func (t *Tracker) LastID() string {
	return t.lastID
}
