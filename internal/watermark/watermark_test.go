package watermark

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mailherald/mailherald/internal/source"
)

func TestUIDWatermark(t *testing.T) {
	t.Run("unset watermark treats everything as new", func(t *testing.T) {
		tr := NewTracker()
		assert.True(t, tr.IsNew(1))
		assert.Equal(t, uint32(0), tr.UID())
	})

	t.Run("is new only above the stored watermark", func(t *testing.T) {
		tr := NewTracker()
		tr.Advance(10)

		assert.False(t, tr.IsNew(9))
		assert.False(t, tr.IsNew(10))
		assert.True(t, tr.IsNew(11))
	})

	t.Run("never regresses on out-of-order advances", func(t *testing.T) {
		tr := NewTracker()
		for _, uid := range []uint32{5, 12, 3, 12, 7} {
			tr.Advance(uid)
		}
		assert.Equal(t, uint32(12), tr.UID())
	})
}

func TestOpaqueWatermark(t *testing.T) {
	batch := func(ids ...string) []source.RawMessage {
		msgs := make([]source.RawMessage, 0, len(ids))
		for _, id := range ids {
			msgs = append(msgs, source.RawMessage{Kind: source.KindGraph, ID: id})
		}
		return msgs
	}

	ids := func(msgs []source.RawMessage) []string {
		out := make([]string, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, m.ID)
		}
		return out
	}

	t.Run("stops at the stored identifier and flips oldest-first", func(t *testing.T) {
		tr := NewTracker()
		tr.AdvanceID("msg-100")

		fresh := tr.CutNew(batch("msg-103", "msg-102", "msg-101", "msg-100"))
		assert.Equal(t, []string{"msg-101", "msg-102", "msg-103"}, ids(fresh))
	})

	t.Run("unset identifier matches nothing", func(t *testing.T) {
		tr := NewTracker()
		fresh := tr.CutNew(batch("b", "a"))
		assert.Equal(t, []string{"a", "b"}, ids(fresh))
	})

	t.Run("newest message already delivered yields nothing", func(t *testing.T) {
		tr := NewTracker()
		tr.AdvanceID("msg-103")

		fresh := tr.CutNew(batch("msg-103", "msg-102", "msg-101"))
		assert.Empty(t, fresh)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		tr := NewTracker()
		tr.AdvanceID("msg-1")

		assert.Empty(t, tr.CutNew(nil))
		assert.Equal(t, "msg-1", tr.LastID())
	})

	t.Run("advance records the newest processed identifier", func(t *testing.T) {
		tr := NewTracker()
		tr.AdvanceID("msg-1")
		tr.AdvanceID("msg-2")
		assert.Equal(t, "msg-2", tr.LastID())

		tr.AdvanceID("")
		assert.Equal(t, "msg-2", tr.LastID())
	})
}
