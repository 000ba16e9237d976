package main

import (
	"errors"

	log "github.com/sirupsen/logrus"
)

// errOutOfRange marks a change that references a position outside the
// committed content and cannot be clamped into it.
var errOutOfRange = errors.New("change position out of range")

// Change is a single edit to a file: an insertion of Text at Pos, or a
// deletion of Count bytes starting at Pos.
type Change struct {
	Pos   int
	IsAdd bool
	Text  []byte // insertion content when IsAdd
	Count int    // deletion length when !IsAdd
}

// PendingMod is a Change queued on an EditBuffer together with the identity
// of the user that submitted it.
type PendingMod struct {
	Change
	Author string
}

// EditBuffer holds one file's committed text, the queue of changes not yet
// applied to it, and a version counter that increments once per flush.
//
// The buffer has no locking of its own; the scheduler worker is the sole
// reader and writer of all three fields.
type EditBuffer struct {
	content []byte
	pending []PendingMod
	version int
}

// NewEditBuffer returns a buffer whose committed content is the given
// initial text at version 0.
func NewEditBuffer(content []byte) *EditBuffer {
	b := &EditBuffer{}
	if len(content) > 0 {
		b.content = append([]byte(nil), content...)
	}
	return b
}

// Append queues mods behind any changes already pending. Argument shapes
// have been validated at the boundary.
func (b *EditBuffer) Append(mods []PendingMod) {
	b.pending = append(b.pending, mods...)
}

// IsEmpty reports whether no changes are pending.
func (b *EditBuffer) IsEmpty() bool {
	return len(b.pending) == 0
}

// Content returns the committed text, excluding any pending changes. The
// returned slice is shared; callers must not mutate it.
func (b *EditBuffer) Content() []byte {
	return b.content
}

// Version returns the current version counter.
func (b *EditBuffer) Version() int {
	return b.version
}

// Flush drains the pending queue, applies each change to the committed
// content in queue order, increments the version once, and returns the new
// version together with the changes in the order they were applied.
//
// A change whose deletion start lies beyond the content, or whose position
// is negative, is dropped and logged; the remaining changes still apply
// (partial-success semantics). Flush on an empty queue still counts as a
// flush and bumps the version; callers check IsEmpty first.
func (b *EditBuffer) Flush() (int, []Change) {
	applied := make([]Change, 0, len(b.pending))
	for _, mod := range b.pending {
		c, err := b.apply(mod.Change)
		if err != nil {
			log.WithFields(log.Fields{
				"pos":    mod.Pos,
				"author": mod.Author,
			}).Warnf("dropping change: %v", err)
			metricChangesDropped.Inc()
			continue
		}
		applied = append(applied, c)
	}
	b.pending = b.pending[:0]
	b.version++
	return b.version, applied
}

// apply mutates content with a single change and returns the change as
// actually applied (positions and counts after clamping).
func (b *EditBuffer) apply(c Change) (Change, error) {
	if c.Pos < 0 {
		return Change{}, errOutOfRange
	}
	if c.IsAdd {
		pos := c.Pos
		if pos > len(b.content) {
			pos = len(b.content)
		}
		b.content = append(b.content[:pos], append(append([]byte(nil), c.Text...), b.content[pos:]...)...)
		return Change{Pos: pos, IsAdd: true, Text: c.Text}, nil
	}
	if c.Count < 0 || c.Pos > len(b.content) {
		return Change{}, errOutOfRange
	}
	count := c.Count
	if c.Pos+count > len(b.content) {
		count = len(b.content) - c.Pos
	}
	b.content = append(b.content[:c.Pos], b.content[c.Pos+count:]...)
	return Change{Pos: c.Pos, Count: count}, nil
}
