package x64

import (
	"fmt"

	"github.com/janweinstock/ftl/internal/asm"
)

// fixup is a deferred patch: "once the owning label is placed, write
// placedOffset-base into width bytes at site".
type fixup struct {
	site  int
	width int // 1 or 4
	base  int
}

// Label is a forward-reference target. Fixups accumulate against it until
// it is placed, at which point every pending fixup is resolved in one
// pass and the label becomes immutable.
type Label struct {
	name    string
	placed  bool
	offset  int
	pending []fixup
}

// NewLabel creates an unplaced label. name is diagnostic only.
func NewLabel(name string) *Label {
	return &Label{name: name}
}

// IsPlaced reports whether Place has been called.
func (l *Label) IsPlaced() bool {
	return l.placed
}

// Offset returns the buffer offset the label was placed at. Only valid
// after IsPlaced.
func (l *Label) Offset() int {
	return l.offset
}

// AttachFixup records a pending fixup against an as-yet-unplaced label,
// or resolves it immediately if the label is already placed (a backward
// reference never needs a fixup record).
func (l *Label) AttachFixup(b *asm.CodeBuffer, site, width, base int) error {
	if l.placed {
		return resolve(b, site, width, base, l.offset)
	}
	l.pending = append(l.pending, fixup{site: site, width: width, base: base})
	return nil
}

// Place binds the label to the buffer's current cursor and resolves every
// pending fixup. Placing an already-placed label is a programming error.
func (l *Label) Place(b *asm.CodeBuffer) error {
	if l.placed {
		return fmt.Errorf("x64: label %q already placed at offset %d", l.name, l.offset)
	}
	l.offset = b.Cursor()
	l.placed = true
	for _, f := range l.pending {
		if err := resolve(b, f.site, f.width, f.base, l.offset); err != nil {
			return err
		}
	}
	l.pending = nil
	return nil
}

func resolve(b *asm.CodeBuffer, site, width, base, target int) error {
	delta := int64(target - base)
	if width == 1 && (delta < -128 || delta > 127) {
		return &DisplacementError{Delta: delta}
	}
	return b.Patch(site, width, delta)
}

// DisplacementError reports that a near (8-bit) fixup resolved to a
// displacement outside [-128, 127]; the caller must re-emit with far=true.
type DisplacementError struct {
	Delta int64
}

func (e *DisplacementError) Error() string {
	return fmt.Sprintf("x64: displacement %d does not fit a signed 8-bit relative jump", e.Delta)
}
