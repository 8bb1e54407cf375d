package tools

import (
	"strings"

	"storyloom/internal/fault"
	"storyloom/internal/types"
)

// CheckWrite enforces the write guard for AI-initiated mutations. A locked
// fragment rejects every write; a fragment with frozen sections rejects any
// new content that no longer contains each frozen text verbatim. User-driven
// store operations bypass this guard entirely.
func CheckWrite(op string, f *types.Fragment, newContent string) error {
	if f.Locked() {
		return fault.Protected(op, f.ID, "fragment is locked")
	}
	for _, section := range f.FrozenSections() {
		if section.Text == "" {
			continue
		}
		if !strings.Contains(newContent, section.Text) {
			return fault.Protected(op, f.ID, "write would alter frozen section "+section.ID)
		}
	}
	return nil
}

// CheckMutate guards meta-only mutations (tags, refs, archive) on locked
// fragments. Frozen sections only constrain content, so they do not apply.
func CheckMutate(op string, f *types.Fragment) error {
	if f.Locked() {
		return fault.Protected(op, f.ID, "fragment is locked")
	}
	return nil
}
