package types

// =============================================================================
// PROSE CHAIN - ORDERED SECTIONS WITH VARIATIONS
// =============================================================================

// ChainSection is one slot of the prose chain: the prose fragments that are
// variations of this section, with exactly one active at a time.
type ChainSection struct {
	ProseFragments []string `json:"proseFragments"`
	Active         string   `json:"active"`
}

// Contains reports whether the section lists the given fragment id.
func (s ChainSection) Contains(fragmentID string) bool {
	for _, id := range s.ProseFragments {
		if id == fragmentID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the section.
func (s ChainSection) Clone() ChainSection {
	return ChainSection{
		ProseFragments: append([]string(nil), s.ProseFragments...),
		Active:         s.Active,
	}
}

// CloneChain deep-copies a whole chain.
func CloneChain(chain []ChainSection) []ChainSection {
	out := make([]ChainSection, len(chain))
	for i, s := range chain {
		out[i] = s.Clone()
	}
	return out
}

// ActiveIDs returns the active fragment id of every section, in order.
func ActiveIDs(chain []ChainSection) []string {
	out := make([]string, 0, len(chain))
	for _, s := range chain {
		if s.Active != "" {
			out = append(out, s.Active)
		}
	}
	return out
}

// FindSection returns the index of the section containing the fragment id,
// or -1.
func FindSection(chain []ChainSection, fragmentID string) int {
	for i, s := range chain {
		if s.Contains(fragmentID) {
			return i
		}
	}
	return -1
}
