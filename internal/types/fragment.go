package types

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// =============================================================================
// FRAGMENT - THE UNIVERSAL CONTENT UNIT
// =============================================================================

// FragmentType classifies a fragment. The core ships a closed set; plugins
// may register additional types with their own id prefixes.
type FragmentType string

const (
	TypeProse     FragmentType = "prose"
	TypeCharacter FragmentType = "character"
	TypeGuideline FragmentType = "guideline"
	TypeKnowledge FragmentType = "knowledge"
	TypeImage     FragmentType = "image"
	TypeIcon      FragmentType = "icon"
	TypeMarker    FragmentType = "marker"
)

var (
	typeMu   sync.RWMutex
	prefixes = map[FragmentType]string{
		TypeProse:     "pr",
		TypeCharacter: "ch",
		TypeGuideline: "gl",
		TypeKnowledge: "kn",
		TypeImage:     "im",
		TypeIcon:      "ic",
		TypeMarker:    "mk",
	}
)

// RegisterFragmentType adds a plugin-defined fragment type. Registering an
// existing type or prefix is rejected so plugins cannot shadow core types.
func RegisterFragmentType(t FragmentType, prefix string) bool {
	typeMu.Lock()
	defer typeMu.Unlock()
	if _, ok := prefixes[t]; ok {
		return false
	}
	for _, p := range prefixes {
		if p == prefix {
			return false
		}
	}
	prefixes[t] = prefix
	return true
}

// PrefixFor returns the id prefix for a fragment type ("" if unknown).
func PrefixFor(t FragmentType) string {
	typeMu.RLock()
	defer typeMu.RUnlock()
	return prefixes[t]
}

// TypeForPrefix resolves an id prefix back to its fragment type.
func TypeForPrefix(prefix string) (FragmentType, bool) {
	typeMu.RLock()
	defer typeMu.RUnlock()
	for t, p := range prefixes {
		if p == prefix {
			return t, true
		}
	}
	return "", false
}

// KnownTypes returns all registered fragment types, sorted for determinism.
func KnownTypes() []FragmentType {
	typeMu.RLock()
	defer typeMu.RUnlock()
	out := make([]FragmentType, 0, len(prefixes))
	for t := range prefixes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Placement says where a sticky fragment lands in the assembled message list.
type Placement string

const (
	PlacementSystem Placement = "system"
	PlacementUser   Placement = "user"
)

// Core-recognized meta keys. Meta is an open map; everything else in it
// belongs to plugins.
const (
	MetaLocked             = "locked"
	MetaFrozenSections     = "frozenSections"
	MetaGeneratedFrom      = "generatedFrom"
	MetaGenerationMode     = "generationMode"
	MetaPreviousFragmentID = "previousFragmentId"
	MetaVariationOf        = "variationOf"
	MetaVisualRefs         = "visualRefs"
	MetaAnnotations        = "annotations"
	MetaSource             = "source"
	MetaAnalysisID         = "analysisId"
	MetaSuggestionIndex    = "suggestionIndex"
	MetaPreviousContent    = "previousContent"
)

// MaxDescriptionLen bounds fragment descriptions.
const MaxDescriptionLen = 250

// FrozenSection is a substring of content that AI writers must preserve
// literally on any write.
type FrozenSection struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// VersionSnapshot is one entry of a fragment's version history: the state of
// the three versioned fields before a mutation.
type VersionSnapshot struct {
	Version     int       `json:"version"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
	Reason      string    `json:"reason,omitempty"`
}

// Fragment is the universal persisted content unit.
type Fragment struct {
	ID          string                 `json:"id"`
	Type        FragmentType           `json:"type"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Content     string                 `json:"content"`
	Tags        []string               `json:"tags"`
	Refs        []string               `json:"refs"`
	Sticky      bool                   `json:"sticky"`
	Placement   Placement              `json:"placement"`
	Order       int                    `json:"order"`
	Archived    bool                   `json:"archived"`
	Version     int                    `json:"version"`
	Versions    []VersionSnapshot      `json:"versions"`
	Meta        map[string]interface{} `json:"meta"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// Normalize fills defaults on a fragment loaded from disk: version starts at
// 1, collections are never nil, placement defaults to user.
func (f *Fragment) Normalize() {
	if f.Version == 0 {
		f.Version = 1
	}
	if f.Versions == nil {
		f.Versions = []VersionSnapshot{}
	}
	if f.Tags == nil {
		f.Tags = []string{}
	}
	if f.Refs == nil {
		f.Refs = []string{}
	}
	if f.Meta == nil {
		f.Meta = map[string]interface{}{}
	}
	if f.Placement == "" {
		f.Placement = PlacementUser
	}
}

// Clone returns a deep copy.
func (f *Fragment) Clone() *Fragment {
	cp := *f
	cp.Tags = append([]string(nil), f.Tags...)
	cp.Refs = append([]string(nil), f.Refs...)
	cp.Versions = append([]VersionSnapshot(nil), f.Versions...)
	if f.Meta != nil {
		cp.Meta = make(map[string]interface{}, len(f.Meta))
		for k, v := range f.Meta {
			cp.Meta[k] = v
		}
	}
	return &cp
}

// Locked reports whether meta.locked is set.
func (f *Fragment) Locked() bool {
	v, ok := f.Meta[MetaLocked]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// FrozenSections decodes meta.frozenSections. The value may be typed (set in
// Go) or generic (loaded from JSON); a marshal round-trip handles both.
func (f *Fragment) FrozenSections() []FrozenSection {
	v, ok := f.Meta[MetaFrozenSections]
	if !ok || v == nil {
		return nil
	}
	if sections, ok := v.([]FrozenSection); ok {
		return sections
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var sections []FrozenSection
	if err := json.Unmarshal(data, &sections); err != nil {
		return nil
	}
	return sections
}

// HasTag reports whether the fragment carries the (already normalized) tag.
func (f *Fragment) HasTag(tag string) bool {
	for _, t := range f.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasRef reports whether the fragment references the given id.
func (f *Fragment) HasRef(id string) bool {
	for _, r := range f.Refs {
		if r == id {
			return true
		}
	}
	return false
}
