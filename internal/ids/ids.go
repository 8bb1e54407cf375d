// Package ids generates the identifier formats used across storyLOOM.
// Fragment-style ids are short pronounceable strings (alternating consonants
// and vowels) so they survive being read aloud, diffed, and typed by hand.
package ids

import (
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	consonants = "bdfgkmnprstvz"
	vowels     = "aeiou"
	// syllables is the number of consonant+vowel pairs in a pronounceable id.
	// Three pairs give 13^3 * 5^3 ≈ 274k ids per prefix.
	syllables = 3
)

// Fragment type prefixes. Plugin-defined types register their own prefixes
// through types.RegisterFragmentType.
const (
	PrefixProse     = "pr"
	PrefixCharacter = "ch"
	PrefixGuideline = "gl"
	PrefixKnowledge = "kn"
	PrefixImage     = "im"
	PrefixIcon      = "ic"
	PrefixMarker    = "mk"
	PrefixBranch    = "br"
	PrefixFolder    = "fld"
)

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))

	pronounceableRe = regexp.MustCompile(`^[a-z]+-[bdfgkmnprstvz][aeiou][bdfgkmnprstvz][aeiou][bdfgkmnprstvz][aeiou]$`)
)

// Pronounceable returns "{prefix}-{cvcvcv}".
func Pronounceable(prefix string) string {
	rngMu.Lock()
	defer rngMu.Unlock()

	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte('-')
	for i := 0; i < syllables; i++ {
		b.WriteByte(consonants[rng.Intn(len(consonants))])
		b.WriteByte(vowels[rng.Intn(len(vowels))])
	}
	return b.String()
}

// IsPronounceable reports whether id matches the "{prefix}-{cvcvcv}" shape.
func IsPronounceable(id string) bool {
	return pronounceableRe.MatchString(id)
}

// base36Now returns the current unix milliseconds in base36. A mutex-guarded
// monotonic floor keeps two calls in the same millisecond from colliding.
var (
	lastMsMu sync.Mutex
	lastMs   int64
)

func base36Now() string {
	lastMsMu.Lock()
	defer lastMsMu.Unlock()
	ms := time.Now().UnixMilli()
	if ms <= lastMs {
		ms = lastMs + 1
	}
	lastMs = ms
	return strconv.FormatInt(ms, 36)
}

// NewStoryID returns "story-{base36 ms}".
func NewStoryID() string {
	return "story-" + base36Now()
}

// NewProviderID returns "prov-{base36 ms}".
func NewProviderID() string {
	return "prov-" + base36Now()
}

// NewLogID returns "gen-{base36 ms}".
func NewLogID() string {
	return "gen-" + base36Now()
}

// NewBranchID returns "br-{cvcvcv}".
func NewBranchID() string {
	return Pronounceable(PrefixBranch)
}

// NewFolderID returns "fld-{cvcvcv}".
func NewFolderID() string {
	return Pronounceable(PrefixFolder)
}

// Prefix returns the prefix part of an id ("pr-bokura" -> "pr"), or "" when
// the id has no dash.
func Prefix(id string) string {
	i := strings.IndexByte(id, '-')
	if i <= 0 {
		return ""
	}
	return id[:i]
}
