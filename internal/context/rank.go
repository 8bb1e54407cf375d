package context

import (
	"sort"
	"strings"
	"unicode"

	"storyloom/internal/types"
)

// Shortlist ranking weights. A recent-prose ref hit outweighs any tag
// overlap; tag overlap is additive per tag up to a cap; recency breaks ties.
const (
	refHitWeight = 3.0
	tagWeight    = 1.0
	tagWeightCap = 3.0
)

// rankShortlist orders candidates by relevance to the recent prose window and
// the caller's input, keeping the top limit entries.
func rankShortlist(candidates []*types.Fragment, recentRefs map[string]bool, inputTokens map[string]bool, limit int) []*types.Fragment {
	if limit <= 0 || len(candidates) == 0 {
		return nil
	}

	type scored struct {
		f     *types.Fragment
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, f := range candidates {
		s := 0.0
		if recentRefs[f.ID] {
			s += refHitWeight
		}
		overlap := 0.0
		for _, tag := range f.Tags {
			if inputTokens[tag] {
				overlap += tagWeight
			}
		}
		if overlap > tagWeightCap {
			overlap = tagWeightCap
		}
		s += overlap
		ranked = append(ranked, scored{f: f, score: s})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if !ranked[i].f.UpdatedAt.Equal(ranked[j].f.UpdatedAt) {
			return ranked[i].f.UpdatedAt.After(ranked[j].f.UpdatedAt)
		}
		return ranked[i].f.ID < ranked[j].f.ID
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]*types.Fragment, len(ranked))
	for i, r := range ranked {
		out[i] = r.f
	}
	return out
}

// tokenize lowercases the input and splits it on everything that is not a
// letter or digit. The resulting set is matched against fragment tags.
func tokenize(input string) map[string]bool {
	tokens := map[string]bool{}
	for _, tok := range strings.FieldsFunc(strings.ToLower(input), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(tok) > 1 {
			tokens[tok] = true
		}
	}
	return tokens
}
