// Package context selects and orders fragments into the message list sent to
// the model. It works in two phases: BuildState gathers and ranks fragments
// (filesystem reads, parallel per type), then AssembleMessages renders the
// state into a deterministic message list.
package context

import (
	stdctx "context"
	"time"

	"golang.org/x/sync/errgroup"

	"storyloom/internal/logging"
	"storyloom/internal/prompts"
	"storyloom/internal/store"
	"storyloom/internal/types"
)

// Limits caps each shortlist. Zero values fall back to the defaults.
type Limits struct {
	MaxCharacters int
	MaxGuidelines int
	MaxKnowledge  int
}

// DefaultLimits are the shortlist sizes used when config does not override.
var DefaultLimits = Limits{
	MaxCharacters: 6,
	MaxGuidelines: 4,
	MaxKnowledge:  8,
}

func (l Limits) normalized() Limits {
	if l.MaxCharacters <= 0 {
		l.MaxCharacters = DefaultLimits.MaxCharacters
	}
	if l.MaxGuidelines <= 0 {
		l.MaxGuidelines = DefaultLimits.MaxGuidelines
	}
	if l.MaxKnowledge <= 0 {
		l.MaxKnowledge = DefaultLimits.MaxKnowledge
	}
	return l
}

// State is the gathered context of one generation request. Plugins receive it
// in beforeContext hooks and return a replacement; it is never mutated in
// place once built.
type State struct {
	StoryID  string
	Input    string
	Settings types.Settings

	// Summary is the story-level summary from meta.
	Summary string

	// SystemFragments are sticky fragments with placement=system, any type.
	SystemFragments []*types.Fragment

	// Characters, Guidelines, Knowledge are the per-type context lists:
	// sticky fragments first, then the ranked shortlist, deduplicated.
	Characters []*types.Fragment
	Guidelines []*types.Fragment
	Knowledge  []*types.Fragment

	// Prose holds the passages included verbatim, in chain order. When
	// Summarized is true this is only the tail of the chain and the story
	// summary stands in for the rest.
	Prose           []*types.Fragment
	Summarized      bool
	OmittedSections int

	// ExcludedFragmentID was dropped from every list (regenerate/refine).
	ExcludedFragmentID string
}

// Clone returns a shallow-list copy so hooks can build replacements without
// aliasing the builder's slices.
func (s *State) Clone() *State {
	cp := *s
	cp.SystemFragments = append([]*types.Fragment(nil), s.SystemFragments...)
	cp.Characters = append([]*types.Fragment(nil), s.Characters...)
	cp.Guidelines = append([]*types.Fragment(nil), s.Guidelines...)
	cp.Knowledge = append([]*types.Fragment(nil), s.Knowledge...)
	cp.Prose = append([]*types.Fragment(nil), s.Prose...)
	return &cp
}

// BuildOptions tunes one BuildState call.
type BuildOptions struct {
	// ExcludeFragmentID drops one fragment from every list. Regenerate and
	// refine exclude their source passage.
	ExcludeFragmentID string
}

// Builder gathers context state from the store.
type Builder struct {
	store   *store.Store
	prompts *prompts.Registry
	limits  Limits
}

// NewBuilder constructs a context builder.
func NewBuilder(st *store.Store, reg *prompts.Registry, limits Limits) *Builder {
	return &Builder{store: st, prompts: reg, limits: limits.normalized()}
}

// BuildState runs phase one: read settings, list fragments per type in
// parallel, partition sticky vs candidates, rank shortlists, and apply prose
// summarization.
func (b *Builder) BuildState(ctx stdctx.Context, storyID, input string, opts BuildOptions) (*State, error) {
	timer := logging.StartTimer(logging.CategoryContext, "BuildState")
	defer timer.StopWithThreshold(500 * time.Millisecond)

	meta, err := b.store.GetStory(storyID)
	if err != nil {
		return nil, err
	}

	var (
		prose, characters, guidelines, knowledge []*types.Fragment
		chain                                    []types.ChainSection
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		prose, err = b.store.ListFragments(storyID, store.ListOptions{Type: types.TypeProse})
		return err
	})
	g.Go(func() error {
		var err error
		characters, err = b.store.ListFragments(storyID, store.ListOptions{Type: types.TypeCharacter})
		return err
	})
	g.Go(func() error {
		var err error
		guidelines, err = b.store.ListFragments(storyID, store.ListOptions{Type: types.TypeGuideline})
		return err
	})
	g.Go(func() error {
		var err error
		knowledge, err = b.store.ListFragments(storyID, store.ListOptions{Type: types.TypeKnowledge})
		return err
	})
	g.Go(func() error {
		var err error
		chain, err = b.store.GetChain(storyID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	exclude := opts.ExcludeFragmentID
	prose = dropID(prose, exclude)
	characters = dropID(characters, exclude)
	guidelines = dropID(guidelines, exclude)
	knowledge = dropID(knowledge, exclude)

	state := &State{
		StoryID:            storyID,
		Input:              input,
		Settings:           meta.Settings,
		Summary:            meta.Summary,
		ExcludedFragmentID: exclude,
	}

	// Prose order: the chain's active list when present, otherwise the
	// store's order+createdAt listing.
	ordered := orderProseByChain(prose, chain, exclude)

	// Summarization: past the threshold, the story summary stands in for the
	// older sections and only the tail stays verbatim.
	threshold := meta.Settings.SummarizationThreshold
	if threshold > 0 && len(ordered) > threshold {
		state.Summarized = true
		state.OmittedSections = len(ordered) - threshold
		ordered = ordered[len(ordered)-threshold:]
	}
	state.Prose = ordered

	// Tokens of the recent window drive the ref-hit ranking signal.
	recentRefs := collectRefs(state.Prose)
	inputTokens := tokenize(input)

	for _, part := range []struct {
		all   []*types.Fragment
		out   *[]*types.Fragment
		limit int
	}{
		{characters, &state.Characters, b.limits.MaxCharacters},
		{guidelines, &state.Guidelines, b.limits.MaxGuidelines},
		{knowledge, &state.Knowledge, b.limits.MaxKnowledge},
	} {
		sticky, candidates := partitionSticky(part.all)
		for _, f := range sticky {
			if f.Placement == types.PlacementSystem {
				state.SystemFragments = append(state.SystemFragments, f)
			}
		}
		shortlist := rankShortlist(candidates, recentRefs, inputTokens, part.limit)
		*part.out = mergeUnique(stickyUserPlaced(sticky), shortlist)
	}

	// Sticky prose with system placement joins the system block too.
	for _, f := range prose {
		if f.Sticky && f.Placement == types.PlacementSystem {
			state.SystemFragments = append(state.SystemFragments, f)
		}
	}

	logging.ContextDebug("Built context for %s: %d prose (summarized=%v), %d/%d/%d char/guide/know, %d system",
		storyID, len(state.Prose), state.Summarized,
		len(state.Characters), len(state.Guidelines), len(state.Knowledge), len(state.SystemFragments))
	return state, nil
}

// orderProseByChain returns prose fragments in chain-active order. Without a
// chain, every non-archived prose is used in listing order (order+createdAt).
// Prose outside the chain (archived variations, drafts) stays out of context.
func orderProseByChain(prose []*types.Fragment, chain []types.ChainSection, exclude string) []*types.Fragment {
	byID := make(map[string]*types.Fragment, len(prose))
	for _, f := range prose {
		byID[f.ID] = f
	}

	var out []*types.Fragment
	for _, id := range types.ActiveIDs(chain) {
		if id == exclude {
			continue
		}
		if f, ok := byID[id]; ok && !f.Archived {
			out = append(out, f)
		}
	}
	if len(out) > 0 || len(chain) > 0 {
		return out
	}
	for _, f := range prose {
		if !f.Archived {
			out = append(out, f)
		}
	}
	return out
}

func dropID(list []*types.Fragment, id string) []*types.Fragment {
	if id == "" {
		return list
	}
	out := list[:0]
	for _, f := range list {
		if f.ID != id {
			out = append(out, f)
		}
	}
	return out
}

func partitionSticky(list []*types.Fragment) (sticky, candidates []*types.Fragment) {
	for _, f := range list {
		if f.Archived {
			continue
		}
		if f.Sticky {
			sticky = append(sticky, f)
		} else {
			candidates = append(candidates, f)
		}
	}
	return sticky, candidates
}

func stickyUserPlaced(sticky []*types.Fragment) []*types.Fragment {
	out := make([]*types.Fragment, 0, len(sticky))
	for _, f := range sticky {
		if f.Placement != types.PlacementSystem {
			out = append(out, f)
		}
	}
	return out
}

func collectRefs(prose []*types.Fragment) map[string]bool {
	refs := map[string]bool{}
	for _, f := range prose {
		for _, r := range f.Refs {
			refs[r] = true
		}
	}
	return refs
}

func mergeUnique(lists ...[]*types.Fragment) []*types.Fragment {
	seen := map[string]bool{}
	var out []*types.Fragment
	for _, list := range lists {
		for _, f := range list {
			if seen[f.ID] {
				continue
			}
			seen[f.ID] = true
			out = append(out, f)
		}
	}
	return out
}
