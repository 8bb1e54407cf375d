package librarian

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"storyloom/internal/fault"
	"storyloom/internal/llm"
	"storyloom/internal/logging"
	"storyloom/internal/prompts"
	"storyloom/internal/store"
	"storyloom/internal/types"
)

// analysisWindow caps how many recent passages the analyst reads.
const analysisWindow = 10

// LLMAnalyst asks the configured model to analyze the recent chain and
// parses its JSON reply.
type LLMAnalyst struct {
	store     *store.Store
	prompts   *prompts.Registry
	providers *llm.Registry
}

// NewLLMAnalyst builds the model-backed analyst.
func NewLLMAnalyst(st *store.Store, reg *prompts.Registry, providers *llm.Registry) *LLMAnalyst {
	return &LLMAnalyst{store: st, prompts: reg, providers: providers}
}

// Analyze reads the recent chain tail and asks the model for a summary,
// directions, knowledge suggestions and annotations.
func (a *LLMAnalyst) Analyze(ctx context.Context, storyID string) (*types.Analysis, error) {
	const op = "librarian.Analyze"

	meta, err := a.store.GetStory(storyID)
	if err != nil {
		return nil, err
	}
	provider, model, err := a.providers.Resolve(meta.Settings.ProviderID, meta.Settings.Model)
	if err != nil {
		return nil, err
	}

	passages, err := a.recentPassages(storyID)
	if err != nil {
		return nil, err
	}
	if len(passages) == 0 {
		return &types.Analysis{Summary: ""}, nil
	}

	instruction := a.prompts.For(prompts.AgentLibrarian, meta.Settings)
	messages := []types.Message{
		{Role: types.RoleSystem, Content: instruction},
		{Role: types.RoleUser, Content: renderPassages(passages)},
	}

	text, err := collectText(ctx, provider, types.Request{
		Model:      model,
		Messages:   messages,
		ToolChoice: types.ToolChoiceNone,
	})
	if err != nil {
		return nil, err
	}

	analysis, err := parseAnalysis(text)
	if err != nil {
		logging.LibrarianError("Unparseable analysis for %s: %v", storyID, err)
		return nil, fault.Wrap(op, err)
	}
	return analysis, nil
}

// recentPassages returns the tail of the active chain, newest last.
func (a *LLMAnalyst) recentPassages(storyID string) ([]*types.Fragment, error) {
	chain, err := a.store.GetChain(storyID)
	if err != nil {
		return nil, err
	}
	ids := types.ActiveIDs(chain)
	if len(ids) > analysisWindow {
		ids = ids[len(ids)-analysisWindow:]
	}
	out := make([]*types.Fragment, 0, len(ids))
	for _, id := range ids {
		f, err := a.store.GetFragment(storyID, id)
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func renderPassages(passages []*types.Fragment) string {
	var b strings.Builder
	b.WriteString("# Recent passages\n")
	for _, f := range passages {
		fmt.Fprintf(&b, "\n## %s (id: %s)\n%s\n", f.Name, f.ID, f.Content)
	}
	return b.String()
}

// collectText drains a provider stream into a single string.
func collectText(ctx context.Context, provider types.Provider, req types.Request) (string, error) {
	stream, err := provider.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for ev := range stream {
		switch ev.Type {
		case types.EventText:
			b.WriteString(ev.Text)
		case types.EventError:
			if ev.Err != nil {
				return "", ev.Err
			}
			return "", fault.Internalf("librarian.collectText", "provider error: %s", ev.Text)
		}
	}
	return b.String(), nil
}

// analysisPayload is the JSON shape the librarian prompt requests.
type analysisPayload struct {
	Summary              string   `json:"summary"`
	Directions           []string `json:"directions"`
	KnowledgeSuggestions []struct {
		Title   string   `json:"title"`
		Content string   `json:"content"`
		Tags    []string `json:"tags"`
	} `json:"knowledgeSuggestions"`
	Annotations []struct {
		FragmentID string `json:"fragmentId"`
		Note       string `json:"note"`
	} `json:"annotations"`
}

// parseAnalysis decodes the model's JSON reply, tolerating markdown fences.
func parseAnalysis(text string) (*types.Analysis, error) {
	cleaned := stripFences(text)
	var payload analysisPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("analysis JSON: %w", err)
	}

	analysis := &types.Analysis{
		Summary:    payload.Summary,
		Directions: payload.Directions,
	}
	for _, s := range payload.KnowledgeSuggestions {
		analysis.KnowledgeSuggestions = append(analysis.KnowledgeSuggestions, types.KnowledgeSuggestion{
			Title:   s.Title,
			Content: s.Content,
			Tags:    s.Tags,
		})
	}
	for _, an := range payload.Annotations {
		analysis.Annotations = append(analysis.Annotations, types.Annotation{
			FragmentID: an.FragmentID,
			Note:       an.Note,
		})
	}
	return analysis, nil
}

// stripFences removes a surrounding markdown code fence, if present.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
