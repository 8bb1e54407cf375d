package context

import (
	"fmt"
	"strings"

	"storyloom/internal/prompts"
	"storyloom/internal/types"
)

// AssembleOptions tunes one AssembleMessages call.
type AssembleOptions struct {
	// Agent selects the base instruction ("writer" by default).
	Agent string

	// ExtraTools are plugin-contributed tools advertised in a user block so
	// the model knows they exist beyond the built-in fragment set.
	ExtraTools []types.ToolDefinition
}

// AssembleMessages runs phase two: render the state into the fixed block
// order. The output is deterministic given the state.
//
//	1. system: agent base instructions
//	2. system: sticky placement=system fragments
//	3. user:   story summary
//	4. user:   characters
//	5. user:   guidelines
//	6. user:   knowledge
//	7. user:   recent prose
//	8. user:   available plugin tools
//	9. user:   the caller's input
func (b *Builder) AssembleMessages(state *State, opts AssembleOptions) []types.Message {
	agent := opts.Agent
	if agent == "" {
		agent = prompts.AgentWriter
	}

	var msgs []types.Message
	add := func(role types.Role, tag, content string) {
		if strings.TrimSpace(content) == "" {
			return
		}
		msgs = append(msgs, types.Message{Role: role, Content: content, SourceTag: tag})
	}

	add(types.RoleSystem, types.TagInstructions, b.prompts.For(agent, state.Settings))
	add(types.RoleSystem, types.TagSystemFragments, renderFragments(state.SystemFragments))

	summary := state.Summary
	if state.Summarized && summary != "" {
		summary = fmt.Sprintf("## Story So Far\n%s\n\n(%d earlier sections are summarized above; the most recent passages follow.)",
			summary, state.OmittedSections)
	} else if summary != "" {
		summary = "## Story So Far\n" + summary
	}
	add(types.RoleUser, types.TagSummary, summary)

	order := advancedOrder(state.Settings)
	add(types.RoleUser, types.TagCharacters, renderBlock("Characters", reorder(state.Characters, order)))
	add(types.RoleUser, types.TagGuidelines, renderBlock("Guidelines", reorder(state.Guidelines, order)))
	add(types.RoleUser, types.TagKnowledge, renderBlock("Knowledge", reorder(state.Knowledge, order)))
	add(types.RoleUser, types.TagProse, renderProse(state))
	add(types.RoleUser, types.TagDirections, renderTools(opts.ExtraTools))
	add(types.RoleUser, types.TagInput, state.Input)

	return msgs
}

// advancedOrder returns the id→position map of settings.fragmentOrder when
// advanced ordering is on, nil otherwise.
func advancedOrder(settings types.Settings) map[string]int {
	if settings.ContextOrderMode != types.OrderAdvanced || len(settings.FragmentOrder) == 0 {
		return nil
	}
	order := make(map[string]int, len(settings.FragmentOrder))
	for i, id := range settings.FragmentOrder {
		order[id] = i
	}
	return order
}

// reorder applies the advanced fragment order: mentioned fragments first in
// the given order, unmentioned fragments after in default order.
func reorder(list []*types.Fragment, order map[string]int) []*types.Fragment {
	if order == nil {
		return list
	}
	var mentioned, rest []*types.Fragment
	for _, f := range list {
		if _, ok := order[f.ID]; ok {
			mentioned = append(mentioned, f)
		} else {
			rest = append(rest, f)
		}
	}
	// Stable insertion sort keeps this simple; the lists are a handful long.
	for i := 1; i < len(mentioned); i++ {
		for j := i; j > 0 && order[mentioned[j].ID] < order[mentioned[j-1].ID]; j-- {
			mentioned[j], mentioned[j-1] = mentioned[j-1], mentioned[j]
		}
	}
	return append(mentioned, rest...)
}

func renderFragments(list []*types.Fragment) string {
	var sb strings.Builder
	for _, f := range list {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "## %s\n%s", f.Name, f.Content)
	}
	return sb.String()
}

func renderBlock(title string, list []*types.Fragment) string {
	if len(list) == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s", title)
	for _, f := range list {
		fmt.Fprintf(&sb, "\n\n## %s\n%s", f.Name, f.Content)
		if f.Description != "" {
			fmt.Fprintf(&sb, "\n(%s)", f.Description)
		}
	}
	return sb.String()
}

func renderProse(state *State) string {
	if len(state.Prose) == 0 {
		return ""
	}
	var sb strings.Builder
	if state.Summarized {
		sb.WriteString("# Most Recent Passages")
	} else {
		sb.WriteString("# The Story")
	}
	for _, f := range state.Prose {
		sb.WriteString("\n\n")
		sb.WriteString(f.Content)
	}
	return sb.String()
}

func renderTools(tools []types.ToolDefinition) string {
	if len(tools) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Available Tools")
	for _, t := range tools {
		fmt.Fprintf(&sb, "\n- %s: %s", t.Name, t.Description)
	}
	return sb.String()
}
