package context

import "storyloom/internal/types"

// charsPerToken is the estimation heuristic: roughly four characters of
// English prose per model token. Close enough for logging and summarization
// decisions; never used for hard truncation.
const charsPerToken = 4

// EstimateTokens estimates the token count of a message list.
func EstimateTokens(msgs []types.Message) int {
	chars := 0
	for _, m := range msgs {
		chars += len(m.Content)
	}
	return (chars + charsPerToken - 1) / charsPerToken
}

// EstimateStateTokens estimates the token footprint of a built state before
// assembly. Used by logs to spot oversized contexts early.
func EstimateStateTokens(state *State) int {
	chars := len(state.Summary) + len(state.Input)
	for _, list := range [][]*types.Fragment{
		state.SystemFragments, state.Characters, state.Guidelines, state.Knowledge, state.Prose,
	} {
		for _, f := range list {
			chars += len(f.Name) + len(f.Content)
		}
	}
	return (chars + charsPerToken - 1) / charsPerToken
}
