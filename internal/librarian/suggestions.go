package librarian

import (
	"fmt"

	"storyloom/internal/fault"
	"storyloom/internal/logging"
	"storyloom/internal/store"
	"storyloom/internal/types"
)

// AcceptSuggestion turns one knowledge suggestion of an analysis into a real
// knowledge fragment and marks the suggestion accepted. Accepting the same
// suggestion twice is a conflict.
func AcceptSuggestion(st *store.Store, storyID, analysisID string, index int) (*types.Fragment, error) {
	const op = "librarian.AcceptSuggestion"

	analysis, err := st.GetAnalysis(storyID, analysisID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(analysis.KnowledgeSuggestions) {
		return nil, fault.InvalidArgument(op, fmt.Sprintf("suggestion index %d out of range", index))
	}
	suggestion := analysis.KnowledgeSuggestions[index]
	if suggestion.Accepted {
		return nil, fault.Conflict(op, analysisID, fmt.Sprintf("suggestion %d already accepted", index))
	}

	created, err := st.CreateFragment(storyID, &types.Fragment{
		Type:    types.TypeKnowledge,
		Name:    suggestion.Title,
		Content: suggestion.Content,
		Tags:    suggestion.Tags,
		Meta: map[string]interface{}{
			types.MetaSource:          "librarian",
			types.MetaAnalysisID:      analysisID,
			types.MetaSuggestionIndex: index,
		},
	})
	if err != nil {
		return nil, err
	}

	_, err = st.UpdateAnalysis(storyID, analysisID, func(a *types.Analysis) error {
		if index >= len(a.KnowledgeSuggestions) {
			return fault.Internalf(op, "analysis changed underneath accept")
		}
		a.KnowledgeSuggestions[index].Accepted = true
		a.KnowledgeSuggestions[index].CreatedFragmentID = created.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Librarian("Accepted suggestion %d of %s as %s", index, analysisID, created.ID)
	return created, nil
}
