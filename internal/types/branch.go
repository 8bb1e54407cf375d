package types

import "time"

// =============================================================================
// BRANCHES - COPY-ON-WRITE TIMELINES
// =============================================================================

// RootForkIndex marks a branch with no parent (the initial timeline).
const RootForkIndex = -1

// Branch is one timeline in a story. A child branch sees its parent's
// fragments up to ForkAfterIndex and overlays its own writes on top.
type Branch struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	ParentID       string    `json:"parentId,omitempty"`
	ForkAfterIndex int       `json:"forkAfterIndex"`
	CreatedAt      time.Time `json:"createdAt"`
}

// IsRoot reports whether the branch has no parent.
func (b Branch) IsRoot() bool { return b.ParentID == "" }

// BranchState is the persisted branch registry of a story.
type BranchState struct {
	Branches       []Branch `json:"branches"`
	ActiveBranchID string   `json:"activeBranchId"`
}

// Find returns the branch with the given id.
func (s *BranchState) Find(id string) (Branch, bool) {
	for _, b := range s.Branches {
		if b.ID == id {
			return b, true
		}
	}
	return Branch{}, false
}

// Lineage returns the branch chain from the given leaf up to the root. The
// leaf is first. A missing link truncates the walk.
func (s *BranchState) Lineage(leafID string) []Branch {
	var out []Branch
	seen := map[string]bool{}
	id := leafID
	for id != "" && !seen[id] {
		seen[id] = true
		b, ok := s.Find(id)
		if !ok {
			break
		}
		out = append(out, b)
		id = b.ParentID
	}
	return out
}

// Children returns the ids of branches whose parent is the given branch.
func (s *BranchState) Children(id string) []string {
	var out []string
	for _, b := range s.Branches {
		if b.ParentID == id {
			out = append(out, b.ID)
		}
	}
	return out
}
