package tools

import (
	"context"
	"strings"

	"storyloom/internal/fault"
	"storyloom/internal/store"
	"storyloom/internal/types"
)

// FragmentTools builds the built-in toolset bound to one story. Every tool
// operates against the story's active branch through the store; mutating tools
// run through the write guard first, so locked fragments and frozen sections
// survive anything the model tries.
func FragmentTools(st *store.Store, storyID string) []*Tool {
	return []*Tool{
		searchByTagTool(st, storyID),
		searchByTypeTool(st, storyID),
		getFragmentTool(st, storyID),
		createFragmentTool(st, storyID),
		updateFragmentTool(st, storyID),
		patchFragmentTool(st, storyID),
		addTagTool(st, storyID),
		removeTagTool(st, storyID),
		addRefTool(st, storyID),
	}
}

// fragmentSummary is the compact shape search tools return: enough for the
// model to decide whether to fetch the full fragment.
func fragmentSummary(f *types.Fragment) map[string]interface{} {
	return map[string]interface{}{
		"id":          f.ID,
		"type":        string(f.Type),
		"name":        f.Name,
		"description": f.Description,
		"tags":        f.Tags,
	}
}

func fragmentDetail(f *types.Fragment) map[string]interface{} {
	out := fragmentSummary(f)
	out["content"] = f.Content
	out["refs"] = f.Refs
	out["version"] = f.Version
	return out
}

func searchByTagTool(st *store.Store, storyID string) *Tool {
	return &Tool{
		Name:        "searchFragmentsByTag",
		Description: "Find fragments carrying a tag. Returns id, type, name, description and tags for each match.",
		Schema: Schema{
			Required: []string{"tag"},
			Properties: map[string]Property{
				"tag": {Type: "string", Description: "Tag to search for (case-insensitive)"},
			},
		},
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			tag, _ := types.GetString(args, "tag")
			ids, err := st.FragmentsByTag(storyID, tag)
			if err != nil {
				return nil, err
			}
			out := make([]map[string]interface{}, 0, len(ids))
			for _, id := range ids {
				f, err := st.GetFragment(storyID, id)
				if err != nil {
					continue
				}
				if f.Archived {
					continue
				}
				out = append(out, fragmentSummary(f))
			}
			return map[string]interface{}{"fragments": out}, nil
		},
	}
}

func searchByTypeTool(st *store.Store, storyID string) *Tool {
	return &Tool{
		Name:        "searchFragmentsByType",
		Description: "List all fragments of one type. Returns id, type, name, description and tags for each.",
		Schema: Schema{
			Required: []string{"type"},
			Properties: map[string]Property{
				"type": {Type: "string", Description: "Fragment type, e.g. character, guideline, knowledge, prose"},
			},
		},
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			typ, _ := types.GetString(args, "type")
			list, err := st.ListFragments(storyID, store.ListOptions{Type: types.FragmentType(typ)})
			if err != nil {
				return nil, err
			}
			out := make([]map[string]interface{}, 0, len(list))
			for _, f := range list {
				out = append(out, fragmentSummary(f))
			}
			return map[string]interface{}{"fragments": out}, nil
		},
	}
}

func getFragmentTool(st *store.Store, storyID string) *Tool {
	return &Tool{
		Name:        "getFragment",
		Description: "Fetch one fragment in full, including its content and refs.",
		Schema: Schema{
			Required: []string{"id"},
			Properties: map[string]Property{
				"id": {Type: "string", Description: "Fragment id"},
			},
		},
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			id, _ := types.GetString(args, "id")
			f, err := st.GetFragment(storyID, id)
			if err != nil {
				return nil, err
			}
			return fragmentDetail(f), nil
		},
	}
}

func createFragmentTool(st *store.Store, storyID string) *Tool {
	return &Tool{
		Name:        "createFragment",
		Description: "Create a new fragment. Use for characters, guidelines or knowledge discovered while writing; do not create prose this way.",
		Mutating:    true,
		Schema: Schema{
			Required: []string{"type", "name", "content"},
			Properties: map[string]Property{
				"type":        {Type: "string", Description: "Fragment type", Enum: []string{"character", "guideline", "knowledge"}},
				"name":        {Type: "string", Description: "Short display name"},
				"description": {Type: "string", Description: "One-line description (max 250 chars)"},
				"content":     {Type: "string", Description: "Fragment body"},
				"tags":        {Type: "array", Description: "Initial tags", Items: &PropertyItems{Type: "string"}},
			},
		},
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			const op = "tools.createFragment"
			typ, _ := types.GetString(args, "type")
			switch types.FragmentType(typ) {
			case types.TypeCharacter, types.TypeGuideline, types.TypeKnowledge:
			default:
				return nil, fault.InvalidArgument(op, "type must be character, guideline or knowledge")
			}
			tags, _ := types.GetStringSlice(args, "tags")
			f := &types.Fragment{
				Type:        types.FragmentType(typ),
				Name:        types.StringOr(args, "name", ""),
				Description: types.StringOr(args, "description", ""),
				Content:     types.StringOr(args, "content", ""),
				Tags:        tags,
				Meta:        map[string]interface{}{types.MetaSource: "writer"},
			}
			created, err := st.CreateFragment(storyID, f)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"id": created.ID, "name": created.Name}, nil
		},
	}
}

func updateFragmentTool(st *store.Store, storyID string) *Tool {
	return &Tool{
		Name:        "updateFragment",
		Description: "Replace a fragment's content (and optionally name or description). Rejected if the fragment is locked or the new content drops a frozen section.",
		Mutating:    true,
		Schema: Schema{
			Required: []string{"id", "content"},
			Properties: map[string]Property{
				"id":          {Type: "string", Description: "Fragment id"},
				"content":     {Type: "string", Description: "Full replacement content"},
				"name":        {Type: "string", Description: "New name (optional)"},
				"description": {Type: "string", Description: "New description (optional)"},
			},
		},
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			const op = "tools.updateFragment"
			id, _ := types.GetString(args, "id")
			content, _ := types.GetString(args, "content")

			// Guard check runs inside the store's write lock so a concurrent
			// lock or freeze cannot slip in between check and write.
			updated, err := st.UpdateWith(storyID, id, "writer update", func(f *types.Fragment) (store.FieldsPatch, error) {
				if err := CheckWrite(op, f, content); err != nil {
					return store.FieldsPatch{}, err
				}
				patch := store.FieldsPatch{Content: &content}
				if name, ok := types.GetString(args, "name"); ok {
					patch.Name = &name
				}
				if desc, ok := types.GetString(args, "description"); ok {
					patch.Description = &desc
				}
				return patch, nil
			})
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"id": updated.ID, "version": updated.Version}, nil
		},
	}
}

func patchFragmentTool(st *store.Store, storyID string) *Tool {
	return &Tool{
		Name:        "patchFragment",
		Description: "Replace one exact occurrence of oldText with newText in a fragment's content. Fails if oldText is absent or appears more than once.",
		Mutating:    true,
		Schema: Schema{
			Required: []string{"id", "oldText", "newText"},
			Properties: map[string]Property{
				"id":      {Type: "string", Description: "Fragment id"},
				"oldText": {Type: "string", Description: "Exact text to replace; must occur exactly once"},
				"newText": {Type: "string", Description: "Replacement text"},
			},
		},
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			const op = "tools.patchFragment"
			id, _ := types.GetString(args, "id")
			oldText, _ := types.GetString(args, "oldText")
			newText, _ := types.GetString(args, "newText")
			if oldText == "" {
				return nil, fault.InvalidArgument(op, "oldText is empty")
			}

			// The replacement is computed from the fragment's state inside the
			// store's write lock, alongside the guard check, so neither a
			// concurrent edit nor a concurrent lock can race the patch.
			updated, err := st.UpdateWith(storyID, id, "writer patch", func(f *types.Fragment) (store.FieldsPatch, error) {
				switch strings.Count(f.Content, oldText) {
				case 0:
					return store.FieldsPatch{}, fault.InvalidArgument(op, "oldText not found in fragment content")
				case 1:
				default:
					return store.FieldsPatch{}, fault.InvalidArgument(op, "oldText occurs more than once; provide more surrounding context")
				}
				content := strings.Replace(f.Content, oldText, newText, 1)
				if err := CheckWrite(op, f, content); err != nil {
					return store.FieldsPatch{}, err
				}
				return store.FieldsPatch{Content: &content}, nil
			})
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"id": updated.ID, "version": updated.Version}, nil
		},
	}
}

func addTagTool(st *store.Store, storyID string) *Tool {
	return &Tool{
		Name:        "addTag",
		Description: "Add a tag to a fragment.",
		Mutating:    true,
		Schema: Schema{
			Required: []string{"id", "tag"},
			Properties: map[string]Property{
				"id":  {Type: "string", Description: "Fragment id"},
				"tag": {Type: "string", Description: "Tag to add"},
			},
		},
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			const op = "tools.addTag"
			id, _ := types.GetString(args, "id")
			tag, _ := types.GetString(args, "tag")

			f, err := st.GetFragment(storyID, id)
			if err != nil {
				return nil, err
			}
			if err := CheckMutate(op, f); err != nil {
				return nil, err
			}
			updated, err := st.AddTag(storyID, id, tag)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"id": updated.ID, "tags": updated.Tags}, nil
		},
	}
}

func removeTagTool(st *store.Store, storyID string) *Tool {
	return &Tool{
		Name:        "removeTag",
		Description: "Remove a tag from a fragment.",
		Mutating:    true,
		Schema: Schema{
			Required: []string{"id", "tag"},
			Properties: map[string]Property{
				"id":  {Type: "string", Description: "Fragment id"},
				"tag": {Type: "string", Description: "Tag to remove"},
			},
		},
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			const op = "tools.removeTag"
			id, _ := types.GetString(args, "id")
			tag, _ := types.GetString(args, "tag")

			f, err := st.GetFragment(storyID, id)
			if err != nil {
				return nil, err
			}
			if err := CheckMutate(op, f); err != nil {
				return nil, err
			}
			updated, err := st.RemoveTag(storyID, id, tag)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"id": updated.ID, "tags": updated.Tags}, nil
		},
	}
}

func addRefTool(st *store.Store, storyID string) *Tool {
	return &Tool{
		Name:        "addRef",
		Description: "Record that one fragment references another, e.g. a passage mentioning a character. Refs drive context ranking.",
		Mutating:    true,
		Schema: Schema{
			Required: []string{"fromId", "toId"},
			Properties: map[string]Property{
				"fromId": {Type: "string", Description: "Referencing fragment id"},
				"toId":   {Type: "string", Description: "Referenced fragment id"},
			},
		},
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			const op = "tools.addRef"
			fromID, _ := types.GetString(args, "fromId")
			toID, _ := types.GetString(args, "toId")

			f, err := st.GetFragment(storyID, fromID)
			if err != nil {
				return nil, err
			}
			if err := CheckMutate(op, f); err != nil {
				return nil, err
			}
			updated, err := st.AddRef(storyID, fromID, toID)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"id": updated.ID, "refs": updated.Refs}, nil
		},
	}
}
