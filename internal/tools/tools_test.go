package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyloom/internal/fault"
	"storyloom/internal/store"
	"storyloom/internal/types"
)

func newTestSetup(t *testing.T) (*Registry, *store.Store, string) {
	t.Helper()
	st, err := store.New(t.TempDir(), store.Options{})
	require.NoError(t, err)
	meta, err := st.CreateStory("Tidewater", "")
	require.NoError(t, err)
	reg := NewRegistry()
	require.NoError(t, reg.RegisterAll(FragmentTools(st, meta.ID)))
	return reg, st, meta.ID
}

func execute(t *testing.T, reg *Registry, name string, args map[string]interface{}) types.ToolResult {
	t.Helper()
	return reg.Execute(context.Background(), types.ToolCall{ID: "call-1", Name: name, Input: args})
}

func resultMap(t *testing.T, res types.ToolResult) map[string]interface{} {
	t.Helper()
	m, ok := res.Result.(map[string]interface{})
	require.True(t, ok, "result is not a map: %#v", res.Result)
	return m
}

func TestRegistryShadowing(t *testing.T) {
	reg := NewRegistry()
	noop := func(ctx context.Context, args map[string]interface{}) (interface{}, error) { return "first", nil }
	require.NoError(t, reg.Register(&Tool{Name: "echo", Execute: noop}))
	require.NoError(t, reg.Register(&Tool{
		Name: "echo",
		Execute: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return "second", nil
		},
	}))

	assert.Equal(t, 1, reg.Count())
	res := execute(t, reg, "echo", nil)
	assert.Equal(t, "second", res.Result)
}

func TestRegistryDefinitionsOrder(t *testing.T) {
	reg, _, _ := newTestSetup(t)
	defs := reg.Definitions()
	require.Len(t, defs, 9)
	assert.Equal(t, "searchFragmentsByTag", defs[0].Name)
	assert.Equal(t, "addRef", defs[8].Name)

	schema := defs[2].InputSchema
	assert.Equal(t, "object", schema["type"])
}

func TestRegistryValidate(t *testing.T) {
	reg := NewRegistry()
	assert.ErrorIs(t, reg.Register(&Tool{Name: ""}), ErrToolNameEmpty)
	assert.ErrorIs(t, reg.Register(&Tool{Name: "x"}), ErrToolExecuteNil)
}

func TestExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry()
	res := execute(t, reg, "nope", nil)
	require.NotEmpty(t, res.Error)
	m := resultMap(t, res)
	assert.Equal(t, string(fault.CodeNotFound), m["code"])
}

func TestExecuteMissingRequiredArg(t *testing.T) {
	reg, _, _ := newTestSetup(t)
	res := execute(t, reg, "getFragment", map[string]interface{}{})
	require.NotEmpty(t, res.Error)
	m := resultMap(t, res)
	assert.Equal(t, string(fault.CodeInvalidArgument), m["code"])
}

func TestExecuteReadOnlyBlocksMutating(t *testing.T) {
	reg, st, storyID := newTestSetup(t)

	res := reg.ExecuteReadOnly(context.Background(), types.ToolCall{
		ID: "c1", Name: "createFragment",
		Input: map[string]interface{}{"type": "knowledge", "name": "Beacon", "content": "x"},
	})
	require.NotEmpty(t, res.Error)
	assert.Equal(t, string(fault.CodeProtected), resultMap(t, res)["code"])

	list, err := st.ListFragments(storyID, store.ListOptions{Type: types.TypeKnowledge})
	require.NoError(t, err)
	assert.Empty(t, list)

	// Non-mutating tools pass through untouched.
	res = reg.ExecuteReadOnly(context.Background(), types.ToolCall{
		ID: "c2", Name: "searchFragmentsByType",
		Input: map[string]interface{}{"type": "character"},
	})
	require.Empty(t, res.Error)
}

func TestSearchAndGet(t *testing.T) {
	reg, st, storyID := newTestSetup(t)

	f, err := st.CreateFragment(storyID, &types.Fragment{
		Type: types.TypeCharacter, Name: "Mara", Content: "Harbor pilot.",
	})
	require.NoError(t, err)
	_, err = st.AddTag(storyID, f.ID, "Harbor")
	require.NoError(t, err)

	res := execute(t, reg, "searchFragmentsByTag", map[string]interface{}{"tag": "harbor"})
	require.Empty(t, res.Error)
	frags := resultMap(t, res)["fragments"].([]map[string]interface{})
	require.Len(t, frags, 1)
	assert.Equal(t, f.ID, frags[0]["id"])

	res = execute(t, reg, "searchFragmentsByType", map[string]interface{}{"type": "character"})
	require.Empty(t, res.Error)
	frags = resultMap(t, res)["fragments"].([]map[string]interface{})
	require.Len(t, frags, 1)

	res = execute(t, reg, "getFragment", map[string]interface{}{"id": f.ID})
	require.Empty(t, res.Error)
	assert.Equal(t, "Harbor pilot.", resultMap(t, res)["content"])
}

func TestCreateFragmentTool(t *testing.T) {
	reg, st, storyID := newTestSetup(t)

	res := execute(t, reg, "createFragment", map[string]interface{}{
		"type":    "knowledge",
		"name":    "The Lighthouse",
		"content": "Built in 1882, automated in 1969.",
		"tags":    []interface{}{"landmark"},
	})
	require.Empty(t, res.Error)
	id := resultMap(t, res)["id"].(string)

	f, err := st.GetFragment(storyID, id)
	require.NoError(t, err)
	assert.Equal(t, types.TypeKnowledge, f.Type)
	assert.Equal(t, []string{"landmark"}, f.Tags)
	assert.Equal(t, "writer", f.Meta[types.MetaSource])
}

func TestCreateFragmentToolRejectsProse(t *testing.T) {
	reg, _, _ := newTestSetup(t)
	res := execute(t, reg, "createFragment", map[string]interface{}{
		"type": "prose", "name": "x", "content": "y",
	})
	require.NotEmpty(t, res.Error)
	assert.Equal(t, string(fault.CodeInvalidArgument), resultMap(t, res)["code"])
}

func TestUpdateFragmentToolLockedRejected(t *testing.T) {
	reg, st, storyID := newTestSetup(t)

	f, err := st.CreateFragment(storyID, &types.Fragment{
		Type: types.TypeCharacter, Name: "Jonas", Content: "Keeper.",
		Meta: map[string]interface{}{types.MetaLocked: true},
	})
	require.NoError(t, err)

	res := execute(t, reg, "updateFragment", map[string]interface{}{
		"id": f.ID, "content": "Rewritten.",
	})
	require.NotEmpty(t, res.Error)
	assert.Equal(t, string(fault.CodeProtected), resultMap(t, res)["code"])

	// No write and no version bump happened.
	after, err := st.GetFragment(storyID, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "Keeper.", after.Content)
	assert.Equal(t, 1, after.Version)
}

func TestUpdateFragmentToolFrozenSection(t *testing.T) {
	reg, st, storyID := newTestSetup(t)

	f, err := st.CreateFragment(storyID, &types.Fragment{
		Type: types.TypeProse, Name: "Opening", Content: "The ice came in October. The harbor slept.",
		Meta: map[string]interface{}{
			types.MetaFrozenSections: []types.FrozenSection{{ID: "fs-1", Text: "The ice came in October."}},
		},
	})
	require.NoError(t, err)

	// Replacing the frozen text is rejected.
	res := execute(t, reg, "updateFragment", map[string]interface{}{
		"id": f.ID, "content": "Snow fell early. The harbor slept.",
	})
	require.NotEmpty(t, res.Error)
	assert.Equal(t, string(fault.CodeProtected), resultMap(t, res)["code"])

	// Editing around it is allowed.
	res = execute(t, reg, "updateFragment", map[string]interface{}{
		"id": f.ID, "content": "The ice came in October. The harbor never slept again.",
	})
	require.Empty(t, res.Error)

	after, err := st.GetFragment(storyID, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.Version)
	assert.Contains(t, after.Content, "never slept again")
}

func TestPatchFragmentTool(t *testing.T) {
	reg, st, storyID := newTestSetup(t)

	f, err := st.CreateFragment(storyID, &types.Fragment{
		Type: types.TypeKnowledge, Name: "Tides", Content: "High tide at noon. Low tide at six.",
	})
	require.NoError(t, err)

	res := execute(t, reg, "patchFragment", map[string]interface{}{
		"id": f.ID, "oldText": "at noon", "newText": "at dawn",
	})
	require.Empty(t, res.Error)

	after, err := st.GetFragment(storyID, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "High tide at dawn. Low tide at six.", after.Content)

	// Absent oldText fails.
	res = execute(t, reg, "patchFragment", map[string]interface{}{
		"id": f.ID, "oldText": "at midnight", "newText": "x",
	})
	assert.Equal(t, string(fault.CodeInvalidArgument), resultMap(t, res)["code"])

	// Ambiguous oldText fails.
	res = execute(t, reg, "patchFragment", map[string]interface{}{
		"id": f.ID, "oldText": "tide", "newText": "water",
	})
	assert.Equal(t, string(fault.CodeInvalidArgument), resultMap(t, res)["code"])
}

func TestPatchFragmentToolReadsUnderLock(t *testing.T) {
	reg, st, storyID := newTestSetup(t)

	f, err := st.CreateFragment(storyID, &types.Fragment{
		Type: types.TypeKnowledge, Name: "Tides", Content: "High tide at noon.",
	})
	require.NoError(t, err)

	// Hold the story's write lock via a slow update, then fire the patch
	// tool. The tool must wait and act on the committed content, not on a
	// snapshot read before the other writer finished.
	entered := make(chan struct{})
	release := make(chan struct{})
	editDone := make(chan error, 1)
	go func() {
		_, err := st.UpdateWith(storyID, f.ID, "concurrent edit", func(*types.Fragment) (store.FieldsPatch, error) {
			close(entered)
			<-release
			c := "High tide at noon. Gulls cried."
			return store.FieldsPatch{Content: &c}, nil
		})
		editDone <- err
	}()
	<-entered

	resCh := make(chan types.ToolResult, 1)
	go func() {
		resCh <- reg.Execute(context.Background(), types.ToolCall{
			ID: "call-1", Name: "patchFragment",
			Input: map[string]interface{}{"id": f.ID, "oldText": "at noon", "newText": "at dawn"},
		})
	}()

	select {
	case <-resCh:
		t.Fatal("patch completed while another writer held the lock")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-editDone)
	res := <-resCh
	require.Empty(t, res.Error)

	after, err := st.GetFragment(storyID, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "High tide at dawn. Gulls cried.", after.Content)
}

func TestTagAndRefTools(t *testing.T) {
	reg, st, storyID := newTestSetup(t)

	char, err := st.CreateFragment(storyID, &types.Fragment{Type: types.TypeCharacter, Name: "Edda", Content: "Smuggler."})
	require.NoError(t, err)
	prose, err := st.CreateFragment(storyID, &types.Fragment{Type: types.TypeProse, Name: "p", Content: "Edda waited."})
	require.NoError(t, err)

	res := execute(t, reg, "addTag", map[string]interface{}{"id": char.ID, "tag": "smuggler"})
	require.Empty(t, res.Error)

	res = execute(t, reg, "addRef", map[string]interface{}{"fromId": prose.ID, "toId": char.ID})
	require.Empty(t, res.Error)

	after, err := st.GetFragment(storyID, prose.ID)
	require.NoError(t, err)
	assert.True(t, after.HasRef(char.ID))

	res = execute(t, reg, "removeTag", map[string]interface{}{"id": char.ID, "tag": "smuggler"})
	require.Empty(t, res.Error)
	afterChar, err := st.GetFragment(storyID, char.ID)
	require.NoError(t, err)
	assert.False(t, afterChar.HasTag("smuggler"))
}

func TestCheckWrite(t *testing.T) {
	f := &types.Fragment{ID: "pr-bokura", Meta: map[string]interface{}{
		types.MetaFrozenSections: []types.FrozenSection{{ID: "fs-1", Text: "keep me"}},
	}}
	assert.NoError(t, CheckWrite("test", f, "prefix keep me suffix"))
	err := CheckWrite("test", f, "dropped")
	assert.True(t, fault.IsCode(err, fault.CodeProtected))

	locked := &types.Fragment{ID: "kn-dafora", Meta: map[string]interface{}{types.MetaLocked: true}}
	assert.True(t, fault.IsCode(CheckWrite("test", locked, "anything"), fault.CodeProtected))
	assert.True(t, fault.IsCode(CheckMutate("test", locked), fault.CodeProtected))
}
