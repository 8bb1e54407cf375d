package librarian

import (
	"context"
	"time"

	"storyloom/internal/prompts"
	"storyloom/internal/types"
)

// chatWindow caps how much transcript history is replayed to the model.
const chatWindow = 30

// Chat sends one user message to the librarian chat and returns the reply.
// Both turns are appended to the persistent transcript. The latest analysis
// summary, when present, grounds the conversation.
func (a *LLMAnalyst) Chat(ctx context.Context, storyID, input string) (string, error) {
	meta, err := a.store.GetStory(storyID)
	if err != nil {
		return "", err
	}
	provider, model, err := a.providers.Resolve(meta.Settings.ProviderID, meta.Settings.Model)
	if err != nil {
		return "", err
	}

	if err := a.store.AppendChatMessage(storyID, types.ChatMessage{
		Role: types.RoleUser, Content: input, CreatedAt: time.Now().UTC(),
	}); err != nil {
		return "", err
	}

	history, err := a.store.LoadChat(storyID)
	if err != nil {
		return "", err
	}
	if len(history) > chatWindow {
		history = history[len(history)-chatWindow:]
	}

	messages := []types.Message{
		{Role: types.RoleSystem, Content: a.prompts.For(prompts.AgentLibrarianChat, meta.Settings)},
	}
	if latest, err := a.store.LatestAnalysis(storyID); err == nil && latest != nil && latest.Summary != "" {
		messages = append(messages, types.Message{
			Role:    types.RoleSystem,
			Content: "Current story summary:\n" + latest.Summary,
		})
	}
	for _, turn := range history {
		messages = append(messages, types.Message{Role: turn.Role, Content: turn.Content})
	}

	reply, err := collectText(ctx, provider, types.Request{
		Model:      model,
		Messages:   messages,
		ToolChoice: types.ToolChoiceNone,
	})
	if err != nil {
		return "", err
	}

	if err := a.store.AppendChatMessage(storyID, types.ChatMessage{
		Role: types.RoleAssistant, Content: reply, CreatedAt: time.Now().UTC(),
	}); err != nil {
		return "", err
	}
	return reply, nil
}
