package llm

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"storyloom/internal/fault"
	"storyloom/internal/logging"
	"storyloom/internal/types"
)

// GeminiProvider adapts the google.golang.org/genai SDK to the Provider
// interface. One instance per provider config; the underlying client is
// shared across requests.
type GeminiProvider struct {
	id     string
	name   string
	client *genai.Client
}

// NewGemini constructs a Gemini-backed provider from a registry entry.
func NewGemini(cfg types.ProviderConfig) (*GeminiProvider, error) {
	const op = "llm.NewGemini"
	if cfg.APIKey == "" {
		return nil, fault.InvalidArgument(op, "gemini provider requires an API key")
	}

	clientCfg := &genai.ClientConfig{APIKey: cfg.APIKey}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(context.Background(), clientCfg)
	if err != nil {
		return nil, fault.Unavailable(op, err)
	}

	return &GeminiProvider{id: cfg.ID, name: cfg.Name, client: client}, nil
}

func (p *GeminiProvider) ID() string   { return p.id }
func (p *GeminiProvider) Name() string { return p.name }

// Stream opens one streaming call. Events are emitted in SDK order; the
// channel always ends with a terminal done or error event and is then closed.
func (p *GeminiProvider) Stream(ctx context.Context, req types.Request) (<-chan types.StreamEvent, error) {
	const op = "llm.Gemini.Stream"
	if req.Model == "" {
		return nil, fault.InvalidArgument(op, "model is required")
	}

	contents, system := buildContents(req.Messages)
	config := p.buildConfig(req, system)

	out := make(chan types.StreamEvent)
	go func() {
		defer close(out)

		var (
			usage        *types.Usage
			finish       = types.FinishStop
			sawToolCall  bool
			emittedCalls = map[string]bool{}
		)

		logging.LLMDebug("Gemini stream start: model=%s messages=%d tools=%d", req.Model, len(req.Messages), len(req.Tools))
		for resp, err := range p.client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
			if err != nil {
				if ctx.Err() != nil {
					emit(ctx, out, types.DoneEvent(types.FinishCancelled, usage))
					return
				}
				logging.LLM("Gemini stream error: %v", err)
				emit(ctx, out, types.ErrorEvent(fault.Unavailable(op, err)))
				return
			}
			if len(resp.Candidates) == 0 {
				continue
			}
			candidate := resp.Candidates[0]

			if candidate.FinishReason != "" {
				finish = mapFinishReason(candidate.FinishReason)
			}
			if resp.UsageMetadata != nil {
				usage = &types.Usage{
					InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
					OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				}
			}
			if candidate.Content == nil {
				continue
			}

			for _, part := range candidate.Content.Parts {
				switch {
				case part.FunctionCall != nil:
					callID := part.FunctionCall.ID
					if callID == "" {
						callID = stableCallID(part.FunctionCall.Name, part.FunctionCall.Args)
					}
					// The SDK may repeat a call across chunks; emit once.
					if emittedCalls[callID] {
						continue
					}
					emittedCalls[callID] = true
					sawToolCall = true
					if !emit(ctx, out, types.StreamEvent{
						Type: types.EventToolCall,
						ToolCall: &types.ToolCall{
							ID:    callID,
							Name:  part.FunctionCall.Name,
							Input: part.FunctionCall.Args,
						},
					}) {
						return
					}
				case part.Text != "" && part.Thought:
					if !emit(ctx, out, types.StreamEvent{Type: types.EventReasoning, Text: part.Text}) {
						return
					}
				case part.Text != "":
					if !emit(ctx, out, types.TextEvent(part.Text)) {
						return
					}
				}
			}
		}

		if sawToolCall && finish == types.FinishStop {
			finish = types.FinishToolUse
		}
		emit(ctx, out, types.DoneEvent(finish, usage))
	}()

	return out, nil
}

func emit(ctx context.Context, out chan<- types.StreamEvent, ev types.StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// stableCallID derives a deterministic id for calls the SDK delivers without
// one, so the same call repeated across chunks deduplicates.
func stableCallID(name string, args map[string]any) string {
	data, _ := json.Marshal(map[string]any{"name": name, "args": args})
	sum := sha256.Sum256(data)
	return fmt.Sprintf("call-%x", sum[:8])
}

// buildContents converts the assembled messages to genai contents. System
// messages are concatenated into one system instruction; assistant tool calls
// and tool results are rendered as function call/response parts.
func buildContents(messages []types.Message) ([]*genai.Content, *genai.Content) {
	var system []string
	var contents []*genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			system = append(system, msg.Content)

		case types.RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: call.ID, Name: call.Name, Args: call.Input},
				})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "model", Parts: parts})
			}

		case types.RoleTool:
			if msg.ToolResult == nil {
				continue
			}
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       msg.ToolResult.ID,
						Name:     msg.ToolResult.Name,
						Response: toolResponseMap(msg.ToolResult),
					},
				}},
			})

		default:
			if msg.Content != "" {
				contents = append(contents, &genai.Content{
					Role:  "user",
					Parts: []*genai.Part{{Text: msg.Content}},
				})
			}
		}
	}

	var systemContent *genai.Content
	if len(system) > 0 {
		systemContent = &genai.Content{Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}}}
	}
	return contents, systemContent
}

// toolResponseMap renders a tool result as the map shape FunctionResponse
// requires.
func toolResponseMap(res *types.ToolResult) map[string]any {
	if res.Error != "" {
		if m, ok := res.Result.(map[string]interface{}); ok {
			return m
		}
		return map[string]any{"error": res.Error}
	}
	switch v := res.Result.(type) {
	case map[string]interface{}:
		return v
	case nil:
		return map[string]any{"result": nil}
	default:
		return map[string]any{"result": v}
	}
}

func (p *GeminiProvider) buildConfig(req types.Request, system *genai.Content) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{SystemInstruction: system}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 && req.ToolChoice != types.ToolChoiceNone {
		for _, def := range req.Tools {
			config.Tools = append(config.Tools, &genai.Tool{
				FunctionDeclarations: []*genai.FunctionDeclaration{{
					Name:        def.Name,
					Description: def.Description,
					Parameters:  toGenaiSchema(def.InputSchema),
				}},
			})
		}
	}
	return config
}

// toGenaiSchema converts a JSON-schema object to the SDK's typed schema.
func toGenaiSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if pm, ok := prop.(map[string]interface{}); ok {
				s.Properties[name] = toGenaiSchema(pm)
			}
		}
	}
	if required, ok := schema["required"].([]interface{}); ok {
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		s.Items = toGenaiSchema(items)
	}
	if enum, ok := schema["enum"].([]interface{}); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}
	return s
}

func mapFinishReason(reason genai.FinishReason) string {
	switch reason {
	case genai.FinishReasonStop:
		return types.FinishStop
	case genai.FinishReasonMaxTokens:
		return types.FinishLength
	default:
		return types.FinishStop
	}
}
