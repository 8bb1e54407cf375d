package pipeline

import (
	stdctx "context"
	"fmt"
	"strings"
	"time"

	loomctx "storyloom/internal/context"
	"storyloom/internal/fault"
	"storyloom/internal/ids"
	"storyloom/internal/logging"
	"storyloom/internal/plugins"
	"storyloom/internal/prompts"
	"storyloom/internal/tools"
	"storyloom/internal/types"
)

// Request is one generation call.
type Request struct {
	StoryID string
	Input   string
	Mode    types.GenerateMode

	// FragmentID is the source passage for regenerate/refine.
	FragmentID string

	// SaveResult persists the generated passage and updates the chain.
	// When false only text events are forwarded and nothing is written.
	SaveResult bool
}

// Generate validates the request and opens the event stream. Validation
// failures return synchronously; everything after that arrives as events.
// Cancelling ctx stops delivery to the caller but the run itself continues to
// its natural end, so a started generation persists at most one fragment.
func (p *Pipeline) Generate(ctx stdctx.Context, req Request) (<-chan types.StreamEvent, error) {
	const op = "pipeline.Generate"

	if strings.TrimSpace(req.Input) == "" {
		return nil, fault.InvalidArgument(op, "input is empty")
	}
	if req.Mode == "" {
		req.Mode = types.ModeGenerate
	}
	switch req.Mode {
	case types.ModeGenerate, types.ModeRegenerate, types.ModeRefine:
	default:
		return nil, fault.InvalidArgument(op, "unknown mode: "+string(req.Mode))
	}

	meta, err := p.store.GetStory(req.StoryID)
	if err != nil {
		return nil, err
	}

	var source *types.Fragment
	if req.Mode == types.ModeRegenerate || req.Mode == types.ModeRefine {
		if req.FragmentID == "" {
			return nil, fault.InvalidArgument(op, "fragmentId is required for "+string(req.Mode))
		}
		source, err = p.store.GetFragment(req.StoryID, req.FragmentID)
		if err != nil {
			return nil, err
		}
	}

	provider, model, err := p.providers.Resolve(meta.Settings.ProviderID, meta.Settings.Model)
	if err != nil {
		return nil, err
	}

	branch, err := p.store.ActiveBranch(req.StoryID)
	if err != nil {
		return nil, err
	}

	out := make(chan types.StreamEvent, p.opts.QueueSize)
	go p.run(ctx, out, req, meta, source, provider, model, branch.ID)
	return out, nil
}

// run executes one generation to completion. It is detached from the caller
// context: caller cancellation only stops event delivery.
func (p *Pipeline) run(callerCtx stdctx.Context, out chan<- types.StreamEvent, req Request,
	meta *types.StoryMeta, source *types.Fragment, provider types.Provider, model, branchID string) {

	defer close(out)
	start := time.Now()
	requestID := ids.NewLogID()
	audit := logging.AuditFor(req.StoryID, requestID)
	audit.Ok(logging.AuditGenerateStart, string(req.Mode))

	runCtx := stdctx.WithoutCancel(callerCtx)
	if p.opts.RequestTimeout > 0 {
		var cancel stdctx.CancelFunc
		runCtx, cancel = stdctx.WithTimeout(runCtx, p.opts.RequestTimeout)
		defer cancel()
	}

	// forward delivers an event to the caller until the caller goes away;
	// after that the run keeps accumulating silently. Read-only runs forward
	// text and terminal events only.
	alive := true
	forward := func(ev types.StreamEvent) {
		if !alive {
			return
		}
		if !req.SaveResult {
			switch ev.Type {
			case types.EventText, types.EventError, types.EventDone:
			default:
				return
			}
		}
		select {
		case out <- ev:
		case <-callerCtx.Done():
			alive = false
		}
	}
	fail := func(err error) {
		audit.Fail(logging.AuditGenerateError, string(req.Mode), err)
		logging.PipelineError("Generation failed for %s: %v", req.StoryID, err)
		forward(types.ErrorEvent(err))
	}

	forward(types.PhaseEvent(types.PhaseContext))

	effectiveInput := req.Input
	exclude := ""
	if source != nil {
		exclude = source.ID
		if req.Mode == types.ModeRefine {
			effectiveInput = refineInput(source.Content, req.Input)
		}
	}

	state, err := p.builder.BuildState(runCtx, req.StoryID, effectiveInput, loomctx.BuildOptions{ExcludeFragmentID: exclude})
	if err != nil {
		fail(err)
		return
	}
	state, err = p.plugins.RunBeforeContext(runCtx, state)
	if err != nil {
		fail(err)
		return
	}

	// Tool surface: built-ins first, then plugin tools, which may shadow.
	registry := tools.NewRegistry()
	if err := registry.RegisterAll(tools.FragmentTools(p.store, req.StoryID)); err != nil {
		fail(fault.Internal("pipeline.run", err))
		return
	}
	for _, t := range p.plugins.CollectTools(req.StoryID) {
		if err := registry.Register(t); err != nil {
			logging.PipelineWarn("Skipping invalid plugin tool: %v", err)
		}
	}
	definitions := registry.Definitions()

	messages := p.builder.AssembleMessages(state, loomctx.AssembleOptions{
		Agent:      prompts.AgentWriter,
		ExtraTools: definitions,
	})
	messages, err = p.plugins.RunBeforeGeneration(runCtx, messages)
	if err != nil {
		fail(err)
		return
	}

	maxSteps := meta.Settings.MaxSteps
	if maxSteps <= 0 {
		maxSteps = p.opts.MaxSteps
	}

	forward(types.PhaseEvent(types.PhaseGenerating))

	var (
		text    strings.Builder
		records []types.ToolCallRecord
		usage   *types.Usage
		finish  string
		steps   int
	)
	convo := append([]types.Message(nil), messages...)

	for steps = 1; ; steps++ {
		audit.Ok(logging.AuditLLMRequest, model)
		stream, err := provider.Stream(runCtx, types.Request{
			Model:      model,
			Messages:   convo,
			Tools:      definitions,
			ToolChoice: types.ToolChoiceAuto,
		})
		if err != nil {
			fail(err)
			return
		}

		var (
			stepText strings.Builder
			calls    []types.ToolCall
			stepErr  error
		)
		for ev := range stream {
			switch ev.Type {
			case types.EventText:
				stepText.WriteString(ev.Text)
				forward(ev)
			case types.EventToolCall:
				if ev.ToolCall != nil {
					calls = append(calls, *ev.ToolCall)
				}
				forward(ev)
			case types.EventDone:
				finish = ev.FinishReason
				if ev.Usage != nil {
					usage = addUsage(usage, ev.Usage)
				}
			case types.EventError:
				stepErr = ev.Err
				if stepErr == nil {
					stepErr = fault.Internalf("pipeline.run", "provider error: %s", ev.Text)
				}
			default:
				forward(ev)
			}
		}
		text.WriteString(stepText.String())

		if stepErr != nil {
			// Mid-stream provider failure: nothing is persisted.
			audit.Fail(logging.AuditLLMError, model, stepErr)
			fail(stepErr)
			return
		}
		audit.Ok(logging.AuditLLMResponse, model)

		if len(calls) == 0 {
			break
		}
		if steps >= maxSteps {
			logging.PipelineWarn("Tool loop hit step cap (%d) for %s", maxSteps, req.StoryID)
			break
		}

		forward(types.PhaseEvent(types.PhaseTools))
		convo = append(convo, types.Message{
			Role:      types.RoleAssistant,
			Content:   stepText.String(),
			ToolCalls: calls,
		})
		for _, call := range calls {
			audit.Ok(logging.AuditToolInvoke, call.Name)
			toolStart := time.Now()
			var res types.ToolResult
			if req.SaveResult {
				res = registry.Execute(runCtx, call)
			} else {
				res = registry.ExecuteReadOnly(runCtx, call)
			}
			elapsed := time.Since(toolStart)

			p.metrics.ToolCall(runCtx, call.Name, res.Error == "")
			if res.Error != "" {
				if resultCode(res) == fault.CodeProtected {
					audit.Ok(logging.AuditToolBlocked, call.Name)
				} else {
					audit.Fail(logging.AuditToolError, call.Name, fmt.Errorf("%s", res.Error))
				}
			} else {
				audit.Ok(logging.AuditToolComplete, call.Name)
			}

			records = append(records, types.ToolCallRecord{
				Call:       call,
				Result:     res.Result,
				Error:      res.Error,
				DurationMs: elapsed.Milliseconds(),
			})
			result := res
			forward(types.StreamEvent{Type: types.EventToolResult, ToolResult: &result})
			convo = append(convo, types.Message{Role: types.RoleTool, ToolResult: &result})
		}
		forward(types.PhaseEvent(types.PhaseGenerating))
	}

	if finish == "" {
		finish = types.FinishStop
	}
	stepsExceeded := steps >= maxSteps && finish != types.FinishStop

	var fragmentID string
	if req.SaveResult {
		forward(types.PhaseEvent(types.PhaseSaving))

		result := &plugins.GenerationResult{Text: text.String(), ToolCalls: records}
		p.plugins.RunAfterGeneration(runCtx, result)

		created, err := p.persist(req, meta, source, result.Text)
		if err != nil {
			fail(err)
			return
		}
		fragmentID = created.ID
		result.FragmentID = created.ID
		audit.Ok(logging.AuditGenerateSave, created.ID)

		p.plugins.RunAfterSave(runCtx, req.StoryID, created)
		if p.librarian != nil {
			p.librarian.Trigger(req.StoryID, created)
		}
	}

	if req.SaveResult {
		rec := &types.GenerationRecord{
			ID:            requestID,
			StoryID:       req.StoryID,
			BranchID:      branchID,
			Mode:          req.Mode,
			Input:         req.Input,
			Messages:      messages,
			ToolCalls:     records,
			Text:          text.String(),
			FragmentID:    fragmentID,
			ProviderID:    provider.ID(),
			Model:         model,
			StepCount:     steps,
			StepsExceeded: stepsExceeded,
			FinishReason:  finish,
			DurationMs:    time.Since(start).Milliseconds(),
			TokenEstimate: loomctx.EstimateTokens(messages),
			Usage:         usage,
			CreatedAt:     time.Now().UTC(),
		}
		if err := p.store.AppendGenerationRecord(req.StoryID, rec); err != nil {
			// Log writes never fail the request.
			logging.PipelineWarn("Generation log write failed for %s: %v", req.StoryID, err)
		}
	}

	p.metrics.Generation(runCtx, string(req.Mode), finish, time.Since(start), loomctx.EstimateTokens(messages))
	logging.Pipeline("Generation complete for %s: mode=%s steps=%d finish=%s chars=%d",
		req.StoryID, req.Mode, steps, finish, text.Len())
	forward(types.DoneEvent(finish, usage))
}

// persist writes the generated passage and updates the prose chain.
func (p *Pipeline) persist(req Request, meta *types.StoryMeta, source *types.Fragment, text string) (*types.Fragment, error) {
	frag := &types.Fragment{
		Type:    types.TypeProse,
		Content: text,
		Meta: map[string]interface{}{
			types.MetaGeneratedFrom:  req.Input,
			types.MetaGenerationMode: string(req.Mode),
		},
	}

	if source != nil {
		frag.Name = source.Name
		frag.Tags = append([]string(nil), source.Tags...)
		frag.Refs = append([]string(nil), source.Refs...)
		frag.Sticky = source.Sticky
		frag.Placement = source.Placement
		frag.Order = source.Order
		for k, v := range source.Meta {
			if _, taken := frag.Meta[k]; !taken {
				frag.Meta[k] = v
			}
		}
		frag.Meta[types.MetaPreviousFragmentID] = source.ID
		frag.Meta[types.MetaVariationOf] = source.ID
	} else {
		chain, err := p.store.GetChain(req.StoryID)
		if err != nil {
			return nil, err
		}
		frag.Name = fmt.Sprintf("Passage %d", len(chain)+1)
	}

	created, err := p.store.CreateFragment(req.StoryID, frag)
	if err != nil {
		return nil, err
	}

	if source != nil {
		if _, err := p.store.AddVariationOf(req.StoryID, source.ID, created.ID); err != nil {
			return nil, err
		}
	} else {
		if _, err := p.store.AddSection(req.StoryID, created.ID); err != nil {
			return nil, err
		}
	}
	return created, nil
}

// refineInput frames a refine request: the current passage plus the user's
// instruction.
func refineInput(existing, instruction string) string {
	return fmt.Sprintf("Here is the current passage:\n\n%s\n\nRewrite it following this instruction: %s", existing, instruction)
}

// resultCode pulls the fault code out of a structured tool error result.
func resultCode(res types.ToolResult) fault.Code {
	if m, ok := res.Result.(map[string]interface{}); ok {
		if code, ok := types.GetString(m, "code"); ok {
			return fault.Code(code)
		}
	}
	return ""
}

func addUsage(total, delta *types.Usage) *types.Usage {
	if total == nil {
		cp := *delta
		return &cp
	}
	total.InputTokens += delta.InputTokens
	total.OutputTokens += delta.OutputTokens
	return total
}
