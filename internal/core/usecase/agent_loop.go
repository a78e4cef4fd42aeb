package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arxlab/litagent/internal/core/domain"
	"github.com/arxlab/litagent/internal/core/ports"
)

const fallbackAnswer = "I could not complete that request within the current limits. Please rephrase or try again."

// AgentLoopUseCase drives one THINK -> ACT -> OBSERVE turn. One run per
// inbound message; tool calls are strictly sequential within a run.
type AgentLoopUseCase struct {
	router        *Router
	registry      *ToolRegistry
	provider      ports.CompletionProvider
	conversations ports.ConversationStore
	memory        ports.MemoryService
	runs          ports.RunStore
	queue         ports.ConversationQueue
	events        ports.EventSink
	limits        domain.AgentLimits
}

func NewAgentLoopUseCase(
	router *Router,
	registry *ToolRegistry,
	provider ports.CompletionProvider,
	conversations ports.ConversationStore,
	memory ports.MemoryService,
	runs ports.RunStore,
	queue ports.ConversationQueue,
	events ports.EventSink,
	limits domain.AgentLimits,
) *AgentLoopUseCase {
	if limits.MaxIterations <= 0 {
		limits.MaxIterations = 3
	}
	if limits.RunTimeout <= 0 {
		limits.RunTimeout = 90 * time.Second
	}
	if limits.PlannerTimeout <= 0 {
		limits.PlannerTimeout = 20 * time.Second
	}
	if limits.ToolTimeout <= 0 {
		limits.ToolTimeout = 30 * time.Second
	}
	if limits.HistoryWindow <= 0 {
		limits.HistoryWindow = 12
	}
	if limits.MemoryTopK <= 0 {
		limits.MemoryTopK = 4
	}
	if limits.RetrievalTopK <= 0 {
		limits.RetrievalTopK = 10
	}

	return &AgentLoopUseCase{
		router:        router,
		registry:      registry,
		provider:      provider,
		conversations: conversations,
		memory:        memory,
		runs:          runs,
		queue:         queue,
		events:        events,
		limits:        limits,
	}
}

func (uc *AgentLoopUseCase) Complete(ctx context.Context, req domain.ChatRequest) (*domain.AgentRunResult, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "agent complete", fmt.Errorf("user_id is required"))
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "agent complete", fmt.Errorf("message is required"))
	}

	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	if _, err := uc.conversations.EnsureConversation(ctx, userID, conversationID, req.ProjectID); err != nil {
		return nil, fmt.Errorf("ensure conversation: %w", err)
	}

	mode, err := uc.router.Route(ctx, userID, conversationID, message)
	if err != nil {
		mode = domain.ModeGeneral
	}

	turn, err := uc.conversations.NextUserTurn(ctx, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("next user turn: %w", err)
	}

	agentCtx := domain.AgentContext{
		UserID:         userID,
		ProjectID:      strings.TrimSpace(req.ProjectID),
		ConversationID: conversationID,
		RunID:          uuid.NewString(),
		Mode:           mode,
	}

	if err := uc.conversations.AppendMessage(ctx, domain.Message{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Role:           "user",
		Content:        message,
		UserTurn:       turn,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	var result *domain.AgentRunResult
	if isSmallTalk(message) {
		result = uc.fastPath(ctx, agentCtx, message)
	} else {
		result, err = uc.runLoop(ctx, agentCtx, turn, message)
		if err != nil {
			return nil, err
		}
	}

	// Persist outcome even when the client has already disconnected.
	persistCtx := context.WithoutCancel(ctx)
	for _, call := range result.ToolCalls {
		if err := uc.conversations.AppendMessage(persistCtx, domain.Message{
			ID:             uuid.NewString(),
			UserID:         userID,
			ConversationID: conversationID,
			Role:           "tool",
			Content:        call.Output,
			ToolName:       call.Tool,
			UserTurn:       turn,
			CreatedAt:      time.Now().UTC(),
		}); err != nil {
			return nil, fmt.Errorf("append tool message: %w", err)
		}
	}
	if err := uc.conversations.AppendMessage(persistCtx, domain.Message{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Role:           "assistant",
		Content:        result.Answer,
		UserTurn:       turn,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}

	uc.events.Emit(persistCtx, domain.RunEvent{
		Kind:           domain.EventFinalAnswer,
		RunID:          result.RunID,
		ConversationID: conversationID,
		Payload:        result.Answer,
	})

	if req.SessionEnd && uc.queue != nil {
		// Memory extraction happens out-of-band in the worker.
		if err := uc.queue.PublishConversationConcluded(persistCtx, userID, conversationID); err != nil {
			return nil, fmt.Errorf("publish conversation concluded: %w", err)
		}
	}

	return result, nil
}

// fastPath answers trivial turns with a single completion and no run record.
func (uc *AgentLoopUseCase) fastPath(ctx context.Context, agentCtx domain.AgentContext, message string) *domain.AgentRunResult {
	fastCtx, cancel := context.WithTimeout(ctx, uc.limits.PlannerTimeout)
	defer cancel()

	answer := "Hello! Ask me about your research projects or literature reviews."
	if completion, err := uc.provider.Complete(fastCtx, buildSmallTalkPrompt(message)); err == nil {
		if text := strings.TrimSpace(completion.Text); text != "" {
			answer = text
		}
	}
	return &domain.AgentRunResult{
		RunID:          agentCtx.RunID,
		ConversationID: agentCtx.ConversationID,
		Mode:           agentCtx.Mode,
		Answer:         answer,
		Termination:    domain.TerminationFastPath,
	}
}

func (uc *AgentLoopUseCase) runLoop(ctx context.Context, agentCtx domain.AgentContext, turn int, message string) (*domain.AgentRunResult, error) {
	history, err := uc.conversations.ListRecentMessages(ctx, agentCtx.UserID, agentCtx.ConversationID, uc.limits.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("load history window: %w", err)
	}

	memoryHits, err := uc.memory.Recall(ctx, agentCtx.UserID, message, uc.limits.MemoryTopK)
	if err != nil {
		// Degraded memory never blocks a turn.
		memoryHits = nil
	}

	now := time.Now().UTC()
	// Pending until the first checkpoint; UpdateProgress flips it to
	// running, Finish closes it either way.
	run := &domain.AgentRun{
		RunID:          agentCtx.RunID,
		UserID:         agentCtx.UserID,
		ConversationID: agentCtx.ConversationID,
		Mode:           agentCtx.Mode,
		Status:         domain.RunPending,
		StartedAt:      now,
		UpdatedAt:      now,
	}
	if err := uc.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	loopCtx, cancel := context.WithTimeout(ctx, uc.limits.RunTimeout)
	defer cancel()

	allowed := AllowedTools(agentCtx.Mode)
	catalogue := uc.registry.Catalogue(allowed)
	scratchpad := make([]string, 0, uc.limits.MaxIterations)
	trace := make([]domain.ToolCall, 0, uc.limits.MaxIterations)

	finalAnswer := ""
	termination := domain.TerminationReason("")
	repairRaw := ""
	iterations := 0

	for i := 1; i <= uc.limits.MaxIterations; i++ {
		iterations = i

		prompt := ""
		if repairRaw != "" {
			prompt = buildRepairPrompt(repairRaw)
		} else {
			prompt = buildPlannerPrompt(agentCtx.Mode, catalogue, message, history, memoryHits, scratchpad)
		}

		plannerCtx, plannerCancel := context.WithTimeout(loopCtx, uc.limits.PlannerTimeout)
		completion, err := uc.provider.CompleteJSON(plannerCtx, prompt)
		plannerCancel()
		if err != nil {
			// A failed THINK step ends the run, but a cancelled request
			// context is the client leaving, not a planner fault.
			switch {
			case ctx.Err() != nil:
				termination = domain.TerminationDisconnected
			case loopCtx.Err() != nil:
				termination = domain.TerminationExhausted
			default:
				termination = domain.TerminationAborted
			}
			break
		}

		step, parseErr := parsePlanStep(completion.Text)
		if parseErr != nil {
			if repairRaw != "" {
				// Second malformed decision in a row.
				termination = domain.TerminationAborted
				break
			}
			repairRaw = completion.Text
			continue
		}
		repairRaw = ""

		switch step.Type {
		case "final":
			finalAnswer = strings.TrimSpace(step.Answer)
			if finalAnswer == "" {
				finalAnswer = fallbackAnswer
			}
			termination = domain.TerminationFinalAnswer
		case "tool":
			call := uc.act(ctx, agentCtx, allowed, step, i)
			trace = append(trace, call)
			scratchpad = append(scratchpad, fmt.Sprintf("%s -> %s", call.Tool, call.Output))

			partial, _ := json.Marshal(call)
			if err := uc.runs.UpdateProgress(context.WithoutCancel(ctx), agentCtx.RunID, i, string(partial)); err != nil {
				return nil, fmt.Errorf("checkpoint run: %w", err)
			}

			if ctx.Err() != nil {
				termination = domain.TerminationDisconnected
			} else if loopCtx.Err() != nil {
				termination = domain.TerminationExhausted
			}
		default:
			if repairRaw == "" {
				repairRaw = completion.Text
				continue
			}
			termination = domain.TerminationAborted
		}

		if termination != "" {
			break
		}
	}

	if termination == "" {
		termination = domain.TerminationExhausted
	}
	if finalAnswer == "" {
		finalAnswer = uc.synthesizeAnswer(ctx, message, scratchpad, termination)
	}

	status := domain.RunCompleted
	if termination == domain.TerminationAborted || termination == domain.TerminationDisconnected {
		status = domain.RunFailed
	}
	if err := uc.runs.Finish(context.WithoutCancel(ctx), agentCtx.RunID, status, termination); err != nil {
		return nil, fmt.Errorf("finish run: %w", err)
	}

	return &domain.AgentRunResult{
		RunID:          agentCtx.RunID,
		ConversationID: agentCtx.ConversationID,
		Mode:           agentCtx.Mode,
		Answer:         finalAnswer,
		Iterations:     iterations,
		MemoryHits:     len(memoryHits),
		Termination:    termination,
		ToolCalls:      trace,
	}, nil
}

// act dispatches one tool call. The call runs detached from the request
// context so a client disconnect never interrupts a write mid-flight; the
// registry's own per-call timeout still bounds it.
func (uc *AgentLoopUseCase) act(ctx context.Context, agentCtx domain.AgentContext, allowed map[string]struct{}, step domain.PlanStep, iteration int) domain.ToolCall {
	actCtx := context.WithoutCancel(ctx)

	uc.events.Emit(actCtx, domain.RunEvent{
		Kind:           domain.EventToolStarted,
		RunID:          agentCtx.RunID,
		ConversationID: agentCtx.ConversationID,
		Tool:           step.Tool,
		Iteration:      iteration,
	})

	call := uc.registry.Invoke(actCtx, agentCtx, allowed, step.Tool, step.Args, iteration)

	uc.events.Emit(actCtx, domain.RunEvent{
		Kind:           domain.EventToolFinished,
		RunID:          agentCtx.RunID,
		ConversationID: agentCtx.ConversationID,
		Tool:           call.Tool,
		Status:         call.Status,
		Iteration:      iteration,
	})
	return call
}

// synthesizeAnswer builds a best-effort reply from the last observation
// when the run ended without a final answer.
func (uc *AgentLoopUseCase) synthesizeAnswer(ctx context.Context, question string, scratchpad []string, termination domain.TerminationReason) string {
	if termination == domain.TerminationAborted && len(scratchpad) == 0 {
		return fallbackAnswer
	}
	lastObservation := ""
	if len(scratchpad) > 0 {
		lastObservation = scratchpad[len(scratchpad)-1]
	}
	if lastObservation == "" {
		return fallbackAnswer
	}

	synthCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.limits.PlannerTimeout)
	defer cancel()

	completion, err := uc.provider.Complete(synthCtx, buildSynthesisPrompt(question, lastObservation))
	if err != nil || strings.TrimSpace(completion.Text) == "" {
		return fallbackAnswer
	}
	return strings.TrimSpace(completion.Text)
}

func parsePlanStep(raw string) (domain.PlanStep, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.PlanStep{}, fmt.Errorf("empty planner response")
	}
	var step domain.PlanStep
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &step); err != nil {
		return domain.PlanStep{}, fmt.Errorf("unmarshal plan step: %w", err)
	}
	step.Type = strings.ToLower(strings.TrimSpace(step.Type))
	step.Tool = strings.TrimSpace(step.Tool)
	switch step.Type {
	case "final":
		return step, nil
	case "tool":
		if step.Tool == "" {
			return domain.PlanStep{}, fmt.Errorf("tool step without tool name")
		}
		return step, nil
	default:
		return domain.PlanStep{}, fmt.Errorf("unknown step type %q", step.Type)
	}
}

var smallTalkPhrases = []string{
	"hello", "hi", "hey", "good morning", "good afternoon", "good evening",
	"thanks", "thank you", "how are you",
}

var taskVerbs = []string{
	"search", "find", "summarize", "summarise", "compare", "update", "write",
	"add", "review", "list", "analyze", "analyse", "explain", "create", "delete",
}

// isSmallTalk short-circuits trivial turns straight to DONE without
// invoking the loop.
func isSmallTalk(message string) bool {
	lowered := strings.ToLower(strings.TrimSpace(message))
	if len(lowered) > 80 || strings.Contains(lowered, "?") {
		return false
	}
	for _, verb := range taskVerbs {
		if strings.Contains(lowered, verb) {
			return false
		}
	}
	for _, phrase := range smallTalkPhrases {
		if strings.HasPrefix(lowered, phrase) {
			return true
		}
	}
	return false
}

var modeInstructions = map[domain.AgentMode]string{
	domain.ModeGeneral:           "You are a research assistant answering general questions.",
	domain.ModeReviewMethodology: "You are a literature-review specialist focused on methodology sections.",
	domain.ModeReviewComparison:  "You are a literature-review specialist comparing studies. You may read review tabs but never modify them.",
	domain.ModeReviewFindings:    "You are a literature-review specialist focused on findings and results.",
}

func buildPlannerPrompt(
	mode domain.AgentMode,
	catalogue []ToolDescriptor,
	message string,
	history []domain.Message,
	memoryHits []domain.MemoryHit,
	scratchpad []string,
) string {
	instructions, ok := modeInstructions[mode]
	if !ok {
		instructions = modeInstructions[domain.ModeGeneral]
	}

	toolLines := make([]string, 0, len(catalogue))
	for _, descriptor := range catalogue {
		line := fmt.Sprintf("- %s: %s", descriptor.Name, descriptor.Description)
		if descriptor.Schema != "" {
			line += " args schema: " + descriptor.Schema
		}
		toolLines = append(toolLines, line)
	}
	if len(toolLines) == 0 {
		toolLines = append(toolLines, "(no tools available)")
	}

	historyLines := make([]string, 0, len(history))
	for _, msg := range history {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		historyLines = append(historyLines, fmt.Sprintf("%s: %s", msg.Role, content))
	}
	if len(historyLines) == 0 {
		historyLines = append(historyLines, "(empty)")
	}

	memoryLines := make([]string, 0, len(memoryHits))
	for _, hit := range memoryHits {
		memoryLines = append(memoryLines, fmt.Sprintf("- [score=%.3f] %s", hit.Score, strings.TrimSpace(hit.Memory.Fact)))
	}
	if len(memoryLines) == 0 {
		memoryLines = append(memoryLines, "(empty)")
	}

	if len(scratchpad) == 0 {
		scratchpad = []string{"(no tool outputs yet)"}
	}

	return fmt.Sprintf(`%s
Decide the single next step. Return ONLY one valid JSON object:
{"type":"tool","tool":"<name>","args":{...}}
or
{"type":"final","answer":"..."}

Available tools:
%s

Recent conversation:
%s

Known facts about the user:
%s

Observations so far:
%s

Current user request:
%s
`, instructions, strings.Join(toolLines, "\n"), strings.Join(historyLines, "\n"),
		strings.Join(memoryLines, "\n"), strings.Join(scratchpad, "\n"), message)
}

func buildRepairPrompt(raw string) string {
	return fmt.Sprintf(`Your previous output was not valid JSON for the required schema.
Convert it into exactly one JSON object:
{"type":"tool","tool":"<name>","args":{...}}
or {"type":"final","answer":"..."}
Return only JSON.

Previous output:
%s`, raw)
}

func buildSmallTalkPrompt(message string) string {
	return fmt.Sprintf(`You are a friendly research assistant. Reply briefly and conversationally.

User: %s`, message)
}

func buildSynthesisPrompt(question, lastObservation string) string {
	return fmt.Sprintf(`You ran out of reasoning steps. Using only the tool output below,
give the most useful direct answer you can to the user's request.

User request:
%s

Last tool output:
%s`, question, lastObservation)
}

// IsRetryableProviderError reports whether a provider failure class should
// surface as a degraded-service response rather than an internal error.
func IsRetryableProviderError(err error) bool {
	return errors.Is(err, domain.ErrTemporary) || errors.Is(err, domain.ErrProvider)
}
