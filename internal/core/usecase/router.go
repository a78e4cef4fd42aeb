package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/arxlab/litagent/internal/core/domain"
	"github.com/arxlab/litagent/internal/core/ports"
)

// ModeToolsets maps each specialist mode to the strict subset of the
// registry it may invoke. Least privilege: the comparison specialist
// cannot write, only the matching review specialists can.
var ModeToolsets = map[domain.AgentMode][]string{
	domain.ModeGeneral: {
		ToolKnowledgeSearch,
		ToolMemoryLookup,
	},
	domain.ModeReviewMethodology: {
		ToolKnowledgeSearch,
		ToolMemoryLookup,
		ToolReviewTabRead,
		ToolReviewTabWrite,
	},
	domain.ModeReviewComparison: {
		ToolKnowledgeSearch,
		ToolMemoryLookup,
		ToolReviewTabRead,
	},
	domain.ModeReviewFindings: {
		ToolKnowledgeSearch,
		ToolMemoryLookup,
		ToolReviewTabRead,
		ToolReviewTabWrite,
	},
}

func AllowedTools(mode domain.AgentMode) map[string]struct{} {
	names, ok := ModeToolsets[mode]
	if !ok {
		names = ModeToolsets[domain.ModeGeneral]
	}
	out := make(map[string]struct{}, len(names))
	for _, name := range names {
		out[name] = struct{}{}
	}
	return out
}

// Router decides which specialist mode handles a turn. The decision is
// made once per turn, before the control loop starts, and the chosen mode
// persists on the conversation until changed.
type Router struct {
	conversations ports.ConversationStore
	provider      ports.CompletionProvider
	timeout       time.Duration
}

func NewRouter(conversations ports.ConversationStore, provider ports.CompletionProvider, timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Router{
		conversations: conversations,
		provider:      provider,
		timeout:       timeout,
	}
}

// Route resolves the mode for this turn. Explicit slash commands win, then
// sticky conversation state, then a lightweight classification call whose
// output is clamped to the known mode enum.
func (r *Router) Route(ctx context.Context, userID, conversationID, message string) (domain.AgentMode, error) {
	if mode, ok := parseModeCommand(message); ok {
		if err := r.conversations.SetMode(ctx, userID, conversationID, mode); err != nil {
			return domain.ModeGeneral, fmt.Errorf("persist mode: %w", err)
		}
		return mode, nil
	}

	current, err := r.conversations.GetMode(ctx, userID, conversationID)
	if err != nil {
		return domain.ModeGeneral, fmt.Errorf("load mode: %w", err)
	}
	if current != "" && current != domain.ModeGeneral {
		return current, nil
	}

	mode := r.classify(ctx, message)
	if mode != current {
		if err := r.conversations.SetMode(ctx, userID, conversationID, mode); err != nil {
			return domain.ModeGeneral, fmt.Errorf("persist mode: %w", err)
		}
	}
	return mode, nil
}

func (r *Router) classify(ctx context.Context, message string) domain.AgentMode {
	classifyCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	completion, err := r.provider.CompleteJSON(classifyCtx, buildRoutePrompt(message))
	if err != nil {
		// Routing errors never block the turn.
		return domain.ModeGeneral
	}

	var decision struct {
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(completion.Text)), &decision); err != nil {
		return domain.ModeGeneral
	}
	mode, _ := domain.ParseMode(strings.TrimSpace(decision.Mode))
	return mode
}

func parseModeCommand(message string) (domain.AgentMode, bool) {
	trimmed := strings.TrimSpace(message)
	if !strings.HasPrefix(trimmed, "/mode") {
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(trimmed, "/mode"))
	if raw == "" {
		return "", false
	}
	mode, _ := domain.ParseMode(raw)
	return mode, true
}

func buildRoutePrompt(message string) string {
	modes := make([]string, 0, len(domain.KnownModes))
	for _, mode := range domain.KnownModes {
		modes = append(modes, string(mode))
	}
	return fmt.Sprintf(`You route messages to a specialist assistant.
Return ONLY a JSON object: {"mode":"<one of: %s>"}
Pick a review mode only when the message is clearly about that aspect of a literature review.
Otherwise pick "general".

Message:
%s`, strings.Join(modes, ", "), message)
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
