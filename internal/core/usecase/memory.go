package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arxlab/litagent/internal/core/domain"
	"github.com/arxlab/litagent/internal/core/ports"
)

// extractionTurnWindow bounds how far back extraction reads the
// transcript: only the trailing user turns of the concluded conversation.
const extractionTurnWindow = 20

type MemoryObserver func(event string, count int)

// MemoryUseCase maintains the compact, deduplicated, time-decaying set of
// per-user facts. Writes are serialized per user so concurrent conversation
// endings cannot race a duplicate insert past the similarity check.
type MemoryUseCase struct {
	provider      ports.CompletionProvider
	embedder      ports.Embedder
	memories      ports.MemoryStore
	vectors       ports.MemoryVectorIndex
	conversations ports.ConversationStore
	policy        domain.MemoryPolicy
	observer      MemoryObserver

	userLocks sync.Map // userID -> *sync.Mutex
}

func NewMemoryUseCase(
	provider ports.CompletionProvider,
	embedder ports.Embedder,
	memories ports.MemoryStore,
	vectors ports.MemoryVectorIndex,
	conversations ports.ConversationStore,
	policy domain.MemoryPolicy,
	observer MemoryObserver,
) *MemoryUseCase {
	if policy.DedupThreshold <= 0 || policy.DedupThreshold > 1 {
		policy.DedupThreshold = 0.9
	}
	if policy.BaseImportance <= 0 {
		policy.BaseImportance = 0.5
	}
	if policy.MergeBoost <= 0 {
		policy.MergeBoost = 0.1
	}
	if policy.DecayHalfLife <= 0 {
		policy.DecayHalfLife = 30 * 24 * time.Hour
	}
	if policy.PruneFloor <= 0 {
		policy.PruneFloor = 0.05
	}
	if policy.ReadTopK <= 0 {
		policy.ReadTopK = 4
	}
	return &MemoryUseCase{
		provider:      provider,
		embedder:      embedder,
		memories:      memories,
		vectors:       vectors,
		conversations: conversations,
		policy:        policy,
		observer:      observer,
	}
}

func (uc *MemoryUseCase) lockUser(userID string) func() {
	value, _ := uc.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Recall is the read path: top-K facts ranked by decayed importance times
// similarity to the current query.
func (uc *MemoryUseCase) Recall(ctx context.Context, userID, query string, limit int) ([]domain.MemoryHit, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "memory recall", fmt.Errorf("user_id is required"))
	}
	if limit <= 0 {
		limit = uc.policy.ReadTopK
	}

	vector, err := uc.embedder.EmbedQuery(ctx, query)
	if err != nil || len(vector) == 0 {
		return nil, nil
	}

	// Over-fetch so decay can demote stale-but-similar facts.
	hits, err := uc.vectors.SearchFacts(ctx, userID, vector, limit*3)
	if err != nil {
		return nil, fmt.Errorf("search facts: %w", err)
	}

	now := time.Now().UTC()
	for i := range hits {
		decayed := uc.policy.DecayedImportance(hits[i].Memory, now)
		hits[i].Score = decayed * hits[i].Relevance
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Memory.ID < hits[j].Memory.ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	if uc.observer != nil {
		uc.observer("recall", len(hits))
	}
	return hits, nil
}

// ExtractAndStore is the write path triggered after a conversation
// concludes: propose candidate facts from the transcript, then merge or
// insert each one.
func (uc *MemoryUseCase) ExtractAndStore(ctx context.Context, userID, conversationID string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, domain.WrapError(domain.ErrInvalidInput, "memory extract", fmt.Errorf("user_id is required"))
	}

	conv, err := uc.conversations.EnsureConversation(ctx, userID, conversationID, "")
	if err != nil {
		return 0, fmt.Errorf("load conversation: %w", err)
	}
	turnFrom := conv.CurrentUserTurn - extractionTurnWindow
	if turnFrom < 0 {
		turnFrom = 0
	}
	messages, err := uc.conversations.ListMessagesByTurnRange(ctx, userID, conversationID, turnFrom, conv.CurrentUserTurn)
	if err != nil {
		return 0, fmt.Errorf("load transcript: %w", err)
	}
	if len(messages) == 0 {
		return 0, nil
	}

	facts, err := uc.extractFacts(ctx, messages)
	if err != nil {
		return 0, err
	}
	if len(facts) == 0 {
		return 0, nil
	}

	unlock := uc.lockUser(userID)
	defer unlock()

	stored := 0
	for _, fact := range facts {
		if err := uc.upsertFact(ctx, userID, fact); err != nil {
			return stored, err
		}
		stored++
	}
	if uc.observer != nil {
		uc.observer("stored", stored)
	}
	return stored, nil
}

func (uc *MemoryUseCase) extractFacts(ctx context.Context, messages []domain.Message) ([]string, error) {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" || msg.Role == "tool" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, content))
	}
	if len(lines) == 0 {
		return nil, nil
	}

	completion, err := uc.provider.CompleteJSON(ctx, buildFactExtractionPrompt(lines))
	if err != nil {
		return nil, domain.WrapError(domain.ErrProvider, "extract facts", err)
	}

	var parsed struct {
		Facts []string `json:"facts"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(completion.Text)), &parsed); err != nil {
		return nil, fmt.Errorf("parse extracted facts: %w", err)
	}

	out := make([]string, 0, len(parsed.Facts))
	for _, fact := range parsed.Facts {
		fact = strings.TrimSpace(fact)
		if fact != "" {
			out = append(out, fact)
		}
	}
	return out, nil
}

// upsertFact inserts a new canonical fact, or merges the candidate into the
// closest existing record when similarity clears the dedup threshold.
func (uc *MemoryUseCase) upsertFact(ctx context.Context, userID, fact string) error {
	vector, err := uc.embedder.EmbedQuery(ctx, fact)
	if err != nil {
		return domain.WrapError(domain.ErrProvider, "embed fact", err)
	}

	hits, err := uc.vectors.SearchFacts(ctx, userID, vector, 1)
	if err != nil {
		return fmt.Errorf("search existing facts: %w", err)
	}

	now := time.Now().UTC()
	if len(hits) > 0 && hits[0].Relevance >= uc.policy.DedupThreshold {
		existing, err := uc.memories.GetByID(ctx, userID, hits[0].Memory.ID)
		if err != nil {
			return fmt.Errorf("load canonical fact: %w", err)
		}
		// Prefer the more specific phrasing.
		if len(fact) > len(existing.Fact) {
			existing.Fact = fact
		}
		existing.Importance = math.Min(1.0, existing.Importance+uc.policy.MergeBoost)
		existing.LastAccessedAt = now
		if err := uc.memories.Update(ctx, existing); err != nil {
			return fmt.Errorf("merge fact: %w", err)
		}
		if err := uc.vectors.IndexFact(ctx, *existing, vector); err != nil {
			return fmt.Errorf("reindex fact: %w", err)
		}
		if uc.observer != nil {
			uc.observer("merged", 1)
		}
		return nil
	}

	memory := &domain.Memory{
		ID:             uuid.NewString(),
		UserID:         userID,
		Fact:           fact,
		Importance:     uc.policy.BaseImportance,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if err := uc.memories.Insert(ctx, memory); err != nil {
		return fmt.Errorf("insert fact: %w", err)
	}
	if err := uc.vectors.IndexFact(ctx, *memory, vector); err != nil {
		return fmt.Errorf("index fact: %w", err)
	}
	return nil
}

// Consolidate is the periodic maintenance pass: prune entries whose decayed
// importance fell below the floor and merge near-duplicate survivors.
func (uc *MemoryUseCase) Consolidate(ctx context.Context, userID string) (pruned, merged int, err error) {
	unlock := uc.lockUser(userID)
	defer unlock()

	memories, err := uc.memories.ListByUser(ctx, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("list memories: %w", err)
	}
	if len(memories) == 0 {
		return 0, 0, nil
	}

	now := time.Now().UTC()
	survivors := make([]domain.Memory, 0, len(memories))
	for _, memory := range memories {
		if uc.policy.DecayedImportance(memory, now) < uc.policy.PruneFloor {
			if err := uc.deleteMemory(ctx, userID, memory.ID); err != nil {
				return pruned, merged, err
			}
			pruned++
			continue
		}
		survivors = append(survivors, memory)
	}

	if len(survivors) < 2 {
		return pruned, merged, nil
	}

	texts := make([]string, len(survivors))
	for i, memory := range survivors {
		texts[i] = memory.Fact
	}
	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil || len(vectors) != len(survivors) {
		// Merge pass is best-effort; pruning already happened.
		return pruned, merged, nil
	}

	dropped := make(map[int]bool, len(survivors))
	for i := 0; i < len(survivors); i++ {
		if dropped[i] {
			continue
		}
		for j := i + 1; j < len(survivors); j++ {
			if dropped[j] {
				continue
			}
			if cosineSimilarity(vectors[i], vectors[j]) < uc.policy.DedupThreshold {
				continue
			}
			keep, drop := i, j
			if len(survivors[j].Fact) > len(survivors[i].Fact) {
				survivors[i].Fact = survivors[j].Fact
			}
			survivors[keep].Importance = math.Min(1.0, survivors[keep].Importance+survivors[drop].Importance*0.5)
			survivors[keep].LastAccessedAt = now
			if err := uc.memories.Update(ctx, &survivors[keep]); err != nil {
				return pruned, merged, fmt.Errorf("merge survivors: %w", err)
			}
			if err := uc.vectors.IndexFact(ctx, survivors[keep], vectors[keep]); err != nil {
				return pruned, merged, fmt.Errorf("reindex survivor: %w", err)
			}
			if err := uc.deleteMemory(ctx, userID, survivors[drop].ID); err != nil {
				return pruned, merged, err
			}
			dropped[drop] = true
			merged++
		}
	}

	if uc.observer != nil {
		uc.observer("pruned", pruned)
		uc.observer("merged", merged)
	}
	return pruned, merged, nil
}

func (uc *MemoryUseCase) deleteMemory(ctx context.Context, userID, memoryID string) error {
	if err := uc.memories.Delete(ctx, userID, memoryID); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if err := uc.vectors.DeleteFact(ctx, memoryID); err != nil {
		return fmt.Errorf("delete fact vector: %w", err)
	}
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func buildFactExtractionPrompt(lines []string) string {
	return fmt.Sprintf(`Extract durable facts about the user from this conversation.
Only include facts worth remembering across conversations: goals, preferences,
projects, areas of study. Skip pleasantries and one-off details.
Return ONLY a JSON object: {"facts":["...","..."]} (empty list if nothing qualifies).

Conversation:
%s`, strings.Join(lines, "\n"))
}
