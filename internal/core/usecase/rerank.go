package usecase

import (
	"sort"
	"strings"
	"unicode"

	"github.com/arxlab/litagent/internal/core/domain"
)

// rerankCandidates reorders the fused head with a cross-scoring pass over
// the full query+chunk pair: normalized fused score blended with direct
// token overlap. The tail below topN keeps its fused order.
func rerankCandidates(query string, fused []domain.RetrievedChunk, topN int) []domain.RetrievedChunk {
	if len(fused) == 0 {
		return fused
	}
	if topN <= 0 || topN > len(fused) {
		topN = len(fused)
	}

	head := make([]domain.RetrievedChunk, topN)
	copy(head, fused[:topN])
	queryTokens := toTokenSet(query)

	minScore := head[0].Score
	maxScore := head[0].Score
	for _, chunk := range head[1:] {
		if chunk.Score < minScore {
			minScore = chunk.Score
		}
		if chunk.Score > maxScore {
			maxScore = chunk.Score
		}
	}

	scoreRange := maxScore - minScore
	normalize := func(v float64) float64 {
		if scoreRange <= 0 {
			if v > 0 {
				return 1
			}
			return 0
		}
		return (v - minScore) / scoreRange
	}

	for i := range head {
		overlap := tokenOverlap(queryTokens, toTokenSet(head[i].Text))
		sectionBoost := 0.0
		if head[i].SectionType != "" && sectionTokenHit(queryTokens, head[i].SectionType) {
			sectionBoost = 1.0
		}
		head[i].Score = 0.60*normalize(head[i].Score) + 0.30*overlap + 0.10*sectionBoost
	}

	sort.SliceStable(head, func(i, j int) bool {
		if head[i].Score != head[j].Score {
			return head[i].Score > head[j].Score
		}
		if head[i].DocumentID != head[j].DocumentID {
			return head[i].DocumentID < head[j].DocumentID
		}
		if head[i].ChunkIndex != head[j].ChunkIndex {
			return head[i].ChunkIndex < head[j].ChunkIndex
		}
		return head[i].ChunkID < head[j].ChunkID
	})

	if topN == len(fused) {
		return head
	}

	out := make([]domain.RetrievedChunk, 0, len(fused))
	out = append(out, head...)
	out = append(out, fused[topN:]...)
	return out
}

func tokenOverlap(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 || len(chunk) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := chunk[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func sectionTokenHit(query map[string]struct{}, sectionType string) bool {
	sectionType = strings.ToLower(sectionType)
	for token := range query {
		if token != "" && strings.Contains(sectionType, token) {
			return true
		}
	}
	return false
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
