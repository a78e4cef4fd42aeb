package usecase

import (
	"sort"

	"github.com/arxlab/litagent/internal/core/domain"
)

type fusedCandidate struct {
	chunk domain.RetrievedChunk
	score float64
}

// fuseCandidatesRRF merges the two ranked legs with reciprocal-rank fusion,
// deduplicated by chunk identifier. Ties break deterministically so the same
// corpus and query always produce the same ordering.
func fuseCandidatesRRF(semantic, lexical []domain.RetrievedChunk, rrfK int) []domain.RetrievedChunk {
	if rrfK <= 0 {
		rrfK = 60
	}

	acc := make(map[string]fusedCandidate, len(semantic)+len(lexical))
	addList := func(chunks []domain.RetrievedChunk) {
		for rank, chunk := range chunks {
			key := chunk.ChunkID
			if key == "" {
				key = chunk.DocumentID + ":" + chunk.Text
			}
			candidate := acc[key]
			candidate.chunk = preferRicherChunk(candidate.chunk, chunk)
			candidate.score += 1.0 / float64(rrfK+rank+1)
			acc[key] = candidate
		}
	}

	addList(semantic)
	addList(lexical)

	out := make([]domain.RetrievedChunk, 0, len(acc))
	for _, c := range acc {
		chunk := c.chunk
		chunk.Score = c.score
		out = append(out, chunk)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		if out[i].ChunkIndex != out[j].ChunkIndex {
			return out[i].ChunkIndex < out[j].ChunkIndex
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	return out
}

func trimCandidates(chunks []domain.RetrievedChunk, limit int) []domain.RetrievedChunk {
	if limit <= 0 || len(chunks) <= limit {
		return chunks
	}
	return chunks[:limit]
}

func preferRicherChunk(current, candidate domain.RetrievedChunk) domain.RetrievedChunk {
	if current.ChunkID == "" && current.DocumentID == "" && current.Text == "" {
		return candidate
	}
	if current.Text == "" && candidate.Text != "" {
		current.Text = candidate.Text
	}
	if current.SectionType == "" && candidate.SectionType != "" {
		current.SectionType = candidate.SectionType
	}
	if current.DocumentID == "" && candidate.DocumentID != "" {
		current.DocumentID = candidate.DocumentID
	}
	if current.ChunkID == "" && candidate.ChunkID != "" {
		current.ChunkID = candidate.ChunkID
	}
	return current
}
