package domain

import (
	"math"
	"time"
)

// Memory is one canonical per-user fact. Near-duplicate candidates are
// merged into the existing record instead of inserted.
type Memory struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Fact           string    `json:"fact"`
	Importance     float64   `json:"importance"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

type MemoryHit struct {
	Memory    Memory  `json:"memory"`
	Relevance float64 `json:"relevance"`
	Score     float64 `json:"score"`
}

type MemoryPolicy struct {
	DedupThreshold float64
	BaseImportance float64
	MergeBoost     float64
	DecayHalfLife  time.Duration
	PruneFloor     float64
	ReadTopK       int
}

// DecayedImportance applies exponential decay since last access.
// Half-life is tunable; the shape is monotonic by construction.
func (p MemoryPolicy) DecayedImportance(m Memory, now time.Time) float64 {
	if p.DecayHalfLife <= 0 {
		return m.Importance
	}
	age := now.Sub(m.LastAccessedAt)
	if age <= 0 {
		return m.Importance
	}
	halfLives := float64(age) / float64(p.DecayHalfLife)
	return m.Importance * math.Pow(2, -halfLives)
}
