package domain

import "time"

type TabKind string

const (
	TabMethodology TabKind = "methodology"
	TabFindings    TabKind = "findings"
	TabComparison  TabKind = "comparison"
	TabNotes       TabKind = "notes"
)

func ParseTabKind(raw string) (TabKind, bool) {
	switch TabKind(raw) {
	case TabMethodology, TabFindings, TabComparison, TabNotes:
		return TabKind(raw), true
	default:
		return "", false
	}
}

// ReviewTab is one structured tab of a literature-review project. The row
// is the unit of mutual exclusion for writes: last writer wins and the
// version counter records how many writes landed.
type ReviewTab struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	Kind      TabKind   `json:"kind"`
	Content   string    `json:"content"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
