package chunking

import (
	"fmt"
	"strings"

	"github.com/arxlab/litagent/internal/core/domain"
)

// SectionSplitter bounds incoming section text before embedding. Sections
// that fit pass through untouched; oversized ones become overlapping
// windows that keep the parent's document, project and section metadata.
type SectionSplitter struct {
	MaxRunes int
	Overlap  int
}

func NewSectionSplitter(maxRunes, overlap int) *SectionSplitter {
	if maxRunes <= 0 {
		maxRunes = 900
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= maxRunes {
		overlap = maxRunes / 4
	}
	return &SectionSplitter{
		MaxRunes: maxRunes,
		Overlap:  overlap,
	}
}

func (s *SectionSplitter) Split(chunk domain.Chunk) []domain.Chunk {
	text := strings.TrimSpace(chunk.Text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= s.MaxRunes {
		chunk.Text = text
		return []domain.Chunk{chunk}
	}

	step := s.MaxRunes - s.Overlap
	if step <= 0 {
		step = s.MaxRunes
	}

	out := make([]domain.Chunk, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + s.MaxRunes
		if end > len(runes) {
			end = len(runes)
		}
		window := strings.TrimSpace(string(runes[start:end]))
		if window != "" {
			part := chunk
			part.ID = fmt.Sprintf("%s#%d", chunk.ID, len(out))
			part.Index = chunk.Index + len(out)
			part.Text = window
			out = append(out, part)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}
