package domain

// SearchScope constrains retrieval to one project/user corpus.
type SearchScope struct {
	UserID    string
	ProjectID string
}

type SearchFilter struct {
	SectionType string
}

// Chunk is a retrievable unit of parsed source text. The parsing pipeline
// that produces chunks is out of scope; retrieval only reads them.
type Chunk struct {
	ID          string `json:"id"`
	DocumentID  string `json:"document_id"`
	ProjectID   string `json:"project_id"`
	SectionType string `json:"section_type,omitempty"`
	Index       int    `json:"index"`
	Text        string `json:"text"`
}

type RetrievedChunk struct {
	ChunkID     string  `json:"chunk_id"`
	DocumentID  string  `json:"document_id"`
	SectionType string  `json:"section_type,omitempty"`
	ChunkIndex  int     `json:"chunk_index"`
	Text        string  `json:"text"`
	Score       float64 `json:"score"`
}

type RetrievalResult struct {
	Chunks []RetrievedChunk `json:"chunks"`
	// Degraded names the leg that failed when the engine fell back to a
	// single retrieval path ("semantic" or "lexical"). Empty when both ran.
	Degraded string `json:"degraded,omitempty"`
}

type RetrievalConfig struct {
	CandidateK int
	FusionRRFK int
	RerankTopN int
	FinalTopK  int
}
