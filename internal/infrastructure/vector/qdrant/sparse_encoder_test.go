package qdrant

import "testing"

func TestTokenizeAlphaNumLowercasesAndSplitsPunctuation(t *testing.T) {
	got := tokenizeAlphaNum("Cross-Validation (k=5), RCTs!")
	want := []string{"cross", "validation", "k", "5", "rcts"}
	if len(got) != len(want) {
		t.Fatalf("tokenizeAlphaNum() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEncodeSparseDocumentIsDeterministic(t *testing.T) {
	a := encodeSparseDocument("randomized controlled trial", "methods")
	b := encodeSparseDocument("randomized controlled trial", "methods")
	if len(a.Indices) == 0 {
		t.Fatalf("expected non-empty sparse vector")
	}
	if len(a.Indices) != len(b.Indices) || len(a.Values) != len(b.Values) {
		t.Fatalf("encodings differ in shape: %v vs %v", a, b)
	}
	for i := range a.Indices {
		if a.Indices[i] != b.Indices[i] || a.Values[i] != b.Values[i] {
			t.Fatalf("encodings differ at %d: (%d,%v) vs (%d,%v)",
				i, a.Indices[i], a.Values[i], b.Indices[i], b.Values[i])
		}
	}
}

func TestEncodeSparseDocumentBoostsSectionTypeTerm(t *testing.T) {
	plain := encodeSparseDocument("methods", "")
	boosted := encodeSparseDocument("", "methods")

	idx := hashToken("methods")
	plainWeight := weightFor(t, plain, idx)
	boostedWeight := weightFor(t, boosted, idx)
	if boostedWeight <= plainWeight {
		t.Fatalf("expected section token weight %v > body token weight %v", boostedWeight, plainWeight)
	}
}

func TestTermFrequencySaturates(t *testing.T) {
	once := encodeSparseDocument("recall", "")
	many := encodeSparseDocument("recall recall recall recall recall recall recall recall", "")

	idx := hashToken("recall")
	w1 := weightFor(t, once, idx)
	w8 := weightFor(t, many, idx)
	if w8 <= w1 {
		t.Fatalf("expected repeated term weight %v > single %v", w8, w1)
	}
	// BM25 saturation bounds the weight below k+1 regardless of count.
	if w8 >= docSaturationK+1.0 {
		t.Fatalf("expected saturated weight below %v, got %v", docSaturationK+1.0, w8)
	}
}

func TestEncodeSparseQueryOfEmptyTextIsEmpty(t *testing.T) {
	sparse := encodeSparseQuery("   ...   ")
	if len(sparse.Indices) != 0 || len(sparse.Values) != 0 {
		t.Fatalf("expected empty sparse vector, got %v", sparse)
	}
}

func weightFor(t *testing.T, sparse sparseVector, idx uint32) float64 {
	t.Helper()
	for i, candidate := range sparse.Indices {
		if candidate == idx {
			return float64(sparse.Values[i])
		}
	}
	t.Fatalf("index %d not present in %v", idx, sparse.Indices)
	return 0
}
