package onnx

import (
	"math"
	"os"
	"testing"

	"github.com/MrWong99/readalong/pkg/provider/embeddings"
)

func TestPackBatch(t *testing.T) {
	t.Parallel()
	b := packBatch(
		[][]int{{101, 7, 102}, {101, 102}},
		[][]int{{1, 1, 1}, {1, 1}},
		0,
	)
	if b.seqLen != 3 {
		t.Fatalf("seqLen = %d, want 3", b.seqLen)
	}
	wantIDs := []int64{101, 7, 102, 101, 102, 0}
	wantMask := []int64{1, 1, 1, 1, 1, 0}
	for i := range wantIDs {
		if b.ids[i] != wantIDs[i] || b.mask[i] != wantMask[i] || b.types[i] != 0 {
			t.Fatalf("slot %d: id=%d mask=%d type=%d", i, b.ids[i], b.mask[i], b.types[i])
		}
	}
}

func TestPackBatch_Truncates(t *testing.T) {
	t.Parallel()
	b := packBatch([][]int{{1, 2, 3, 4, 5}}, [][]int{{1, 1, 1, 1, 1}}, 2)
	if b.seqLen != 2 || len(b.ids) != 2 || b.ids[1] != 2 {
		t.Errorf("packed = %+v", b)
	}
}

func TestMeanPool(t *testing.T) {
	t.Parallel()
	// One sequence of three tokens, hidden size 2; the last token is padding.
	data := []float32{
		3, 0,
		3, 8,
		100, 100,
	}
	out := meanPool(data, []int64{1, 1, 0}, 1, 3, 2)
	// Mean is (3, 4), normalized (0.6, 0.8).
	if math.Abs(float64(out[0][0])-0.6) > 1e-6 || math.Abs(float64(out[0][1])-0.8) > 1e-6 {
		t.Errorf("pooled = %v, want [0.6 0.8]", out[0])
	}
}

func TestMeanPool_AllMasked(t *testing.T) {
	t.Parallel()
	out := meanPool([]float32{1, 1}, []int64{0}, 1, 1, 2)
	if out[0][0] != 0 || out[0][1] != 0 {
		t.Errorf("pooled = %v, want zero vector", out[0])
	}
}

func TestProvider_Integration(t *testing.T) {
	model, tok := os.Getenv("READALONG_TEST_EMBED_MODEL"), os.Getenv("READALONG_TEST_EMBED_TOKENIZER")
	if model == "" || tok == "" {
		t.Skip("READALONG_TEST_EMBED_MODEL / READALONG_TEST_EMBED_TOKENIZER not set")
	}
	p, err := New(model, tok, WithSharedLibrary(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	vecs, err := p.EmbedBatch(t.Context(), []string{
		"the cat sat on the mat",
		"a cat was sitting on the mat",
		"quarterly revenue grew by four percent",
	})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	near, _ := embeddings.Cosine(vecs[0], vecs[1])
	far, _ := embeddings.Cosine(vecs[0], vecs[2])
	if near <= far {
		t.Errorf("similar sentences scored %.3f, unrelated %.3f", near, far)
	}
}
