// Package onnx provides a local sentence-embedding provider: a BERT-style
// encoder exported to ONNX, run with ONNX Runtime, with a Hugging Face
// tokenizer.json loaded by sugarme/tokenizer.
//
// Token vectors are mean-pooled over the attention mask and L2-normalized,
// matching the sentence-transformers export of models such as
// all-MiniLM-L6-v2.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/readalong/internal/ortenv"
	"github.com/MrWong99/readalong/pkg/provider/embeddings"
)

const defaultDimensions = 384

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider.
type Provider struct {
	modelPath  string
	libPath    string
	dimensions int
	maxTokens  int

	tok *tokenizer.Tokenizer

	mu      sync.RWMutex
	session *ort.DynamicAdvancedSession
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithSharedLibrary sets the path of the ONNX Runtime shared library.
func WithSharedLibrary(path string) Option {
	return func(p *Provider) { p.libPath = path }
}

// WithDimensions sets the hidden size of the model. Defaults to 384.
func WithDimensions(n int) Option {
	return func(p *Provider) { p.dimensions = n }
}

// WithMaxTokens truncates every text to n tokens. Defaults to 256.
func WithMaxTokens(n int) Option {
	return func(p *Provider) { p.maxTokens = n }
}

// New loads the model and tokenizer. The caller must call Close when the
// provider is no longer needed.
func New(modelPath, tokenizerPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" || tokenizerPath == "" {
		return nil, errors.New("onnx embeddings: model and tokenizer paths must not be empty")
	}
	p := &Provider{modelPath: modelPath, dimensions: defaultDimensions, maxTokens: 256}
	for _, o := range opts {
		o(p)
	}

	tok, err := pretrained.FromFile(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("onnx embeddings: load tokenizer %q: %w", tokenizerPath, err)
	}
	p.tok = tok

	if err := ortenv.Init(p.libPath); err != nil {
		return nil, fmt.Errorf("onnx embeddings: %w", err)
	}
	opt, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx embeddings: session options: %w", err)
	}
	defer opt.Destroy()
	if err := opt.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("onnx embeddings: session options: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		opt,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx embeddings: load model %q: %w", modelPath, err)
	}
	p.session = session
	return p, nil
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputs := make([]tokenizer.EncodeInput, len(texts))
	for i, t := range texts {
		inputs[i] = tokenizer.NewSingleEncodeInput(tokenizer.NewInputSequence(t))
	}
	encs, err := p.tok.EncodeBatch(inputs, true)
	if err != nil {
		return nil, fmt.Errorf("onnx embeddings: tokenize: %w", err)
	}
	ids := make([][]int, len(encs))
	masks := make([][]int, len(encs))
	for i, e := range encs {
		ids[i], masks[i] = e.GetIds(), e.GetAttentionMask()
	}
	batch := packBatch(ids, masks, p.maxTokens)

	shape := ort.NewShape(int64(len(texts)), int64(batch.seqLen))
	idT, err := ort.NewTensor(shape, batch.ids)
	if err != nil {
		return nil, fmt.Errorf("onnx embeddings: input_ids tensor: %w", err)
	}
	defer idT.Destroy()
	maskT, err := ort.NewTensor(shape, batch.mask)
	if err != nil {
		return nil, fmt.Errorf("onnx embeddings: attention_mask tensor: %w", err)
	}
	defer maskT.Destroy()
	typeT, err := ort.NewTensor(shape, batch.types)
	if err != nil {
		return nil, fmt.Errorf("onnx embeddings: token_type_ids tensor: %w", err)
	}
	defer typeT.Destroy()

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.session == nil {
		return nil, errors.New("onnx embeddings: provider closed")
	}
	outputs := []ort.Value{nil}
	if err := p.session.Run([]ort.Value{idT, maskT, typeT}, outputs); err != nil {
		return nil, fmt.Errorf("onnx embeddings: inference: %w", err)
	}
	defer outputs[0].Destroy()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("onnx embeddings: unexpected output type %T", outputs[0])
	}
	dims := hidden.GetShape()
	if len(dims) != 3 {
		return nil, fmt.Errorf("onnx embeddings: output shape %v, want [batch, seq, hidden]", dims)
	}
	return meanPool(hidden.GetData(), batch.mask, len(texts), int(dims[1]), int(dims[2])), nil
}

type packed struct {
	ids, mask, types []int64
	seqLen           int
}

// packBatch pads token ids and masks to the longest sequence, capped at
// maxTokens, in row-major order.
func packBatch(ids, masks [][]int, maxTokens int) packed {
	seq := 0
	for _, row := range ids {
		seq = max(seq, len(row))
	}
	if maxTokens > 0 {
		seq = min(seq, maxTokens)
	}
	seq = max(seq, 1)
	b := packed{
		ids:    make([]int64, len(ids)*seq),
		mask:   make([]int64, len(ids)*seq),
		types:  make([]int64, len(ids)*seq),
		seqLen: seq,
	}
	for i, row := range ids {
		for j := 0; j < seq && j < len(row); j++ {
			b.ids[i*seq+j] = int64(row[j])
			b.mask[i*seq+j] = int64(masks[i][j])
		}
	}
	return b
}

// meanPool averages token vectors under the mask and L2-normalizes the result.
func meanPool(data []float32, mask []int64, batch, seq, hidden int) [][]float32 {
	out := make([][]float32, batch)
	for b := range batch {
		acc := make([]float64, hidden)
		n := 0.0
		for s := range seq {
			if mask[b*seq+s] == 0 {
				continue
			}
			n++
			row := data[(b*seq+s)*hidden : (b*seq+s+1)*hidden]
			for h, v := range row {
				acc[h] += float64(v)
			}
		}
		var norm float64
		for h := range acc {
			if n > 0 {
				acc[h] /= n
			}
			norm += acc[h] * acc[h]
		}
		norm = math.Sqrt(norm)
		v := make([]float32, hidden)
		for h := range acc {
			if norm > 0 {
				v[h] = float32(acc[h] / norm)
			}
		}
		out[b] = v
	}
	return out
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.dimensions }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return "onnx:" + p.modelPath }

// Close releases the model session.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	err := p.session.Destroy()
	p.session = nil
	return err
}
