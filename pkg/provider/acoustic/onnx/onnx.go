// Package onnx provides an acoustic pronunciation model backed by a
// scikit-learn random forest exported to ONNX and run with ONNX Runtime.
//
// Audio is reduced to 39 features (13 MFCC means, their mean deltas and mean
// delta-deltas) and fed to the model as a [1,39] float tensor named
// "float_input". Both exports of the classifier are understood: a float
// probability tensor of shape [1,2] (incorrect, correct) or an int64 label.
//
// The caller is expected to RMS-normalize audio to the level the model was
// trained on before scoring. The ONNX Runtime shared library must be loadable.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/readalong/internal/ortenv"
	"github.com/MrWong99/readalong/pkg/audio"
	"github.com/MrWong99/readalong/pkg/provider/acoustic"
)

const (
	inputName = "float_input"

	// labelConfidence is reported for models that only emit a label.
	labelConfidence = 0.8
)

var _ acoustic.Provider = (*Provider)(nil)

// Provider implements acoustic.Provider.
type Provider struct {
	modelPath string
	libPath   string
	output    string

	extractor *Extractor

	mu      sync.RWMutex
	session *ort.DynamicAdvancedSession
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithSharedLibrary sets the path of the ONNX Runtime shared library.
func WithSharedLibrary(path string) Option {
	return func(p *Provider) { p.libPath = path }
}

// WithOutputName selects the model output to read. By default the first
// tensor output whose name mentions "prob" is used, falling back to the first
// tensor output.
func WithOutputName(name string) Option {
	return func(p *Provider) { p.output = name }
}

// New loads the model at modelPath. The caller must call Close when the
// provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("onnx: modelPath must not be empty")
	}
	p := &Provider{modelPath: modelPath, extractor: NewExtractor(audio.SampleRate)}
	for _, o := range opts {
		o(p)
	}
	if err := ortenv.Init(p.libPath); err != nil {
		return nil, fmt.Errorf("onnx: %w", err)
	}

	if p.output == "" {
		_, outputs, err := ort.GetInputOutputInfo(modelPath)
		if err != nil {
			return nil, fmt.Errorf("onnx: inspect model %q: %w", modelPath, err)
		}
		p.output = pickOutput(outputs)
		if p.output == "" {
			return nil, fmt.Errorf("onnx: model %q has no tensor output", modelPath)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{inputName}, []string{p.output}, nil)
	if err != nil {
		return nil, fmt.Errorf("onnx: load model %q: %w", modelPath, err)
	}
	p.session = session
	return p, nil
}

func pickOutput(outputs []ort.InputOutputInfo) string {
	first := ""
	for _, o := range outputs {
		if o.OrtValueType != ort.ONNXTypeTensor {
			continue
		}
		if strings.Contains(strings.ToLower(o.Name), "prob") {
			return o.Name
		}
		if first == "" {
			first = o.Name
		}
	}
	return first
}

// ModelID implements acoustic.Provider.
func (p *Provider) ModelID() string { return "onnx:" + p.modelPath }

// Score implements acoustic.Provider. Empty audio is judged incorrect with
// full confidence.
func (p *Provider) Score(ctx context.Context, samples []int16, expected string) (acoustic.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return acoustic.Verdict{}, err
	}
	if len(samples) == 0 {
		return acoustic.Verdict{Correct: false, Confidence: 1}, nil
	}

	features := Features(p.extractor.MFCC(samples))
	input, err := ort.NewTensor(ort.NewShape(1, FeatureCount), features)
	if err != nil {
		return acoustic.Verdict{}, fmt.Errorf("onnx: create input tensor: %w", err)
	}
	defer input.Destroy()

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.session == nil {
		return acoustic.Verdict{}, acoustic.ErrModelUnavailable
	}
	outputs := []ort.Value{nil}
	if err := p.session.Run([]ort.Value{input}, outputs); err != nil {
		return acoustic.Verdict{}, fmt.Errorf("onnx: score %q: %w", expected, err)
	}
	defer outputs[0].Destroy()

	switch out := outputs[0].(type) {
	case *ort.Tensor[float32]:
		return fromProbabilities(out.GetData())
	case *ort.Tensor[int64]:
		return fromLabel(out.GetData())
	default:
		return acoustic.Verdict{}, fmt.Errorf("onnx: unsupported output type %T", outputs[0])
	}
}

// fromProbabilities reads (incorrect, correct) class probabilities.
func fromProbabilities(probs []float32) (acoustic.Verdict, error) {
	if len(probs) < 2 {
		return acoustic.Verdict{}, fmt.Errorf("onnx: probability output has %d values, want 2", len(probs))
	}
	incorrect, correct := float64(probs[0]), float64(probs[1])
	if sum := incorrect + correct; sum > 0 {
		incorrect /= sum
		correct /= sum
	}
	return acoustic.Verdict{Correct: correct > incorrect, Confidence: max(correct, incorrect)}, nil
}

func fromLabel(labels []int64) (acoustic.Verdict, error) {
	if len(labels) == 0 {
		return acoustic.Verdict{}, errors.New("onnx: empty label output")
	}
	return acoustic.Verdict{Correct: labels[0] == 1, Confidence: labelConfidence}, nil
}

// Close releases the model session. Later Score calls report the model
// unavailable.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	err := p.session.Destroy()
	p.session = nil
	if err != nil {
		return fmt.Errorf("onnx: destroy session: %w", err)
	}
	return nil
}
