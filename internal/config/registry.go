package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/readalong/pkg/provider/acoustic"
	"github.com/MrWong99/readalong/pkg/provider/classifier"
	"github.com/MrWong99/readalong/pkg/provider/comprehension"
	"github.com/MrWong99/readalong/pkg/provider/embeddings"
	"github.com/MrWong99/readalong/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories maps provider names to constructors of one provider kind.
type factories[T any] struct {
	kind string
	m    map[string]func(ProviderEntry) (T, error)
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]func(ProviderEntry) (T, error))}
}

func (f factories[T]) create(entry ProviderEntry) (func(ProviderEntry) (T, error), error) {
	factory, ok := f.m[entry.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return factory, nil
}

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	stt           factories[stt.Provider]
	acoustic      factories[acoustic.Provider]
	comprehension factories[comprehension.Provider]
	embeddings    factories[embeddings.Provider]
	classifier    factories[classifier.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:           newFactories[stt.Provider]("stt"),
		acoustic:      newFactories[acoustic.Provider]("acoustic"),
		comprehension: newFactories[comprehension.Provider]("comprehension"),
		embeddings:    newFactories[embeddings.Provider]("embeddings"),
		classifier:    newFactories[classifier.Provider]("classifier"),
	}
}

// RegisterSTT registers a transcription provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = factory
}

// RegisterAcoustic registers an acoustic model factory under name.
func (r *Registry) RegisterAcoustic(name string, factory func(ProviderEntry) (acoustic.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acoustic.m[name] = factory
}

// RegisterComprehension registers a comprehension scorer factory under name.
func (r *Registry) RegisterComprehension(name string, factory func(ProviderEntry) (comprehension.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.comprehension.m[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings.m[name] = factory
}

// RegisterClassifier registers a reading-level classifier factory under name.
func (r *Registry) RegisterClassifier(name string, factory func(ProviderEntry) (classifier.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifier.m[name] = factory
}

// CreateSTT instantiates a transcription provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, err := r.stt.create(entry)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(entry)
}

// CreateAcoustic instantiates an acoustic model.
func (r *Registry) CreateAcoustic(entry ProviderEntry) (acoustic.Provider, error) {
	r.mu.RLock()
	factory, err := r.acoustic.create(entry)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(entry)
}

// CreateComprehension instantiates a comprehension scorer.
func (r *Registry) CreateComprehension(entry ProviderEntry) (comprehension.Provider, error) {
	r.mu.RLock()
	factory, err := r.comprehension.create(entry)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(entry)
}

// CreateEmbeddings instantiates an embeddings provider.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, err := r.embeddings.create(entry)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(entry)
}

// CreateClassifier instantiates a reading-level classifier.
func (r *Registry) CreateClassifier(entry ProviderEntry) (classifier.Provider, error) {
	r.mu.RLock()
	factory, err := r.classifier.create(entry)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(entry)
}
