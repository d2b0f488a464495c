// Package service keeps the current classification model and rebuilds it from a Source.
// Models are never updated in place, every reload trains a fresh model and swaps it atomically,
// so readers always see a complete model.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/repeater"

	"github.com/umputun/nbtext/lib/bayes"
	"github.com/umputun/nbtext/lib/dataset"
)

// ErrNotReady returned when no model was trained yet
var ErrNotReady = errors.New("model is not trained yet")

// Config defines service parameters
type Config struct {
	Source     Source         // training data source, required
	Classes    []bayes.Class  // fixed class set, derived from documents if empty
	Division   bayes.Division // division mode for training
	Workers    int            // training workers, 0 for GOMAXPROCS
	Observer   bayes.Observer // training progress observer, optional
	Retries    int            // attempts to read training data
	RetryDelay time.Duration  // delay between attempts
}

// Service holds the current model
type Service struct {
	Config

	model    atomic.Pointer[bayes.Model]
	reloads  atomic.Int64
	mu       sync.Mutex // serializes reloads and hooks
	onReload []func(*bayes.Model)
}

// Prediction is a result of classification with scores of all classes, both made by the same model
type Prediction struct {
	Classes []bayes.Class           `json:"classes"`
	Scores  map[bayes.Class]float64 `json:"scores"`
}

// New makes a service without a model, call Reload to train one
func New(cfg Config) *Service {
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	return &Service{Config: cfg}
}

// OnReload registers a function called with every new model after it is swapped in
func (s *Service) OnReload(fn func(*bayes.Model)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReload = append(s.onReload, fn)
}

// Reload reads training data from the source, trains a new model and makes it current.
// On error the current model stays in place.
func (s *Service) Reload(ctx context.Context) (*bayes.Model, error) {
	if s.Source == nil {
		return nil, errors.New("no training source")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st := time.Now()
	var docs []bayes.Document
	var vocab bayes.Vocabulary
	err := repeater.NewDefault(s.Retries, s.RetryDelay).Do(ctx, func() error {
		var e error
		if vocab, e = s.Source.Vocabulary(ctx); e != nil {
			log.Printf("[DEBUG] can't read vocabulary: %v", e)
			return e
		}
		if docs, e = s.Source.Documents(ctx); e != nil {
			log.Printf("[DEBUG] can't read documents: %v", e)
			return e
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read training data: %w", err)
	}

	classes := s.Classes
	if len(classes) == 0 {
		classes = dataset.Classes(docs)
	}
	trainer := bayes.NewTrainer(bayes.WithDivision(s.Division), bayes.WithWorkers(s.Workers),
		bayes.WithObserver(s.Observer))
	m, err := trainer.Train(docs, classes, vocab)
	if err != nil {
		return nil, fmt.Errorf("failed to train model: %w", err)
	}

	s.model.Store(m)
	n := s.reloads.Add(1)
	for _, fn := range s.onReload {
		fn(m)
	}
	log.Printf("[INFO] model #%d trained in %v, documents: %d, classes: %v, vocabulary: %d",
		n, time.Since(st).Round(time.Millisecond), len(docs), classes, vocab.Len())
	return m, nil
}

// Model returns the current model, nil if not trained yet
func (s *Service) Model() *bayes.Model {
	return s.model.Load()
}

// Reloads returns the number of successful reloads
func (s *Service) Reloads() int64 {
	return s.reloads.Load()
}

// Classify returns the most probable classes for the text
func (s *Service) Classify(text string) ([]bayes.Class, error) {
	m := s.model.Load()
	if m == nil {
		return nil, ErrNotReady
	}
	return m.Classify(bayes.NewDocument("", text)), nil
}

// Predict returns the most probable classes for the text together with scores of all classes
func (s *Service) Predict(text string) (Prediction, error) {
	m := s.model.Load()
	if m == nil {
		return Prediction{}, ErrNotReady
	}
	doc := bayes.NewDocument("", text)
	return Prediction{Classes: m.Classify(doc), Scores: m.Scores(doc)}, nil
}

// Stats returns statistics of the current model
func (s *Service) Stats() (bayes.Stats, error) {
	m := s.model.Load()
	if m == nil {
		return bayes.Stats{}, ErrNotReady
	}
	return m.Stats(), nil
}
