package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/umputun/nbtext/lib/bayes"
	"github.com/umputun/nbtext/lib/dataset"
)

// Source provides the training corpus, every reload reads it again
type Source interface {
	Documents(ctx context.Context) ([]bayes.Document, error)
	Vocabulary(ctx context.Context) (bayes.Vocabulary, error)
}

// DirSource reads training documents and vocabulary from dataset layout on disk
type DirSource struct {
	Params dataset.Params
}

// Documents reads all training documents from the train directory
func (s DirSource) Documents(_ context.Context) ([]bayes.Document, error) {
	_, train, _ := s.Params.Paths()
	docs, err := dataset.ReadDocuments(train)
	if err != nil {
		return nil, fmt.Errorf("failed to read training documents: %w", err)
	}
	return docs, nil
}

// Vocabulary reads the vocabulary file
func (s DirSource) Vocabulary(_ context.Context) (bayes.Vocabulary, error) {
	vocab, _, _ := s.Params.Paths()
	return dataset.ReadVocabularyFile(vocab)
}

// WatchPaths returns vocabulary file, train directory and all class directories.
// Class directories are watched separately, fsnotify is not recursive.
func (s DirSource) WatchPaths() ([]string, error) {
	vocab, train, _ := s.Params.Paths()
	dirs, err := dataset.ClassDirs(train)
	if err != nil {
		return nil, err
	}
	return append([]string{vocab, train}, dirs...), nil
}

// DocumentStore is a subset of documents storage used as a source
type DocumentStore interface {
	Snapshot(ctx context.Context) ([]bayes.Document, error)
}

// StoreSource reads training documents from the documents store and vocabulary from a file.
// Vocabulary is read once and kept, it can't change without restart.
type StoreSource struct {
	Store     DocumentStore
	VocabFile string

	mu     sync.Mutex
	vocab  bayes.Vocabulary
	loaded bool
}

// Documents returns a snapshot of the stored documents
func (s *StoreSource) Documents(ctx context.Context) ([]bayes.Document, error) {
	docs, err := s.Store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get documents snapshot: %w", err)
	}
	return docs, nil
}

// Vocabulary returns vocabulary loaded from VocabFile, failed reads are retried on the next call
func (s *StoreSource) Vocabulary(_ context.Context) (bayes.Vocabulary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.vocab, nil
	}
	vocab, err := dataset.ReadVocabularyFile(s.VocabFile)
	if err != nil {
		return bayes.Vocabulary{}, err
	}
	s.vocab, s.loaded = vocab, true
	return vocab, nil
}
