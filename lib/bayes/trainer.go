package bayes

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// errors returned by Train, always wrapped and possibly aggregated. Use errors.Is to check.
var (
	ErrNoDocuments     = errors.New("no training documents")
	ErrEmptyVocabulary = errors.New("empty vocabulary")
	ErrUnknownClass    = errors.New("document class is not in the class set")
	ErrDegenerateClass = errors.New("class has no training documents")
)

// Trainer builds models from labeled documents
type Trainer struct {
	division Division
	workers  int
	observer Observer
}

// Option configures Trainer
type Option func(*Trainer)

// WithDivision sets division mode, DivisionReal by default
func WithDivision(d Division) Option {
	return func(t *Trainer) { t.division = d }
}

// WithWorkers sets the max number of classes trained concurrently, GOMAXPROCS if n <= 0
func WithWorkers(n int) Option {
	return func(t *Trainer) { t.workers = n }
}

// WithObserver sets training progress observer, nil disables reporting
func WithObserver(o Observer) Option {
	return func(t *Trainer) { t.observer = o }
}

// NewTrainer makes a Trainer with given options
func NewTrainer(opts ...Option) *Trainer {
	res := &Trainer{division: DivisionReal, observer: NopObserver{}}
	for _, opt := range opts {
		opt(res)
	}
	if res.workers <= 0 {
		res.workers = runtime.GOMAXPROCS(0)
	}
	if res.observer == nil {
		res.observer = NopObserver{}
	}
	return res
}

// Train builds a model with default trainer and given options
func Train(docs []Document, classes []Class, vocab Vocabulary, opts ...Option) (*Model, error) {
	return NewTrainer(opts...).Train(docs, classes, vocab)
}

// classResult is the outcome of training a single class
type classResult struct {
	logPrior      float64
	logLikelihood map[string]float64
	stats         ClassStats
}

// Train builds a new model. Every class of the set must have at least one document,
// and every document must belong to a class of the set. Inputs are validated before
// training starts, all detected problems are reported together.
func (t *Trainer) Train(docs []Document, classes []Class, vocab Vocabulary) (*Model, error) {
	classes = uniqueClasses(classes)
	byClass, err := t.partition(docs, classes, vocab)
	if err != nil {
		return nil, fmt.Errorf("invalid training input: %w", err)
	}

	words := vocab.Words()
	results := make([]classResult, len(classes)) // each worker owns its own slot
	var g errgroup.Group
	g.SetLimit(t.workers)
	for i, c := range classes {
		g.Go(func() error {
			results[i] = t.trainClass(c, byClass[c], len(docs), vocab, words)
			return nil
		})
	}
	_ = g.Wait() // class training can't fail once inputs are validated

	res := &Model{
		vocab:         vocab,
		classes:       classes,
		logPrior:      make(map[Class]float64, len(classes)),
		logLikelihood: make(map[Class]map[string]float64, len(classes)),
		docsByClass:   make(map[Class]int, len(classes)),
		documents:     len(docs),
		division:      t.division,
	}
	for i, c := range classes {
		res.logPrior[c] = results[i].logPrior
		res.logLikelihood[c] = results[i].logLikelihood
		res.docsByClass[c] = results[i].stats.Documents
	}
	return res, nil
}

// partition validates inputs and groups documents by class
func (t *Trainer) partition(docs []Document, classes []Class, vocab Vocabulary) (map[Class][]Document, error) {
	errs := new(multierror.Error)
	if len(docs) == 0 {
		errs = multierror.Append(errs, ErrNoDocuments)
	}
	if vocab.Len() == 0 {
		errs = multierror.Append(errs, ErrEmptyVocabulary)
	}

	byClass := make(map[Class][]Document, len(classes))
	for _, c := range classes {
		byClass[c] = nil
	}
	unknown := map[Class]int{}
	for _, d := range docs {
		if _, ok := byClass[d.Class]; !ok {
			unknown[d.Class]++
			continue
		}
		byClass[d.Class] = append(byClass[d.Class], d)
	}

	unknownClasses := make([]Class, 0, len(unknown))
	for c := range unknown {
		unknownClasses = append(unknownClasses, c)
	}
	sort.Slice(unknownClasses, func(i, j int) bool { return unknownClasses[i] < unknownClasses[j] })
	for _, c := range unknownClasses {
		errs = multierror.Append(errs, fmt.Errorf("%w: %q, %d documents", ErrUnknownClass, c, unknown[c]))
	}

	if len(docs) > 0 {
		for _, c := range classes {
			if len(byClass[c]) == 0 {
				errs = multierror.Append(errs, fmt.Errorf("%w: %q", ErrDegenerateClass, c))
			}
		}
	}
	return byClass, errs.ErrorOrNil()
}

// trainClass computes prior and likelihoods of a single class. It reads shared inputs only.
func (t *Trainer) trainClass(c Class, docs []Document, nDocs int, vocab Vocabulary, words []string) classResult {
	t.observer.ClassStarted(c, len(docs))

	counts := make(map[string]int)
	inVocab := 0
	for _, d := range docs {
		for _, w := range d.Words() {
			if !vocab.Contains(w) {
				continue
			}
			counts[w]++
			inVocab++
		}
	}
	wordsTotal := inVocab + len(words) // sum of count+1 over all vocabulary words

	res := classResult{
		logPrior:      t.logRatio(nDocs, len(docs)),
		logLikelihood: make(map[string]float64, len(words)),
	}
	for _, w := range words {
		res.logLikelihood[w] = t.logRatio(counts[w]+1, wordsTotal)
		t.observer.WordProcessed(c, w)
	}

	res.stats = ClassStats{Documents: len(docs), Words: inVocab, WordsTotal: wordsTotal, LogPrior: res.logPrior}
	t.observer.ClassCompleted(c, res.stats)
	return res
}

// logRatio returns log2(num/den) with trainer's division mode, den is never zero here
func (t *Trainer) logRatio(num, den int) float64 {
	if t.division == DivisionInteger {
		return math.Log2(float64(num / den))
	}
	return math.Log2(float64(num) / float64(den))
}
