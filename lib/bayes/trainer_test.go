package bayes

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pos Class = "pos"
	neg Class = "neg"
)

func goodBadModel(t *testing.T, opts ...Option) *Model {
	t.Helper()
	m, err := Train([]Document{
		NewDocument(pos, "good good"),
		NewDocument(neg, "bad bad"),
	}, []Class{pos, neg}, NewVocabulary("good", "bad"), opts...)
	require.NoError(t, err)
	return m
}

func TestTrain_GoodBad(t *testing.T) {
	m := goodBadModel(t)

	for _, c := range []Class{pos, neg} {
		prior, ok := m.LogPrior(c)
		require.True(t, ok)
		assert.Equal(t, 1.0, prior, "log2(2/1)")
	}

	tests := []struct {
		class Class
		word  string
		want  float64
	}{
		{pos, "good", math.Log2(3.0 / 4.0)},
		{pos, "bad", -2},
		{neg, "good", -2},
		{neg, "bad", math.Log2(3.0 / 4.0)},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s-%s", tt.class, tt.word), func(t *testing.T) {
			v, ok := m.LogLikelihood(tt.class, tt.word)
			require.True(t, ok)
			assert.Equal(t, tt.want, v)
		})
	}
	v, _ := m.LogLikelihood(pos, "good")
	assert.InDelta(t, -0.4150374992788438, v, 1e-15)
}

func TestTrain_PriorsFollowDocumentCounts(t *testing.T) {
	docs := []Document{
		NewDocument(pos, "good"), NewDocument(pos, "good"), NewDocument(pos, "fine"),
		NewDocument(neg, "bad"),
	}
	vocab := NewVocabulary("good", "bad", "fine")

	tests := []struct {
		name     string
		division Division
		pos, neg float64
	}{
		{"real", DivisionReal, math.Log2(4.0 / 3.0), 2},
		{"integer", DivisionInteger, 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Train(docs, []Class{pos, neg}, vocab, WithDivision(tt.division))
			require.NoError(t, err)
			p, _ := m.LogPrior(pos)
			n, _ := m.LogPrior(neg)
			assert.Equal(t, tt.pos, p)
			assert.Equal(t, tt.neg, n)
			assert.Equal(t, tt.division, m.Division())
		})
	}
}

func TestTrain_Density(t *testing.T) {
	vocab := NewVocabulary("tall", "handsome", "rich", "bald", "poor", "ugly", "never-seen")
	m, err := Train([]Document{
		NewDocument("good", "tall handsome rich"),
		NewDocument("bad", "bald poor ugly"),
		NewDocument("meh", "something else entirely"),
	}, []Class{"good", "bad", "meh"}, vocab)
	require.NoError(t, err)

	for _, c := range m.Classes() {
		for _, w := range vocab.Words() {
			_, ok := m.LogLikelihood(c, w)
			assert.True(t, ok, "missing likelihood for %s/%s", c, w)
		}
	}
	st := m.Stats()
	assert.Equal(t, 3*7, st.Likelihoods)
	assert.Equal(t, 3, st.Classes)
	assert.Equal(t, 7, st.Vocabulary)

	_, ok := m.LogLikelihood("good", "something")
	assert.False(t, ok, "out of vocabulary word has no entry")
	_, ok = m.LogLikelihood("unknown", "tall")
	assert.False(t, ok, "unknown class has no entry")
}

func TestTrain_SmoothingFloor(t *testing.T) {
	vocab := NewVocabulary("a", "b", "c", "d", "zzz")
	m, err := Train([]Document{
		NewDocument("x", "a a a b"),
		NewDocument("y", "c d d"),
		NewDocument("y", "not in vocab at all"),
	}, []Class{"x", "y"}, vocab)
	require.NoError(t, err)

	for _, c := range m.Classes() {
		sum := 0.0
		for _, w := range vocab.Words() {
			v, ok := m.LogLikelihood(c, w)
			require.True(t, ok)
			assert.False(t, math.IsInf(v, 0), "likelihood %s/%s is infinite", c, w)
			assert.Less(t, v, 0.0)
			sum += math.Exp2(v)
		}
		assert.InDelta(t, 1.0, sum, 1e-12, "likelihoods of class %s should form a distribution", c)
	}

	// 4 in-vocabulary words in x, smoothed total is 4+5
	v, _ := m.LogLikelihood("x", "a")
	assert.Equal(t, math.Log2(4.0/9.0), v)
	v, _ = m.LogLikelihood("x", "zzz")
	assert.Equal(t, math.Log2(1.0/9.0), v)
	// 3 in-vocabulary words in y, out of vocabulary document doesn't count
	v, _ = m.LogLikelihood("y", "d")
	assert.Equal(t, math.Log2(3.0/8.0), v)
}

func TestTrain_Deterministic(t *testing.T) {
	docs := []Document{
		NewDocument("a", "one two three two"),
		NewDocument("b", "three four four five"),
		NewDocument("c", "five one one"),
		NewDocument("a", "two two two"),
	}
	vocab := NewVocabulary("one", "two", "three", "four", "five", "six")
	classes := []Class{"c", "b", "a"}

	m1, err := Train(docs, classes, vocab, WithWorkers(1))
	require.NoError(t, err)
	m2, err := Train(docs, classes, vocab, WithWorkers(8))
	require.NoError(t, err)

	assert.Equal(t, m1.logPrior, m2.logPrior)
	assert.Equal(t, m1.logLikelihood, m2.logLikelihood)
	assert.Equal(t, m1.Stats(), m2.Stats())
	assert.Equal(t, []Class{"a", "b", "c"}, m1.Classes())
}

func TestTrain_DocumentPartition(t *testing.T) {
	docs := []Document{
		NewDocument("a", "x"), NewDocument("b", "y"), NewDocument("a", "z"),
		NewDocument("c", "x y"), NewDocument("a", ""),
	}
	m, err := Train(docs, []Class{"a", "b", "c", "a"}, NewVocabulary("x", "y", "z"))
	require.NoError(t, err)

	st := m.Stats()
	assert.Equal(t, len(docs), st.Documents)
	assert.Equal(t, map[Class]int{"a": 3, "b": 1, "c": 1}, st.DocsByClass)
	sum := 0
	for _, n := range st.DocsByClass {
		sum += n
	}
	assert.Equal(t, st.Documents, sum)
	assert.Len(t, m.Classes(), 3, "duplicate classes collapsed")
}

func TestTrain_Errors(t *testing.T) {
	vocab := NewVocabulary("good", "bad")
	tests := []struct {
		name    string
		docs    []Document
		classes []Class
		vocab   Vocabulary
		want    []error
	}{
		{name: "no documents", classes: []Class{pos}, vocab: vocab, want: []error{ErrNoDocuments}},
		{name: "empty vocabulary", docs: []Document{NewDocument(pos, "good")}, classes: []Class{pos},
			vocab: NewVocabulary(), want: []error{ErrEmptyVocabulary}},
		{name: "unknown class", docs: []Document{NewDocument(pos, "good"), NewDocument("other", "bad")},
			classes: []Class{pos}, vocab: vocab, want: []error{ErrUnknownClass}},
		{name: "no classes at all", docs: []Document{NewDocument(pos, "good")}, vocab: vocab,
			want: []error{ErrUnknownClass}},
		{name: "degenerate class", docs: []Document{NewDocument(pos, "good")}, classes: []Class{pos, neg},
			vocab: vocab, want: []error{ErrDegenerateClass}},
		{name: "everything wrong", docs: []Document{NewDocument("other", "good")}, classes: []Class{pos},
			vocab: NewVocabulary(), want: []error{ErrEmptyVocabulary, ErrUnknownClass, ErrDegenerateClass}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Train(tt.docs, tt.classes, tt.vocab)
			require.Error(t, err)
			assert.Nil(t, m)
			for _, want := range tt.want {
				assert.True(t, errors.Is(err, want), "expected %v in %v", want, err)
			}
			t.Log(err)
		})
	}

	t.Run("degenerate class named in error", func(t *testing.T) {
		_, err := Train([]Document{NewDocument(pos, "good")}, []Class{pos, neg, "empty"}, vocab)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"neg"`)
		assert.Contains(t, err.Error(), `"empty"`)
	})
}

func TestTrain_IntegerDivision(t *testing.T) {
	m := goodBadModel(t, WithDivision(DivisionInteger))

	for _, c := range []Class{pos, neg} {
		prior, _ := m.LogPrior(c)
		assert.Equal(t, 1.0, prior)
		for _, w := range []string{"good", "bad"} {
			v, _ := m.LogLikelihood(c, w)
			assert.True(t, math.IsInf(v, -1), "3/4 and 1/4 are truncated to zero, %s/%s=%v", c, w, v)
		}
	}

	// single word vocabulary, count+1 equals the smoothed total
	single, err := Train([]Document{NewDocument(pos, "w w"), NewDocument(neg, "x")}, []Class{pos, neg},
		NewVocabulary("w"), WithDivision(DivisionInteger))
	require.NoError(t, err)
	v, _ := single.LogLikelihood(pos, "w")
	assert.Equal(t, 0.0, v)
	v, _ = single.LogLikelihood(neg, "w")
	assert.Equal(t, 0.0, v)
}

type recordingObserver struct {
	mu        sync.Mutex
	started   map[Class]int
	words     map[Class]int
	completed map[Class]ClassStats
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{started: map[Class]int{}, words: map[Class]int{}, completed: map[Class]ClassStats{}}
}

func (r *recordingObserver) ClassStarted(c Class, docs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started[c] = docs
}

func (r *recordingObserver) WordProcessed(c Class, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.words[c]++
}

func (r *recordingObserver) ClassCompleted(c Class, st ClassStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed[c] = st
}

func TestTrain_Observer(t *testing.T) {
	obs := newRecordingObserver()
	withObserver := goodBadModel(t, WithObserver(obs))
	plain := goodBadModel(t)

	assert.Equal(t, map[Class]int{pos: 1, neg: 1}, obs.started)
	assert.Equal(t, map[Class]int{pos: 2, neg: 2}, obs.words)
	assert.Equal(t, ClassStats{Documents: 1, Words: 2, WordsTotal: 4, LogPrior: 1}, obs.completed[pos])
	assert.Equal(t, plain.logLikelihood, withObserver.logLikelihood, "observer doesn't change results")

	t.Run("nil observer", func(t *testing.T) {
		m := goodBadModel(t, WithObserver(nil))
		assert.Equal(t, plain.logPrior, m.logPrior)
	})
}

func TestLogObserver(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags)
	}()

	obs := NewLogObserver(3)
	_, err := Train([]Document{NewDocument(pos, "a b c")}, []Class{pos}, NewVocabulary("a", "b", "c", "d", "e", "f"),
		WithObserver(obs))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4, buf.String())
	assert.Equal(t, `[DEBUG] training class "pos", 1 documents`, lines[0])
	assert.Contains(t, lines[1], "processed 3 words")
	assert.Contains(t, lines[2], "processed 6 words")
	assert.Contains(t, lines[3], `trained class "pos", docs: 1, words: 3, smoothed total: 9`)
}

func TestParseDivision(t *testing.T) {
	tests := []struct {
		in      string
		want    Division
		wantErr bool
	}{
		{"", DivisionReal, false},
		{"real", DivisionReal, false},
		{" Integer ", DivisionInteger, false},
		{"int", DivisionInteger, false},
		{"float", DivisionReal, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseDivision(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
		})
	}
	assert.Equal(t, "real", DivisionReal.String())
	assert.Equal(t, "integer", DivisionInteger.String())
	assert.Equal(t, "division(7)", Division(7).String())
}
