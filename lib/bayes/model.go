package bayes

import (
	"fmt"
	"strings"
)

// Division defines how counts are divided before taking a logarithm
type Division int

// enum of supported division modes
const (
	DivisionReal    Division = iota // floating point division
	DivisionInteger                 // floored integer division, compatibility only
)

// String returns the name of division mode
func (d Division) String() string {
	switch d {
	case DivisionReal:
		return "real"
	case DivisionInteger:
		return "integer"
	default:
		return fmt.Sprintf("division(%d)", int(d))
	}
}

// ParseDivision converts a division mode name to Division
func ParseDivision(s string) (Division, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "real":
		return DivisionReal, nil
	case "integer", "int":
		return DivisionInteger, nil
	default:
		return DivisionReal, fmt.Errorf("unknown division mode %q", s)
	}
}

// Model is a trained Naive Bayes model. It is read-only and safe for concurrent use.
// Zero value is a model without classes, it classifies everything to an empty result.
type Model struct {
	vocab         Vocabulary
	classes       []Class // sorted
	logPrior      map[Class]float64
	logLikelihood map[Class]map[string]float64
	docsByClass   map[Class]int
	documents     int
	division      Division
}

// Stats describes a trained model
type Stats struct {
	Documents   int           `json:"documents"`
	DocsByClass map[Class]int `json:"docs_by_class"`
	Classes     int           `json:"classes"`
	Vocabulary  int           `json:"vocabulary"`
	Likelihoods int           `json:"likelihoods"`
	Division    string        `json:"division"`
}

// Classes returns a sorted copy of model classes
func (m *Model) Classes() []Class {
	res := make([]Class, len(m.classes))
	copy(res, m.classes)
	return res
}

// Vocabulary returns the vocabulary model was trained with
func (m *Model) Vocabulary() Vocabulary {
	return m.vocab
}

// Division returns the division mode model was trained with
func (m *Model) Division() Division {
	return m.division
}

// LogPrior returns log2 prior of the class, false if the class is unknown
func (m *Model) LogPrior(c Class) (float64, bool) {
	v, ok := m.logPrior[c]
	return v, ok
}

// LogLikelihood returns log2 likelihood of the word for the class,
// false if either the class or the word is unknown
func (m *Model) LogLikelihood(c Class, word string) (float64, bool) {
	byWord, ok := m.logLikelihood[c]
	if !ok {
		return 0, false
	}
	v, ok := byWord[word]
	return v, ok
}

// Stats returns model statistics
func (m *Model) Stats() Stats {
	res := Stats{
		Documents:   m.documents,
		DocsByClass: make(map[Class]int, len(m.docsByClass)),
		Classes:     len(m.classes),
		Vocabulary:  m.vocab.Len(),
		Division:    m.division.String(),
	}
	for c, n := range m.docsByClass {
		res.DocsByClass[c] = n
	}
	for _, byWord := range m.logLikelihood {
		res.Likelihoods += len(byWord)
	}
	return res
}
