package bayes

import (
	"cmp"
	"math"
	"slices"
)

// Classify returns all classes with the best score for the document, sorted by name.
// More than one class is returned on a tie. A model without classes returns an empty result.
func (m *Model) Classify(doc Document) []Class {
	if len(m.classes) == 0 {
		return []Class{}
	}
	return bestClasses(m.classes, m.Scores(doc))
}

// Scores returns the score of every class for the document: log prior plus log likelihoods
// of all in-vocabulary words. Words missing from the vocabulary are ignored.
func (m *Model) Scores(doc Document) map[Class]float64 {
	words := doc.Words()
	res := make(map[Class]float64, len(m.classes))
	terms := make([]float64, 0, len(words)+1)
	for _, c := range m.classes {
		byWord := m.logLikelihood[c]
		terms = append(terms[:0], m.logPrior[c])
		for _, w := range words {
			if !m.vocab.Contains(w) {
				continue
			}
			terms = append(terms, byWord[w])
		}
		res[c] = sumTerms(terms)
	}
	return res
}

// sumTerms adds terms from the smallest magnitude up. The order is total, so the same
// multiset of terms always gives the same bits regardless of how terms were collected.
func sumTerms(terms []float64) float64 {
	slices.SortFunc(terms, func(a, b float64) int {
		if r := cmp.Compare(math.Abs(a), math.Abs(b)); r != 0 {
			return r
		}
		return cmp.Compare(a, b)
	})
	var res float64
	for _, v := range terms {
		res += v
	}
	return res
}

// bestClasses returns every class with the max score, checks all of them
func bestClasses(classes []Class, scores map[Class]float64) []Class {
	maxScore := math.Inf(-1)
	for _, c := range classes {
		if s := scores[c]; s > maxScore {
			maxScore = s
		}
	}
	res := []Class{}
	for _, c := range classes {
		if scores[c] == maxScore {
			res = append(res, c)
		}
	}
	return res
}
