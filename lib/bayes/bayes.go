// Package bayes implements a multinomial Naive Bayes text classifier over a fixed vocabulary.
//
// The package has two parts. The Trainer builds an immutable Model from labeled documents,
// a set of classes and a Vocabulary: for every class it computes the log2 prior and, for every
// vocabulary word, the Laplace (add-one) smoothed log2 likelihood. Classes are trained
// independently and in parallel, results are merged into the model after all workers are done.
//
// The Model classifies documents. Classify returns every class sharing the best score, so a caller
// has to be ready to get more than one label back. Words missing from the vocabulary are ignored.
// A Model is never modified after Train returns and can be used by any number of goroutines.
//
// Division semantics are configurable with WithDivision. DivisionReal is the default and the only
// statistically meaningful mode; DivisionInteger reproduces floored integer division before taking
// the logarithm and exists for compatibility only, it produces -Inf likelihoods for most words.
package bayes

import (
	"sort"
	"strings"
)

// Class is a label naming one of the document categories
type Class string

// Document is a piece of text with a class. Class is ignored by inference.
type Document struct {
	Class Class
	Text  string
}

// NewDocument makes a new Document
func NewDocument(class Class, text string) Document {
	return Document{Class: class, Text: text}
}

// Words returns whitespace separated tokens of the document text.
// Tokens are derived on every call and not cached.
func (d Document) Words() []string {
	return strings.Fields(d.Text)
}

// Vocabulary is an immutable set of known words, defines the feature space of a model.
// Membership is an exact string match.
type Vocabulary struct {
	words map[string]struct{}
}

// NewVocabulary makes a Vocabulary from given words, duplicates and empty strings are ignored
func NewVocabulary(words ...string) Vocabulary {
	res := Vocabulary{words: make(map[string]struct{}, len(words))}
	for _, w := range words {
		if w == "" {
			continue
		}
		res.words[w] = struct{}{}
	}
	return res
}

// Contains checks if the word is a part of vocabulary
func (v Vocabulary) Contains(word string) bool {
	_, ok := v.words[word]
	return ok
}

// Len returns the number of words
func (v Vocabulary) Len() int {
	return len(v.words)
}

// Words returns a sorted copy of all vocabulary words
func (v Vocabulary) Words() []string {
	res := make([]string, 0, len(v.words))
	for w := range v.words {
		res = append(res, w)
	}
	sort.Strings(res)
	return res
}

// uniqueClasses returns sorted classes without duplicates
func uniqueClasses(classes []Class) []Class {
	seen := make(map[Class]struct{}, len(classes))
	res := make([]Class, 0, len(classes))
	for _, c := range classes {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}
