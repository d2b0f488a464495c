// Package dataset loads labeled text corpora laid out on disk as a vocabulary file plus
// train and test directories with a sub-directory per class:
//
//	<root>/imdb.vocab        whitespace separated vocabulary
//	<root>/train/<class>/*   training documents, one per file
//	<root>/test/<class>/*    test documents, one per file, optional
//
// Hidden files and directories (names starting with a dot) are skipped.
// Documents are returned in a stable order, sorted by class and file name.
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-pkgz/fileutils"
	"github.com/hashicorp/go-multierror"

	"github.com/umputun/nbtext/lib/bayes"
)

// defaults for Params
const (
	DefaultVocabFile = "imdb.vocab"
	DefaultTrainDir  = "train"
	DefaultTestDir   = "test"
)

// Params defines dataset location. Relative file names are resolved against Root.
type Params struct {
	Root      string
	VocabFile string
	TrainDir  string
	TestDir   string
}

// Dataset is a loaded corpus
type Dataset struct {
	Vocab   bayes.Vocabulary
	Classes []bayes.Class // classes of training documents, sorted
	Train   []bayes.Document
	Test    []bayes.Document
}

// Paths returns absolute (root based) locations of vocabulary file, train and test directories
func (p Params) Paths() (vocab, train, test string) {
	resolve := func(name, def string) string {
		if name == "" {
			name = def
		}
		if filepath.IsAbs(name) {
			return name
		}
		return filepath.Join(p.Root, name)
	}
	return resolve(p.VocabFile, DefaultVocabFile), resolve(p.TrainDir, DefaultTrainDir), resolve(p.TestDir, DefaultTestDir)
}

// Load reads vocabulary, training and test documents. Test directory is optional.
func Load(p Params) (*Dataset, error) {
	if !fileutils.IsDir(p.Root) {
		return nil, fmt.Errorf("dataset root %q is not a directory", p.Root)
	}
	vocabFile, trainDir, testDir := p.Paths()

	vocab, err := ReadVocabularyFile(vocabFile)
	if err != nil {
		return nil, err
	}

	train, err := ReadDocuments(trainDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read training documents: %w", err)
	}

	res := &Dataset{Vocab: vocab, Classes: Classes(train), Train: train}
	if fileutils.IsDir(testDir) {
		if res.Test, err = ReadDocuments(testDir); err != nil {
			return nil, fmt.Errorf("failed to read test documents: %w", err)
		}
	}
	log.Printf("[DEBUG] dataset %s loaded, vocabulary: %d, classes: %v, train: %d, test: %d",
		p.Root, vocab.Len(), res.Classes, len(res.Train), len(res.Test))
	return res, nil
}

// ReadVocabularyFile reads vocabulary from a file
func ReadVocabularyFile(path string) (bayes.Vocabulary, error) {
	if !fileutils.IsFile(path) {
		return bayes.Vocabulary{}, fmt.Errorf("vocabulary file %q not found", path)
	}
	fh, err := os.Open(path) //nolint gosec // path is controlled by the app
	if err != nil {
		return bayes.Vocabulary{}, fmt.Errorf("failed to open vocabulary %q: %w", path, err)
	}
	defer fh.Close()
	vocab, err := ReadVocabulary(fh)
	if err != nil {
		return bayes.Vocabulary{}, fmt.Errorf("failed to read vocabulary %q: %w", path, err)
	}
	return vocab, nil
}

// ReadVocabulary reads whitespace separated words. Empty vocabulary is an error.
func ReadVocabulary(r io.Reader) (bayes.Vocabulary, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(bufio.ScanWords)
	words := []string{}
	for scanner.Scan() {
		words = append(words, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return bayes.Vocabulary{}, err
	}
	vocab := bayes.NewVocabulary(words...)
	if vocab.Len() == 0 {
		return bayes.Vocabulary{}, errors.New("empty vocabulary")
	}
	return vocab, nil
}

// ReadDocuments reads documents from dir, every sub-directory is a class and every regular file in it
// is a document. All unreadable files are reported together.
func ReadDocuments(dir string) ([]bayes.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %q: %w", dir, err)
	}

	res := []bayes.Document{}
	errs := new(multierror.Error)
	for _, classEntry := range entries { // os.ReadDir returns entries sorted by name
		if !classEntry.IsDir() || hidden(classEntry.Name()) {
			continue
		}
		class := bayes.Class(classEntry.Name())
		classDir := filepath.Join(dir, classEntry.Name())
		files, err := os.ReadDir(classDir)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to read class directory %q: %w", classDir, err))
			continue
		}
		count := 0
		for _, f := range files {
			if !f.Type().IsRegular() || hidden(f.Name()) {
				continue
			}
			data, err := os.ReadFile(filepath.Join(classDir, f.Name())) //nolint gosec // path is controlled by the app
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("failed to read document: %w", err))
				continue
			}
			res = append(res, bayes.NewDocument(class, string(data)))
			count++
		}
		log.Printf("[DEBUG] read %d documents of class %q from %s", count, class, classDir)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return res, nil
}

// Classes returns sorted unique classes of documents
func Classes(docs []bayes.Document) []bayes.Class {
	seen := map[bayes.Class]struct{}{}
	res := []bayes.Class{}
	for _, d := range docs {
		if _, ok := seen[d.Class]; ok {
			continue
		}
		seen[d.Class] = struct{}{}
		res = append(res, d.Class)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// ClassDirs returns class sub-directories of dir, used to watch the corpus for changes
func ClassDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %q: %w", dir, err)
	}
	res := []string{}
	for _, e := range entries {
		if e.IsDir() && !hidden(e.Name()) {
			res = append(res, filepath.Join(dir, e.Name()))
		}
	}
	return res, nil
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
