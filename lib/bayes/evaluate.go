package bayes

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Evaluation is the result of classifying labeled documents
type Evaluation struct {
	Total    int     `json:"total"`
	Correct  int     `json:"correct"` // single predicted class equal to the label
	Tied     int     `json:"tied"`    // more than one class predicted
	Wrong    int     `json:"wrong"`
	Accuracy float64 `json:"accuracy"`

	// Confusion counts single-class predictions, actual class -> predicted class -> count
	Confusion map[Class]map[Class]int `json:"confusion"`
}

// Evaluate classifies labeled documents with up to workers goroutines and compares predictions
// with document classes. GOMAXPROCS workers are used if workers <= 0.
func Evaluate(m *Model, docs []Document, workers int) Evaluation {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	predictions := make([][]Class, len(docs))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, d := range docs {
		g.Go(func() error {
			predictions[i] = m.Classify(d)
			return nil
		})
	}
	_ = g.Wait()

	res := Evaluation{Total: len(docs), Confusion: map[Class]map[Class]int{}}
	for i, pred := range predictions {
		actual := docs[i].Class
		switch {
		case len(pred) > 1:
			res.Tied++
			continue
		case len(pred) == 1 && pred[0] == actual:
			res.Correct++
		default:
			res.Wrong++
		}
		if len(pred) == 0 {
			continue
		}
		if res.Confusion[actual] == nil {
			res.Confusion[actual] = map[Class]int{}
		}
		res.Confusion[actual][pred[0]]++
	}
	if res.Total > 0 {
		res.Accuracy = float64(res.Correct) / float64(res.Total)
	}
	return res
}
