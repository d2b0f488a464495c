package bayes

import (
	"log"
	"sync/atomic"
)

// Observer receives training progress events. Classes are trained in parallel,
// so implementations must be safe for concurrent use.
type Observer interface {
	ClassStarted(class Class, docs int)
	WordProcessed(class Class, word string)
	ClassCompleted(class Class, stats ClassStats)
}

// ClassStats summarizes training of a single class
type ClassStats struct {
	Documents  int     // number of training documents of the class
	Words      int     // in-vocabulary word occurrences
	WordsTotal int     // smoothed total, sum of count+1 over the vocabulary
	LogPrior   float64 // log2 prior of the class
}

// NopObserver ignores all events
type NopObserver struct{}

// ClassStarted does nothing
func (NopObserver) ClassStarted(Class, int) {}

// WordProcessed does nothing
func (NopObserver) WordProcessed(Class, string) {}

// ClassCompleted does nothing
func (NopObserver) ClassCompleted(Class, ClassStats) {}

// LogObserver reports training progress to the standard logger with [DEBUG] level.
// Word events are reported once per Every processed words, all of them if Every <= 1.
type LogObserver struct {
	Every int64

	words atomic.Int64
}

// NewLogObserver makes LogObserver reporting word progress every n words
func NewLogObserver(every int64) *LogObserver {
	return &LogObserver{Every: every}
}

// ClassStarted logs the beginning of class training
func (o *LogObserver) ClassStarted(class Class, docs int) {
	log.Printf("[DEBUG] training class %q, %d documents", class, docs)
}

// WordProcessed logs every Nth processed word
func (o *LogObserver) WordProcessed(class Class, word string) {
	n := o.words.Add(1)
	if o.Every > 1 && n%o.Every != 0 {
		return
	}
	log.Printf("[DEBUG] class %q, processed %d words, last %q", class, n, word)
}

// ClassCompleted logs class training summary
func (o *LogObserver) ClassCompleted(class Class, st ClassStats) {
	log.Printf("[DEBUG] trained class %q, docs: %d, words: %d, smoothed total: %d, log prior: %.4f",
		class, st.Documents, st.Words, st.WordsTotal, st.LogPrior)
}
