// Package server provides HTTP API to classify texts, inspect and retrain the model,
// and add training documents to the store.
package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	cache "github.com/go-pkgz/expirable-cache/v3"
	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/nbtext/app/service"
	"github.com/umputun/nbtext/app/storage"
	"github.com/umputun/nbtext/lib/bayes"
)

// Server is a web API server
type Server struct {
	Config
	cache cache.Cache[string, service.Prediction]
	logMu sync.Mutex
}

// Config defines server parameters
type Config struct {
	Version       string        // version to show in app info headers
	ListenAddr    string        // listen address
	Classifier    Classifier    // model service
	Store         DocumentStore // training documents store, optional
	Classes       []bayes.Class // fixed class set, documents of other classes are rejected if set
	AuthPasswd    string        // basic auth password for user "nbtext", no auth if empty
	RateLimit     float64       // max requests per second per client, 0 for default
	CacheSize     int           // max cached predictions, 0 disables cache
	CacheTTL      time.Duration // ttl of cached predictions
	PredictionLog io.Writer     // json lines log of served predictions, optional
}

// Classifier is a model service
type Classifier interface {
	Predict(text string) (service.Prediction, error)
	Stats() (bayes.Stats, error)
	Reload(ctx context.Context) (*bayes.Model, error)
}

// DocumentStore is a training documents store
type DocumentStore interface {
	Add(ctx context.Context, class bayes.Class, text string) (int64, error)
	Stats(ctx context.Context) (map[bayes.Class]int, error)
	Get(ctx context.Context, id int64) (storage.DocumentInfo, error)
	Remove(ctx context.Context, id int64) error
}

// NewServer creates a new web API server
func NewServer(cfg Config) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 50
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	res := &Server{Config: cfg}
	if cfg.CacheSize > 0 {
		res.cache = cache.NewCache[string, service.Prediction]().WithMaxKeys(cfg.CacheSize).WithTTL(cfg.CacheTTL)
	}
	return res
}

// Run starts server and blocks until ctx is canceled
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.ListenAddr, Handler: s.routes(), ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout: 10 * time.Second, WriteTimeout: 30 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		} else {
			log.Printf("[INFO] server stopped")
		}
	}()

	log.Printf("[INFO] start server on %s", s.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to run server: %w", err)
	}
	return nil
}

// PurgeCache drops all cached predictions, called after the model is replaced
func (s *Server) PurgeCache() {
	if s.cache == nil {
		return
	}
	s.cache.Purge()
	log.Printf("[DEBUG] predictions cache purged")
}

func (s *Server) routes() http.Handler {
	lmt := tollbooth.NewLimiter(s.RateLimit, nil)
	lmt.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"})

	router := routegroup.New(http.NewServeMux())
	router.Use(rest.Recoverer(lgr.Default()))
	router.Use(rest.AppInfo("nbtext", "umputun", s.Version), rest.Ping)
	router.Use(func(next http.Handler) http.Handler { return tollbooth.LimitHandler(lmt, next) })
	router.Use(rest.SizeLimit(1024 * 1024)) // 1M max request size

	api := router.Group()
	if s.AuthPasswd != "" {
		log.Printf("[INFO] basic auth enabled for api server")
		api.Use(rest.BasicAuthWithUserPasswd("nbtext", s.AuthPasswd))
	} else {
		log.Printf("[WARN] basic auth disabled, access to api is not protected")
	}

	api.HandleFunc("POST /classify", s.classifyHandler)
	api.Route(func(r *routegroup.Bundle) {
		r.HandleFunc("GET /model", s.modelStatsHandler)
		r.HandleFunc("PUT /model", s.retrainHandler)
	})
	api.Route(func(r *routegroup.Bundle) {
		r.HandleFunc("POST /documents", s.addDocumentHandler)
		r.HandleFunc("GET /documents", s.documentsStatsHandler)
		r.HandleFunc("GET /documents/{id}", s.getDocumentHandler)
		r.HandleFunc("DELETE /documents/{id}", s.removeDocumentHandler)
	})
	return router
}

// classifyHandler handles POST /classify request with {"text": "..."} body.
// It returns the best classes and scores of all classes.
func (s *Server) classifyHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "can't decode request", "details": err.Error()})
		log.Printf("[WARN] can't decode request: %v", err)
		return
	}

	key := textKey(req.Text)
	pred, cached := s.cachedPrediction(key)
	if !cached {
		var err error
		if pred, err = s.Classifier.Predict(req.Text); err != nil {
			w.WriteHeader(statusFor(err))
			rest.RenderJSON(w, rest.JSON{"error": "can't classify text", "details": err.Error()})
			return
		}
		if s.cache != nil {
			s.cache.Set(key, pred, s.CacheTTL)
		}
	}
	s.logPrediction(req.Text, pred, cached)
	rest.RenderJSON(w, rest.JSON{"classes": pred.Classes, "scores": jsonScores(pred.Scores), "cached": cached})
}

// modelStatsHandler handles GET /model request, returns stats of the current model
func (s *Server) modelStatsHandler(w http.ResponseWriter, _ *http.Request) {
	st, err := s.Classifier.Stats()
	if err != nil {
		w.WriteHeader(statusFor(err))
		rest.RenderJSON(w, rest.JSON{"error": "can't get model stats", "details": err.Error()})
		return
	}
	rest.RenderJSON(w, st)
}

// retrainHandler handles PUT /model request. It trains a new model from the source.
// Rejected training documents are reported with 422, the current model is kept.
func (s *Server) retrainHandler(w http.ResponseWriter, r *http.Request) {
	m, err := s.Classifier.Reload(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if isTrainingInputErr(err) {
			status = http.StatusUnprocessableEntity
		}
		w.WriteHeader(status)
		rest.RenderJSON(w, rest.JSON{"error": "can't retrain model", "details": err.Error()})
		return
	}
	rest.RenderJSON(w, rest.JSON{"retrained": true, "stats": m.Stats()})
}

// addDocumentHandler handles POST /documents request with {"class": "...", "text": "..."} body.
// The document is used by the next retrain.
func (s *Server) addDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if !s.storeEnabled(w) {
		return
	}
	var req struct {
		Class string `json:"class"`
		Text  string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "can't decode request", "details": err.Error()})
		return
	}
	if len(s.Classes) > 0 && !slices.Contains(s.Classes, bayes.Class(req.Class)) {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "can't add document",
			"details": fmt.Sprintf("class %q is not in the class set %v", req.Class, s.Classes)})
		return
	}
	id, err := s.Store.Add(r.Context(), bayes.Class(req.Class), req.Text)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "can't add document", "details": err.Error()})
		return
	}
	log.Printf("[INFO] document %d added to class %q", id, req.Class)
	rest.RenderJSON(w, rest.JSON{"added": true, "id": id, "class": req.Class})
}

// documentsStatsHandler handles GET /documents request, returns number of stored documents per class
func (s *Server) documentsStatsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.storeEnabled(w) {
		return
	}
	st, err := s.Store.Stats(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		rest.RenderJSON(w, rest.JSON{"error": "can't get documents stats", "details": err.Error()})
		return
	}
	total := 0
	for _, n := range st {
		total += n
	}
	rest.RenderJSON(w, rest.JSON{"classes": st, "total": total})
}

// getDocumentHandler handles GET /documents/{id} request, returns the stored document
func (s *Server) getDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if !s.storeEnabled(w) {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	doc, err := s.Store.Get(r.Context(), id)
	if err != nil {
		w.WriteHeader(documentStatus(err))
		rest.RenderJSON(w, rest.JSON{"error": "can't get document", "details": err.Error()})
		return
	}
	rest.RenderJSON(w, rest.JSON{"id": doc.ID, "class": doc.Class, "text": doc.Text, "ts": doc.Timestamp})
}

// removeDocumentHandler handles DELETE /documents/{id} request.
// The document is excluded from the next retrain.
func (s *Server) removeDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if !s.storeEnabled(w) {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	if err := s.Store.Remove(r.Context(), id); err != nil {
		w.WriteHeader(documentStatus(err))
		rest.RenderJSON(w, rest.JSON{"error": "can't remove document", "details": err.Error()})
		return
	}
	log.Printf("[INFO] document %d removed", id)
	rest.RenderJSON(w, rest.JSON{"removed": true, "id": id})
}

func (s *Server) storeEnabled(w http.ResponseWriter) bool {
	if s.Store == nil {
		w.WriteHeader(http.StatusNotImplemented)
		rest.RenderJSON(w, rest.JSON{"error": "documents store is not configured"})
		return false
	}
	return true
}

func documentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "invalid document id", "details": err.Error()})
		return 0, false
	}
	return id, true
}

func (s *Server) cachedPrediction(key string) (service.Prediction, bool) {
	if s.cache == nil {
		return service.Prediction{}, false
	}
	return s.cache.Get(key)
}

// logPrediction writes a json line with the served prediction
func (s *Server) logPrediction(text string, pred service.Prediction, cached bool) {
	if s.PredictionLog == nil {
		return
	}
	rec := struct {
		TS      time.Time     `json:"ts"`
		Text    string        `json:"text"`
		Classes []bayes.Class `json:"classes"`
		Cached  bool          `json:"cached"`
	}{TS: time.Now(), Text: text, Classes: pred.Classes, Cached: cached}
	data, err := json.Marshal(rec)
	if err != nil {
		log.Printf("[WARN] can't marshal prediction log record: %v", err)
		return
	}
	s.logMu.Lock()
	defer s.logMu.Unlock()
	if _, err := s.PredictionLog.Write(append(data, '\n')); err != nil {
		log.Printf("[WARN] can't write prediction log: %v", err)
	}
}

func statusFor(err error) int {
	if errors.Is(err, service.ErrNotReady) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func documentStatus(err error) int {
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// isTrainingInputErr reports whether training failed on the documents or vocabulary,
// not on reading them
func isTrainingInputErr(err error) bool {
	return errors.Is(err, bayes.ErrNoDocuments) || errors.Is(err, bayes.ErrEmptyVocabulary) ||
		errors.Is(err, bayes.ErrUnknownClass) || errors.Is(err, bayes.ErrDegenerateClass)
}

func textKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// jsonScores replaces non-finite scores with nil, json has no infinity.
// Integer division mode makes -Inf scores.
func jsonScores(scores map[bayes.Class]float64) map[bayes.Class]*float64 {
	res := make(map[bayes.Class]*float64, len(scores))
	for c, v := range scores {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			res[c] = nil
			continue
		}
		res[c] = &v
	}
	return res
}
