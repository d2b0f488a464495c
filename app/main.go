package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/nbtext/app/server"
	"github.com/umputun/nbtext/app/service"
	"github.com/umputun/nbtext/app/storage"
	"github.com/umputun/nbtext/app/storage/engine"
	"github.com/umputun/nbtext/lib/bayes"
	"github.com/umputun/nbtext/lib/dataset"
)

type options struct {
	Dataset struct {
		Root  string `long:"root" env:"ROOT" default:"data" description:"dataset root directory"`
		Vocab string `long:"vocab" env:"VOCAB" default:"imdb.vocab" description:"vocabulary file, relative to root"`
		Train string `long:"train" env:"TRAIN" default:"train" description:"training documents directory, relative to root"`
		Test  string `long:"test" env:"TEST" default:"test" description:"test documents directory, relative to root"`
	} `group:"dataset" namespace:"dataset" env-namespace:"DATASET"`

	Store struct {
		DB     string `long:"db" env:"DB" description:"training documents database, sqlite file or postgres url. dataset is used if not set"`
		GID    string `long:"gid" env:"GID" default:"default" description:"group id of the corpus in the database"`
		Import bool   `long:"import" env:"IMPORT" description:"import training documents from dataset to the database"`
	} `group:"store" namespace:"store" env-namespace:"STORE"`

	Train struct {
		Division string   `long:"division" env:"DIVISION" default:"real" choice:"real" choice:"integer" description:"division mode"`
		Workers  int      `long:"workers" env:"WORKERS" default:"0" description:"number of training workers, 0 for all cpus"`
		Progress int64    `long:"progress" env:"PROGRESS" default:"0" description:"log training progress every N words, 0 to disable"`
		Classes  []string `long:"class" env:"CLASSES" env-delim:"," description:"fixed class set, derived from documents if not set"`
	} `group:"train" namespace:"train" env-namespace:"TRAIN"`

	Eval     bool     `long:"eval" env:"EVAL" description:"evaluate model on test documents"`
	Classify []string `long:"classify" description:"text to classify, can be repeated"`

	Server struct {
		Enabled    bool          `long:"enabled" env:"ENABLED" description:"enable api server"`
		Listen     string        `long:"listen" env:"LISTEN" default:":8080" description:"listen address"`
		AuthPasswd string        `long:"auth" env:"AUTH" default:"" description:"basic auth password for user nbtext"`
		RateLimit  float64       `long:"rate-limit" env:"RATE_LIMIT" default:"50" description:"max requests per second per client"`
		CacheSize  int           `long:"cache-size" env:"CACHE_SIZE" default:"1000" description:"max cached predictions, 0 to disable"`
		CacheTTL   time.Duration `long:"cache-ttl" env:"CACHE_TTL" default:"1h" description:"ttl of cached predictions"`
	} `group:"server" namespace:"server" env-namespace:"SERVER"`

	Watch      bool          `long:"watch" env:"WATCH" description:"watch dataset for changes and retrain"`
	WatchDelay time.Duration `long:"watch-delay" env:"WATCH_DELAY" default:"5s" description:"delay after change before retrain"`

	Logger struct {
		Enabled    bool   `long:"enabled" env:"ENABLED" description:"enable predictions rotated logs"`
		FileName   string `long:"file" env:"FILE" default:"nbtext.log" description:"location of predictions log"`
		MaxSize    string `long:"max-size" env:"MAX_SIZE" default:"100M" description:"maximum size before it gets rotated"`
		MaxBackups int    `long:"max-backups" env:"MAX_BACKUPS" default:"10" description:"maximum number of old log files to retain"`
	} `group:"logger" namespace:"logger" env-namespace:"LOGGER"`

	Dbg bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var revision = "local"

func main() {
	fmt.Printf("nbtext %s\n", revision)
	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		var flagsErr *flags.Error
		if !errors.As(err, &flagsErr) || flagsErr.Type != flags.ErrHelp {
			log.Printf("[ERROR] cli error: %v", err)
		}
		os.Exit(2)
	}

	setupLog(opts.Dbg, opts.Server.AuthPasswd, opts.Store.DB)
	log.Printf("[DEBUG] options: %+v", opts)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// catch signal and invoke graceful termination
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Printf("[WARN] interrupt signal")
		cancel()
	}()

	if err := execute(ctx, opts, os.Stdout); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

// execute trains the model, runs requested evaluation and classifications,
// then serves api and watches dataset until ctx is canceled if enabled
func execute(ctx context.Context, opts options, out io.Writer) error {
	division, err := bayes.ParseDivision(opts.Train.Division)
	if err != nil {
		return fmt.Errorf("invalid division: %w", err)
	}
	params := dataset.Params{Root: opts.Dataset.Root, VocabFile: opts.Dataset.Vocab,
		TrainDir: opts.Dataset.Train, TestDir: opts.Dataset.Test}

	src, store, closeStore, err := makeSource(ctx, opts, params)
	if err != nil {
		return fmt.Errorf("can't make training source: %w", err)
	}
	defer closeStore()

	cfg := service.Config{Source: src, Division: division, Workers: opts.Train.Workers}
	for _, c := range opts.Train.Classes {
		cfg.Classes = append(cfg.Classes, bayes.Class(c))
	}
	if opts.Train.Progress > 0 {
		cfg.Observer = bayes.NewLogObserver(opts.Train.Progress)
	}
	svc := service.New(cfg)
	m, err := svc.Reload(ctx)
	if err != nil {
		return fmt.Errorf("can't train model: %w", err)
	}

	if opts.Eval {
		if err := evaluate(out, m, params, opts.Train.Workers); err != nil {
			return fmt.Errorf("can't evaluate model: %w", err)
		}
	}
	if err := classifyTexts(out, svc, opts.Classify); err != nil {
		return err
	}

	if !opts.Server.Enabled && !opts.Watch {
		return nil
	}

	var watchPaths []string
	if opts.Watch {
		dirSrc, ok := src.(service.DirSource)
		if !ok {
			return errors.New("watch is supported for dataset source only")
		}
		if watchPaths, err = dirSrc.WatchPaths(); err != nil {
			return fmt.Errorf("can't get paths to watch: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if opts.Server.Enabled {
		predLog, err := makePredictionLogWriter(opts)
		if err != nil {
			return fmt.Errorf("can't make prediction log writer: %w", err)
		}
		defer predLog.Close()

		srv := server.NewServer(server.Config{
			Version:       revision,
			ListenAddr:    opts.Server.Listen,
			Classifier:    svc,
			Classes:       cfg.Classes,
			AuthPasswd:    opts.Server.AuthPasswd,
			RateLimit:     opts.Server.RateLimit,
			CacheSize:     opts.Server.CacheSize,
			CacheTTL:      opts.Server.CacheTTL,
			PredictionLog: predLog,
		})
		if store != nil {
			srv.Store = store
		}
		svc.OnReload(func(*bayes.Model) { srv.PurgeCache() })
		g.Go(func() error { return srv.Run(gctx) })
	}

	if opts.Watch {
		g.Go(func() error { return svc.Watch(gctx, opts.WatchDelay, watchPaths...) })
	}
	return g.Wait()
}

// makeSource returns dataset source, or documents store source if database is set.
// The store is nil for dataset source.
func makeSource(ctx context.Context, opts options, params dataset.Params) (src service.Source,
	store *storage.Documents, closeFn func(), err error) {
	closeFn = func() {}
	if opts.Store.DB == "" {
		log.Printf("[INFO] training documents from dataset %s", params.Root)
		return service.DirSource{Params: params}, nil, closeFn, nil
	}

	db, err := engine.New(ctx, opts.Store.DB, opts.Store.GID)
	if err != nil {
		return nil, nil, closeFn, fmt.Errorf("can't open database: %w", err)
	}
	closeFn = func() {
		if err := db.Close(); err != nil {
			log.Printf("[WARN] can't close database: %v", err)
		}
	}
	if store, err = storage.NewDocuments(ctx, db); err != nil {
		closeFn()
		return nil, nil, func() {}, fmt.Errorf("can't make documents store: %w", err)
	}

	vocab, train, _ := params.Paths()
	if opts.Store.Import {
		if err := importDocuments(ctx, store, train); err != nil {
			closeFn()
			return nil, nil, func() {}, err
		}
	}
	log.Printf("[INFO] training documents from %s database, group %q", db.Type(), db.GID())
	return &service.StoreSource{Store: store, VocabFile: vocab}, store, closeFn, nil
}

// importDocuments copies training documents from the dataset to the store.
// The group is imported once, import is skipped if it already has documents.
func importDocuments(ctx context.Context, store *storage.Documents, train string) error {
	st, err := store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("can't get stored documents: %w", err)
	}
	stored := 0
	for _, n := range st {
		stored += n
	}
	if stored > 0 {
		log.Printf("[INFO] import skipped, group %q already has %d documents", store.GID(), stored)
		return nil
	}
	docs, err := dataset.ReadDocuments(train)
	if err != nil {
		return fmt.Errorf("can't read documents to import: %w", err)
	}
	if _, err := store.Import(ctx, docs); err != nil {
		return fmt.Errorf("can't import documents: %w", err)
	}
	return nil
}

// evaluate classifies test documents and prints accuracy and confusion counts
func evaluate(out io.Writer, m *bayes.Model, params dataset.Params, workers int) error {
	_, _, test := params.Paths()
	docs, err := dataset.ReadDocuments(test)
	if err != nil {
		return fmt.Errorf("can't read test documents: %w", err)
	}
	if len(docs) == 0 {
		return fmt.Errorf("no test documents in %s", test)
	}
	ev := bayes.Evaluate(m, docs, workers)
	fmt.Fprintf(out, "evaluated %d documents: correct %d, tied %d, wrong %d, accuracy %.4f\n",
		ev.Total, ev.Correct, ev.Tied, ev.Wrong, ev.Accuracy)
	for _, actual := range m.Classes() {
		row := make([]string, 0, len(m.Classes()))
		for _, predicted := range m.Classes() {
			row = append(row, fmt.Sprintf("%s:%d", predicted, ev.Confusion[actual][predicted]))
		}
		fmt.Fprintf(out, "  %s -> %s\n", actual, strings.Join(row, " "))
	}
	return nil
}

// classifyTexts prints the best classes for each text
func classifyTexts(out io.Writer, svc *service.Service, texts []string) error {
	for _, text := range texts {
		classes, err := svc.Classify(text)
		if err != nil {
			return fmt.Errorf("can't classify %q: %w", text, err)
		}
		names := make([]string, 0, len(classes))
		for _, c := range classes {
			names = append(names, string(c))
		}
		fmt.Fprintf(out, "%q -> %s\n", text, strings.Join(names, ","))
	}
	return nil
}

// makePredictionLogWriter creates log writer to keep served predictions
// it parses options and makes lumberjack logger with rotation
func makePredictionLogWriter(opts options) (io.WriteCloser, error) {
	if !opts.Logger.Enabled {
		return nopWriteCloser{io.Discard}, nil
	}

	maxSize, err := sizeParse(opts.Logger.MaxSize)
	if err != nil {
		return nil, fmt.Errorf("can't parse logger MaxSize: %w", err)
	}
	maxSize /= 1048576

	log.Printf("[INFO] logger enabled for %s, max size %dM", opts.Logger.FileName, maxSize)
	return &lumberjack.Logger{
		Filename:   opts.Logger.FileName,
		MaxSize:    int(maxSize), // in MB
		MaxBackups: opts.Logger.MaxBackups,
		Compress:   true,
		LocalTime:  true,
	}, nil
}

// sizeParse parses size with optional k, m, g, t suffix
func sizeParse(inp string) (uint64, error) {
	if inp == "" {
		return 0, errors.New("empty value")
	}
	for i, sfx := range []string{"k", "m", "g", "t"} {
		if strings.HasSuffix(inp, strings.ToUpper(sfx)) || strings.HasSuffix(inp, sfx) {
			val, err := strconv.Atoi(inp[:len(inp)-1])
			if err != nil {
				return 0, fmt.Errorf("can't parse %s: %w", inp, err)
			}
			return uint64(float64(val) * math.Pow(float64(1024), float64(i+1))), nil
		}
	}
	return strconv.ParseUint(inp, 10, 64)
}

type nopWriteCloser struct{ io.Writer }

func (n nopWriteCloser) Close() error { return nil }

func setupLog(dbg bool, secrets ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	nonEmpty := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	if len(nonEmpty) > 0 {
		logOpts = append(logOpts, lgr.Secret(nonEmpty...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
