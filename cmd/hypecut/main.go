package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/you/hypecut/internal/config"
	"github.com/you/hypecut/internal/core"
	"github.com/you/hypecut/internal/httpapi"
	"github.com/you/hypecut/internal/pipeline"
	"github.com/you/hypecut/internal/sentiment"
	"github.com/you/hypecut/internal/spool"
	"github.com/you/hypecut/internal/store"
	"github.com/you/hypecut/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		versionFlag     bool
		configPath      string
		storeDriver     string
		storePath       string
		spoolDir        string
		watch           bool
		windowWidth     float64
		graceSeconds    float64
		mergeGap        int
		topK            int
		concurrency     int
		sensitivity     float64
		httpAddr        string
		httpCorsOrigins string
		httpRateRPS     int
		httpRateBurst   int
		httpMetrics     bool
		httpAccessLog   bool
		debug           bool
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&storeDriver, "store-driver", "duckdb", "Store driver: duckdb or sqlite")
	flag.StringVar(&storePath, "store-path", "highlights.duckdb", "Path to the store database file")
	flag.StringVar(&spoolDir, "spool-dir", "", "Directory of <vod_id>.jsonl chat dumps to process")
	flag.BoolVar(&watch, "watch", false, "Keep watching the spool directory for new dumps")
	flag.Float64Var(&windowWidth, "window-width-seconds", 30, "Width of aggregation windows in seconds")
	flag.Float64Var(&graceSeconds, "grace-seconds", 5, "Grace period for late events in seconds")
	flag.IntVar(&mergeGap, "merge-gap", 1, "Maximum window-index gap that still merges candidates (0 = never merge)")
	flag.IntVar(&topK, "top-k", 0, "Keep only the K highest ranked segments per VOD (0 = unlimited)")
	flag.IntVar(&concurrency, "concurrency", 4, "Maximum VOD runs processed in parallel")
	flag.Float64Var(&sensitivity, "sensitivity", 2.0, "Score threshold for candidate windows")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP API address (e.g., :8765); empty disables the API")
	flag.StringVar(&httpCorsOrigins, "http-cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.IntVar(&httpRateRPS, "http-rate-rps", 20, "Maximum HTTP requests per second per client")
	flag.IntVar(&httpRateBurst, "http-rate-burst", 40, "Burst size for HTTP rate limiter")
	flag.BoolVar(&httpMetrics, "http-metrics", true, "Expose Prometheus metrics endpoint")
	flag.BoolVar(&httpAccessLog, "http-access-log", true, "Log HTTP access records")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"hypecut version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("hypecut: %v", err)
	}

	if overrides["store-driver"] {
		cfg.Store.Driver = strings.TrimSpace(storeDriver)
	}
	if overrides["store-path"] {
		cfg.Store.Path = strings.TrimSpace(storePath)
	}
	if overrides["spool-dir"] {
		cfg.Spool.Dir = strings.TrimSpace(spoolDir)
	}
	if overrides["window-width-seconds"] {
		cfg.Pipeline.WindowWidthSeconds = windowWidth
	}
	if overrides["grace-seconds"] {
		cfg.Pipeline.GraceSeconds = graceSeconds
	}
	if overrides["merge-gap"] {
		cfg.Pipeline.MergeGap = mergeGap
	}
	if overrides["top-k"] {
		cfg.Pipeline.TopK = topK
	}
	if overrides["concurrency"] {
		cfg.Pipeline.Concurrency = concurrency
	}
	if overrides["sensitivity"] {
		cfg.Scoring.Sensitivity = sensitivity
	}
	if overrides["http-addr"] {
		cfg.HTTP.Addr = strings.TrimSpace(httpAddr)
	}
	if overrides["http-cors-origins"] {
		cfg.HTTP.CORSOrigins = nil
		for _, origin := range strings.Split(httpCorsOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.HTTP.CORSOrigins = append(cfg.HTTP.CORSOrigins, origin)
			}
		}
	}
	if overrides["http-rate-rps"] {
		cfg.HTTP.RateRPS = httpRateRPS
	}
	if overrides["http-rate-burst"] {
		cfg.HTTP.RateBurst = httpRateBurst
	}
	if overrides["http-metrics"] {
		cfg.HTTP.Metrics = httpMetrics
	}
	if overrides["http-access-log"] {
		cfg.HTTP.AccessLog = httpAccessLog
	}
	if overrides["debug"] {
		cfg.Verbosity.Debug = debug
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("hypecut: %v", err)
	}

	level := slog.LevelInfo
	if cfg.Verbosity.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	log.Printf("%s", cfg.SummaryJSON())

	st, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		log.Fatalf("hypecut: open store: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("hypecut: closing store: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("hypecut: received %s, shutting down", sig)
		cancel()
	}()

	var api *httpapi.Server
	if cfg.HTTP.Addr != "" {
		build := httpapi.BuildInfo{Version: version.Version, Revision: version.Commit}
		if version.BuildTime != "" && version.BuildTime != "unknown" {
			if t, err := time.Parse(time.RFC3339, version.BuildTime); err == nil {
				build.BuiltAt = t
			}
		}
		api = httpapi.New(st, httpapi.Options{
			Addr:           cfg.HTTP.Addr,
			CORSOrigins:    cfg.HTTP.CORSOrigins,
			RateRPS:        cfg.HTTP.RateRPS,
			RateBurst:      cfg.HTTP.RateBurst,
			Metrics:        cfg.HTTP.Metrics,
			AccessLog:      cfg.HTTP.AccessLog,
			Build:          build,
			ConfigSnapshot: cfg.Summary(),
		})
		go func() {
			if err := api.Start(); err != nil {
				log.Fatalf("hypecut: http api: %v", err)
			}
		}()
		log.Printf("hypecut: http api ready on %s", cfg.HTTP.Addr)
	}

	p := pipeline.New(cfg, st, sentiment.NewLexicon(nil), logger)
	runner := pipeline.NewRunner(p, cfg.Pipeline.Concurrency)
	if api != nil {
		runner.OnResult = api.Metrics().RecordRun
	}

	report := func(results []core.RunResult) int {
		failed := 0
		for _, r := range results {
			if r.Status == core.RunFailed {
				failed++
			}
		}
		return failed
	}

	failed := 0

	if args := flag.Args(); len(args) > 0 {
		jobs := make([]pipeline.Job, 0, len(args))
		for _, path := range args {
			vodID := strings.TrimSuffix(filepath.Base(path), ".jsonl")
			jobs = append(jobs, pipeline.Job{VODID: vodID, Path: path})
		}
		failed += report(runner.RunAll(ctx, jobs))
	}

	switch {
	case cfg.Spool.Dir != "" && watch:
		watcher := spool.NewWatcher(cfg.Spool.Dir, runner, logger)
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("hypecut: spool watch: %v", err)
		}
	case cfg.Spool.Dir != "":
		jobs, err := spool.Scan(cfg.Spool.Dir)
		if err != nil {
			log.Fatalf("hypecut: spool scan: %v", err)
		}
		failed += report(runner.RunAll(ctx, jobs))
	case len(flag.Args()) == 0 && api == nil:
		log.Printf("hypecut: nothing to do; pass dump files, set -spool-dir, or enable -http-addr")
	}

	// With the API up and no watcher, stay resident to serve queries.
	if api != nil && !(cfg.Spool.Dir != "" && watch) {
		<-ctx.Done()
	}

	if api != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		if err := api.Shutdown(shutdownCtx); err != nil {
			log.Printf("hypecut: http api shutdown: %v", err)
		}
		cancelShutdown()
	}

	log.Printf("hypecut: shutdown complete")
	if failed > 0 {
		os.Exit(1)
	}
}
