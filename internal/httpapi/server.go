// Package httpapi serves the read side of the highlight store: run
// history, ranked segments and per-window features, plus health, build
// info and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/you/hypecut/internal/store"
)

// Store is the read surface the API needs from the persistence layer.
type Store interface {
	Ping() error
	RecentRuns(ctx context.Context, limit int) ([]store.RunRow, error)
	SegmentsForVOD(ctx context.Context, vodID string, includeSuperseded bool) ([]store.SegmentRow, error)
	WindowsForVOD(ctx context.Context, vodID string) ([]store.WindowRow, error)
}

type Options struct {
	Addr        string
	CORSOrigins []string
	RateRPS     int
	RateBurst   int
	Metrics     bool
	AccessLog   bool
	Build       BuildInfo

	// ConfigSnapshot is the effective pipeline configuration, served on
	// /api/info alongside build identity.
	ConfigSnapshot map[string]any
}

type Server struct {
	httpServer *http.Server
	store      Store
	opts       Options

	metrics *Metrics
	limiter *ipRateLimiter
	cors    *corsPolicy
}

func New(st Store, opts Options) *Server {
	srv := &Server{
		store:   st,
		opts:    opts,
		limiter: newIPRateLimiter(opts.RateRPS, opts.RateBurst),
		cors:    newCORSPolicy(opts.CORSOrigins),
	}
	if opts.Metrics {
		srv.metrics = newMetrics()
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", srv.wrap("healthz", srv.handleHealthz))
	mux.Handle("/api/runs", srv.wrap("runs", srv.handleRuns))
	mux.Handle("/api/segments", srv.wrap("segments", srv.handleSegments))
	mux.Handle("/api/windows", srv.wrap("windows", srv.handleWindows))
	mux.Handle("/api/info", srv.wrap("info", srv.handleInfo))
	if srv.metrics != nil {
		mux.Handle("/metrics", srv.metrics.Handler())
	}

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

// Metrics exposes the collector bundle so the pipeline loop can record
// run outcomes on the same registry. Nil when metrics are disabled.
func (s *Server) Metrics() *Metrics { return s.metrics }

// wrap applies the shared middleware: CORS, per-IP rate limiting, gzip,
// and request accounting.
func (s *Server) wrap(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handled, status := s.cors.handlePreflight(w, r); handled {
			s.metrics.ObserveRequest(route, r.Method, status, 0, 0)
			return
		}
		if !s.cors.applyHeaders(w, r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		if !s.limiter.Allow(remoteIP(r)) {
			s.metrics.IncRateLimited()
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		start := time.Now()
		rec := newResponseRecorder(w)
		if gz, ok := maybeGzip(rec, r); ok {
			defer gz.Close()
		}

		h(rec, r)

		dur := time.Since(start)
		s.metrics.ObserveRequest(route, r.Method, rec.Status(), dur, rec.Bytes())
		if s.opts.AccessLog {
			log.Printf("http %s %s %d %dB %s ip=%s", r.Method, r.URL.Path, rec.Status(), rec.Bytes(), dur.Round(time.Microsecond), remoteIP(r))
		}
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if err := s.store.Ping(); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	f, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	runs, err := s.store.RecentRuns(r.Context(), f.Limit)
	if err != nil {
		log.Printf("runs query failed: %v", err)
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	f, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if f.VODID == "" {
		http.Error(w, "vod_id is required", http.StatusBadRequest)
		return
	}
	segments, err := s.store.SegmentsForVOD(r.Context(), f.VODID, f.IncludeSuperseded)
	if err != nil {
		log.Printf("segments query failed: %v", err)
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}
	if f.Limit > 0 && len(segments) > f.Limit {
		segments = segments[:f.Limit]
	}
	writeJSON(w, segments)
}

func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	f, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if f.VODID == "" {
		http.Error(w, "vod_id is required", http.StatusBadRequest)
		return
	}
	windows, err := s.store.WindowsForVOD(r.Context(), f.VODID)
	if err != nil {
		log.Printf("windows query failed: %v", err)
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}
	if f.CandidatesOnly {
		kept := windows[:0]
		for _, win := range windows {
			if win.IsCandidate {
				kept = append(kept, win)
			}
		}
		windows = kept
	}
	writeJSON(w, windows)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) Start() error {
	log.Printf("http api listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
