// Package spool turns a directory of chat dump files into pipeline jobs.
// Dumps land as <vod_id>.jsonl; the watcher picks up new and rewritten
// files and hands them to the runner, debounced so a dump being copied in
// does not trigger a half-file run.
package spool

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/you/hypecut/internal/pipeline"
)

// Scan lists the jobs currently sitting in dir, sorted by filename.
// Non-jsonl files and dotfiles are ignored.
func Scan(dir string) ([]pipeline.Job, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var jobs []pipeline.Job
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if vodID, ok := vodIDFromName(e.Name()); ok {
			jobs = append(jobs, pipeline.Job{VODID: vodID, Path: filepath.Join(dir, e.Name())})
		}
	}
	return jobs, nil
}

func vodIDFromName(name string) (string, bool) {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".jsonl") {
		return "", false
	}
	vodID := strings.TrimSuffix(name, ".jsonl")
	return vodID, vodID != ""
}

// Watcher reprocesses dumps as they appear in the spool directory.
type Watcher struct {
	dir    string
	runner *pipeline.Runner
	log    *slog.Logger

	// dirty collects paths touched since the last debounce fire.
	dirty map[string]string // path -> vod id
}

// NewWatcher wires a Watcher over dir. Jobs run on the shared runner, so
// the pipeline concurrency cap also bounds watcher-triggered runs.
func NewWatcher(dir string, runner *pipeline.Runner, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, runner: runner, log: logger, dirty: make(map[string]string)}
}

// Run watches until the context ends. Files already in the directory are
// processed first, then every settled write triggers a run for the touched
// dumps only.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return err
	}

	if jobs, err := Scan(w.dir); err != nil {
		w.log.Error("spool scan failed", "dir", w.dir, "err", err)
	} else if len(jobs) > 0 {
		w.log.Info("processing spooled dumps", "count", len(jobs))
		w.runner.RunAll(ctx, jobs)
	}

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			vodID, isDump := vodIDFromName(filepath.Base(ev.Name))
			if !isDump {
				continue
			}
			w.dirty[ev.Name] = vodID
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(500 * time.Millisecond)

		case <-debounce.C:
			jobs := w.takeDirty()
			if len(jobs) == 0 {
				continue
			}
			w.log.Info("spool change settled", "jobs", len(jobs))
			w.runner.RunAll(ctx, jobs)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("spool watch error", "err", err)
		}
	}
}

func (w *Watcher) takeDirty() []pipeline.Job {
	jobs := make([]pipeline.Job, 0, len(w.dirty))
	for path, vodID := range w.dirty {
		if _, err := os.Stat(path); err != nil {
			continue // removed before the debounce fired
		}
		jobs = append(jobs, pipeline.Job{VODID: vodID, Path: path})
	}
	w.dirty = make(map[string]string)
	return jobs
}
