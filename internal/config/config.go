package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries every tunable the pipeline recognizes. Values resolve in
// order: defaults, then the optional YAML file, then environment variables.
// Flag overrides are applied by the CLI on top of the loaded Config.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Spool     SpoolConfig     `yaml:"spool"`
	HTTP      HTTPConfig      `yaml:"http"`
	Verbosity VerbosityConfig `yaml:"verbosity"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"` // "duckdb" (default) or "sqlite"
	Path   string `yaml:"path"`
}

type PipelineConfig struct {
	WindowWidthSeconds float64 `yaml:"window_width_seconds"`
	GraceSeconds       float64 `yaml:"grace_seconds"`
	MergeGap           int     `yaml:"merge_gap"`
	TopK               int     `yaml:"top_k"` // 0 = unlimited
	Concurrency        int     `yaml:"concurrency"`
}

type ScoringConfig struct {
	Sensitivity     float64 `yaml:"sensitivity"`
	RateWeight      float64 `yaml:"rate_weight"`
	EmoteWeight     float64 `yaml:"emote_weight"`
	SentimentWeight float64 `yaml:"sentiment_weight"`
}

type SpoolConfig struct {
	Dir string `yaml:"dir"`
}

type HTTPConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
	RateRPS     int      `yaml:"rate_rps"`
	RateBurst   int      `yaml:"rate_burst"`
	Metrics     bool     `yaml:"metrics"`
	AccessLog   bool     `yaml:"access_log"`
}

type VerbosityConfig struct {
	Debug bool `yaml:"debug"`
}

const (
	defaultStoreDriver = "duckdb"
	defaultStorePath   = "highlights.duckdb"
	defaultWindowWidth = 30.0
	defaultGrace       = 5.0
	defaultMergeGap    = 1
	defaultSensitivity = 2.0
	defaultConcurrency = 4
	defaultRateRPS     = 20
	defaultRateBurst   = 40
)

// Default returns a Config with every knob at its documented default.
func Default() Config {
	return Config{
		Store: StoreConfig{Driver: defaultStoreDriver, Path: defaultStorePath},
		Pipeline: PipelineConfig{
			WindowWidthSeconds: defaultWindowWidth,
			GraceSeconds:       defaultGrace,
			MergeGap:           defaultMergeGap,
			TopK:               0,
			Concurrency:        defaultConcurrency,
		},
		Scoring: ScoringConfig{
			Sensitivity:     defaultSensitivity,
			RateWeight:      1.0,
			EmoteWeight:     0.5,
			SentimentWeight: 0.25,
		},
		HTTP: HTTPConfig{
			RateRPS:   defaultRateRPS,
			RateBurst: defaultRateBurst,
			Metrics:   true,
			AccessLog: true,
		},
	}
}

// Load resolves the configuration from the optional YAML file at path (pass
// "" to skip) and the HYPECUT_* environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	readStr("HYPECUT_STORE_DRIVER", &c.Store.Driver)
	readStr("HYPECUT_STORE_PATH", &c.Store.Path)
	readFloat("HYPECUT_WINDOW_WIDTH_SECONDS", &c.Pipeline.WindowWidthSeconds)
	readFloat("HYPECUT_GRACE_SECONDS", &c.Pipeline.GraceSeconds)
	readInt("HYPECUT_MERGE_GAP", &c.Pipeline.MergeGap)
	readInt("HYPECUT_TOP_K", &c.Pipeline.TopK)
	readInt("HYPECUT_CONCURRENCY", &c.Pipeline.Concurrency)
	readFloat("HYPECUT_SENSITIVITY", &c.Scoring.Sensitivity)
	readFloat("HYPECUT_RATE_WEIGHT", &c.Scoring.RateWeight)
	readFloat("HYPECUT_EMOTE_WEIGHT", &c.Scoring.EmoteWeight)
	readFloat("HYPECUT_SENTIMENT_WEIGHT", &c.Scoring.SentimentWeight)
	readStr("HYPECUT_SPOOL_DIR", &c.Spool.Dir)
	readStr("HYPECUT_HTTP_ADDR", &c.HTTP.Addr)
	readInt("HYPECUT_HTTP_RATE_RPS", &c.HTTP.RateRPS)
	readInt("HYPECUT_HTTP_RATE_BURST", &c.HTTP.RateBurst)
	readBool("HYPECUT_HTTP_METRICS", &c.HTTP.Metrics)
	readBool("HYPECUT_HTTP_ACCESS_LOG", &c.HTTP.AccessLog)
	readBool("HYPECUT_DEBUG", &c.Verbosity.Debug)

	if raw := strings.TrimSpace(os.Getenv("HYPECUT_HTTP_CORS_ORIGINS")); raw != "" {
		c.HTTP.CORSOrigins = splitList(raw)
	}
}

// ValidationError reports a fatal configuration problem, detected before
// any processing starts.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case "duckdb", "sqlite":
	default:
		return &ValidationError{Field: "store.driver", Reason: fmt.Sprintf("unsupported driver %q", c.Store.Driver)}
	}
	if c.Pipeline.WindowWidthSeconds <= 0 {
		return &ValidationError{Field: "window_width_seconds", Reason: "must be > 0"}
	}
	if c.Pipeline.GraceSeconds < 0 {
		return &ValidationError{Field: "grace_seconds", Reason: "must be >= 0"}
	}
	if c.Pipeline.MergeGap < 0 {
		return &ValidationError{Field: "merge_gap", Reason: "must be >= 0"}
	}
	if c.Pipeline.TopK < 0 {
		return &ValidationError{Field: "top_k", Reason: "must be >= 0 (0 = unlimited)"}
	}
	if c.Pipeline.Concurrency < 1 {
		return &ValidationError{Field: "concurrency", Reason: "must be >= 1"}
	}
	if c.Scoring.Sensitivity <= 0 {
		return &ValidationError{Field: "sensitivity", Reason: "must be > 0"}
	}
	if c.Scoring.RateWeight < 0 || c.Scoring.EmoteWeight < 0 || c.Scoring.SentimentWeight < 0 {
		return &ValidationError{Field: "scoring weights", Reason: "must be >= 0"}
	}
	return nil
}

// WindowWidth returns the bucket width as a duration.
func (c Config) WindowWidth() time.Duration {
	return time.Duration(c.Pipeline.WindowWidthSeconds * float64(time.Second))
}

// Summary is the startup log payload. No secrets live in this config, so
// nothing needs redaction; the shape mirrors the YAML layout.
func (c Config) Summary() map[string]any {
	return map[string]any{
		"store": map[string]any{
			"driver": c.Store.Driver,
			"path":   c.Store.Path,
		},
		"pipeline": map[string]any{
			"window_width_seconds": c.Pipeline.WindowWidthSeconds,
			"grace_seconds":        c.Pipeline.GraceSeconds,
			"merge_gap":            c.Pipeline.MergeGap,
			"top_k":                c.Pipeline.TopK,
			"concurrency":          c.Pipeline.Concurrency,
		},
		"scoring": map[string]any{
			"sensitivity":      c.Scoring.Sensitivity,
			"rate_weight":      c.Scoring.RateWeight,
			"emote_weight":     c.Scoring.EmoteWeight,
			"sentiment_weight": c.Scoring.SentimentWeight,
		},
		"spool": map[string]any{"dir": c.Spool.Dir},
		"http": map[string]any{
			"addr":       c.HTTP.Addr,
			"rate_rps":   c.HTTP.RateRPS,
			"rate_burst": c.HTTP.RateBurst,
			"metrics":    c.HTTP.Metrics,
		},
	}
}

// SummaryJSON renders the summary for a single startup log line.
func (c Config) SummaryJSON() []byte {
	data, _ := json.Marshal(map[string]any{"config_summary": c.Summary()})
	return data
}

func splitList(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func readStr(name string, dst *string) {
	if raw := strings.TrimSpace(os.Getenv(name)); raw != "" {
		*dst = raw
	}
}

func readInt(name string, dst *int) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return
	}
	if n, err := strconv.Atoi(raw); err == nil {
		*dst = n
	}
}

func readFloat(name string, dst *float64) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*dst = f
	}
}

func readBool(name string, dst *bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return
	}
	if v, err := strconv.ParseBool(raw); err == nil {
		*dst = v
	}
}
