// Package config provides configuration management for caselink.
//
// Settings live in ~/.caselink/settings.json as a flat JSON object keyed
// by the same names as the environment variables. Environment variables
// override the settings file; built-in defaults apply when neither is set.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Defaults. The grouping threshold and fan-out come from the tuned intake
// pipeline; the dimension matches the all-MiniLM-L6-v2 sentence model.
const (
	DefaultPort       = 37700
	DefaultThreshold  = 0.70
	DefaultTopK       = 5
	DefaultDimension  = 384
	DefaultWorkers    = 4
	DefaultMaxConns   = 4
	DefaultCasePrefix = "CASE"
	DefaultEmbedModel = "all-MiniLM-L6-v2"
	DefaultIndexMode  = "persisted"
)

// DefaultClassifications are the intake-form incident categories used when
// no custom list is configured.
var DefaultClassifications = []string{
	"rasuah", "penyelewengan", "salah guna kuasa", "pecah amanah", "lain-lain",
}

// Config holds the runtime configuration.
type Config struct {
	Port int // HTTP listen port

	// Database
	DBDriver string // "sqlite" or "postgres"
	DBPath   string // SQLite file path (empty means DBPath())
	DSN      string // Postgres DSN when DBDriver is "postgres"
	MaxConns int

	// Grouping
	Threshold  float64
	TopK       int
	CasePrefix string

	// Vectorizer
	Dimension  int
	EmbedURL   string // embedding HTTP service; empty means local hashing
	EmbedModel string
	RedisAddr  string // embedding cache; empty disables caching

	// Pipeline
	Workers   int
	IndexMode string // "persisted" or "memory"

	// Classifications offered to detail views and derived case metadata.
	Classifications []string

	LogLevel string
}

var (
	global   *Config
	globalMu sync.Mutex
)

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Port:            DefaultPort,
		DBDriver:        "sqlite",
		MaxConns:        DefaultMaxConns,
		Threshold:       DefaultThreshold,
		TopK:            DefaultTopK,
		CasePrefix:      DefaultCasePrefix,
		Dimension:       DefaultDimension,
		EmbedModel:      DefaultEmbedModel,
		Workers:         DefaultWorkers,
		IndexMode:       DefaultIndexMode,
		Classifications: DefaultClassifications,
		LogLevel:        "info",
	}
}

// DataDir returns the caselink data directory (~/.caselink).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".caselink")
}

// DBPath returns the default SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "caselink.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// EnsureDataDir creates the data directory if missing.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	defaults := map[string]interface{}{
		"CASELINK_PORT":           DefaultPort,
		"CASE_GROUPING_THRESHOLD": DefaultThreshold,
		"CASELINK_WORKERS":        DefaultWorkers,
	}
	data, err := json.MarshalIndent(defaults, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll creates the data directory and settings file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Load reads the settings file and applies environment overrides. A
// missing or malformed settings file is not an error; defaults apply.
func Load() (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(SettingsPath()); err == nil {
		var raw map[string]interface{}
		if err := json.Unmarshal(data, &raw); err != nil {
			log.Warn().Err(err).Str("path", SettingsPath()).
				Msg("Malformed settings file, using defaults")
		} else {
			applySettings(cfg, raw)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// Get returns the cached global config, loading it on first use.
func Get() *Config {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
		}
		global = cfg
	}
	return global
}

// Reload replaces the cached global config, for settings-file watchers.
func Reload() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	globalMu.Lock()
	global = cfg
	globalMu.Unlock()
	return cfg, nil
}

func applySettings(cfg *Config, raw map[string]interface{}) {
	if v, ok := rawInt(raw, "CASELINK_PORT"); ok && v > 0 {
		cfg.Port = v
	}
	if v, ok := rawString(raw, "CASELINK_DB_DRIVER"); ok {
		cfg.DBDriver = v
	}
	if v, ok := rawString(raw, "CASELINK_DB"); ok {
		cfg.DBPath = v
	}
	if v, ok := rawString(raw, "CASELINK_DSN"); ok {
		cfg.DSN = v
	}
	if v, ok := rawInt(raw, "CASELINK_MAX_CONNS"); ok && v > 0 {
		cfg.MaxConns = v
	}
	if v, ok := rawFloat(raw, "CASE_GROUPING_THRESHOLD"); ok && v > 0 {
		cfg.Threshold = v
	}
	if v, ok := rawInt(raw, "CASELINK_TOP_K"); ok && v > 0 {
		cfg.TopK = v
	}
	if v, ok := rawString(raw, "CASELINK_CASE_PREFIX"); ok {
		cfg.CasePrefix = v
	}
	if v, ok := rawInt(raw, "CASELINK_DIMENSION"); ok && v > 0 {
		cfg.Dimension = v
	}
	if v, ok := rawString(raw, "CASELINK_EMBED_URL"); ok {
		cfg.EmbedURL = v
	}
	if v, ok := rawString(raw, "CASELINK_EMBED_MODEL"); ok {
		cfg.EmbedModel = v
	}
	if v, ok := rawString(raw, "CASELINK_REDIS_ADDR"); ok {
		cfg.RedisAddr = v
	}
	if v, ok := rawInt(raw, "CASELINK_WORKERS"); ok && v > 0 {
		cfg.Workers = v
	}
	if v, ok := rawString(raw, "CASELINK_INDEX"); ok {
		cfg.IndexMode = v
	}
	if v, ok := rawString(raw, "CASELINK_CLASSIFICATIONS"); ok {
		if list := splitTrim(v); len(list) > 0 {
			cfg.Classifications = list
		}
	}
	if v, ok := rawString(raw, "CASELINK_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
}

func applyEnv(cfg *Config) {
	if v, ok := envInt("CASELINK_PORT"); ok && v > 0 {
		cfg.Port = v
	}
	if v := os.Getenv("CASELINK_DB_DRIVER"); v != "" {
		cfg.DBDriver = v
	}
	if v := os.Getenv("CASELINK_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CASELINK_DSN"); v != "" {
		cfg.DSN = v
	}
	if v, ok := envFloat("CASE_GROUPING_THRESHOLD"); ok && v > 0 {
		cfg.Threshold = v
	}
	if v, ok := envInt("CASELINK_TOP_K"); ok && v > 0 {
		cfg.TopK = v
	}
	if v := os.Getenv("CASELINK_CASE_PREFIX"); v != "" {
		cfg.CasePrefix = v
	}
	if v, ok := envInt("CASELINK_DIMENSION"); ok && v > 0 {
		cfg.Dimension = v
	}
	if v := os.Getenv("CASELINK_EMBED_URL"); v != "" {
		cfg.EmbedURL = v
	}
	if v := os.Getenv("CASELINK_EMBED_MODEL"); v != "" {
		cfg.EmbedModel = v
	}
	if v := os.Getenv("CASELINK_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v, ok := envInt("CASELINK_WORKERS"); ok && v > 0 {
		cfg.Workers = v
	}
	if v := os.Getenv("CASELINK_INDEX"); v != "" {
		cfg.IndexMode = v
	}
	if v := os.Getenv("CASELINK_CLASSIFICATIONS"); v != "" {
		if list := splitTrim(v); len(list) > 0 {
			cfg.Classifications = list
		}
	}
	if v := os.Getenv("CASELINK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// GetPort returns the listen port, preferring the environment over the
// cached config.
func GetPort() int {
	if v, ok := envInt("CASELINK_PORT"); ok && v > 0 {
		return v
	}
	return Get().Port
}

func rawString(raw map[string]interface{}, key string) (string, bool) {
	v, ok := raw[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func rawInt(raw map[string]interface{}, key string) (int, bool) {
	switch v := raw[key].(type) {
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func rawFloat(raw map[string]interface{}, key string) (float64, bool) {
	switch v := raw[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// splitTrim splits a comma-separated string, trimming whitespace and
// dropping empty entries.
func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
