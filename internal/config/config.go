// Package config loads and validates the daemon's configuration document:
// defaults, then a user/project YAML file, then environment overrides, then
// validation, mirroring the layering order the capture daemon expects at
// startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration.
type Config struct {
	Storage   StorageConfig            `yaml:"storage" json:"storage"`
	Capture   CaptureConfig            `yaml:"capture" json:"capture"`
	Daemon    DaemonConfig             `yaml:"daemon" json:"daemon"`
	Patterns  PatternsConfig           `yaml:"patterns" json:"patterns"`
	Embedding EmbeddingConfig          `yaml:"embedding" json:"embedding"`
	LLM       LLMConfig                `yaml:"llm" json:"llm"`
	Indexing  IndexingConfig           `yaml:"indexing" json:"indexing"`
	Profiles  map[string]ProfileConfig `yaml:"profiles" json:"profiles"`
}

// StorageConfig configures the blob store and catalog database.
type StorageConfig struct {
	// DataDir is the root directory for the catalog database and blob
	// store. Default: ~/.shadowlog
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// CompressionThreshold is the minimum blob size, as a size string
	// (e.g. "4KB"), before zstd compression is applied on write.
	CompressionThreshold string `yaml:"compression_threshold" json:"compression_threshold"`

	// SQLiteCacheMB is the SQLite page cache size in MB for the catalog
	// database. It is loaded and merged like the other fields, but
	// catalog.Open takes no cache setting, so the catalog runs with
	// SQLite's default page cache whatever this is set to.
	SQLiteCacheMB int `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
}

// CaptureConfig configures the ingestion pipeline's queue and batching,
// matching internal/ingest.Config.
type CaptureConfig struct {
	// QueueCapacity bounds the number of pending capture events before
	// Ingest blocks.
	QueueCapacity int `yaml:"queue_capacity" json:"queue_capacity"`

	// BatchSize flushes pending captures once this many have queued,
	// without waiting for FlushInterval.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// FlushInterval is a duration string (e.g. "5s") for the timer-based
	// flush backstop.
	FlushInterval string `yaml:"flush_interval" json:"flush_interval"`
}

// DaemonConfig configures the supervisor process, matching
// internal/daemon.Config.
type DaemonConfig struct {
	// SocketPath is the Unix domain socket path for IPC.
	SocketPath string `yaml:"socket_path" json:"socket_path"`

	// PIDPath is the file path for the daemon's PID file.
	PIDPath string `yaml:"pid_path" json:"pid_path"`

	// Timeout is a duration string for client-daemon IPC calls.
	Timeout string `yaml:"timeout" json:"timeout"`

	// ShutdownGracePeriod is a duration string for how long Stop waits
	// before escalating to forcible termination.
	ShutdownGracePeriod string `yaml:"shutdown_grace_period" json:"shutdown_grace_period"`

	// AutoStart is copied into the daemon's configuration, but no command
	// reads it: a CLI command that finds no running daemon does not start
	// one, whatever this is set to.
	AutoStart bool `yaml:"auto_start" json:"auto_start"`
}

// PatternsConfig points at the YAML pattern documents compiled into the
// registry (internal/patterns.LoadFromFiles).
type PatternsConfig struct {
	EntitiesPath string `yaml:"entities_path" json:"entities_path"`
	ToolsPath    string `yaml:"tools_path" json:"tools_path"`
	FiltersPath  string `yaml:"filters_path" json:"filters_path"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Mode selects the embedding backend: "offline" (local Ollama model,
	// the only mode currently implemented) or "online" (a hosted
	// embedding API, reserved for a future provider).
	Mode string `yaml:"mode" json:"mode"`

	Model      string `yaml:"model" json:"model"`
	Host       string `yaml:"host" json:"host"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`

	// Timeout is a duration string for a single embedding call.
	Timeout string `yaml:"timeout" json:"timeout"`
}

// LLMConfig configures the optional LLM-backed contextual chunk
// description generator.
type LLMConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Model   string `yaml:"model" json:"model"`
	Host    string `yaml:"host" json:"host"`

	// Timeout is a duration string for a single generation call.
	Timeout string `yaml:"timeout" json:"timeout"`
}

// IndexingConfig configures the keyword and vector indices.
type IndexingConfig struct {
	// KeywordBackend selects the BM25 index backend: "sqlite" (default,
	// concurrent multi-process access via FTS5/WAL) or "bleve".
	KeywordBackend string `yaml:"keyword_backend" json:"keyword_backend"`

	// VectorDimensions must match the embedding model's output
	// dimension.
	VectorDimensions int `yaml:"vector_dimensions" json:"vector_dimensions"`

	// EfConstruction is the HNSW build-time candidate pool size.
	EfConstruction int `yaml:"ef_construction" json:"ef_construction"`

	// M is the HNSW per-node edge budget.
	M int `yaml:"m" json:"m"`

	// EfSearch is the HNSW query-time candidate pool size.
	EfSearch int `yaml:"ef_search" json:"ef_search"`

	// RRFConstant is the rank-fusion smoothing parameter (k) used to
	// combine keyword and vector result rankings.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	MaxResults int `yaml:"max_results" json:"max_results"`
}

// ProfileConfig overrides a select subset of fields, named and selected at
// daemon startup (e.g. a "quiet" profile disabling the LLM, or an "online"
// profile switching the embedding mode). Only the embedding mode/model and
// the LLM enable flag/model can be overridden by a profile.
type ProfileConfig struct {
	EmbeddingMode  string `yaml:"embedding_mode" json:"embedding_mode"`
	EmbeddingModel string `yaml:"embedding_model" json:"embedding_model"`
	LLMEnabled     *bool  `yaml:"llm_enabled" json:"llm_enabled"`
	LLMModel       string `yaml:"llm_model" json:"llm_model"`
}

// NewConfig creates a Config populated with sensible defaults.
func NewConfig() *Config {
	dataDir := defaultDataDir()

	return &Config{
		Storage: StorageConfig{
			DataDir:              dataDir,
			CompressionThreshold: "4KB",
			SQLiteCacheMB:        64,
		},
		Capture: CaptureConfig{
			QueueCapacity: 1000,
			BatchSize:     100,
			FlushInterval: "5s",
		},
		Daemon: DaemonConfig{
			SocketPath:          filepath.Join(dataDir, "daemon.sock"),
			PIDPath:             filepath.Join(dataDir, "daemon.pid"),
			Timeout:             "30s",
			ShutdownGracePeriod: "10s",
			AutoStart:           false,
		},
		Patterns: PatternsConfig{
			EntitiesPath: filepath.Join(dataDir, "patterns", "entities.yaml"),
			ToolsPath:    filepath.Join(dataDir, "patterns", "tools.yaml"),
			FiltersPath:  filepath.Join(dataDir, "patterns", "filters.yaml"),
		},
		Embedding: EmbeddingConfig{
			Mode:       "offline",
			Model:      "nomic-embed-text",
			Host:       "http://localhost:11434",
			Dimensions: 0, // auto-detect from the embedder
			BatchSize:  32,
			Timeout:    "60s",
		},
		LLM: LLMConfig{
			Enabled: true,
			Model:   "qwen3:0.6b",
			Host:    "http://localhost:11434",
			Timeout: "5s",
		},
		Indexing: IndexingConfig{
			KeywordBackend:   "sqlite",
			VectorDimensions: 0, // auto-detect from the embedder
			EfConstruction:   200,
			M:                16,
			EfSearch:         20,
			RRFConstant:      60,
			MaxResults:       20,
		},
		Profiles: map[string]ProfileConfig{},
	}
}

// defaultDataDir returns the default data directory, ~/.shadowlog.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".shadowlog")
	}
	return filepath.Join(home, ".shadowlog")
}

// GetUserConfigPath returns the path to the user/global configuration
// file, following the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/shadowlog/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/shadowlog/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "shadowlog", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "shadowlog", "config.yaml")
	}
	return filepath.Join(home, ".config", "shadowlog", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns a nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration from the specified directory, applying
// precedence in increasing order:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/shadowlog/config.yaml)
//  3. Project config (.shadowlog.yaml in dir)
//  4. Environment variables (SHADOWLOG_*)
//
// profile, if non-empty, is applied after the file layers and before env
// overrides, matching the documented SHADOWLOG_PROFILE precedence.
func Load(dir, profile string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	if profile == "" {
		profile = os.Getenv("SHADOWLOG_PROFILE")
	}
	if profile != "" {
		if err := cfg.applyProfile(profile); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .shadowlog.yaml or
// .shadowlog.yml in dir.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".shadowlog.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".shadowlog.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)

	// mergeWith skips false booleans, so llm.enabled is applied here
	// whenever the file sets it, including an explicit false.
	var explicit struct {
		LLM struct {
			Enabled *bool `yaml:"enabled"`
		} `yaml:"llm"`
	}
	if err := yaml.Unmarshal(data, &explicit); err == nil && explicit.LLM.Enabled != nil {
		c.LLM.Enabled = *explicit.LLM.Enabled
	}
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Storage.DataDir != "" {
		c.Storage.DataDir = other.Storage.DataDir
	}
	if other.Storage.CompressionThreshold != "" {
		c.Storage.CompressionThreshold = other.Storage.CompressionThreshold
	}
	if other.Storage.SQLiteCacheMB != 0 {
		c.Storage.SQLiteCacheMB = other.Storage.SQLiteCacheMB
	}

	if other.Capture.QueueCapacity != 0 {
		c.Capture.QueueCapacity = other.Capture.QueueCapacity
	}
	if other.Capture.BatchSize != 0 {
		c.Capture.BatchSize = other.Capture.BatchSize
	}
	if other.Capture.FlushInterval != "" {
		c.Capture.FlushInterval = other.Capture.FlushInterval
	}

	if other.Daemon.SocketPath != "" {
		c.Daemon.SocketPath = other.Daemon.SocketPath
	}
	if other.Daemon.PIDPath != "" {
		c.Daemon.PIDPath = other.Daemon.PIDPath
	}
	if other.Daemon.Timeout != "" {
		c.Daemon.Timeout = other.Daemon.Timeout
	}
	if other.Daemon.ShutdownGracePeriod != "" {
		c.Daemon.ShutdownGracePeriod = other.Daemon.ShutdownGracePeriod
	}
	if other.Daemon.AutoStart {
		c.Daemon.AutoStart = other.Daemon.AutoStart
	}

	if other.Patterns.EntitiesPath != "" {
		c.Patterns.EntitiesPath = other.Patterns.EntitiesPath
	}
	if other.Patterns.ToolsPath != "" {
		c.Patterns.ToolsPath = other.Patterns.ToolsPath
	}
	if other.Patterns.FiltersPath != "" {
		c.Patterns.FiltersPath = other.Patterns.FiltersPath
	}

	if other.Embedding.Mode != "" {
		c.Embedding.Mode = other.Embedding.Mode
	}
	if other.Embedding.Model != "" {
		c.Embedding.Model = other.Embedding.Model
	}
	if other.Embedding.Host != "" {
		c.Embedding.Host = other.Embedding.Host
	}
	if other.Embedding.Dimensions != 0 {
		c.Embedding.Dimensions = other.Embedding.Dimensions
	}
	if other.Embedding.BatchSize != 0 {
		c.Embedding.BatchSize = other.Embedding.BatchSize
	}
	if other.Embedding.Timeout != "" {
		c.Embedding.Timeout = other.Embedding.Timeout
	}

	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.Host != "" {
		c.LLM.Host = other.LLM.Host
	}
	if other.LLM.Timeout != "" {
		c.LLM.Timeout = other.LLM.Timeout
	}

	if other.Indexing.KeywordBackend != "" {
		c.Indexing.KeywordBackend = other.Indexing.KeywordBackend
	}
	if other.Indexing.VectorDimensions != 0 {
		c.Indexing.VectorDimensions = other.Indexing.VectorDimensions
	}
	if other.Indexing.EfConstruction != 0 {
		c.Indexing.EfConstruction = other.Indexing.EfConstruction
	}
	if other.Indexing.M != 0 {
		c.Indexing.M = other.Indexing.M
	}
	if other.Indexing.EfSearch != 0 {
		c.Indexing.EfSearch = other.Indexing.EfSearch
	}
	if other.Indexing.RRFConstant != 0 {
		c.Indexing.RRFConstant = other.Indexing.RRFConstant
	}
	if other.Indexing.MaxResults != 0 {
		c.Indexing.MaxResults = other.Indexing.MaxResults
	}

	for name, p := range other.Profiles {
		if c.Profiles == nil {
			c.Profiles = map[string]ProfileConfig{}
		}
		c.Profiles[name] = p
	}
}

// applyProfile overrides the select fields a named profile documents.
func (c *Config) applyProfile(name string) error {
	p, ok := c.Profiles[name]
	if !ok {
		return fmt.Errorf("unknown profile %q", name)
	}
	if p.EmbeddingMode != "" {
		c.Embedding.Mode = p.EmbeddingMode
	}
	if p.EmbeddingModel != "" {
		c.Embedding.Model = p.EmbeddingModel
	}
	if p.LLMEnabled != nil {
		c.LLM.Enabled = *p.LLMEnabled
	}
	if p.LLMModel != "" {
		c.LLM.Model = p.LLMModel
	}
	return nil
}

// applyEnvOverrides applies SHADOWLOG_<SECTION>__<KEY> environment
// variable overrides. Only the subset documented as overridable is
// covered: LLM enable/model, embedding mode/model.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SHADOWLOG_LLM__ENABLED"); v != "" {
		c.LLM.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("SHADOWLOG_LLM__MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("SHADOWLOG_EMBEDDING__MODE"); v != "" {
		c.Embedding.Mode = v
	}
	if v := os.Getenv("SHADOWLOG_EMBEDDING__MODEL"); v != "" {
		c.Embedding.Model = v
	}

	// Additional overrides beyond the documented subset, following the
	// same SECTION__KEY convention.
	if v := os.Getenv("SHADOWLOG_STORAGE__DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("SHADOWLOG_DAEMON__SOCKET_PATH"); v != "" {
		c.Daemon.SocketPath = v
	}
	if v := os.Getenv("SHADOWLOG_INDEXING__KEYWORD_BACKEND"); v != "" {
		c.Indexing.KeywordBackend = v
	}
	if v := os.Getenv("SHADOWLOG_INDEXING__RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Indexing.RRFConstant = k
		}
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must not be empty")
	}
	if _, err := parseSize(c.Storage.CompressionThreshold); err != nil {
		return fmt.Errorf("storage.compression_threshold: %w", err)
	}

	if c.Capture.QueueCapacity <= 0 {
		return fmt.Errorf("capture.queue_capacity must be positive, got %d", c.Capture.QueueCapacity)
	}
	if c.Capture.BatchSize <= 0 {
		return fmt.Errorf("capture.batch_size must be positive, got %d", c.Capture.BatchSize)
	}
	if _, err := time.ParseDuration(c.Capture.FlushInterval); err != nil {
		return fmt.Errorf("capture.flush_interval: %w", err)
	}

	if c.Daemon.SocketPath == "" {
		return fmt.Errorf("daemon.socket_path must not be empty")
	}
	if c.Daemon.PIDPath == "" {
		return fmt.Errorf("daemon.pid_path must not be empty")
	}
	if _, err := time.ParseDuration(c.Daemon.Timeout); err != nil {
		return fmt.Errorf("daemon.timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Daemon.ShutdownGracePeriod); err != nil {
		return fmt.Errorf("daemon.shutdown_grace_period: %w", err)
	}

	validModes := map[string]bool{"offline": true, "online": true}
	if !validModes[strings.ToLower(c.Embedding.Mode)] {
		return fmt.Errorf("embedding.mode must be 'offline' or 'online', got %s", c.Embedding.Mode)
	}
	if _, err := time.ParseDuration(c.Embedding.Timeout); err != nil {
		return fmt.Errorf("embedding.timeout: %w", err)
	}

	if _, err := time.ParseDuration(c.LLM.Timeout); err != nil {
		return fmt.Errorf("llm.timeout: %w", err)
	}

	validBackends := map[string]bool{"sqlite": true, "bleve": true}
	if !validBackends[strings.ToLower(c.Indexing.KeywordBackend)] {
		return fmt.Errorf("indexing.keyword_backend must be 'sqlite' or 'bleve', got %s", c.Indexing.KeywordBackend)
	}
	if c.Indexing.MaxResults < 0 {
		return fmt.Errorf("indexing.max_results must be non-negative, got %d", c.Indexing.MaxResults)
	}
	if c.Indexing.RRFConstant <= 0 {
		return fmt.Errorf("indexing.rrf_constant must be positive, got %d", c.Indexing.RRFConstant)
	}

	for name, p := range c.Profiles {
		if p.EmbeddingMode != "" && !validModes[strings.ToLower(p.EmbeddingMode)] {
			return fmt.Errorf("profiles.%s.embedding_mode must be 'offline' or 'online', got %s", name, p.EmbeddingMode)
		}
	}

	return nil
}

// parseSize parses a size string like "4KB", "10MB", or a bare byte count
// into bytes.
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("size must not be empty")
	}

	units := []struct {
		suffix string
		mult   int64
	}{
		{"KB", 1024},
		{"MB", 1024 * 1024},
		{"GB", 1024 * 1024 * 1024},
	}

	upper := strings.ToUpper(s)
	for _, u := range units {
		if strings.HasSuffix(upper, u.suffix) {
			numPart := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size %q: %w", s, err)
			}
			return int64(n * float64(u.mult)), nil
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n, nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadUserConfig loads the user configuration file. Returns a nil config
// and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// CompressionThresholdBytes resolves Storage.CompressionThreshold to a
// byte count, for wiring into blobstore.New.
func (c *Config) CompressionThresholdBytes() (int, error) {
	n, err := parseSize(c.Storage.CompressionThreshold)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// FindProjectRoot finds the project root directory by walking up from
// startDir looking for a .git directory or a .shadowlog.yaml/.yml file.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, ".shadowlog.yaml")) ||
			fileExists(filepath.Join(currentDir, ".shadowlog.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
