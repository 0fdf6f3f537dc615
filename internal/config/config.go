package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Engine kinds.
const (
	EngineLlama = "llama"
	EngineHTTP  = "http"
)

// Output parser names.
const (
	OutputClean = "clean"
	OutputEcho  = "echo"
)

// Config holds application configuration.
type Config struct {
	Port      int            `toml:"port" yaml:"port"`
	DBPath    string         `toml:"db" yaml:"db"`
	StaticDir string         `toml:"static_dir" yaml:"static_dir"`
	Log       LogConfig      `toml:"log" yaml:"log"`
	Auth      AuthConfig     `toml:"auth" yaml:"auth"`
	Queue     QueueConfig    `toml:"queue" yaml:"queue"`
	Engine    EngineConfig   `toml:"engine" yaml:"engine"`
	Language  LanguageConfig `toml:"language" yaml:"language"`
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// AuthConfig controls bearer tokens. An empty secret is replaced by a random
// one at startup, which invalidates tokens across restarts.
type AuthConfig struct {
	JWTSecret      string        `toml:"jwt_secret" yaml:"jwt_secret"`
	TokenTTL       time.Duration `toml:"token_ttl" yaml:"token_ttl"`
	RequireWSToken bool          `toml:"require_ws_token" yaml:"require_ws_token"`
}

// QueueConfig tunes the job processor.
type QueueConfig struct {
	MinTextLength int           `toml:"min_text_length" yaml:"min_text_length"`
	SnippetLength int           `toml:"snippet_length" yaml:"snippet_length"`
	JobTimeout    time.Duration `toml:"job_timeout" yaml:"job_timeout"`
}

// EngineConfig describes the inference engine.
// Args support {model}, {prompt_file}, {threads} and {max_tokens} placeholders.
type EngineConfig struct {
	Kind           string           `toml:"kind" yaml:"kind"`
	Command        string           `toml:"command" yaml:"command"`
	Args           []string         `toml:"args" yaml:"args"`
	Model          string           `toml:"model" yaml:"model"`
	Threads        int              `toml:"threads" yaml:"threads"`
	MaxTokens      int              `toml:"max_tokens" yaml:"max_tokens"`
	MaxPromptChars int              `toml:"max_prompt_chars" yaml:"max_prompt_chars"`
	Output         string           `toml:"output" yaml:"output"`
	Progress       []ProgressMarker `toml:"progress" yaml:"progress"`

	Endpoint string        `toml:"endpoint" yaml:"endpoint"`
	APIKey   string        `toml:"api_key" yaml:"api_key"`
	Timeout  time.Duration `toml:"timeout" yaml:"timeout"`

	// ServePort is used by the ai-server command.
	ServePort int `toml:"serve_port" yaml:"serve_port"`
}

// ProgressMarker maps a substring of engine diagnostics to a completion percentage.
type ProgressMarker struct {
	Match   string `toml:"match" yaml:"match"`
	Percent int    `toml:"percent" yaml:"percent"`
}

// LanguageConfig enables language tagging of summaries.
type LanguageConfig struct {
	Enabled   bool     `toml:"enabled" yaml:"enabled"`
	Languages []string `toml:"languages" yaml:"languages"`
}

// DefaultDBPath returns the default database path using XDG_DATA_HOME.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "skim", "skim.db")
}

// DefaultLlamaArgs are the llama-cli arguments for a one-shot completion
// that prints only the generated text on stdout.
func DefaultLlamaArgs() []string {
	return []string{
		"-m", "{model}",
		"-f", "{prompt_file}",
		"-n", "{max_tokens}",
		"-t", "{threads}",
		"--temp", "0.2",
		"--no-display-prompt",
		"-no-cnv",
	}
}

// DefaultProgressMarkers match the loading stages llama.cpp logs on stderr.
func DefaultProgressMarkers() []ProgressMarker {
	return []ProgressMarker{
		{Match: "llama_model_loader", Percent: 10},
		{Match: "load_tensors", Percent: 20},
		{Match: "llama_context", Percent: 35},
		{Match: "system_info", Percent: 45},
		{Match: "sampler", Percent: 50},
		{Match: "generate:", Percent: 60},
		{Match: "llama_perf", Percent: 95},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:   3000,
		DBPath: DefaultDBPath(),
		Log:    LogConfig{Level: "info", Format: "text"},
		Auth:   AuthConfig{TokenTTL: 24 * time.Hour},
		Queue: QueueConfig{
			MinTextLength: 150,
			SnippetLength: 500,
			JobTimeout:    5 * time.Minute,
		},
		Engine: EngineConfig{
			Kind:           EngineLlama,
			Command:        "llama-cli",
			Args:           DefaultLlamaArgs(),
			Threads:        4,
			MaxTokens:      256,
			MaxPromptChars: 4000,
			Output:         OutputClean,
			Progress:       DefaultProgressMarkers(),
			Timeout:        2 * time.Minute,
			ServePort:      4000,
		},
		Language: LanguageConfig{
			Languages: []string{"english", "german", "french", "spanish", "italian", "portuguese", "dutch"},
		},
	}
}

// Load builds Config from defaults, an optional TOML or YAML file and environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(ExpandPath(path)); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	cfg.DBPath = ExpandPath(cfg.DBPath)
	cfg.StaticDir = ExpandPath(cfg.StaticDir)
	cfg.Engine.Model = ExpandPath(cfg.Engine.Model)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(raw), c); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, c); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

func (c *Config) applyEnv() {
	if port := os.Getenv("SKIM_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Port = p
		}
	}
	if db := os.Getenv("SKIM_DB"); db != "" {
		c.DBPath = db
	}
	if dir := os.Getenv("SKIM_STATIC_DIR"); dir != "" {
		c.StaticDir = dir
	}
	if level := os.Getenv("SKIM_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if secret := os.Getenv("SKIM_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if n := os.Getenv("SKIM_MIN_TEXT_LENGTH"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			c.Queue.MinTextLength = v
		}
	}
	if d := os.Getenv("SKIM_JOB_TIMEOUT"); d != "" {
		if v, err := time.ParseDuration(d); err == nil {
			c.Queue.JobTimeout = v
		}
	}
	if kind := os.Getenv("SKIM_ENGINE"); kind != "" {
		c.Engine.Kind = kind
	}
	if cmd := os.Getenv("SKIM_ENGINE_COMMAND"); cmd != "" {
		c.Engine.Command = cmd
	}
	if model := os.Getenv("SKIM_MODEL"); model != "" {
		c.Engine.Model = model
	}
	if endpoint := os.Getenv("SKIM_ENGINE_ENDPOINT"); endpoint != "" {
		c.Engine.Endpoint = endpoint
	}
	if key := os.Getenv("SKIM_ENGINE_API_KEY"); key != "" {
		c.Engine.APIKey = key
	}
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Queue.MinTextLength < 0 {
		return fmt.Errorf("min_text_length must not be negative")
	}
	if c.Queue.JobTimeout < 0 {
		return fmt.Errorf("job_timeout must not be negative")
	}
	switch c.Engine.Kind {
	case EngineLlama:
		if c.Engine.Command == "" {
			return fmt.Errorf("engine command is required for kind %q", EngineLlama)
		}
	case EngineHTTP:
		if c.Engine.Endpoint == "" {
			return fmt.Errorf("engine endpoint is required for kind %q", EngineHTTP)
		}
	default:
		return fmt.Errorf("unknown engine kind %q", c.Engine.Kind)
	}
	switch c.Engine.Output {
	case OutputClean, OutputEcho:
	default:
		return fmt.Errorf("unknown engine output parser %q", c.Engine.Output)
	}
	return nil
}

// ExpandPath expands a leading ~ to the home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
