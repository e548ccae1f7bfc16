package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zwire/zwire/pkg/protocol"
)

// defaultKey is the transport key clients and servers agree on out of
// band. The -key flag or ZWIRE_KEY replaces it per deployment.
const defaultKey = "84bba3a644f7eb97"

// Config holds everything the client binary needs. Precedence is config
// file < environment < flags.
type Config struct {
	// ServerAddr is the host:port to dial.
	ServerAddr string
	// Key is the 16-byte AES-128 transport key.
	Key string
	// Timeout bounds every socket read and write.
	Timeout time.Duration
	// ChunkRetries is how many times one chunk is retried before a file
	// is aborted.
	ChunkRetries int
	// BackoffBase is the first upload retry delay; it doubles per retry.
	BackoffBase time.Duration
	// Checksum toggles MD5 verification per chunk and per file.
	Checksum bool
	// Workers is the parallel directory-upload session count (1..32).
	Workers int
	// MaxPayload caps the encrypted length accepted off the wire.
	MaxPayload uint32
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
	// CheckpointDir is where resume state lives.
	CheckpointDir string
}

// fileConfig is the YAML shape of the optional config file. Durations are
// strings in time.ParseDuration syntax.
type fileConfig struct {
	ServerAddr    string `yaml:"server_addr"`
	Key           string `yaml:"key"`
	Timeout       string `yaml:"timeout"`
	ChunkRetries  *int   `yaml:"chunk_retries"`
	BackoffBase   string `yaml:"backoff_base"`
	Checksum      *bool  `yaml:"checksum"`
	Workers       *int   `yaml:"workers"`
	LogLevel      string `yaml:"log_level"`
	CheckpointDir string `yaml:"checkpoint_dir"`
}

func defaults() Config {
	return Config{
		ServerAddr:    "127.0.0.1:27015",
		Key:           defaultKey,
		Timeout:       300 * time.Second,
		ChunkRetries:  3,
		BackoffBase:   time.Second,
		Checksum:      true,
		Workers:       4,
		MaxPayload:    protocol.MaxEncryptedLength,
		LogLevel:      "info",
		CheckpointDir: ".",
	}
}

// Parse builds the client configuration from os.Args and the process
// environment. The remaining non-flag arguments come back alongside it.
func Parse(args []string) (Config, []string, error) {
	fs := flag.NewFlagSet("zwire", flag.ContinueOnError)
	return parseWithFlagSet(fs, args)
}

// parseWithFlagSet is the testable core, run against an isolated FlagSet.
func parseWithFlagSet(fs *flag.FlagSet, args []string) (Config, []string, error) {
	cfg := defaults()

	if path := configFilePath(args); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, nil, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, nil, err
	}

	fs.String("config", "", "path to a YAML config file")
	fs.StringVar(&cfg.ServerAddr, "server", cfg.ServerAddr, "server address (host:port)")
	fs.StringVar(&cfg.Key, "key", cfg.Key, "16-byte transport key")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "socket read/write timeout")
	fs.IntVar(&cfg.ChunkRetries, "chunk-retries", cfg.ChunkRetries, "retries per chunk before aborting a file")
	fs.DurationVar(&cfg.BackoffBase, "backoff", cfg.BackoffBase, "first retry delay, doubled per retry")
	fs.BoolVar(&cfg.Checksum, "checksum", cfg.Checksum, "verify MD5 checksums per chunk and per file")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "parallel sessions for directory uploads (1..32)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.CheckpointDir, "checkpoint-dir", cfg.CheckpointDir, "directory for resume state")
	if err := fs.Parse(args); err != nil {
		return Config{}, nil, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, nil, err
	}
	return cfg, fs.Args(), nil
}

func (c Config) validate() error {
	if len(c.Key) != 16 {
		return fmt.Errorf("config: key must be 16 bytes, got %d", len(c.Key))
	}
	if c.Workers < 1 || c.Workers > 32 {
		return fmt.Errorf("config: workers must be in 1..32, got %d", c.Workers)
	}
	if c.ChunkRetries < 1 {
		return fmt.Errorf("config: chunk-retries must be positive, got %d", c.ChunkRetries)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

// configFilePath finds the config file before flag parsing: the -config
// flag wins over ZWIRE_CONFIG.
func configFilePath(args []string) string {
	for i, arg := range args {
		switch {
		case arg == "-config" || arg == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(arg, "-config="):
			return strings.TrimPrefix(arg, "-config=")
		case strings.HasPrefix(arg, "--config="):
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	return os.Getenv("ZWIRE_CONFIG")
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	if fc.ServerAddr != "" {
		cfg.ServerAddr = fc.ServerAddr
	}
	if fc.Key != "" {
		cfg.Key = fc.Key
	}
	if fc.Timeout != "" {
		d, err := time.ParseDuration(fc.Timeout)
		if err != nil {
			return fmt.Errorf("config file %s: timeout: %w", path, err)
		}
		cfg.Timeout = d
	}
	if fc.ChunkRetries != nil {
		cfg.ChunkRetries = *fc.ChunkRetries
	}
	if fc.BackoffBase != "" {
		d, err := time.ParseDuration(fc.BackoffBase)
		if err != nil {
			return fmt.Errorf("config file %s: backoff_base: %w", path, err)
		}
		cfg.BackoffBase = d
	}
	if fc.Checksum != nil {
		cfg.Checksum = *fc.Checksum
	}
	if fc.Workers != nil {
		cfg.Workers = *fc.Workers
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.CheckpointDir != "" {
		cfg.CheckpointDir = fc.CheckpointDir
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("ZWIRE_SERVER"); v != "" {
		cfg.ServerAddr = v
	}
	if v := os.Getenv("ZWIRE_KEY"); v != "" {
		cfg.Key = v
	}
	if v := os.Getenv("ZWIRE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ZWIRE_TIMEOUT: %w", err)
		}
		cfg.Timeout = d
	}
	if v := os.Getenv("ZWIRE_CHUNK_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ZWIRE_CHUNK_RETRIES: %w", err)
		}
		cfg.ChunkRetries = n
	}
	if v := os.Getenv("ZWIRE_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ZWIRE_BACKOFF: %w", err)
		}
		cfg.BackoffBase = d
	}
	if v := os.Getenv("ZWIRE_CHECKSUM"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ZWIRE_CHECKSUM: %w", err)
		}
		cfg.Checksum = b
	}
	if v := os.Getenv("ZWIRE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ZWIRE_WORKERS: %w", err)
		}
		cfg.Workers = n
	}
	if v := os.Getenv("ZWIRE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ZWIRE_CHECKPOINT_DIR"); v != "" {
		cfg.CheckpointDir = v
	}
	return nil
}
