package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/user/aiderterm/internal/launch"
)

const envPrefix = "AIDERTERM"

type Config struct {
	Port        int           `envconfig:"PORT"`
	Token       string        `envconfig:"TOKEN"`
	Executable  string        `envconfig:"EXECUTABLE"`
	Model       string        `envconfig:"MODEL"`
	WorkDir     string        `envconfig:"WORK_DIR"`
	DBPath      string        `envconfig:"DB_PATH"`
	LocalBinDir string        `envconfig:"LOCAL_BIN_DIR"`
	StopGrace   time.Duration `envconfig:"STOP_GRACE"`
	LogLevel    string        `envconfig:"LOG_LEVEL"`

	ConfigPath string `ignored:"true"`
	PrintToken bool   `ignored:"true"`
}

// locator finds the config file before anything else is read.
type locator struct {
	ConfigPath string `envconfig:"CONFIG"`
}

func Load() (*Config, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs layers defaults, the config file, AIDERTERM_* environment
// variables and then args.
func LoadArgs(args []string) (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	workDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", "aiderterm")
	cfg := &Config{
		Port:       8765,
		Executable: "aider",
		WorkDir:    workDir,
		DBPath:     filepath.Join(configDir, "aiderterm.db"),
		StopGrace:  time.Second,
		LogLevel:   "info",
		ConfigPath: filepath.Join(configDir, "config"),
	}

	var loc locator
	if err := envconfig.Process(envPrefix, &loc); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if loc.ConfigPath != "" {
		cfg.ConfigPath = loc.ConfigPath
	}

	if err := cfg.loadFromFile(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	fs := flag.NewFlagSet("aiderterm", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "server port (1-65535)")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "authentication token (auto-generated if empty)")
	fs.BoolVar(&cfg.PrintToken, "print-token", false, "print token to stdout (for local debugging)")
	fs.StringVar(&cfg.Executable, "aider", cfg.Executable, "aider executable")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "model passed to aider (aider's default when empty)")
	fs.StringVar(&cfg.WorkDir, "dir", cfg.WorkDir, "working directory for aider")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "session history database")
	fs.StringVar(&cfg.LocalBinDir, "local-bin", cfg.LocalBinDir, "directory prepended to PATH for aider")
	fs.DurationVar(&cfg.StopGrace, "stop-grace", cfg.StopGrace, "how long aider gets to exit before it is killed")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Token == "" {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate token: %w", err)
		}
		cfg.Token = token
		if err := cfg.saveToFile(); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}
	if _, _, err := launch.SplitCommand(c.Executable); err != nil {
		return fmt.Errorf("invalid aider executable: %w", err)
	}
	if c.StopGrace <= 0 {
		return fmt.Errorf("invalid stop grace %s: must be positive", c.StopGrace)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Level is the configured slog level.
func (c *Config) Level() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(v string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", v, err)
	}
	return level, nil
}

func (c *Config) loadFromFile() error {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		switch key {
		case "Token":
			c.Token = value
		case "Port":
			var port int
			if _, err := fmt.Sscanf(value, "%d", &port); err != nil {
				return fmt.Errorf("invalid Port value %q: %w", value, err)
			}
			c.Port = port
		case "Executable":
			c.Executable = value
		case "Model":
			c.Model = value
		case "WorkDir":
			c.WorkDir = value
		case "DBPath":
			c.DBPath = value
		case "LocalBinDir":
			c.LocalBinDir = value
		case "StopGrace":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid StopGrace value %q: %w", value, err)
			}
			c.StopGrace = d
		case "LogLevel":
			c.LogLevel = value
		}
	}
	return nil
}

// saveToFile persists the settings a restart should keep. WorkDir is not
// saved.
func (c *Config) saveToFile() error {
	dir := filepath.Dir(c.ConfigPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Port=%d\n", c.Port)
	fmt.Fprintf(&b, "Token=%s\n", c.Token)
	fmt.Fprintf(&b, "Executable=%s\n", c.Executable)
	if c.Model != "" {
		fmt.Fprintf(&b, "Model=%s\n", c.Model)
	}
	if c.LocalBinDir != "" {
		fmt.Fprintf(&b, "LocalBinDir=%s\n", c.LocalBinDir)
	}
	return os.WriteFile(c.ConfigPath, []byte(b.String()), 0600)
}

func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
