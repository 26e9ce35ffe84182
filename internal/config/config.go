package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	Discord       struct {
		Token                 string `json:"token"`
		GatewayURL            string `json:"gateway_url"`
		APIBaseURL            string `json:"api_base_url"`
		Intents               int64  `json:"intents"`
		OS                    string `json:"os"`
		Browser               string `json:"browser"`
		Device                string `json:"device"`
		ConnectTimeoutSeconds int    `json:"connect_timeout_seconds"`
		RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
	} `json:"discord"`
	Reconnect struct {
		MaxAttempts    int     `json:"max_attempts"`
		InitialDelayMs int     `json:"initial_delay_ms"`
		MaxDelayMs     int     `json:"max_delay_ms"`
		Multiplier     float64 `json:"multiplier"`
	} `json:"reconnect"`
	Kudos struct {
		Enabled  bool     `json:"enabled"`
		Keywords []string `json:"keywords"`
		Emoji    string   `json:"emoji"`
	} `json:"kudos"`
	Ledger struct {
		URL    string `json:"url"`
		APIKey string `json:"api_key"`
	} `json:"ledger"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
}

// DefaultPath returns ~/.blimp/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".blimp", "config.json")
}

func defaults() *Config {
	cfg := &Config{
		LogLevel:      "info",
		MaxConcurrent: 4,
	}
	cfg.Discord.GatewayURL = "wss://gateway.discord.gg/?v=8&encoding=json"
	cfg.Discord.APIBaseURL = "https://discord.com/api/v7"
	cfg.Discord.Intents = 1 << 9
	cfg.Discord.OS = "linux"
	cfg.Discord.Browser = "blimp"
	cfg.Discord.Device = "blimp"
	cfg.Discord.RequestTimeoutSeconds = 30
	cfg.Reconnect.Multiplier = 2
	cfg.Kudos.Enabled = true
	cfg.Kudos.Keywords = []string{"thank", "++"}
	cfg.Kudos.Emoji = "<:codecoin:822216270971404358>"
	cfg.HTTP.Listen = "127.0.0.1:8787"
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if token := os.Getenv("DISCORD_BOT_TOKEN"); token != "" {
		cfg.Discord.Token = token
	}
	if apiKey := os.Getenv("BLIMP_LEDGER_API_KEY"); apiKey != "" {
		cfg.Ledger.APIKey = apiKey
	}
	if url := os.Getenv("BLIMP_LEDGER_URL"); url != "" {
		cfg.Ledger.URL = url
	}
	if level := os.Getenv("BLIMP_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	return cfg, nil
}

// Validate reports configuration that would keep the bot from connecting.
func (c *Config) Validate() error {
	var problems []string
	if c.Discord.Token == "" {
		problems = append(problems, "discord.token is required (or set DISCORD_BOT_TOKEN)")
	}
	if c.Discord.GatewayURL == "" {
		problems = append(problems, "discord.gateway_url is required")
	}
	if c.Kudos.Enabled && c.Ledger.URL == "" {
		problems = append(problems, "ledger.url is required when kudos are enabled")
	}
	if c.Reconnect.MaxAttempts < 0 || c.Reconnect.InitialDelayMs < 0 || c.Reconnect.MaxDelayMs < 0 {
		problems = append(problems, "reconnect values must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Discord.ConnectTimeoutSeconds) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Discord.RequestTimeoutSeconds) * time.Second
}

func writeDefaults(path string, cfg *Config) error {
	if err := Save(path, cfg); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

// Save writes cfg to path atomically, creating the parent directory.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	// the file holds the bot token
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to its nested JSON map form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns cfg as a flat map of dot-separated keys, optionally
// with secrets masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return m, nil
}

// GetValue returns the value stored under a dot-separated key in the config
// file, creating the file with defaults when it does not exist.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under a dot-separated key in an existing config
// file. Values that parse as JSON (numbers, booleans, arrays) are stored
// typed; anything else is stored as a string.
func SetValue(path, key, value string) error {
	m, err := readRaw(path)
	if err != nil {
		return err
	}

	var typed any
	if err := json.Unmarshal([]byte(value), &typed); err != nil {
		typed = value
	}

	flat := Flatten(m)
	flat[key] = typed
	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}
