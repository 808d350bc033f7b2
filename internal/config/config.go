package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Access modes for inbound messages.
const (
	ModeSelfChat        = "self_chat"
	ModeApprovedSenders = "approved_senders"
)

// Config holds all bridge settings. Values come from an optional TOML
// file, overridden by environment variables.
type Config struct {
	ListenAddr string `toml:"listen_addr"`

	AuthDir  string `toml:"auth_dir"`
	MockMode bool   `toml:"mock_mode"`

	AgentInboundURL string `toml:"agent_inbound_url"`
	SharedSecret    string `toml:"shared_secret"`

	AccessMode      string   `toml:"access_mode"`
	ApprovedNumbers []string `toml:"approved_numbers"`

	DatabasePath string `toml:"database_path"`
	LogPath      string `toml:"log_path"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		ListenAddr:      "127.0.0.1:3001",
		AuthDir:         "data/auth",
		AgentInboundURL: "http://127.0.0.1:8000/whatsapp/inbound",
		AccessMode:      ModeSelfChat,
		DatabasePath:    "data/state.db",
	}
}

// Load reads the TOML file at path (skipped when path is empty or the
// file is missing), applies env overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("WA_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	} else if port, ok := os.LookupEnv("WA_LISTEN_PORT"); ok {
		cfg.ListenAddr = "127.0.0.1:" + port
	}
	if v, ok := os.LookupEnv("WA_AUTH_DIR"); ok {
		cfg.AuthDir = v
	}
	if v, ok := os.LookupEnv("WA_MOCK_MODE"); ok {
		cfg.MockMode = parseBool(v)
	}
	if v, ok := os.LookupEnv("AGENT_INBOUND_URL"); ok {
		cfg.AgentInboundURL = v
	}
	if v, ok := os.LookupEnv("SIDECAR_SHARED_SECRET"); ok {
		cfg.SharedSecret = v
	}
	if v, ok := os.LookupEnv("WHATSAPP_ACCESS_MODE"); ok {
		cfg.AccessMode = v
	}
	if v, ok := os.LookupEnv("WHATSAPP_APPROVED_NUMBERS"); ok {
		cfg.ApprovedNumbers = SplitList(v)
	}
	if v, ok := os.LookupEnv("DATABASE_PATH"); ok {
		cfg.DatabasePath = v
	}
	if v, ok := os.LookupEnv("LOG_PATH"); ok {
		cfg.LogPath = v
	}
}

func (c *Config) validate() error {
	c.AccessMode = NormalizeAccessMode(c.AccessMode)
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if !c.MockMode && c.AuthDir == "" {
		return fmt.Errorf("auth_dir must not be empty")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	return nil
}

// NormalizeAccessMode folds an access-mode value to one of the two
// canonical modes. Anything unrecognized falls back to self_chat, the
// most restrictive mode.
func NormalizeAccessMode(value string) string {
	if strings.EqualFold(strings.TrimSpace(value), ModeApprovedSenders) {
		return ModeApprovedSenders
	}
	return ModeSelfChat
}

// SplitList splits a comma- or newline-separated env value into trimmed,
// non-empty parts.
func SplitList(value string) []string {
	var parts []string
	for _, part := range strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == '\n'
	}) {
		if clean := strings.TrimSpace(part); clean != "" {
			parts = append(parts, clean)
		}
	}
	return parts
}

// Save writes the config as TOML with owner-only permissions, creating
// parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false
	}
	return b
}
