// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/chatlink/internal/model"
	"github.com/jeranaias/chatlink/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete chatlink configuration.
type Config struct {
	// Assistant stream
	Stream StreamConfig `toml:"stream" json:"stream"`

	// Human operator channel
	Operator OperatorConfig `toml:"operator" json:"operator"`

	// Session persistence
	Store StoreConfig `toml:"store" json:"store"`

	// Session behavior
	Session SessionConfig `toml:"session" json:"session"`

	// Logging
	Log LogConfig `toml:"log" json:"log"`

	// UI configuration
	UI UIConfig `toml:"ui" json:"ui"`
}

// StreamConfig configures the assistant stream relay.
type StreamConfig struct {
	// URL is the event-stream endpoint; prompt, sessionId and lang are added
	// as query parameters.
	URL string `toml:"url" json:"url"`
	// Origin is loaded by the relay before any stream is opened
	Origin string `toml:"origin" json:"origin"`
	// UserAgent presented by the relay
	UserAgent string `toml:"user_agent" json:"user_agent"`
	// Relay selects the rendering context: "browser" or "http"
	Relay string `toml:"relay" json:"relay"`
	// IdleTimeout ends a stream that stays silent this long
	IdleTimeout Duration `toml:"idle_timeout" json:"idle_timeout"`
	// LoadTimeout bounds loading the origin
	LoadTimeout Duration `toml:"load_timeout" json:"load_timeout"`
	// Headless runs the browser relay without a window
	Headless bool `toml:"headless" json:"headless"`
	// BrowserPath overrides Chrome discovery
	BrowserPath string `toml:"browser_path" json:"browser_path,omitempty"`
}

// OperatorConfig configures the STOMP operator channel.
type OperatorConfig struct {
	// URL is the STOMP-over-websocket endpoint
	URL string `toml:"url" json:"url"`
	// HeartbeatMs is offered in both directions (0 disables heart-beats)
	HeartbeatMs int `toml:"heartbeat_ms" json:"heartbeat_ms"`
	// TopicPrefix + session id is the inbound topic
	TopicPrefix string `toml:"topic_prefix" json:"topic_prefix"`
	// Destination receives outbound envelopes
	Destination string `toml:"destination" json:"destination"`
	// DialTimeout bounds the websocket handshake
	DialTimeout Duration `toml:"dial_timeout" json:"dial_timeout"`
}

// StoreConfig selects the session persistence backend.
type StoreConfig struct {
	// Backend is one of "file", "sqlite", "redis", "memory"
	Backend string `toml:"backend" json:"backend"`
	// Dir holds the file backend (empty = ~/.chatlink/store)
	Dir string `toml:"dir" json:"dir"`
	// SQLitePath is the sqlite database (empty = ~/.chatlink/chatlink.db)
	SQLitePath string `toml:"sqlite_path" json:"sqlite_path"`
	// Redis connection
	RedisAddr   string `toml:"redis_addr" json:"redis_addr"`
	RedisDB     int    `toml:"redis_db" json:"redis_db"`
	RedisPrefix string `toml:"redis_prefix" json:"redis_prefix"`
	// ArchiveDir keeps ended sessions (empty = ~/.chatlink/archive)
	ArchiveDir string `toml:"archive_dir" json:"archive_dir"`
	// MaxArchived limits archived sessions (0 = unlimited)
	MaxArchived int `toml:"max_archived" json:"max_archived"`
}

// SessionConfig controls session lifecycle.
type SessionConfig struct {
	// RequireLanguage makes a fresh session wait for a language choice
	RequireLanguage bool `toml:"require_language" json:"require_language"`
	// DefaultLang is used when a language is not required: "ro", "en", "hu"
	DefaultLang string `toml:"default_lang" json:"default_lang"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error"
	Level string `toml:"level" json:"level"`
	// Format is "text" or "json"
	Format string `toml:"format" json:"format"`
	// File receives log output (empty = ~/.chatlink/chatlink.log, "-" = stderr)
	File string `toml:"file" json:"file"`
}

// UIConfig contains UI configuration.
type UIConfig struct {
	// NoColor disables colors (also set by NO_COLOR)
	NoColor bool `toml:"no_color" json:"no_color"`
	// Markdown renders assistant messages as markdown
	Markdown bool `toml:"markdown" json:"markdown"`
}

// =============================================================================
// DURATION
// =============================================================================

// Duration is a time.Duration written as a string ("90s") in both TOML and
// JSON.
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Bare integers are
// seconds.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if n, err := strconv.Atoi(s); err == nil {
		d.Duration = time.Duration(n) * time.Second
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default service endpoints.
const (
	DefaultStreamURL   = "https://ai.chatbot.zaha.tech/chatbot-ai/stream-assistant"
	DefaultOrigin      = "https://ai.chatbot.zaha.tech/"
	DefaultOperatorURL = "wss://ai.chatbot.zaha.tech/chatbot-ai/ws"
	DefaultUserAgent   = "Mozilla/5.0 (iPhone; CPU iPhone OS 18_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.5 Mobile/15E148 Safari/604.1"
)

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Stream: StreamConfig{
			URL:         DefaultStreamURL,
			Origin:      DefaultOrigin,
			UserAgent:   DefaultUserAgent,
			Relay:       "browser",
			IdleTimeout: Duration{90 * time.Second},
			LoadTimeout: Duration{30 * time.Second},
			Headless:    true,
		},

		Operator: OperatorConfig{
			URL:         DefaultOperatorURL,
			HeartbeatMs: 4000,
			TopicPrefix: "/topic/chat/",
			Destination: "/app/chat.userMessage",
			DialTimeout: Duration{10 * time.Second},
		},

		Store: StoreConfig{
			Backend:     "file",
			RedisAddr:   "127.0.0.1:6379",
			RedisPrefix: "chatlink:",
			MaxArchived: 50,
		},

		Session: SessionConfig{
			RequireLanguage: true,
			DefaultLang:     string(model.LangEN),
		},

		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},

		UI: UIConfig{
			Markdown: true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the chatlink configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".chatlink"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions tightens config files to 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	if path, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}
	if path, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path with full
// validation. Files ending in .json are JSON, anything else is TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %v\n", path, undecoded)
	}
	return fillDefaults(cfg)
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return fillDefaults(cfg)
}

// fillDefaults restores defaults for values a file blanked out.
func fillDefaults(cfg *Config) error {
	defaults := Default()

	if cfg.Stream.URL == "" {
		cfg.Stream.URL = defaults.Stream.URL
	}
	if cfg.Stream.UserAgent == "" {
		cfg.Stream.UserAgent = defaults.Stream.UserAgent
	}
	if cfg.Stream.Relay == "" {
		cfg.Stream.Relay = defaults.Stream.Relay
	}
	if cfg.Stream.IdleTimeout.Duration == 0 {
		cfg.Stream.IdleTimeout = defaults.Stream.IdleTimeout
	}
	if cfg.Stream.LoadTimeout.Duration == 0 {
		cfg.Stream.LoadTimeout = defaults.Stream.LoadTimeout
	}

	if cfg.Operator.URL == "" {
		cfg.Operator.URL = defaults.Operator.URL
	}
	if cfg.Operator.TopicPrefix == "" {
		cfg.Operator.TopicPrefix = defaults.Operator.TopicPrefix
	}
	if cfg.Operator.Destination == "" {
		cfg.Operator.Destination = defaults.Operator.Destination
	}
	if cfg.Operator.DialTimeout.Duration == 0 {
		cfg.Operator.DialTimeout = defaults.Operator.DialTimeout
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = defaults.Store.Backend
	}
	if cfg.Store.RedisPrefix == "" {
		cfg.Store.RedisPrefix = defaults.Store.RedisPrefix
	}

	if cfg.Session.DefaultLang == "" {
		cfg.Session.DefaultLang = defaults.Session.DefaultLang
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
	return nil
}

// Resolve fills path settings that default to locations under ConfigDir.
func (c *Config) Resolve() error {
	if c.Store.Dir != "" && c.Store.SQLitePath != "" && c.Store.ArchiveDir != "" && c.Log.File != "" {
		return nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if c.Store.Dir == "" {
		c.Store.Dir = filepath.Join(dir, "store")
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = filepath.Join(dir, "chatlink.db")
	}
	if c.Store.ArchiveDir == "" {
		c.Store.ArchiveDir = filepath.Join(dir, "archive")
	}
	if c.Log.File == "" {
		c.Log.File = filepath.Join(dir, "chatlink.log")
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration as TOML with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# chatlink configuration file\n")
	b.WriteString("# Generated by chatlink - edit with care\n\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes the configuration as JSON with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is matches any ValidationError, so errors.Is(err, ValidationError{})
// tells validation failures apart from I/O failures.
func (e ValidationError) Is(target error) bool {
	_, ok := target.(ValidationError)
	return ok
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (e ValidateErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, v := range e {
		errs[i] = v
	}
	return errs
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Stream
	if err := validateURL(c.Stream.URL, "http", "https"); err != nil {
		add("stream.url", "%v", err)
	}
	if c.Stream.Origin != "" {
		if err := validateURL(c.Stream.Origin, "http", "https"); err != nil {
			add("stream.origin", "%v", err)
		}
	}
	switch c.Stream.Relay {
	case "browser", "http":
	default:
		add("stream.relay", "invalid relay '%s', must be one of: browser, http", c.Stream.Relay)
	}
	if c.Stream.IdleTimeout.Duration < time.Second {
		add("stream.idle_timeout", "must be at least 1s, got %s", c.Stream.IdleTimeout.Duration)
	}
	if c.Stream.LoadTimeout.Duration < time.Second {
		add("stream.load_timeout", "must be at least 1s, got %s", c.Stream.LoadTimeout.Duration)
	}

	// Operator
	if err := validateURL(c.Operator.URL, "ws", "wss"); err != nil {
		add("operator.url", "%v", err)
	}
	if c.Operator.HeartbeatMs < 0 || c.Operator.HeartbeatMs > 600000 {
		add("operator.heartbeat_ms", "must be between 0 and 600000, got %d", c.Operator.HeartbeatMs)
	}
	if !strings.HasPrefix(c.Operator.TopicPrefix, "/") {
		add("operator.topic_prefix", "must start with '/'")
	}
	if !strings.HasPrefix(c.Operator.Destination, "/") {
		add("operator.destination", "must start with '/'")
	}

	// Store
	switch c.Store.Backend {
	case "file", "sqlite", "memory":
	case "redis":
		if c.Store.RedisAddr == "" {
			add("store.redis_addr", "required for the redis backend")
		}
	default:
		add("store.backend", "invalid backend '%s', must be one of: file, sqlite, redis, memory", c.Store.Backend)
	}
	if c.Store.RedisDB < 0 || c.Store.RedisDB > 15 {
		add("store.redis_db", "must be between 0 and 15, got %d", c.Store.RedisDB)
	}
	if c.Store.MaxArchived < 0 {
		add("store.max_archived", "must not be negative")
	}

	// Session
	if _, err := model.ParseLang(c.Session.DefaultLang); err != nil {
		add("session.default_lang", "%v", err)
	}

	// Log
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		add("log.format", "invalid format '%s', must be one of: text, json", c.Log.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("missing host in %q", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("scheme must be one of %v, got %q", schemes, u.Scheme)
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// Environment variables read by ApplyEnvOverrides.
const (
	EnvStreamURL   = "CHATLINK_STREAM_URL"
	EnvOrigin      = "CHATLINK_ORIGIN"
	EnvOperatorURL = "CHATLINK_OPERATOR_URL"
	EnvStore       = "CHATLINK_STORE"
	EnvLogLevel    = "CHATLINK_LOG_LEVEL"
	EnvRelay       = "CHATLINK_RELAY"
	EnvNoColor     = "NO_COLOR"
)

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv(EnvStreamURL); v != "" {
		c.Stream.URL = v
	}
	if v := os.Getenv(EnvOrigin); v != "" {
		c.Stream.Origin = v
	}
	if v := os.Getenv(EnvOperatorURL); v != "" {
		c.Operator.URL = v
	}
	if v := os.Getenv(EnvStore); v != "" {
		c.Store.Backend = strings.ToLower(v)
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvRelay); v != "" {
		c.Stream.Relay = strings.ToLower(v)
	}
	// https://no-color.org: any non-empty value disables color.
	if os.Getenv(EnvNoColor) != "" {
		c.UI.NoColor = true
	}
}

// =============================================================================
// KEY ACCESS
// =============================================================================

// Get returns a setting by its dotted TOML key, e.g. "stream.url".
func (c *Config) Get(key string) (interface{}, error) {
	parts := strings.Split(key, ".")
	if key == "" || len(parts) == 0 {
		return nil, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return nil, fmt.Errorf("unknown key: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if d, ok := field.Interface().(Duration); ok {
				return d.Duration.String(), nil
			}
			return field.Interface(), nil
		}
		if field.Kind() != reflect.Struct {
			return nil, fmt.Errorf("key '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return nil, fmt.Errorf("invalid key: %s", key)
}

// Keys lists every dotted key accepted by Get.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		prefix := tomlName(section)
		for j := 0; j < section.Type.NumField(); j++ {
			keys = append(keys, prefix+"."+tomlName(section.Type.Field(j)))
		}
	}
	return keys
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if strings.EqualFold(tomlName(t.Field(i)), name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func tomlName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
	if name == "" {
		return strings.ToLower(f.Name)
	}
	return name
}

// =============================================================================
// UTILITY
// =============================================================================

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String renders the configuration as TOML.
func (c *Config) String() string {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return b.String()
}
