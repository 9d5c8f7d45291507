package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const settingsFileName = "config.yaml"

// Permission modes understood by Claude Code's --permission-mode flag.
const (
	PermissionModeDefault           = "default"
	PermissionModeAcceptEdits       = "acceptEdits"
	PermissionModePlan              = "plan"
	PermissionModeBypassPermissions = "bypassPermissions"
)

// Permissions selects which tool families the agent may use without asking.
type Permissions struct {
	// ReadFiles allows Read, Glob, Grep and LS.
	ReadFiles bool `yaml:"read_files"`
	// WriteFiles allows Edit, MultiEdit, Write and NotebookEdit.
	WriteFiles bool `yaml:"write_files"`
	// RunCommands allows Bash.
	RunCommands bool `yaml:"run_commands"`
	// WebAccess allows WebFetch and WebSearch.
	WebAccess bool `yaml:"web_access"`
}

// AllowedTools returns the Claude Code tool names enabled by p, in a stable
// order.
func (p Permissions) AllowedTools() []string {
	var tools []string
	if p.ReadFiles {
		tools = append(tools, "Read", "Glob", "Grep", "LS")
	}
	if p.WriteFiles {
		tools = append(tools, "Edit", "MultiEdit", "Write", "NotebookEdit")
	}
	if p.RunCommands {
		tools = append(tools, "Bash")
	}
	if p.WebAccess {
		tools = append(tools, "WebFetch", "WebSearch")
	}
	return tools
}

// Settings is the user-editable agent configuration. It holds only value
// fields so that assigning a Settings produces an independent snapshot.
type Settings struct {
	// ClaudePath is the Claude Code executable (looked up in PATH when bare).
	ClaudePath string `yaml:"claude_path"`
	// Model is passed as --model when non-empty.
	Model string `yaml:"model"`
	// PermissionMode is passed as --permission-mode.
	PermissionMode string `yaml:"permission_mode"`
	// Permissions become --allowedTools.
	Permissions Permissions `yaml:"permissions"`
	// MaxTurns is passed as --max-turns when positive.
	MaxTurns int `yaml:"max_turns"`
	// PartialMessages streams text as it is generated instead of per message.
	PartialMessages bool `yaml:"partial_messages"`
	// ExtraArgs is a shell-quoted string of additional CLI arguments.
	ExtraArgs string `yaml:"extra_args"`
	// LogLevel is the logger threshold (trace|debug|info|warn|error).
	LogLevel string `yaml:"log_level"`
}

// DefaultSettings returns the settings used when no file or field is present.
func DefaultSettings() Settings {
	return Settings{
		ClaudePath:     "claude",
		PermissionMode: PermissionModeDefault,
		Permissions: Permissions{
			ReadFiles:  true,
			WriteFiles: true,
		},
		PartialMessages: true,
		LogLevel:        "info",
	}
}

// Validate normalizes the permission mode and rejects unusable values.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.ClaudePath) == "" {
		return errors.New("claude_path must not be empty")
	}
	mode, err := normalizePermissionMode(s.PermissionMode)
	if err != nil {
		return err
	}
	s.PermissionMode = mode
	if s.MaxTurns < 0 {
		return fmt.Errorf("max_turns must be >= 0, got %d", s.MaxTurns)
	}
	return nil
}

func normalizePermissionMode(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "default":
		return PermissionModeDefault, nil
	case "acceptedits":
		return PermissionModeAcceptEdits, nil
	case "plan":
		return PermissionModePlan, nil
	case "bypasspermissions":
		return PermissionModeBypassPermissions, nil
	default:
		return "", fmt.Errorf("invalid permission_mode %q (expected default, acceptEdits, plan or bypassPermissions)", raw)
	}
}

// Config is the resolved runtime configuration.
type Config struct {
	// Home is the directory holding claudian's local files.
	Home string
	// SettingsPath is the settings file that was (or would be) read.
	SettingsPath string
	// Settings is the merged, validated agent configuration.
	Settings Settings
	// Debug forces debug logging regardless of Settings.LogLevel.
	Debug bool
}

// Home returns the claudian directory: $CLAUDIAN_HOME or ~/.claudian.
func Home() (string, error) {
	if dir := os.Getenv("CLAUDIAN_HOME"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".claudian"), nil
}

// Load reads settings from the default location and applies env overrides.
func Load() (*Config, error) {
	home, err := Home()
	if err != nil {
		return nil, err
	}
	return LoadFrom(filepath.Join(home, settingsFileName))
}

// LoadFrom reads settings from path. A missing file yields the defaults.
// Fields absent from the file, including nested permission toggles, keep
// their default values.
func LoadFrom(path string) (*Config, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read settings: %w", err)
	default:
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	cfg := &Config{
		Home:         filepath.Dir(path),
		SettingsPath: path,
		Settings:     settings,
	}
	cfg.applyEnv()

	if err := cfg.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CLAUDIAN_CLAUDE_PATH"); v != "" {
		c.Settings.ClaudePath = v
	}
	if v := os.Getenv("CLAUDIAN_MODEL"); v != "" {
		c.Settings.Model = v
	}
	if v := os.Getenv("CLAUDIAN_PERMISSION_MODE"); v != "" {
		c.Settings.PermissionMode = v
	}
	if v := os.Getenv("CLAUDIAN_LOG_LEVEL"); v != "" {
		c.Settings.LogLevel = v
	}
	if debug, err := strconv.ParseBool(os.Getenv("CLAUDIAN_DEBUG")); err == nil {
		c.Debug = debug
	}
}

// Marshal renders settings as YAML.
func (s Settings) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes c.Settings to c.SettingsPath, creating the directory if needed.
func (c *Config) Save() error {
	data, err := c.Settings.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.SettingsPath), 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(c.SettingsPath), err)
	}
	if err := os.WriteFile(c.SettingsPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}
