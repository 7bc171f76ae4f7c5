package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level config.
	WorkspaceDirName = ".browserpilot"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the browserpilot MCP server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Browser  BrowserConfig  `yaml:"browser"`
	MCP      MCPConfig      `yaml:"mcp"`
	Journal  JournalConfig  `yaml:"journal"`
	Recorder RecorderConfig `yaml:"recorder"`
}

type ServerConfig struct {
	Name     string `yaml:"name"`
	Version  string `yaml:"version"`
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
}

// BrowserConfig controls how sessions launch Chrome and how long they live.
type BrowserConfig struct {
	// Chrome binary. Empty lets the launcher find or download one.
	Bin string `yaml:"bin"`
	// Extra Chrome flags, e.g. ["--no-sandbox", "--lang=en-US"].
	LaunchFlags []string `yaml:"launch_flags"`
	// Headless is the default for Launch Browser calls that omit the flag (default: true).
	Headless *bool `yaml:"headless"`
	// Viewport for new sessions (default: 1280x720).
	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`
	// Per-navigation timeout, e.g. "30s".
	NavigationTimeout string `yaml:"navigation_timeout"`
	// Timeout for element lookups and input actions, e.g. "5s".
	ActionTimeout string `yaml:"action_timeout"`
	// Sessions older than this are closed by the sweeper, e.g. "30m".
	SessionMaxAge string `yaml:"session_max_age"`
	// How often the sweeper runs, e.g. "1m". "0" disables it.
	SweepInterval string `yaml:"sweep_interval"`
	// Upper bound on concurrent sessions; 0 means unlimited.
	MaxSessions int `yaml:"max_sessions"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// JournalConfig controls the embedded Mangle fact journal.
type JournalConfig struct {
	Enable          bool   `yaml:"enable"`
	SchemaPath      string `yaml:"schema_path"`
	DisableBuiltin  bool   `yaml:"disable_builtin_rules"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// RecorderConfig controls the JSONL dispatch trace.
type RecorderConfig struct {
	Enable   bool   `yaml:"enable"`
	TraceDir string `yaml:"trace_dir"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:     "browserpilot-mcp",
			Version:  "0.1.0",
			LogFile:  "browserpilot-mcp.log",
			LogLevel: "info",
		},
		Browser: BrowserConfig{
			ViewportWidth:     1280,
			ViewportHeight:    720,
			NavigationTimeout: "30s",
			ActionTimeout:     "5s",
			SessionMaxAge:     "30m",
			SweepInterval:     "1m",
		},
		Journal: JournalConfig{
			Enable:          true,
			FactBufferLimit: 2048,
		},
		Recorder: RecorderConfig{
			Enable:   false,
			TraceDir: "data/traces",
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .browserpilot/config.yaml file.
// Returns the workspace root directory (parent of .browserpilot/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace merges config layers:
//
//	DefaultConfig() <- .browserpilot/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, err := os.Getwd()
			if err != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", err)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

const workspaceTemplate = `# browserpilot project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# browser:
#   headless: false
#   viewport_width: 1280
#   viewport_height: 720
#   session_max_age: "30m"
#   max_sessions: 4

# journal:
#   schema_path: ".browserpilot/rules/project.mg"

# recorder:
#   enable: true
#   trace_dir: "data/traces"
`

// InitWorkspace creates a .browserpilot/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	for _, d := range []string{wsDir, filepath.Join(wsDir, "rules"), filepath.Join(wsDir, "data")} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(workspaceTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignore := "# Runtime data (logs, traces) - do not version control\ndata/\n"
	if err := os.WriteFile(filepath.Join(wsDir, ".gitignore"), []byte(gitignore), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Journal.SchemaPath = resolve(cfg.Journal.SchemaPath)
	cfg.Recorder.TraceDir = resolve(cfg.Recorder.TraceDir)
	return cfg
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Browser.MaxSessions < 0 {
		return errors.New("browser.max_sessions must not be negative")
	}
	for name, raw := range map[string]string{
		"browser.navigation_timeout": c.Browser.NavigationTimeout,
		"browser.action_timeout":     c.Browser.ActionTimeout,
		"browser.session_max_age":    c.Browser.SessionMaxAge,
		"browser.sweep_interval":     c.Browser.SweepInterval,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

// NavigationTimeoutDuration returns the parsed navigation timeout (default 30s).
func (b BrowserConfig) NavigationTimeoutDuration() time.Duration {
	return parseDuration(b.NavigationTimeout, 30*time.Second)
}

// ActionTimeoutDuration returns the parsed action timeout (default 5s).
func (b BrowserConfig) ActionTimeoutDuration() time.Duration {
	return parseDuration(b.ActionTimeout, 5*time.Second)
}

// SessionMaxAgeDuration returns the sweeper age threshold (default 30m).
func (b BrowserConfig) SessionMaxAgeDuration() time.Duration {
	return parseDuration(b.SessionMaxAge, 30*time.Minute)
}

// SweepIntervalDuration returns how often the sweeper runs (default 1m, 0 disables).
func (b BrowserConfig) SweepIntervalDuration() time.Duration {
	return parseDuration(b.SweepInterval, time.Minute)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1280
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 720
	}
	return b.ViewportHeight
}
