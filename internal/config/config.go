package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Repository  Repository        `yaml:"repository"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Publish     PublishConfig     `yaml:"publish"`
	Environment EnvironmentConfig `yaml:"environment"`
	Daemon      *DaemonConfig     `yaml:"daemon,omitempty"`
	Metrics     MetricsConfig     `yaml:"metrics,omitempty"`
	Notify      NotifyConfig      `yaml:"notify,omitempty"`
	Preflight   PreflightConfig   `yaml:"preflight,omitempty"`
	LinkCheck   LinkCheckConfig   `yaml:"linkcheck,omitempty"`
}

// Repository represents the watched Git repository
type Repository struct {
	URL    string      `yaml:"url"`
	Name   string      `yaml:"name,omitempty"`
	Branch string      `yaml:"branch,omitempty"`
	Auth   *AuthConfig `yaml:"auth,omitempty"`
	// ShallowDepth, when >0, performs shallow clones limited to the specified
	// number of commits (git --depth semantics). 0 means full history.
	ShallowDepth int `yaml:"shallow_depth,omitempty"`
}

// AuthType enumerates supported authentication methods (stringly for YAML compatibility)
type AuthType string

const (
	AuthTypeNone  AuthType = "none"
	AuthTypeSSH   AuthType = "ssh"
	AuthTypeToken AuthType = "token"
	AuthTypeBasic AuthType = "basic"
)

// AuthConfig represents authentication configuration
type AuthConfig struct {
	Type     AuthType `yaml:"type"` // ssh|token|basic|none
	Username string   `yaml:"username,omitempty"`
	Password string   `yaml:"password,omitempty"`
	Token    string   `yaml:"token,omitempty"`
	KeyPath  string   `yaml:"key_path,omitempty"`
}

// IsZero reports whether no auth method is specified.
func (a *AuthConfig) IsZero() bool { return a == nil || a.Type == "" || a.Type == AuthTypeNone }

// PipelineConfig holds the shell stage definitions and execution knobs.
// Checkout and publish are performed natively by the runner; the stages
// listed here run between them, in declared order.
type PipelineConfig struct {
	Stages []StageConfig `yaml:"stages,omitempty"`
	// OutputDir is the generator's output directory relative to the checkout root.
	OutputDir string `yaml:"output_dir,omitempty"`
	// StepTimeout bounds each individual step; zero means no timeout.
	StepTimeout Duration `yaml:"step_timeout,omitempty"`
}

// StageConfig is an ordered, named group of shell steps.
type StageConfig struct {
	Name  string       `yaml:"name"`
	Steps []StepConfig `yaml:"steps"`
}

// StepConfig is a single shell step within a stage.
type StepConfig struct {
	Name string `yaml:"name,omitempty"`
	Run  string `yaml:"run"`
}

// PublishConfig describes where the generated site tree is placed.
type PublishConfig struct {
	// Destination is the directory the artifact is swapped into.
	Destination string `yaml:"destination"`
	// KeepPrevious retains the replaced tree as <destination>.previous.
	KeepPrevious bool `yaml:"keep_previous,omitempty"`
}

// EnvironmentConfig is the execution environment descriptor. Any change to
// these fields requires rebuilding the environment image before the next run.
type EnvironmentConfig struct {
	BaseImage string     `yaml:"base_image"`
	Tag       string     `yaml:"tag"`
	Packages  []string   `yaml:"packages,omitempty"`
	Tool      ToolConfig `yaml:"tool,omitempty"`
	Bootstrap string     `yaml:"bootstrap,omitempty"`
	// ContainerTool is the image build command (podman or docker).
	ContainerTool string `yaml:"container_tool,omitempty"`
	// ImageName is the tag applied to the built environment image.
	ImageName string `yaml:"image_name,omitempty"`
	// DataDir stores the cached descriptor hash between builds.
	DataDir string `yaml:"data_dir,omitempty"`
}

// ToolConfig pins a third-party renderer tool fetched at image build time.
type ToolConfig struct {
	Name    string `yaml:"name,omitempty"`
	Version string `yaml:"version,omitempty"`
	// URLTemplate may contain {version}, substituted at render time.
	URLTemplate string `yaml:"url_template,omitempty"`
}

// DaemonConfig holds long-running mode settings.
type DaemonConfig struct {
	Listen        string `yaml:"listen,omitempty"`
	WebhookPath   string `yaml:"webhook_path,omitempty"`
	WebhookSecret string `yaml:"webhook_secret,omitempty"`
	QueueSize     int    `yaml:"queue_size,omitempty"`
	// ScheduleInterval, when >0, rebuilds periodically even without pushes.
	ScheduleInterval Duration `yaml:"schedule_interval,omitempty"`
	ShutdownTimeout  Duration `yaml:"shutdown_timeout,omitempty"`
	// RunHistory caps how many finished runs the store keeps.
	RunHistory int `yaml:"run_history,omitempty"`
	// StorePath is the sqlite database path; empty selects <data_dir>/runs.db.
	StorePath string `yaml:"store_path,omitempty"`
}

// MetricsConfig toggles the Prometheus recorder.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
}

// NotifyConfig configures the optional NATS run-event publisher.
type NotifyConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	URL     string `yaml:"url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// PreflightConfig controls pre-build post validation.
type PreflightConfig struct {
	Enabled      bool     `yaml:"enabled,omitempty"`
	ContentDir   string   `yaml:"content_dir,omitempty"`
	RequiredKeys []string `yaml:"required_keys,omitempty"`
	// Strict turns preflight findings into run failures.
	Strict bool `yaml:"strict,omitempty"`
}

// LinkCheckConfig controls post-build link verification of the artifact.
type LinkCheckConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
	Strict  bool `yaml:"strict,omitempty"`
}

// Load loads configuration from the specified file
func Load(configPath string) (*Config, error) {
	// Load .env/.env.local if present; existing environment wins.
	_ = godotenv.Load(".env.local", ".env")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse unmarshals a config document, expands environment variables, and
// applies defaults and validation.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the YAML content
	expanded := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
