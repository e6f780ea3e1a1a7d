package skills

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillet/pkg/logger"
	"github.com/jingkaihe/skillet/pkg/workspace"
)

// Config is the `skills` section of the configuration file
type Config struct {
	Enabled      bool                  `mapstructure:"enabled"`
	ProductDir   string                `mapstructure:"product_dir"`
	Dirs         []string              `mapstructure:"dirs"`
	ContextFiles []string              `mapstructure:"context_files"`
	Allowed      []string              `mapstructure:"allowed"`
	Concurrency  int                   `mapstructure:"concurrency"`
	Timeout      time.Duration         `mapstructure:"timeout"`
	Container    string                `mapstructure:"container"`  // run inside this docker container instead of locally
	GlobalDir    string                `mapstructure:"global_dir"` // user-level root, defaults to $HOME for local runs
	Shell        string                `mapstructure:"shell"`      // empty picks bash locally and sh in containers
	Retry        workspace.RetryConfig `mapstructure:"retry"`
}

// DefaultConfig returns the configuration used when nothing is set
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		ProductDir:   DefaultProductDir,
		Dirs:         append([]string(nil), DefaultSkillDirs...),
		ContextFiles: append([]string(nil), DefaultContextFiles...),
		Concurrency:  DefaultConcurrency,
		Timeout:      workspace.DefaultTimeout,
		Retry:        workspace.DefaultRetryConfig,
	}
}

// GetConfigFromViper reads the skills configuration, filling unset fields with defaults
func GetConfigFromViper() (Config, error) {
	var config Config
	if err := viper.UnmarshalKey("skills", &config); err != nil {
		return config, errors.Wrap(err, "failed to unmarshal skills configuration")
	}

	defaults := DefaultConfig()
	if !viper.IsSet("skills.enabled") {
		config.Enabled = defaults.Enabled
	}
	if config.ProductDir == "" {
		config.ProductDir = defaults.ProductDir
	}
	if config.Dirs == nil {
		config.Dirs = defaults.Dirs
	}
	if config.ContextFiles == nil {
		config.ContextFiles = defaults.ContextFiles
	}
	if config.Concurrency == 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Retry.Attempts == 0 {
		config.Retry = defaults.Retry
	}

	return config, nil
}

// Active reports whether skills are enabled in the configuration and not
// switched off by the --no-skills flag
func (c Config) Active() bool {
	return c.Enabled && !viper.GetBool("no_skills")
}

// LoaderOptions converts the configuration into loader options
func (c Config) LoaderOptions() []Option {
	return []Option{
		WithProductDir(c.ProductDir),
		WithSkillDirs(c.Dirs...),
		WithContextFiles(c.ContextFiles...),
		WithConcurrency(c.Concurrency),
		WithTimeout(c.Timeout),
	}
}

// NewExecutor builds the workspace executor described by the configuration:
// docker exec into Container when set, the local shell otherwise, with
// transport failures retried.
func (c Config) NewExecutor() (workspace.Executor, error) {
	var executor workspace.Executor
	if c.Container != "" {
		docker, err := workspace.NewDockerExecutor(c.Container, c.Shell)
		if err != nil {
			return nil, err
		}
		executor = docker
	} else {
		executor = workspace.NewLocalExecutor(workspace.WithShell(c.Shell))
	}
	return workspace.NewRetryExecutor(executor, c.Retry), nil
}

// Initialize is the entry point for host agents embedding the engine: it loads
// skills for workspaceDir from the viper configuration alone. It reads
// skills.enabled and respects the --no-skills flag (bound to no_skills in
// viper). Load failures are logged and reported as disabled so an agent can
// start without skills. The CLI applies its own flag overrides and calls
// Config.Load instead.
// Returns the loaded catalogue and whether skills are enabled.
func Initialize(ctx context.Context, workspaceDir string) (*Catalogue, bool) {
	if viper.GetBool("no_skills") {
		return nil, false
	}

	config, err := GetConfigFromViper()
	if err != nil {
		logger.G(ctx).WithError(err).Debug("Failed to read skills configuration")
		return nil, false
	}
	if !config.Active() {
		return nil, false
	}

	catalogue, err := config.Load(ctx, workspaceDir)
	if err != nil {
		logger.G(ctx).WithError(err).Debug("Failed to load skills")
		return nil, false
	}

	return catalogue, true
}

// SourceRoots returns the roots to scan for workspaceDir. The home directory
// is only a sensible global root when running locally, so container runs
// have no global root unless global_dir is set.
func (c Config) SourceRoots(workspaceDir string) ([]SourceRoot, error) {
	switch {
	case c.GlobalDir != "":
		return []SourceRoot{
			{Path: workspaceDir, Priority: PriorityRepo, Name: "repo"},
			{Path: c.GlobalDir, Priority: PriorityGlobal, Name: "global"},
		}, nil
	case c.Container != "":
		return []SourceRoot{{Path: workspaceDir, Priority: PriorityRepo, Name: "repo"}}, nil
	default:
		return DefaultSourceRoots(workspaceDir)
	}
}

// Load loads the configured source roots of workspaceDir and applies the allowlist
func (c Config) Load(ctx context.Context, workspaceDir string) (*Catalogue, error) {
	executor, err := c.NewExecutor()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create workspace executor")
	}

	roots, err := c.SourceRoots(workspaceDir)
	if err != nil {
		return nil, err
	}

	catalogue, err := LoadSkills(ctx, executor, roots, c.LoaderOptions()...)
	if err != nil {
		return nil, err
	}

	return FilterByAllowlist(catalogue, c.Allowed)
}
