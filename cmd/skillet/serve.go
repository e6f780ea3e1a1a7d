package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillet/pkg/logger"
	"github.com/jingkaihe/skillet/pkg/presenter"
	"github.com/jingkaihe/skillet/pkg/server"
)

// ServeConfig holds configuration for the serve command
type ServeConfig struct {
	Host string
	Port int
}

// NewServeConfig creates a new ServeConfig with default values
func NewServeConfig() *ServeConfig {
	return &ServeConfig{
		Host: "localhost",
		Port: 8080,
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve skill listing and activation over HTTP",
	Long: `Start an HTTP server answering skill queries for one workspace. Every
request loads the workspace afresh, so edits to skill documents are visible
immediately.

Endpoints:
  GET  /api/skills          list skills
  GET  /api/skills/{name}   show one skill with its content
  POST /api/activate        {"context": "..."} returns the activated skills
  GET  /healthz             liveness probe`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		config := getServeConfigFromFlags(cmd)
		runServeCommand(ctx, config, getWorkspaceConfigFromFlags(cmd))
	},
}

func init() {
	defaults := NewServeConfig()
	serveCmd.Flags().String("host", defaults.Host, "Host to bind the server to")
	serveCmd.Flags().Int("port", defaults.Port, "Port to bind the server to")
	addWorkspaceFlags(serveCmd)
}

// getServeConfigFromFlags extracts serve configuration from command flags
func getServeConfigFromFlags(cmd *cobra.Command) *ServeConfig {
	config := NewServeConfig()

	if host, err := cmd.Flags().GetString("host"); err == nil {
		config.Host = host
	}
	if port, err := cmd.Flags().GetInt("port"); err == nil {
		config.Port = port
	}

	return config
}

// validateServeConfig validates the serve configuration
func validateServeConfig(ctx context.Context, config *ServeConfig) error {
	if config.Host == "" {
		return errors.New("host cannot be empty")
	}

	if config.Host != "localhost" && config.Host != "0.0.0.0" {
		if ip := net.ParseIP(config.Host); ip == nil {
			if strings.Contains(config.Host, " ") || strings.Contains(config.Host, ":") {
				return errors.Errorf("invalid host: %s", config.Host)
			}
		}
	}

	if config.Port < 1 || config.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", config.Port)
	}

	if config.Port < 1024 {
		logger.G(ctx).WithField("port", config.Port).Warn("using privileged port (< 1024) may require elevated permissions")
	}

	return nil
}

// newSkillsServer builds the HTTP server for the workspace described by the
// flags. It fails when skills are disabled by configuration or --no-skills.
func newSkillsServer(ctx context.Context, config *ServeConfig, workspaceConfig *WorkspaceConfig) (*server.Server, error) {
	if err := validateServeConfig(ctx, config); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}

	skillsConfig, err := workspaceConfig.SkillsConfig()
	if err != nil {
		return nil, errors.Wrap(err, "invalid skills configuration")
	}
	if !skillsConfig.Active() {
		return nil, errors.New("skills are disabled")
	}
	workspaceDir, err := workspaceConfig.ResolveWorkspace()
	if err != nil {
		return nil, errors.Wrap(err, "invalid workspace")
	}

	logger.G(ctx).WithFields(map[string]any{
		"host":      config.Host,
		"port":      config.Port,
		"workspace": workspaceDir,
		"container": skillsConfig.Container,
	}).Info("Starting skills server")

	return server.New(&server.Config{
		Host:      config.Host,
		Port:      config.Port,
		Workspace: workspaceDir,
	}, skillsConfig)
}

func runServeCommand(ctx context.Context, config *ServeConfig, workspaceConfig *WorkspaceConfig) {
	srv, err := newSkillsServer(ctx, config, workspaceConfig)
	if err != nil {
		presenter.Error(err, "failed to create server")
		os.Exit(1)
	}
	defer func() {
		if closeErr := srv.Stop(); closeErr != nil {
			logger.G(ctx).WithError(closeErr).Error("failed to close server")
		}
	}()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	presenter.Success(fmt.Sprintf("Skills server starting on http://%s:%d", config.Host, config.Port))
	presenter.Info("Press Ctrl+C to stop the server")

	if err := srv.Start(ctx); err != nil {
		logger.G(ctx).WithError(err).Error("server error")
		presenter.Error(err, "server failed")
		os.Exit(1)
	}

	presenter.Info("Server stopped")
}
