package main

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateServeConfig(t *testing.T) {
	tests := []struct {
		name          string
		config        *ServeConfig
		expectedError string
	}{
		{
			name:   "valid config",
			config: &ServeConfig{Host: "localhost", Port: 8080},
		},
		{
			name:   "valid IP address",
			config: &ServeConfig{Host: "127.0.0.1", Port: 8080},
		},
		{
			name:   "valid 0.0.0.0",
			config: &ServeConfig{Host: "0.0.0.0", Port: 3000},
		},
		{
			name:          "empty host",
			config:        &ServeConfig{Host: "", Port: 8080},
			expectedError: "host cannot be empty",
		},
		{
			name:          "invalid host with space",
			config:        &ServeConfig{Host: "local host", Port: 8080},
			expectedError: "invalid host: local host",
		},
		{
			name:          "invalid host with colon",
			config:        &ServeConfig{Host: "localhost:8080", Port: 8080},
			expectedError: "invalid host: localhost:8080",
		},
		{
			name:          "port zero",
			config:        &ServeConfig{Host: "localhost", Port: 0},
			expectedError: "port must be between 1 and 65535, got 0",
		},
		{
			name:          "port too high",
			config:        &ServeConfig{Host: "localhost", Port: 65536},
			expectedError: "port must be between 1 and 65535, got 65536",
		},
		{
			name:   "privileged port is allowed",
			config: &ServeConfig{Host: "localhost", Port: 80},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateServeConfig(context.Background(), tt.config)
			if tt.expectedError == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.expectedError, err.Error())
		})
	}
}

func TestGetServeConfigFromFlags(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("host", "localhost", "")
	cmd.Flags().Int("port", 8080, "")

	config := getServeConfigFromFlags(cmd)
	assert.Equal(t, NewServeConfig(), config)

	require.NoError(t, cmd.Flags().Set("host", "0.0.0.0"))
	require.NoError(t, cmd.Flags().Set("port", "9090"))

	config = getServeConfigFromFlags(cmd)
	assert.Equal(t, "0.0.0.0", config.Host)
	assert.Equal(t, 9090, config.Port)
}

func TestNewSkillsServer(t *testing.T) {
	ctx := context.Background()
	t.Cleanup(viper.Reset)

	workspaceConfig := NewWorkspaceConfig()
	workspaceConfig.Workspace = t.TempDir()

	t.Run("enabled", func(t *testing.T) {
		viper.Reset()
		srv, err := newSkillsServer(ctx, NewServeConfig(), workspaceConfig)
		require.NoError(t, err)
		assert.NotNil(t, srv)
	})

	t.Run("disabled in configuration", func(t *testing.T) {
		viper.Reset()
		viper.Set("skills.enabled", false)
		_, err := newSkillsServer(ctx, NewServeConfig(), workspaceConfig)
		assert.EqualError(t, err, "skills are disabled")
	})

	t.Run("disabled by flag", func(t *testing.T) {
		viper.Reset()
		viper.Set("no_skills", true)
		_, err := newSkillsServer(ctx, NewServeConfig(), workspaceConfig)
		assert.EqualError(t, err, "skills are disabled")
	})

	t.Run("invalid port", func(t *testing.T) {
		viper.Reset()
		_, err := newSkillsServer(ctx, &ServeConfig{Host: "localhost", Port: 0}, workspaceConfig)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server configuration")
	})
}
