package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jingkaihe/skillet/pkg/skills"
)

func testSkills() []*skills.Skill {
	return []*skills.Skill{
		{
			Name:        "github",
			Description: "GitHub workflow",
			Triggers:    []string{"github", "pull request"},
			Content:     "Use gh.\n",
			Path:        "/ws/.openhands/skills/github.md",
		},
		{
			Name:    "repo",
			Content: "Use make.\n",
			Path:    "/ws/.openhands/skills/repo.md",
		},
	}
}

func TestWorkspaceConfigValidate(t *testing.T) {
	config := NewWorkspaceConfig()
	assert.NoError(t, config.Validate())

	config.Output = "xml"
	err := config.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output format: xml")

	config = NewWorkspaceConfig()
	config.Workspace = ""
	assert.EqualError(t, config.Validate(), "workspace cannot be empty")
}

func TestResolveWorkspace(t *testing.T) {
	t.Run("local workspace becomes absolute", func(t *testing.T) {
		config := NewWorkspaceConfig()
		dir, err := config.ResolveWorkspace()
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(dir))
	})

	t.Run("container default", func(t *testing.T) {
		config := NewWorkspaceConfig()
		config.Container = "sandbox"
		dir, err := config.ResolveWorkspace()
		require.NoError(t, err)
		assert.Equal(t, "/workspace", dir)
	})

	t.Run("container absolute path", func(t *testing.T) {
		config := NewWorkspaceConfig()
		config.Container = "sandbox"
		config.Workspace = "/src/app"
		dir, err := config.ResolveWorkspace()
		require.NoError(t, err)
		assert.Equal(t, "/src/app", dir)
	})

	t.Run("container relative path", func(t *testing.T) {
		config := NewWorkspaceConfig()
		config.Container = "sandbox"
		config.Workspace = "src/app"
		_, err := config.ResolveWorkspace()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be an absolute path inside container sandbox")
	})
}

func TestWorkspaceFlags(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Reset()
	viper.Set("skills.allowed", []string{"from-config"})
	viper.Set("skills.concurrency", 2)

	cmd := &cobra.Command{}
	addWorkspaceFlags(cmd)

	config := getWorkspaceConfigFromFlags(cmd)
	assert.Equal(t, ".", config.Workspace)
	assert.Equal(t, "table", config.Output)
	assert.Empty(t, config.Allowed)

	skillsConfig, err := config.SkillsConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"from-config"}, skillsConfig.Allowed)
	assert.Equal(t, 2, skillsConfig.Concurrency)
	assert.Empty(t, skillsConfig.Container)

	require.NoError(t, cmd.Flags().Set("container", "sandbox"))
	require.NoError(t, cmd.Flags().Set("global-dir", "/root"))
	require.NoError(t, cmd.Flags().Set("allow", "git*,docker"))
	require.NoError(t, cmd.Flags().Set("output", "json"))

	config = getWorkspaceConfigFromFlags(cmd)
	assert.Equal(t, "json", config.Output)

	skillsConfig, err = config.SkillsConfig()
	require.NoError(t, err)
	assert.Equal(t, "sandbox", skillsConfig.Container)
	assert.Equal(t, "/root", skillsConfig.GlobalDir)
	assert.Equal(t, []string{"git*", "docker"}, skillsConfig.Allowed)
	assert.Equal(t, 2, skillsConfig.Concurrency, "flags leave the rest of the configuration alone")
}

func TestRenderSkills(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, renderSkills(&buf, "json", testSkills(), false))
		assert.JSONEq(t, `[
			{"name": "github", "type": "knowledge", "description": "GitHub workflow",
			 "triggers": ["github", "pull request"], "path": "/ws/.openhands/skills/github.md"},
			{"name": "repo", "type": "repo", "path": "/ws/.openhands/skills/repo.md"}
		]`, buf.String())
	})

	t.Run("json with content", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, renderSkills(&buf, "json", testSkills()[1:], true))
		assert.JSONEq(t, `[{"name": "repo", "type": "repo", "path": "/ws/.openhands/skills/repo.md", "content": "Use make.\n"}]`, buf.String())
	})

	t.Run("json empty list", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, renderSkills(&buf, "json", nil, false))
		assert.Equal(t, "[]\n", buf.String())
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, renderSkills(&buf, "yaml", testSkills(), true))

		var decoded []map[string]any
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
		require.Len(t, decoded, 2)
		assert.Equal(t, "github", decoded[0]["name"])
		assert.Equal(t, []any{"github", "pull request"}, decoded[0]["triggers"])
		assert.Equal(t, "Use gh.\n", decoded[0]["content"])
		assert.Equal(t, "repo", decoded[1]["type"])
		assert.NotContains(t, decoded[1], "triggers")
	})

	t.Run("table", func(t *testing.T) {
		long := &skills.Skill{
			Name:     "many",
			Triggers: []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta", "eta"},
			Path:     "/ws/.openhands/skills/many.md",
		}

		var buf bytes.Buffer
		require.NoError(t, renderSkills(&buf, "table", append(testSkills(), long), false))

		lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
		require.Len(t, lines, 5)
		assert.Equal(t, []string{"NAME", "TYPE", "TRIGGERS", "PATH"}, strings.Fields(lines[0]))
		assert.Contains(t, lines[2], "github, pull request")
		assert.Equal(t, []string{"repo", "repo", "-", "/ws/.openhands/skills/repo.md"}, strings.Fields(lines[3]))
		assert.Contains(t, lines[4], "alpha, beta, gamma, delta, epsilon, z...")
		assert.NotContains(t, buf.String(), "Use gh.")
	})

	t.Run("table with content", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, renderSkills(&buf, "table", testSkills(), true))
		assert.Equal(t,
			"<skill name=\"github\" type=\"knowledge\">\nUse gh.\n</skill>\n\n<skill name=\"repo\" type=\"repo\">\nUse make.\n</skill>\n",
			buf.String())
	})

	t.Run("unknown format", func(t *testing.T) {
		err := renderSkills(&bytes.Buffer{}, "xml", testSkills(), false)
		assert.EqualError(t, err, "unknown output format: xml")
	})
}
