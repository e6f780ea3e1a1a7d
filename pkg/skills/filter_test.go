package skills

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterByAllowlist(t *testing.T) {
	warning := &ReadError{Path: "/ws/x.md", ExitCode: 1}
	catalogue := newCatalogue([]*Skill{
		{Name: "repo", Content: "r"},
		{Name: "github", Content: "g", Triggers: []string{"github"}},
		{Name: "gitlab", Content: "l", Triggers: []string{"gitlab"}},
		{Name: "docker", Content: "d", Triggers: []string{"docker"}},
	}, []error{warning})

	tests := []struct {
		name     string
		allowed  []string
		expected []string
	}{
		{"empty allowlist keeps everything", nil, []string{"repo", "github", "gitlab", "docker"}},
		{"exact names", []string{"repo", "docker"}, []string{"repo", "docker"}},
		{"glob pattern", []string{"git*"}, []string{"github", "gitlab"}},
		{"alternatives", []string{"{repo,gitlab}"}, []string{"repo", "gitlab"}},
		{"no match", []string{"kubernetes"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filtered, err := FilterByAllowlist(catalogue, tt.allowed)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, filtered.Names())
			assert.Equal(t, []error{warning}, filtered.Warnings())
		})
	}

	t.Run("invalid pattern", func(t *testing.T) {
		_, err := FilterByAllowlist(catalogue, []string{"[unclosed"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid skill allowlist pattern")
	})

	t.Run("filtered catalogue keeps name lookup", func(t *testing.T) {
		filtered, err := FilterByAllowlist(catalogue, []string{"docker"})
		require.NoError(t, err)
		_, ok := filtered.Get("docker")
		assert.True(t, ok)
		_, ok = filtered.Get("repo")
		assert.False(t, ok)
		assert.Equal(t, 4, catalogue.Len(), "the source catalogue is unchanged")
	})

	t.Run("nil catalogue", func(t *testing.T) {
		filtered, err := FilterByAllowlist(nil, []string{"repo"})
		require.NoError(t, err)
		assert.Nil(t, filtered)
	})
}
