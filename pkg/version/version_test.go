package version

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	info := Get()

	assert.Equal(t, Version, info.Version)
	assert.Equal(t, GitCommit, info.GitCommit)
	assert.Equal(t, BuildTime, info.BuildTime)
	assert.Contains(t, info.GoVersion, "go")
}

func TestInfoString(t *testing.T) {
	info := Info{
		Version:   "0.3.0",
		GitCommit: "4f1c2ab",
		BuildTime: "2026-10-01T09:00:00Z",
		GoVersion: "go1.25.1",
	}

	assert.Equal(t,
		"Version: 0.3.0, GitCommit: 4f1c2ab, BuildTime: 2026-10-01T09:00:00Z, GoVersion: go1.25.1",
		info.String())
}

func TestInfoJSON(t *testing.T) {
	info := Info{
		Version:   "0.3.0",
		GitCommit: "4f1c2ab",
		BuildTime: "2026-10-01T09:00:00Z",
		GoVersion: "go1.25.1",
	}

	out, err := info.JSON()
	require.NoError(t, err)

	assert.Equal(t, `{
  "version": "0.3.0",
  "gitCommit": "4f1c2ab",
  "buildTime": "2026-10-01T09:00:00Z",
  "goVersion": "go1.25.1"
}`, out)

	var parsed Info
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, info, parsed)
}
