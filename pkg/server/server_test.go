package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillet/pkg/skills"
	"github.com/jingkaihe/skillet/pkg/workspace"
)

// memoryLoader loads from an in-memory workspace and counts loads
type memoryLoader struct {
	executor *workspace.MemoryExecutor
	loads    atomic.Int32
	err      error
}

func (m *memoryLoader) Load(ctx context.Context, workspaceDir string) (*skills.Catalogue, error) {
	m.loads.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return skills.LoadSkills(ctx, m.executor, []skills.SourceRoot{{Path: workspaceDir, Name: "repo"}})
}

func newTestServer(t *testing.T) (*Server, *memoryLoader) {
	t.Helper()

	executor := workspace.NewMemoryExecutor(map[string]string{
		"/ws/.openhands/skills/repo.md":   "Use make for everything.\n",
		"/ws/.openhands/skills/github.md": "---\ndescription: GitHub workflow\ntriggers: [github, pull request]\n---\nUse gh.\n",
		"/ws/.openhands/skills/broken.md": "unreadable",
	})
	executor.FailRead("/ws/.openhands/skills/broken.md", workspace.Failure{ExitCode: 1})

	loader := &memoryLoader{executor: executor}
	s, err := New(&Config{Host: "localhost", Port: 8080, Workspace: "/ws"}, loader)
	require.NoError(t, err)
	return s, loader
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{"valid", Config{Host: "localhost", Port: 8080, Workspace: "/ws"}, ""},
		{"empty host", Config{Port: 8080, Workspace: "/ws"}, "host cannot be empty"},
		{"port too low", Config{Host: "localhost", Port: 0, Workspace: "/ws"}, "port must be between 1 and 65535"},
		{"port too high", Config{Host: "localhost", Port: 70000, Workspace: "/ws"}, "port must be between 1 and 65535"},
		{"empty workspace", Config{Host: "localhost", Port: 8080}, "workspace cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew(t *testing.T) {
	_, err := New(&Config{Host: "localhost", Port: 8080, Workspace: "/ws"}, nil)
	assert.Error(t, err)

	_, err = New(&Config{}, &memoryLoader{})
	assert.Error(t, err)
}

func TestHandleListSkills(t *testing.T) {
	s, loader := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/skills", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	var response ListSkillsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Len(t, response.Skills, 2)

	assert.Equal(t, SkillSummary{
		Name:        "github",
		Type:        "knowledge",
		Description: "GitHub workflow",
		Triggers:    []string{"github", "pull request"},
		Path:        "/ws/.openhands/skills/github.md",
	}, response.Skills[0])
	assert.Equal(t, "repo", response.Skills[1].Name)
	assert.Equal(t, "repo", response.Skills[1].Type)

	require.Len(t, response.Warnings, 1)
	assert.Contains(t, response.Warnings[0], "broken.md")
	assert.NotContains(t, w.Body.String(), "Use make", "listing does not include content")

	s.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/skills", nil))
	assert.Equal(t, int32(2), loader.loads.Load(), "every request loads afresh")
}

func TestHandleGetSkill(t *testing.T) {
	s, _ := newTestServer(t)

	t.Run("found", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/skills/repo", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var response SkillResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "repo", response.Name)
		assert.Equal(t, "Use make for everything.\n", response.Content)
		assert.Empty(t, response.Triggers)
	})

	t.Run("not found", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/skills/missing", nil))

		require.Equal(t, http.StatusNotFound, w.Code)
		var response map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, `skill "missing" not found`, response["error"])
		assert.Equal(t, false, response["success"])
	})
}

func TestHandleActivate(t *testing.T) {
	s, _ := newTestServer(t)

	activate := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/activate", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		s.Handler().ServeHTTP(w, req)
		return w
	}

	t.Run("matching context", func(t *testing.T) {
		w := activate(`{"context": "Open a Pull Request for this fix"}`)
		require.Equal(t, http.StatusOK, w.Code)

		var response ActivateResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		require.Len(t, response.Skills, 2)
		assert.Equal(t, "github", response.Skills[0].Name)
		assert.Equal(t, "Use gh.\n", response.Skills[0].Content)
		assert.Equal(t, "repo", response.Skills[1].Name)
	})

	t.Run("unrelated context", func(t *testing.T) {
		w := activate(`{"context": "rename a variable"}`)
		require.Equal(t, http.StatusOK, w.Code)

		var response ActivateResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		require.Len(t, response.Skills, 1)
		assert.Equal(t, "repo", response.Skills[0].Name)
	})

	t.Run("empty body means empty context", func(t *testing.T) {
		w := activate("")
		require.Equal(t, http.StatusOK, w.Code)

		var response ActivateResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		require.Len(t, response.Skills, 1)
		assert.Equal(t, "repo", response.Skills[0].Name)
	})

	t.Run("invalid body", func(t *testing.T) {
		w := activate(`{"context":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestLoadFailure(t *testing.T) {
	s, loader := newTestServer(t)
	loader.err = errors.New("sandbox unavailable")

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/skills", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "failed to load skills")
}

func TestHealthAndCORS(t *testing.T) {
	s, loader := newTestServer(t)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/skills", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))

	assert.Equal(t, int32(0), loader.loads.Load())
}

func TestStartStop(t *testing.T) {
	s, _ := newTestServer(t)
	s.config.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, s.Start(ctx))
	assert.NoError(t, s.Stop())
}
