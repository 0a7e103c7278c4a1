package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BetterCallFirewall/Intruder/internal/driven"
	"github.com/BetterCallFirewall/Intruder/internal/logger"
	"github.com/BetterCallFirewall/Intruder/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginPage = `<html><title>Login</title><form action="/login"><input name="user"></form></html>`

type staticExecutor struct{}

func (staticExecutor) Execute(ctx context.Context, req *models.HTTPRequest) (*models.HTTPResponse, error) {
	status := http.StatusOK
	if req.Body == `{"user":"root"}` {
		status = http.StatusForbidden
	}
	return &models.HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "text/html"},
		Body:       loginPage,
		Length:     int64(len(loginPage)),
		ElapsedMs:  1,
	}, nil
}

func newTestServer(t *testing.T) (*Server, *driven.CampaignManager) {
	t.Helper()
	manager, err := driven.NewCampaignManager(&driven.CampaignManagerOptions{Executor: staticExecutor{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close(context.Background()) })

	return New(manager, nil, logger.Discard()), manager
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func loginDraft() map[string]interface{} {
	return map[string]interface{}{
		"name":        "login",
		"template":    "POST /login HTTP/1.1\r\nHost: target.local\r\n\r\n{\"user\":\"§u§\"}",
		"attack_type": "sniper",
		"payload_sets": map[string]interface{}{
			"users": map[string]interface{}{"type": "simple_list", "values": []string{"admin", "root", "guest"}},
		},
	}
}

func TestServer_CampaignLifecycle(t *testing.T) {
	s, manager := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/campaigns", loginDraft())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created models.CampaignDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, models.StatusPending, created.Status)
	assert.Equal(t, int64(3), created.TotalRequests)
	require.Len(t, created.Bindings, 1)
	assert.Equal(t, "u", created.Bindings[0].PositionName)

	rec = do(t, s, http.MethodPost, "/api/campaigns/"+created.ID+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := manager.Wait(ctx, created.ID)
	require.NoError(t, err)

	rec = do(t, s, http.MethodGet, "/api/campaigns/"+created.ID+"/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var progress models.CampaignProgress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &progress))
	assert.Equal(t, models.StatusCompleted, progress.Status)
	assert.Equal(t, 100, progress.CurrentProgress)

	rec = do(t, s, http.MethodGet, "/api/campaigns/"+created.ID+"/results?status=403", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page models.ResultsPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 1, page.Count)
	assert.Equal(t, []string{"root"}, page.Results[0].PayloadSet)
	assert.Equal(t, "Login", page.Results[0].Title)
	assert.Equal(t, 1, page.Results[0].Forms)

	rec = do(t, s, http.MethodGet, "/api/campaigns/"+created.ID+"/results?limit=2", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Count)

	rec = do(t, s, http.MethodGet, "/api/campaigns", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.CampaignDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	// completed is terminal
	rec = do(t, s, http.MethodPost, "/api/campaigns/"+created.ID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_ErrorMapping(t *testing.T) {
	s, _ := newTestServer(t)

	bad := loginDraft()
	bad["template"] = "POST /login HTTP/1.1\r\nHost: x\r\n\r\n§unbalanced"
	rec := do(t, s, http.MethodPost, "/api/campaigns", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "config", resp.Kind)
	assert.Contains(t, resp.Error, "unbalanced")

	rec = do(t, s, http.MethodGet, "/api/campaigns/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/campaigns/missing/start", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/campaigns", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	created := do(t, s, http.MethodPost, "/api/campaigns", loginDraft())
	require.Equal(t, http.StatusCreated, created.Code)
	var dto models.CampaignDTO
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &dto))

	rec = do(t, s, http.MethodPost, "/api/campaigns/"+dto.ID+"/resume", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "a pending campaign cannot be resumed")

	rec = do(t, s, http.MethodGet, "/api/campaigns/"+dto.ID+"/results?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, http.MethodGet, "/api/campaigns/"+dto.ID+"/results?offset=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RejectsWordlistFiles(t *testing.T) {
	s, _ := newTestServer(t)

	path := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(path, []byte("TOPSECRET-LINE\n"), 0o600))

	draft := loginDraft()
	draft["payload_sets"] = map[string]interface{}{
		"f": map[string]interface{}{"file": path},
	}

	tests := []struct {
		contentType string
		want        int
	}{
		{"application/json", http.StatusBadRequest},
		{"text/plain", http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		contentType := tt.contentType
		t.Run(contentType, func(t *testing.T) {
			body, err := json.Marshal(draft)
			require.NoError(t, err)
			req := httptest.NewRequest(http.MethodPost, "/api/campaigns", bytes.NewReader(body))
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			assert.NotContains(t, rec.Body.String(), "TOPSECRET")
		})
	}

	rec := do(t, s, http.MethodGet, "/api/campaigns", nil)
	var list []models.CampaignDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list)
}

func TestServer_Catalog(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/payloads/catalog", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []struct {
		ID   string `json:"id"`
		Size int    `json:"size"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	ids := map[string]bool{}
	for _, e := range entries {
		ids[e.ID] = true
		assert.Positive(t, e.Size)
	}
	for _, id := range []string{"sqli", "xss", "path_traversal", "command_injection"} {
		assert.True(t, ids[id], id)
	}
}
