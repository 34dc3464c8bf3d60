// Copyright (C) 2025 Praxis Labs (oss@praxislabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package service

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxislabs/skillrouter/services/router/config"
	"github.com/praxislabs/skillrouter/services/router/routing"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testRegistryYAML = `
candidates:
  - name: code-formatter
    family: skill
    keywords:
      primary: [format code, reformat]
      secondary: [indentation]
    confidence: 1.0
  - name: incident-triage
    family: skill
    keywords:
      primary: [incident]
    mandatory_triggers: ['\bsev[ -]?[12]\b']
    confidence: 1.0
  - name: refactor-agent
    family: agent
    keywords:
      primary: [refactor]
    confidence: 1.0
`

func newTestService(t *testing.T) (*Service, *gin.Engine) {
	t.Helper()
	reg, err := config.LoadRegistry([]byte(testRegistryYAML), nil)
	require.NoError(t, err)
	cfg, err := config.DefaultRouterConfig(nil)
	require.NoError(t, err)

	deps := routing.Deps{}
	router := routing.NewRouter(routing.CompileCandidates(reg.Specs, nil), cfg, deps)
	svc := NewService(router, cfg, deps, nil)

	engine := gin.New()
	v1 := engine.Group("/v1")
	RegisterRoutes(v1, svc)
	engine.GET("/healthz", svc.HandleHealth)
	return svc, engine
}

func postRoute(t *testing.T, engine *gin.Engine, body any) (*httptest.ResponseRecorder, RouteResponse) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/route", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)

	var resp RouteResponse
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestHandleRoute_SkillMatch(t *testing.T) {
	_, engine := newTestService(t)

	w, resp := postRoute(t, engine, gin.H{"input": "reformat this file with the right indentation"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "skill", resp.Family)
	assert.False(t, resp.FellThrough)
	assert.Equal(t, routing.StateMatched, resp.Decision.State)
	assert.Equal(t, "code-formatter", resp.Decision.Chosen)
}

func TestHandleRoute_FallsThroughToAgent(t *testing.T) {
	_, engine := newTestService(t)

	w, resp := postRoute(t, engine, gin.H{"input": "refactor the auth module"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "agent", resp.Family)
	assert.True(t, resp.FellThrough)
	assert.Equal(t, "refactor-agent", resp.Decision.Chosen)
}

func TestHandleRoute_ExplicitFamilyNoFallthrough(t *testing.T) {
	_, engine := newTestService(t)

	// Restricted to the skill pool, an agent-only keyword stays NO_MATCH.
	w, resp := postRoute(t, engine, gin.H{"input": "refactor the auth module", "family": "skill"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "skill", resp.Family)
	assert.False(t, resp.FellThrough)
	assert.Equal(t, routing.StateNoMatch, resp.Decision.State)
}

func TestHandleRoute_MandatoryTrigger(t *testing.T) {
	_, engine := newTestService(t)

	w, resp := postRoute(t, engine, gin.H{"input": "SEV-1 production is down"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, routing.StateMandatoryMatch, resp.Decision.State)
	assert.Equal(t, "incident-triage", resp.Decision.Chosen)
	assert.Equal(t, 1.0, resp.Decision.CombinedScore)
}

func TestHandleRoute_BadRequests(t *testing.T) {
	_, engine := newTestService(t)

	w, _ := postRoute(t, engine, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "input is required")

	w, _ = postRoute(t, engine, gin.H{"input": "hello", "family": "robot"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "family must be skill or agent")
}

func TestHandleCandidates(t *testing.T) {
	_, engine := newTestService(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/candidates?family=skill", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Candidates []candidateView `json:"candidates"`
		Count      int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	for _, c := range resp.Candidates {
		assert.Equal(t, "skill", c.Family)
	}

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/candidates?family=robot", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleHealth(t *testing.T) {
	_, engine := newTestService(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReloadRegistry_SwapsCandidates(t *testing.T) {
	svc, engine := newTestService(t)

	path := filepath.Join(t.TempDir(), "candidates.yaml")
	updated := `
candidates:
  - name: release-notes
    family: skill
    keywords:
      primary: [release notes]
    confidence: 1.0
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	require.NoError(t, svc.ReloadRegistry(path))

	// The old candidate set is gone, the new one routes.
	w, resp := postRoute(t, engine, gin.H{"input": "reformat this file", "family": "skill"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, routing.StateNoMatch, resp.Decision.State)

	w, resp = postRoute(t, engine, gin.H{"input": "draft the release notes", "family": "skill"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "release-notes", resp.Decision.Chosen)
}

func TestReloadRegistry_BadFileKeepsPrevious(t *testing.T) {
	svc, engine := newTestService(t)

	path := filepath.Join(t.TempDir(), "candidates.yaml")
	require.NoError(t, os.WriteFile(path, []byte("candidates: ["), 0o644))

	err := svc.ReloadRegistry(path)
	require.Error(t, err)
	var rerr *routing.RouterError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, routing.ErrCodeConfig, rerr.Code)

	// Previous router still serves.
	w, resp := postRoute(t, engine, gin.H{"input": "reformat this file", "family": "skill"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "code-formatter", resp.Decision.Chosen)
}

func TestReloadRegistry_MissingFileIsStorageError(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.ReloadRegistry(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	var rerr *routing.RouterError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, routing.ErrCodeStorage, rerr.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	engine := gin.New()
	engine.Use(RateLimitMiddleware(1, 1))
	engine.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code, "first request within burst")

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "burst exhausted")
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}
