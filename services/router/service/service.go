// Copyright (C) 2025 Praxis Labs (oss@praxislabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package service exposes the router over HTTP.
//
// The Service owns the live routing.Router behind an atomic pointer so the
// registry file can be reloaded without dropping in-flight requests: readers
// always see either the old router or the new one, never a partial state.
package service

import (
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/praxislabs/skillrouter/services/router/config"
	"github.com/praxislabs/skillrouter/services/router/routing"
)

// ===== Metrics =====

var (
	registryReloadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skillrouter",
		Subsystem: "service",
		Name:      "registry_reload_total",
		Help:      "Registry reload attempts, by outcome",
	}, []string{"outcome"})

	httpRequestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skillrouter",
		Subsystem: "service",
		Name:      "http_requests_total",
		Help:      "HTTP requests served, by route and status",
	}, []string{"route", "status"})
)

// ===== Service =====

// Service wires the routing engine to HTTP handlers.
//
// # Thread Safety
//
// Safe for concurrent use. The live router is swapped atomically on reload.
type Service struct {
	router atomic.Pointer[routing.Router]

	cfg    *config.RouterConfig
	deps   routing.Deps
	logger *slog.Logger
}

// NewService creates a Service around an initial router.
//
// cfg and deps are reused when the registry reloads: a reload changes the
// candidate set, never the scoring policy or the collaborators.
func NewService(initial *routing.Router, cfg *config.RouterConfig, deps routing.Deps, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{cfg: cfg, deps: deps, logger: logger}
	s.router.Store(initial)
	return s
}

// Router returns the live router.
func (s *Service) Router() *routing.Router {
	return s.router.Load()
}

// ReloadRegistry reads the registry file at path, compiles it, and swaps the
// live router. On any failure the previous router stays in place.
//
// Errors carry a routing.RouterError code: ErrCodeStorage when the file
// cannot be read, ErrCodeConfig when it cannot be parsed.
func (s *Service) ReloadRegistry(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		registryReloadTotal.WithLabelValues("error").Inc()
		return routing.WrapRouterError(routing.ErrCodeStorage, "read registry "+path, err)
	}
	reg, err := config.LoadRegistry(data, s.logger)
	if err != nil {
		registryReloadTotal.WithLabelValues("error").Inc()
		return routing.WrapRouterError(routing.ErrCodeConfig, "parse registry "+path, err)
	}

	candidates := routing.CompileCandidates(reg.Specs, s.logger)
	s.router.Store(routing.NewRouter(candidates, s.cfg, s.deps))
	registryReloadTotal.WithLabelValues("ok").Inc()

	s.logger.Info("registry reloaded",
		slog.String("path", path),
		slog.Int("candidates", len(candidates)),
	)
	return nil
}

// ===== Request / Response shapes =====

// RouteRequest is the POST /v1/route body.
type RouteRequest struct {
	// Input is the user text to route. Required.
	Input string `json:"input" binding:"required"`

	// Family restricts routing to one pool. Empty means "skill first,
	// fall through to agent on NO_MATCH".
	Family string `json:"family" binding:"omitempty,oneof=skill agent"`

	// Context carries optional structured hints passed through unchanged.
	Context map[string]any `json:"context"`
}

// RouteResponse wraps a decision with the family that produced it.
type RouteResponse struct {
	Family   string            `json:"family"`
	Decision *routing.Decision `json:"decision"`

	// FellThrough is true when the skill pool returned NO_MATCH and the
	// decision came from the agent pool instead.
	FellThrough bool `json:"fell_through,omitempty"`
}

// candidateView is the listing shape for GET /v1/candidates.
type candidateView struct {
	Name        string   `json:"name"`
	Family      string   `json:"family"`
	Description string   `json:"description,omitempty"`
	Operations  []string `json:"operations,omitempty"`
	Triggers    int      `json:"triggers"`
}

// ===== Handlers =====

// HandleRoute serves POST /v1/route.
//
// With no explicit family, skills route first and a NO_MATCH falls through
// to the agent pool — deterministic handlers are cheaper than autonomous
// executors, so they get first claim.
func (s *Service) HandleRoute(c *gin.Context) {
	var req RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpRequestTotal.WithLabelValues("route", "400").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r := s.Router()
	ctx := c.Request.Context()

	if req.Family != "" {
		dec := r.Route(ctx, routing.Request{
			Input:   req.Input,
			Family:  routing.Family(req.Family),
			Context: req.Context,
		})
		httpRequestTotal.WithLabelValues("route", "200").Inc()
		c.JSON(http.StatusOK, RouteResponse{Family: req.Family, Decision: dec})
		return
	}

	dec := r.Route(ctx, routing.Request{Input: req.Input, Family: routing.FamilySkill, Context: req.Context})
	resp := RouteResponse{Family: string(routing.FamilySkill), Decision: dec}
	if dec.State == routing.StateNoMatch {
		agentDec := r.Route(ctx, routing.Request{Input: req.Input, Family: routing.FamilyAgent, Context: req.Context})
		resp = RouteResponse{Family: string(routing.FamilyAgent), Decision: agentDec, FellThrough: true}
	}
	httpRequestTotal.WithLabelValues("route", "200").Inc()
	c.JSON(http.StatusOK, resp)
}

// HandleCandidates serves GET /v1/candidates. Optional ?family= filter.
func (s *Service) HandleCandidates(c *gin.Context) {
	family := c.Query("family")
	if family != "" && family != "skill" && family != "agent" {
		httpRequestTotal.WithLabelValues("candidates", "400").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "family must be 'skill' or 'agent'"})
		return
	}

	r := s.Router()
	var pools []routing.Family
	if family == "" {
		pools = []routing.Family{routing.FamilySkill, routing.FamilyAgent}
	} else {
		pools = []routing.Family{routing.Family(family)}
	}

	out := make([]candidateView, 0, 16)
	for _, f := range pools {
		for _, cand := range r.Candidates(f) {
			out = append(out, candidateView{
				Name:        cand.Name,
				Family:      string(cand.Family),
				Description: cand.Description,
				Operations:  cand.Operations,
				Triggers:    len(cand.Triggers),
			})
		}
	}
	httpRequestTotal.WithLabelValues("candidates", "200").Inc()
	c.JSON(http.StatusOK, gin.H{"candidates": out, "count": len(out)})
}

// HandleBoosterStats serves GET /v1/booster/stats.
func (s *Service) HandleBoosterStats(c *gin.Context) {
	booster, ok := s.deps.Booster.(*routing.TFIDFBooster)
	if !ok || booster == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"enabled": true,
		"skill":   booster.Stats(routing.FamilySkill),
		"agent":   booster.Stats(routing.FamilyAgent),
	})
}

// HandleHealth serves GET /healthz.
func (s *Service) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RegisterRoutes attaches the service handlers under the v1 group.
func RegisterRoutes(v1 *gin.RouterGroup, s *Service) {
	v1.POST("/route", s.HandleRoute)
	v1.GET("/candidates", s.HandleCandidates)
	v1.GET("/booster/stats", s.HandleBoosterStats)
}
