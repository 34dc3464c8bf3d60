// Copyright (C) 2025 Praxis Labs (oss@praxislabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"math"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Router Config
// =============================================================================

//go:embed router_config.yaml
var defaultRouterConfigYAML []byte

// =============================================================================
// Router Configuration
// =============================================================================

// RouterConfig holds every tunable of the scoring and boosting policy.
//
// The keyword/historical split and the strong-match bonus thresholds are
// empirically chosen, not derived. They are configuration, not constants —
// tests exercise them as tunables.
//
// # Thread Safety
//
// Immutable after loading; safe for concurrent use.
type RouterConfig struct {
	// KeywordWeight scales the lexical score in the combined confidence.
	KeywordWeight float64 `yaml:"keyword_weight" validate:"gte=0,lte=1"`

	// HistoricalWeight scales the similarity-booster score.
	// KeywordWeight + HistoricalWeight must sum to 1.0.
	HistoricalWeight float64 `yaml:"historical_weight" validate:"gte=0,lte=1"`

	// SkillThreshold is the minimum combined score for a skill-family match.
	SkillThreshold float64 `yaml:"skill_threshold" validate:"gt=0,lte=1"`

	// AgentThreshold is the minimum combined score for an agent-family match.
	AgentThreshold float64 `yaml:"agent_threshold" validate:"gt=0,lte=1"`

	// IndexRefreshInterval is how many new history records accumulate before
	// the similarity index is rebuilt automatically.
	IndexRefreshInterval int `yaml:"index_refresh_interval" validate:"gt=0"`

	// MaxHistoryEntries caps the selection history log (FIFO eviction).
	MaxHistoryEntries int `yaml:"max_history_entries" validate:"gt=0"`

	// ColdStartThreshold is the minimum per-family record count before the
	// historical booster activates. Below it, scoring is purely lexical.
	ColdStartThreshold int `yaml:"cold_start_threshold" validate:"gte=0"`

	// MaxAlternates bounds the ranked alternates returned with a decision.
	MaxAlternates int `yaml:"max_alternates" validate:"gte=0"`
}

// Defaults. The 0.6/0.4 split is tuned empirically, not derived.
const (
	DefaultKeywordWeight        = 0.6
	DefaultHistoricalWeight     = 0.4
	DefaultSkillThreshold       = 0.3
	DefaultAgentThreshold       = 0.4
	DefaultIndexRefreshInterval = 100
	DefaultMaxHistoryEntries    = 1000
	DefaultColdStartThreshold   = 10
	DefaultMaxAlternates        = 3
)

// Threshold returns the confidence threshold for the given family name.
// Unknown families get the stricter agent threshold.
func (c *RouterConfig) Threshold(family string) float64 {
	if family == "skill" {
		return c.SkillThreshold
	}
	return c.AgentThreshold
}

// =============================================================================
// Loading
// =============================================================================

var validate = validator.New()

// LoadRouterConfig parses and validates a RouterConfig from YAML bytes.
//
// Missing fields get defaults before validation, so a partial file tuning a
// single knob is valid.
func LoadRouterConfig(data []byte, logger *slog.Logger) (*RouterConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadRouterConfig: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	cfg := &RouterConfig{}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("LoadRouterConfig: parsing YAML: %w", err)
		}
	}
	applyDefaults(cfg)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("LoadRouterConfig: validation: %w", err)
	}
	if math.Abs(cfg.KeywordWeight+cfg.HistoricalWeight-1.0) > 1e-9 {
		return nil, fmt.Errorf("LoadRouterConfig: keyword_weight (%.3f) + historical_weight (%.3f) must sum to 1.0",
			cfg.KeywordWeight, cfg.HistoricalWeight)
	}

	logger.Info("router config loaded",
		slog.Float64("keyword_weight", cfg.KeywordWeight),
		slog.Float64("historical_weight", cfg.HistoricalWeight),
		slog.Float64("skill_threshold", cfg.SkillThreshold),
		slog.Float64("agent_threshold", cfg.AgentThreshold),
		slog.Int("max_history_entries", cfg.MaxHistoryEntries),
	)
	return cfg, nil
}

// DefaultRouterConfig loads the embedded default configuration.
func DefaultRouterConfig(logger *slog.Logger) (*RouterConfig, error) {
	return LoadRouterConfig(defaultRouterConfigYAML, logger)
}

// applyDefaults fills zero fields. A deliberate zero weight pair is
// indistinguishable from "unset", so both weights default together.
func applyDefaults(cfg *RouterConfig) {
	if cfg.KeywordWeight == 0 && cfg.HistoricalWeight == 0 {
		cfg.KeywordWeight = DefaultKeywordWeight
		cfg.HistoricalWeight = DefaultHistoricalWeight
	}
	if cfg.SkillThreshold == 0 {
		cfg.SkillThreshold = DefaultSkillThreshold
	}
	if cfg.AgentThreshold == 0 {
		cfg.AgentThreshold = DefaultAgentThreshold
	}
	if cfg.IndexRefreshInterval == 0 {
		cfg.IndexRefreshInterval = DefaultIndexRefreshInterval
	}
	if cfg.MaxHistoryEntries == 0 {
		cfg.MaxHistoryEntries = DefaultMaxHistoryEntries
	}
	if cfg.ColdStartThreshold == 0 {
		cfg.ColdStartThreshold = DefaultColdStartThreshold
	}
	if cfg.MaxAlternates == 0 {
		cfg.MaxAlternates = DefaultMaxAlternates
	}
}
