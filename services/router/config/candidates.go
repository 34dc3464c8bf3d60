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

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Candidate Registry
// =============================================================================

//go:embed candidates.yaml
var defaultCandidatesYAML []byte

// MaxYAMLFileSize caps config files at 1 MiB. A registry larger than this is
// almost certainly a mistake (or an attack via a watched config path).
const MaxYAMLFileSize = 1 << 20

// DefaultConfidence is the base-confidence multiplier applied when a
// candidate entry omits the confidence field.
const DefaultConfidence = 0.85

// =============================================================================
// Candidate Registry Types
// =============================================================================

// KeywordSpec accepts both registry keyword formats:
//
//	keywords: [fmt, lint, style]              # legacy flat list
//	keywords: {primary: [...], secondary: [...], context: [...]}
//
// Exactly one of Flat or the tier fields is populated after unmarshal.
type KeywordSpec struct {
	// Flat is the legacy untiered keyword list.
	Flat []string

	// Primary keywords carry full match weight.
	Primary []string

	// Secondary keywords carry half weight.
	Secondary []string

	// Context keywords carry the lowest weight.
	Context []string
}

// Tiered reports whether this spec uses the weighted-tier format.
func (k *KeywordSpec) Tiered() bool {
	return len(k.Flat) == 0 && (len(k.Primary) > 0 || len(k.Secondary) > 0 || len(k.Context) > 0)
}

// Empty reports whether no keywords are defined in either format.
func (k *KeywordSpec) Empty() bool {
	return len(k.Flat) == 0 && len(k.Primary) == 0 && len(k.Secondary) == 0 && len(k.Context) == 0
}

// UnmarshalYAML decodes either a sequence (flat list) or a mapping (tiers).
func (k *KeywordSpec) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		return value.Decode(&k.Flat)
	case yaml.MappingNode:
		var tiers struct {
			Primary   []string `yaml:"primary"`
			Secondary []string `yaml:"secondary"`
			Context   []string `yaml:"context"`
		}
		if err := value.Decode(&tiers); err != nil {
			return err
		}
		k.Primary = tiers.Primary
		k.Secondary = tiers.Secondary
		k.Context = tiers.Context
		return nil
	default:
		return fmt.Errorf("keywords must be a list or a {primary, secondary, context} mapping")
	}
}

// CandidateSpec is one routable target as declared in the registry file.
//
// Specs are loaded once per process and treated as immutable configuration.
type CandidateSpec struct {
	// Name uniquely identifies the candidate within its family.
	Name string `yaml:"name"`

	// Family is the candidate pool: "skill" or "agent".
	Family string `yaml:"family"`

	// Keywords drive the lexical scorer (flat or tiered format).
	Keywords KeywordSpec `yaml:"keywords"`

	// Phrases each add a flat bonus to the lexical score when matched.
	Phrases []string `yaml:"phrases"`

	// Confidence is the base-confidence multiplier in (0, 1].
	// Zero means "use DefaultConfidence".
	Confidence float64 `yaml:"confidence"`

	// MandatoryTriggers are regex patterns that force this candidate
	// regardless of score. Compiled case-insensitively.
	MandatoryTriggers []string `yaml:"mandatory_triggers"`

	// Description is free-form metadata shown in listings.
	Description string `yaml:"description"`

	// DefaultContext is an opaque object passed through to the execution layer.
	DefaultContext map[string]any `yaml:"default_context"`

	// Operations lists the operation names the candidate supports.
	Operations []string `yaml:"operations"`
}

// Registry is the immutable set of candidate specs for one process.
//
// # Thread Safety
//
// Immutable after loading; safe for concurrent use.
type Registry struct {
	// Specs preserves file declaration order — the mandatory-trigger matcher
	// depends on it (first declared wins).
	Specs []CandidateSpec
}

// =============================================================================
// Loading
// =============================================================================

// LoadRegistry parses a candidate registry from YAML bytes.
//
// Malformed entries are skipped with a warning — one bad entry never aborts
// startup. Only an unparseable document or an empty result is an error.
func LoadRegistry(data []byte, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("LoadRegistry: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadRegistry: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var doc struct {
		Candidates []yaml.Node `yaml:"candidates"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("LoadRegistry: parsing YAML: %w", err)
	}

	reg := &Registry{}
	seen := make(map[string]bool)
	for i, node := range doc.Candidates {
		var spec CandidateSpec
		if err := node.Decode(&spec); err != nil {
			logger.Warn("registry: skipping malformed candidate entry",
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := validateSpec(&spec); err != nil {
			logger.Warn("registry: skipping invalid candidate entry",
				slog.Int("index", i),
				slog.String("name", spec.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		key := spec.Family + "/" + spec.Name
		if seen[key] {
			logger.Warn("registry: duplicate candidate, keeping first declaration",
				slog.String("name", spec.Name),
				slog.String("family", spec.Family),
			)
			continue
		}
		seen[key] = true
		reg.Specs = append(reg.Specs, spec)
	}

	if len(reg.Specs) == 0 {
		return nil, fmt.Errorf("LoadRegistry: no valid candidate entries")
	}

	slog.Info("candidate registry loaded",
		slog.Int("candidates", len(reg.Specs)),
		slog.Int("declared", len(doc.Candidates)),
	)
	return reg, nil
}

// DefaultRegistry loads the embedded default candidate registry.
func DefaultRegistry(logger *slog.Logger) (*Registry, error) {
	return LoadRegistry(defaultCandidatesYAML, logger)
}

// validateSpec applies defaults and rejects entries the router cannot use.
func validateSpec(spec *CandidateSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	switch spec.Family {
	case "skill", "agent":
	case "":
		spec.Family = "skill"
	default:
		return fmt.Errorf("family must be 'skill' or 'agent', got %q", spec.Family)
	}
	if spec.Confidence == 0 {
		spec.Confidence = DefaultConfidence
	}
	if spec.Confidence < 0 || spec.Confidence > 1 {
		return fmt.Errorf("confidence must be in (0, 1], got %.3f", spec.Confidence)
	}
	// Phrases only ever boost a keyword match; they cannot create one, so an
	// entry without keywords or triggers can never be routed to.
	if spec.Keywords.Empty() && len(spec.MandatoryTriggers) == 0 {
		return fmt.Errorf("entry has no keywords or triggers, unroutable")
	}
	return nil
}

// SynthesizeSpec builds a minimal registry entry for a candidate discovered
// by the execution layer that has no explicit registry entry. The candidate
// name itself becomes its only keyword.
func SynthesizeSpec(name, family string) CandidateSpec {
	if family != "agent" {
		family = "skill"
	}
	return CandidateSpec{
		Name:        name,
		Family:      family,
		Keywords:    KeywordSpec{Flat: []string{name}},
		Confidence:  DefaultConfidence,
		Description: "auto-discovered candidate (no registry entry)",
	}
}

// ByFamily returns the specs for one family, preserving declaration order.
func (r *Registry) ByFamily(family string) []CandidateSpec {
	out := make([]CandidateSpec, 0, len(r.Specs))
	for _, s := range r.Specs {
		if s.Family == family {
			out = append(out, s)
		}
	}
	return out
}
