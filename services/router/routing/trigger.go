// Copyright (C) 2025 Praxis Labs (oss@praxislabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

// =============================================================================
// Mandatory-Trigger Matcher
// =============================================================================

// MatchMandatoryTrigger tests each candidate's trigger patterns against the
// normalized input, in candidate-declaration order, patterns in declaration
// order within a candidate. The first pattern that matches wins outright.
//
// Trigger precedence is absolute: when this fires, the orchestrator skips
// scoring and returns the candidate with combined score 1.0.
//
// When multiple candidates' triggers would match, the first in declaration
// order wins. That ambiguity is inherited behavior, kept deliberately —
// registries that need a different winner reorder their declarations.
func MatchMandatoryTrigger(normalizedInput string, candidates []Candidate) (*Candidate, string) {
	if normalizedInput == "" {
		return nil, ""
	}
	for i := range candidates {
		for _, re := range candidates[i].Triggers {
			if re.MatchString(normalizedInput) {
				return &candidates[i], re.String()
			}
		}
	}
	return nil, ""
}
