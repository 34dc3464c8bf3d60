// Copyright (C) 2025 Praxis Labs (oss@praxislabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"regexp"
	"testing"
)

func mustTrigger(t *testing.T, pattern string) *regexp.Regexp {
	t.Helper()
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		t.Fatalf("bad trigger pattern %q: %v", pattern, err)
	}
	return re
}

func TestMatchMandatoryTrigger_Basic(t *testing.T) {
	candidates := []Candidate{
		{Name: "security-scanner", Triggers: []*regexp.Regexp{mustTrigger(t, `\bcve-\d{4}-\d{4,}\b`)}},
		{Name: "incident-triage", Triggers: []*regexp.Regexp{mustTrigger(t, `\bsev[ -]?[12]\b`)}},
	}

	got, pattern := MatchMandatoryTrigger("look into cve-2024-12345 please", candidates)
	if got == nil || got.Name != "security-scanner" {
		t.Fatalf("expected security-scanner, got %v", got)
	}
	if pattern == "" {
		t.Error("expected the matched pattern to be reported")
	}
}

func TestMatchMandatoryTrigger_NoMatch(t *testing.T) {
	candidates := []Candidate{
		{Name: "security-scanner", Triggers: []*regexp.Regexp{mustTrigger(t, `\bcve-\d{4}-\d{4,}\b`)}},
	}
	if got, _ := MatchMandatoryTrigger("format my code", candidates); got != nil {
		t.Errorf("expected no trigger match, got %s", got.Name)
	}
}

// Declaration order breaks ties: the first candidate whose trigger fires wins,
// even when a later candidate's trigger also matches.
func TestMatchMandatoryTrigger_FirstDeclaredWins(t *testing.T) {
	candidates := []Candidate{
		{Name: "first", Triggers: []*regexp.Regexp{mustTrigger(t, `urgent`)}},
		{Name: "second", Triggers: []*regexp.Regexp{mustTrigger(t, `urgent incident`)}},
	}

	got, _ := MatchMandatoryTrigger("urgent incident in production", candidates)
	if got == nil || got.Name != "first" {
		t.Fatalf("expected declaration order to win, got %v", got)
	}
}

func TestMatchMandatoryTrigger_CaseInsensitive(t *testing.T) {
	candidates := []Candidate{
		{Name: "incident-triage", Triggers: []*regexp.Regexp{mustTrigger(t, `\bsev[ -]?[12]\b`)}},
	}

	for _, input := range []string{"SEV-1 in us-east", "sev 2 reported", "Sev1 paging"} {
		got, _ := MatchMandatoryTrigger(NormalizeInput(input), candidates)
		if got == nil {
			t.Errorf("expected trigger to fire on %q", input)
		}
	}
}

func TestMatchMandatoryTrigger_SkipsTriggerlessCandidates(t *testing.T) {
	candidates := []Candidate{
		{Name: "plain"},
		{Name: "triaged", Triggers: []*regexp.Regexp{mustTrigger(t, `rollback`)}},
	}

	got, _ := MatchMandatoryTrigger("rollback the deploy", candidates)
	if got == nil || got.Name != "triaged" {
		t.Fatalf("expected triaged, got %v", got)
	}
}
