// Copyright (C) 2025 Praxis Labs (oss@praxislabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command skillrouter is the local CLI for the routing engine.
//
// It runs the engine in-process against the same data directory routerd
// uses, so decisions and history are inspectable without a running service.
//
// Usage:
//
//	skillrouter route "scan for security vulnerabilities"
//	skillrouter route --family agent "refactor the auth module"
//	skillrouter candidates
//	skillrouter history list --limit 20
//	skillrouter history prune
//	skillrouter index status
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/praxislabs/skillrouter/services/router/config"
	"github.com/praxislabs/skillrouter/services/router/history"
	"github.com/praxislabs/skillrouter/services/router/routing"
)

var (
	flagDataDir  string
	flagRegistry string
	flagConfig   string
	flagFamily   string
	flagJSON     bool
	flagLimit    int
)

func main() {
	// CLI runs are short-lived and interactive; keep logs quiet unless
	// something is actually wrong.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	root := &cobra.Command{
		Use:   "skillrouter",
		Short: "Route requests to skills and agents by confidence",
		Long: "skillrouter scores free-text requests against a candidate registry\n" +
			"using keyword matching, mandatory trigger overrides, and a TF-IDF\n" +
			"similarity booster trained on past selections.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default: ~/.skillrouter)")
	root.PersistentFlags().StringVar(&flagRegistry, "registry", "", "candidate registry YAML (default: embedded)")
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "router config YAML (default: embedded)")

	routeCmd := &cobra.Command{
		Use:   "route <input...>",
		Short: "Route one request and print the decision",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRoute,
	}
	routeCmd.Flags().StringVar(&flagFamily, "family", "", "restrict to one family: skill or agent")
	routeCmd.Flags().BoolVar(&flagJSON, "json", false, "print the raw decision as JSON")

	candidatesCmd := &cobra.Command{
		Use:   "candidates",
		Short: "List registered candidates",
		RunE:  runCandidates,
	}
	candidatesCmd.Flags().StringVar(&flagFamily, "family", "", "restrict to one family: skill or agent")

	historyCmd := &cobra.Command{Use: "history", Short: "Inspect the selection history log"}
	historyListCmd := &cobra.Command{
		Use:   "list",
		Short: "Print recent selection records",
		RunE:  runHistoryList,
	}
	historyListCmd.Flags().IntVar(&flagLimit, "limit", 20, "max records to print (newest last)")
	historyListCmd.Flags().StringVar(&flagFamily, "family", "", "restrict to one family: skill or agent")
	historyPruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Compact the history log to the retention cap",
		RunE:  runHistoryPrune,
	}
	historyCmd.AddCommand(historyListCmd, historyPruneCmd)

	indexCmd := &cobra.Command{Use: "index", Short: "Inspect the similarity index"}
	indexStatusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print per-family booster readiness",
		RunE:  runIndexStatus,
	}
	indexRefreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Rebuild both similarity indexes from history",
		RunE:  runIndexRefresh,
	}
	indexCmd.AddCommand(indexStatusCmd, indexRefreshCmd)

	root.AddCommand(routeCmd, candidatesCmd, historyCmd, indexCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// ===== Shared setup =====

func dataDir() string {
	if flagDataDir != "" {
		return flagDataDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".skillrouter")
}

func loadConfig() (*config.RouterConfig, error) {
	if flagConfig == "" {
		return config.DefaultRouterConfig(slog.Default())
	}
	data, err := os.ReadFile(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", flagConfig, err)
	}
	return config.LoadRouterConfig(data, slog.Default())
}

func loadCandidates() ([]routing.Candidate, error) {
	var reg *config.Registry
	var err error
	if flagRegistry == "" {
		reg, err = config.DefaultRegistry(slog.Default())
	} else {
		var data []byte
		data, err = os.ReadFile(flagRegistry)
		if err == nil {
			reg, err = config.LoadRegistry(data, slog.Default())
		}
	}
	if err != nil {
		return nil, err
	}
	return routing.CompileCandidates(reg.Specs, slog.Default()), nil
}

func openHistory(cfg *config.RouterConfig) (*history.Store, error) {
	return history.Open(filepath.Join(dataDir(), "history", "selections.jsonl"), cfg.MaxHistoryEntries, slog.Default())
}

// ===== route =====

func runRoute(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	candidates, err := loadCandidates()
	if err != nil {
		return err
	}

	deps := routing.Deps{Logger: slog.Default()}
	if store, err := openHistory(cfg); err == nil {
		defer func() { _ = store.Close() }()
		deps.Store = store
		booster := routing.NewTFIDFBooster(store, cfg.ColdStartThreshold, cfg.IndexRefreshInterval, slog.Default())
		if err := booster.Refresh(cmd.Context()); err == nil {
			deps.Booster = booster
		}
	}
	router := routing.NewRouter(candidates, cfg, deps)

	input := strings.Join(args, " ")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var dec *routing.Decision
	family := flagFamily
	switch family {
	case "skill", "agent":
		dec = router.Route(ctx, routing.Request{Input: input, Family: routing.Family(family)})
	case "":
		family = "skill"
		dec = router.Route(ctx, routing.Request{Input: input, Family: routing.FamilySkill})
		if dec.State == routing.StateNoMatch {
			family = "agent"
			dec = router.Route(ctx, routing.Request{Input: input, Family: routing.FamilyAgent})
		}
	default:
		return fmt.Errorf("family must be 'skill' or 'agent', got %q", family)
	}

	if flagJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(dec)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "state:    %s\n", dec.State)
	if dec.Chosen != "" {
		fmt.Fprintf(out, "chosen:   %s (%s)\n", dec.Chosen, family)
		fmt.Fprintf(out, "score:    %.3f\n", dec.CombinedScore)
	}
	fmt.Fprintf(out, "reason:   %s\n", dec.Justification)
	if terms := routing.ExtractQueryTerms(input); len(terms) > 0 {
		sorted := make([]string, 0, len(terms))
		for term := range terms {
			sorted = append(sorted, term)
		}
		sort.Strings(sorted)
		fmt.Fprintf(out, "terms:    %s\n", strings.Join(sorted, " "))
	}
	for _, alt := range dec.Alternates {
		fmt.Fprintf(out, "  also:   %s (%.3f)\n", alt.Name, alt.Score)
	}
	return nil
}

// ===== candidates =====

func runCandidates(cmd *cobra.Command, _ []string) error {
	candidates, err := loadCandidates()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, c := range candidates {
		if flagFamily != "" && string(c.Family) != flagFamily {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = "-"
		}
		fmt.Fprintf(out, "%-24s %-6s triggers=%d  %s\n", c.Name, c.Family, len(c.Triggers), desc)
	}
	return nil
}

// ===== history =====

func runHistoryList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	records := store.Records(flagFamily)
	if flagLimit > 0 && len(records) > flagLimit {
		records = records[len(records)-flagLimit:]
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "no selection records")
		return nil
	}
	for _, rec := range records {
		fmt.Fprintf(out, "%s  %-6s %-24s %.3f  %s\n",
			rec.Timestamp.Format("2006-01-02 15:04:05"),
			rec.Family, rec.Chosen, rec.CombinedScore, rec.Input)
	}
	return nil
}

func runHistoryPrune(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Compact(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "history compacted: %d records retained (cap %d)\n",
		store.Len(""), cfg.MaxHistoryEntries)
	return nil
}

// ===== index =====

func runIndexStatus(cmd *cobra.Command, _ []string) error {
	booster, store, err := openBooster()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	out := cmd.OutOrStdout()
	for _, family := range []routing.Family{routing.FamilySkill, routing.FamilyAgent} {
		stats := booster.Stats(family)
		state := "cold"
		if stats.Ready {
			state = "ready"
		}
		fmt.Fprintf(out, "%-6s %-6s records=%d indexed=%d vocabulary=%d\n",
			family, state, stats.Records, stats.IndexedDocs, stats.Vocabulary)
	}
	return nil
}

func runIndexRefresh(cmd *cobra.Command, _ []string) error {
	booster, store, err := openBooster()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := booster.Refresh(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "similarity indexes rebuilt")
	return runIndexStatusInto(cmd, booster)
}

func runIndexStatusInto(cmd *cobra.Command, booster *routing.TFIDFBooster) error {
	out := cmd.OutOrStdout()
	for _, family := range []routing.Family{routing.FamilySkill, routing.FamilyAgent} {
		stats := booster.Stats(family)
		fmt.Fprintf(out, "%-6s indexed=%d vocabulary=%d\n", family, stats.IndexedDocs, stats.Vocabulary)
	}
	return nil
}

func openBooster() (*routing.TFIDFBooster, *history.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := openHistory(cfg)
	if err != nil {
		return nil, nil, err
	}
	booster := routing.NewTFIDFBooster(store, cfg.ColdStartThreshold, cfg.IndexRefreshInterval, slog.Default())
	if err := booster.Refresh(context.Background()); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return booster, store, nil
}
