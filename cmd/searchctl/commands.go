package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"forumsearch/application/cache"
	"forumsearch/application/commands"
	"forumsearch/application/queries"
	"forumsearch/infrastructure/config"
	"forumsearch/infrastructure/di"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show search statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var hitRateCmd = &cobra.Command{
	Use:   "hit-rate",
	Short: "Show the cache hit rate",
	Args:  cobra.NoArgs,
	RunE:  runHitRate,
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate [prefix]",
	Short: "Invalidate cached results",
	Long: `Invalidate cached results whose namespace starts with prefix.
Without a prefix every registered entry is cleared.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInvalidate,
}

var ratelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Inspect or reset rate limit windows",
}

var ratelimitCheckCmd = &cobra.Command{
	Use:   "check <action> <identifier>",
	Short: "Show the window for an identifier without recording a request",
	Args:  cobra.ExactArgs(2),
	RunE:  runRateLimitCheck,
}

var ratelimitResetCmd = &cobra.Command{
	Use:   "reset <action> <identifier>",
	Short: "Clear the window and block for an identifier",
	Args:  cobra.ExactArgs(2),
	RunE:  runRateLimitReset,
}

var ratelimitPoliciesCmd = &cobra.Command{
	Use:   "policies",
	Short: "List the effective per-action policies",
	Args:  cobra.NoArgs,
	RunE:  runRateLimitPolicies,
}

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <query>",
	Short: "Print the cache fingerprint of a query under the active model config",
	Args:  cobra.ExactArgs(1),
	RunE:  runFingerprint,
}

func init() {
	ratelimitCmd.AddCommand(ratelimitCheckCmd, ratelimitResetCmd, ratelimitPoliciesCmd)
	rootCmd.AddCommand(statsCmd, hitRateCmd, invalidateCmd, ratelimitCmd, fingerprintCmd)
}

// loadConfig reads configuration the same way the API does. The --config
// flag takes precedence over CONFIG_FILE.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := os.Setenv("CONFIG_FILE", path); err != nil {
			return nil, err
		}
	}
	return config.LoadConfig()
}

// newContainer builds the dependency container. Tests swap it for a
// prebuilt container.
var newContainer = di.InitializeContainer

// withContainer builds the dependency container for one command
func withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *di.Container) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	// Keep operator output free of request logs
	cfg.LogLevel = "error"
	cfg.EnableMetrics = false

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	container, cleanup, err := newContainer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer cleanup()

	return fn(ctx, container)
}

func runStats(cmd *cobra.Command, args []string) error {
	return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
		res, err := c.QueryBus.Ask(ctx, queries.GetStatsQuery{})
		if err != nil {
			return err
		}
		stats := res.(*queries.StatsResult)
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), stats)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Total searches:\t%d\n", stats.TotalSearches)
		fmt.Fprintf(w, "Avg response time:\t%.1f ms\n", stats.AvgResponseTime)
		fmt.Fprintf(w, "Avg result count:\t%.1f\n", stats.AvgResultCount)
		fmt.Fprintf(w, "Cache hit rate:\t%.1f%% (%d hits, %d misses)\n", stats.CacheHitRate, stats.CacheHits, stats.CacheMisses)
		if stats.Degraded {
			fmt.Fprintf(w, "Warning:\tstatistics store unreachable\n")
		}
		if len(stats.PopularQueries) > 0 {
			fmt.Fprintf(w, "\nQUERY\tCOUNT\n")
			for _, q := range stats.PopularQueries {
				fmt.Fprintf(w, "%s\t%d\n", q.Query, q.Count)
			}
		}
		return w.Flush()
	})
}

func runHitRate(cmd *cobra.Command, args []string) error {
	return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
		hits, misses := c.ResultCache.Counts(ctx)
		rate := c.ResultCache.HitRate(ctx)
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"hit_rate": rate,
				"hits":     hits,
				"misses":   misses,
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%.1f%% (%d hits, %d misses)\n", rate, hits, misses)
		return nil
	})
}

func runInvalidate(cmd *cobra.Command, args []string) error {
	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
	}
	return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
		res, err := c.CommandBus.Send(ctx, commands.InvalidateCacheCommand{Prefix: prefix})
		if err != nil {
			return err
		}
		result := res.(*commands.InvalidateCacheResult)
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), result)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d entries\n", result.Cleared)
		return nil
	})
}

func runRateLimitCheck(cmd *cobra.Command, args []string) error {
	return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
		res, err := c.QueryBus.Ask(ctx, queries.GetRateLimitQuery{Action: args[0], Identifier: args[1]})
		if err != nil {
			return err
		}
		status := res.(*queries.RateLimitStatus)
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), status)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Action:\t%s\n", status.Action)
		fmt.Fprintf(w, "Identifier:\t%s\n", status.Identifier)
		fmt.Fprintf(w, "Remaining:\t%d of %d\n", status.Remaining, status.Limit)
		fmt.Fprintf(w, "Resets at:\t%s\n", status.ResetTime.Format(time.RFC3339))
		if status.BlockedUntil != nil {
			fmt.Fprintf(w, "Blocked until:\t%s\n", status.BlockedUntil.Format(time.RFC3339))
		}
		return w.Flush()
	})
}

func runRateLimitReset(cmd *cobra.Command, args []string) error {
	return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
		res, err := c.CommandBus.Send(ctx, commands.ResetRateLimitCommand{Action: args[0], Identifier: args[1]})
		if err != nil {
			return err
		}
		result := res.(*commands.ResetRateLimitResult)
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), result)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reset %s for %s\n", result.Action, result.Identifier)
		return nil
	})
}

func runRateLimitPolicies(cmd *cobra.Command, args []string) error {
	return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
		policies := c.RateLimiter.Policies()
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), policies)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "ACTION\tREQUESTS\tWINDOW\tBLOCK\n")
		for _, action := range c.RateLimiter.Actions() {
			p := policies[action]
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", action, p.Requests, p.Window, p.Block)
		}
		return w.Flush()
	})
}

// runFingerprint needs only configuration, not a store connection
func runFingerprint(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	version := cfg.ModelConfigVersion()
	fp := cache.Fingerprint(strings.TrimSpace(args[0]), nil, version)
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), map[string]string{
			"fingerprint":    fp,
			"config_version": version,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), fp)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
