package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Version is set during build
	Version = "dev"

	// outputJSON switches every command to JSON output
	outputJSON bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "searchctl",
	Short: "Operate the forum search cache and rate limits",
	Long: `searchctl connects to the same key-value store as the search API,
using the same configuration (CONFIG_FILE and environment), and lets an
operator inspect statistics, invalidate cached results and manage rate
limit windows.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Print results as JSON")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (overrides CONFIG_FILE)")
}
