// Command poolctl operates an auction-pool server over its HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/atmx/auction-pool/internal/api"
)

var (
	apiURL  string
	sender  string
	token   string
	timeout time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "poolctl",
		Short:        "Operate an auction-pool agent",
		Long:         `Submit commands to an auction-pool agent and inspect its ledger, routes and bid lifecycle.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api", envOr("POOL_API_URL", "http://localhost:8080/api/v1"), "pool API base URL")
	rootCmd.PersistentFlags().StringVar(&sender, "sender", os.Getenv("POOL_SENDER"), "address submitting commands")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("POOL_TOKEN"), "bearer token for commands")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")

	rootCmd.AddCommand(poolCommands()...)
	rootCmd.AddCommand(bidCommands()...)
	rootCmd.AddCommand(adminCommands()...)
	rootCmd.AddCommand(queryCommands()...)
	rootCmd.AddCommand(tokenCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type action func(ctx context.Context, c *api.Client, args []string) error

// query runs fn with a client and a request-scoped context.
func query(fn action) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		c := api.NewClient(apiURL)
		if token != "" {
			c = c.WithToken(token)
		}
		return fn(ctx, c, args)
	}
}

// command is query for state-changing calls, which need a sender.
func command(fn action) func(*cobra.Command, []string) error {
	q := query(fn)
	return func(cmd *cobra.Command, args []string) error {
		if sender == "" {
			return fmt.Errorf("--sender (or POOL_SENDER) is required")
		}
		return q(cmd, args)
	}
}
