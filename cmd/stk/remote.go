package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	cl "stockclass/internal/cli"
)

// isRemote reports whether cmd runs against the HTTP API instead of the
// local store.
func isRemote(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "remote" {
			return true
		}
	}
	return false
}

func newRemoteCmd(e *env) *cobra.Command {
	apiBase := e.cfg.APIBaseURL
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Read a running stockclass API",
	}
	cmd.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	withClient := func(run func(ctx context.Context, c *cl.Client) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			return run(ctx, cl.NewClient(apiBase))
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "health",
			Short: "Check that the API is up",
			RunE: withClient(func(ctx context.Context, c *cl.Client) error {
				if err := c.Health(ctx); err != nil {
					return err
				}
				printSuccess("API at " + c.BaseURL + " is healthy.")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "market",
			Short: "List stocks from the API",
			RunE: withClient(func(ctx context.Context, c *cl.Client) error {
				m, err := c.Market(ctx)
				if err != nil {
					return err
				}
				renderQuotes(m)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "leaderboard",
			Short: "Show the API's leaderboard",
			RunE: withClient(func(ctx context.Context, c *cl.Client) error {
				st, err := c.Standings(ctx)
				if err != nil {
					return err
				}
				accent.Printf("\nDay %d\n", st.Day)
				renderLeaderboard(st.Leaderboard)
				return nil
			}),
		},
	)
	return cmd
}
