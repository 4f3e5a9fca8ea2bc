package cmd

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jacklau/ghstars/internal/github"
	"github.com/jacklau/ghstars/internal/ingest"
	"github.com/jacklau/ghstars/internal/pubsub"
)

var (
	fetchForce bool
	fetchToken string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <username>",
	Short: "Fetch and cache the stars of a GitHub user",
	Long: `Fetch downloads every repository the user has starred, embeds each one,
and replaces the user's cached snapshot in a single transaction. A snapshot
younger than the configured ttl is reused unless --force is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().BoolVarP(&fetchForce, "force", "f", false, "refresh even if the cache is fresh")
	fetchCmd.Flags().StringVarP(&fetchToken, "token", "t", "", "GitHub API token (overrides config and GITHUB_TOKEN)")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	owners, err := parseOwners(args[0])
	if err != nil {
		return err
	}
	if len(owners) != 1 {
		return fmt.Errorf("fetch takes a single username, got %d", len(owners))
	}
	owner := owners[0]

	c, err := setup()
	if err != nil {
		return err
	}
	defer c.Store.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	decision, err := newFreshness(c).Decide(ctx, owner, fetchForce)
	if err != nil {
		return err
	}
	if !decision.Refetch {
		stats, err := c.Store.GetOwnerStats(ctx, owner)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Using cached data (refreshed %s): %s repositories for %s\n",
			humanize.Time(decision.LastRefresh), humanize.Comma(int64(stats.Owner.RecordCount)), owner)
		return nil
	}
	c.Logger.Debug("refetching", "owner", owner, "reason", decision.Reason)

	client, source, err := newGitHubClient(ctx, c.Config, fetchToken)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Fetching stars for GitHub user: %s\n", owner)
	switch source {
	case github.TokenNone:
		fmt.Fprintln(out, "No GitHub token found. Using unauthenticated API (rate limits may apply)")
	case "app":
		fmt.Fprintln(out, "Using GitHub App installation for authentication")
	default:
		fmt.Fprintf(out, "Using GitHub token for authentication (from %s)\n", source)
	}

	progress := cmd.ErrOrStderr()
	fetcher := newFetcher(c, client, github.WithPageHook(pageReporter(progress)))
	repos, err := fetcher.FetchStarred(ctx, owner)
	if err != nil {
		fmt.Fprintln(progress)
		return err
	}
	fmt.Fprintln(progress)
	fmt.Fprintf(out, "Fetched %s starred repositories\n", humanize.Comma(int64(len(repos))))

	broker := pubsub.NewBroker[ingest.Progress]()
	watchCtx, stopWatch := context.WithCancel(ctx)
	drawn := watchIngest(watchCtx, broker, progress)

	result, err := newPipeline(c, broker).Ingest(ctx, owner, repos)
	stopWatch()
	<-drawn
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Database updated for user %s (%s repositories)\n", owner, humanize.Comma(int64(result.Records)))
	return nil
}
