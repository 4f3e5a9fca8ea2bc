package cmd

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jacklau/ghstars/internal/apperr"
	"github.com/jacklau/ghstars/internal/search"
	"github.com/jacklau/ghstars/internal/store"
)

var infoCmd = &cobra.Command{
	Use:   "info <owner/repo> | info <username> <number>",
	Short: "Show details of a cached repository",
	Long: `Info prints the cached details of one repository, either by its full name
or by its position in the output of 'gh-stars list <username>'.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	if len(args) == 1 && !strings.Contains(args[0], "/") {
		return fmt.Errorf("expected owner/repo or <username> <number>, got %q", args[0])
	}

	c, err := setup()
	if err != nil {
		return err
	}
	defer c.Store.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var rec *store.Record
	if len(args) == 1 {
		rec, err = c.Store.GetRecord(ctx, "", args[0])
	} else {
		rec, err = recordByNumber(ctx, newRanker(c), args[0], args[1])
	}
	if err != nil {
		return err
	}

	printRepoInfo(cmd.OutOrStdout(), rec)
	return nil
}

// recordByNumber resolves the 1-based position in the owner's list ordering.
func recordByNumber(ctx context.Context, r *search.Ranker, owner, numberArg string) (*store.Record, error) {
	n, err := parseRepoNumber(numberArg)
	if err != nil {
		return nil, err
	}

	hits, err := r.Search(ctx, search.Query{Owners: []string{owner}, Limit: math.MaxInt32})
	if err != nil {
		return nil, err
	}

	if n < 1 || n > len(hits) {
		hint := fmt.Sprintf("number must be between 1 and %d", len(hits))
		if len(hits) == 0 {
			hint = "no repositories are cached for this user"
		}
		return nil, &apperr.NotFoundError{Kind: "repo", Key: fmt.Sprintf("%s #%d", owner, n), Hint: hint}
	}
	return &hits[n-1].Record, nil
}
