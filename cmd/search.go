package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jacklau/ghstars/internal/config"
	"github.com/jacklau/ghstars/internal/search"
)

var (
	searchLanguages string
	searchLimit     int
	listLimit       int
)

var searchCmd = &cobra.Command{
	Use:   "search <username[,username...]> [query]",
	Short: "Search cached stars by keyword and meaning",
	Long: `Search ranks the cached stars of one or more users against a query.
Repositories whose name, full name or description contain the query come
first, followed by the closest matches by embedding. Without a query the
stars are listed by star count.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSearch,
}

var listCmd = &cobra.Command{
	Use:   "list <username[,username...]>",
	Short: "List cached stars by star count",
	Args:  cobra.ExactArgs(1),
	RunE:  runList,
}

func init() {
	searchCmd.Flags().StringVar(&searchLanguages, "language", "", "comma-separated languages to filter by")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 0, fmt.Sprintf("maximum number of results (default %d)", config.DefaultLimit))
	listCmd.Flags().IntVarP(&listLimit, "limit", "l", 0, fmt.Sprintf("maximum number of results (default %d)", config.DefaultLimit))
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(listCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	var text string
	if len(args) == 2 {
		text = args[1]
	}
	return runQuery(cmd, args[0], text, parseLanguages(searchLanguages), searchLimit, "Searching")
}

func runList(cmd *cobra.Command, args []string) error {
	return runQuery(cmd, args[0], "", nil, listLimit, "Listing")
}

func runQuery(cmd *cobra.Command, ownerArg, text string, languages []string, limit int, verb string) error {
	owners, err := parseOwners(ownerArg)
	if err != nil {
		return err
	}

	c, err := setup()
	if err != nil {
		return err
	}
	defer c.Store.Close()

	if limit <= 0 {
		limit = c.Config.Defaults.Limit
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s repositories for user: %s (limit: %d)\n", verb, strings.Join(owners, ", "), limit)

	hits, err := newRanker(c).Search(ctx, search.Query{
		Owners:    owners,
		Languages: languages,
		Text:      text,
		Limit:     limit,
	})
	if err != nil {
		return err
	}

	printRepos(out, hits)
	return nil
}
