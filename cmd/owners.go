package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var ownersCmd = &cobra.Command{
	Use:     "owners",
	Aliases: []string{"status"},
	Short:   "Show cached users and database size",
	Long: `Display every user with cached stars, with record, embedding and language
counts, total stars, the time since the last refresh, and the database size.`,
	Args: cobra.NoArgs,
	RunE: runOwners,
}

func init() {
	rootCmd.AddCommand(ownersCmd)
}

func runOwners(cmd *cobra.Command, args []string) error {
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

	allStats, err := c.Store.GetAllOwnerStats(ctx)
	if err != nil {
		return fmt.Errorf("querying stats: %w", err)
	}

	if len(allStats) == 0 {
		fmt.Fprintln(out, "No users cached yet.")
		fmt.Fprintln(out, "Run 'gh-stars fetch <username>' to get started.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tREPOS\tEMBEDDINGS\tLANGUAGES\tSTARS\tLAST REFRESH")
	fmt.Fprintln(w, "----\t-----\t----------\t---------\t-----\t------------")

	var totalRepos, totalEmbeddings int
	for _, s := range allStats {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			s.Owner.Username,
			humanize.Comma(int64(s.Owner.RecordCount)),
			humanize.Comma(int64(s.EmbeddingCount)),
			s.LanguageCount,
			humanize.Comma(s.TotalStars),
			humanize.Time(s.Owner.LastRefresh))

		totalRepos += s.Owner.RecordCount
		totalEmbeddings += s.EmbeddingCount
	}

	if len(allStats) > 1 {
		fmt.Fprintf(w, "TOTAL\t%s\t%s\t\t\t\n",
			humanize.Comma(int64(totalRepos)), humanize.Comma(int64(totalEmbeddings)))
	}
	w.Flush()

	fmt.Fprintln(out)
	dbSize, err := dbFileSize(c.Config.Store.Path)
	if err != nil {
		fmt.Fprintf(out, "Database: %s (size unknown)\n", c.Config.Store.Path)
	} else {
		fmt.Fprintf(out, "Database: %s (%s)\n", c.Config.Store.Path, humanize.Bytes(uint64(dbSize)))
	}

	return nil
}

// dbFileSize returns the size in bytes of the database file, including its
// write-ahead log.
func dbFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	size := info.Size()
	if wal, err := os.Stat(path + "-wal"); err == nil {
		size += wal.Size()
	}
	return size, nil
}
