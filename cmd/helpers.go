package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/jacklau/ghstars/internal/search"
	"github.com/jacklau/ghstars/internal/store"
)

// splitList splits a comma-separated argument, trimming entries and
// dropping empty ones.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseOwners parses "alice,bob" into usernames.
func parseOwners(arg string) ([]string, error) {
	owners := splitList(arg)
	if len(owners) == 0 {
		return nil, fmt.Errorf("no username given")
	}
	for _, o := range owners {
		if strings.Contains(o, "/") {
			return nil, fmt.Errorf("invalid username %q", o)
		}
	}
	return owners, nil
}

// parseLanguages parses "Go, Rust" into a language filter.
func parseLanguages(arg string) []string {
	return splitList(arg)
}

// parseRepoNumber parses the 1-based position used by `info <user> <n>`.
func parseRepoNumber(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid repository number %q", arg)
	}
	return n, nil
}

func orNA(s *string) string {
	if s == nil || *s == "" {
		return "N/A"
	}
	return *s
}

// printRepos writes a numbered table of hits.
func printRepos(w io.Writer, hits []search.Hit) {
	if len(hits) == 0 {
		fmt.Fprintln(w, "No repositories found.")
		return
	}

	fmt.Fprintf(w, "Found %d repositories:\n", len(hits))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "No.\tRepository\tLanguage\tStars")
	fmt.Fprintln(tw, "---\t----------\t--------\t-----")
	for i, h := range hits {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", i+1, h.Record.FullName, orNA(h.Record.Language), h.Record.Stars)
	}
	tw.Flush()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Use 'gh-stars info <username> <number>' to see more details about a repository.")
}

// printRepoInfo writes the detail view of one record.
func printRepoInfo(w io.Writer, r *store.Record) {
	fmt.Fprintf(w, "Repository: %s\n", r.FullName)
	fmt.Fprintf(w, "URL: %s\n", r.URL)
	if r.Description != nil {
		fmt.Fprintf(w, "Description: %s\n", *r.Description)
	}
	fmt.Fprintf(w, "Owner: %s\n", r.OwnerLogin)
	fmt.Fprintf(w, "Language: %s\n", orNA(r.Language))
	fmt.Fprintf(w, "Stars: %d\n", r.Stars)
	if r.Forks != nil {
		fmt.Fprintf(w, "Forks: %d\n", *r.Forks)
	}
	if r.OpenIssues != nil {
		fmt.Fprintf(w, "Open Issues: %d\n", *r.OpenIssues)
	}
	if r.CreatedAt != nil {
		fmt.Fprintf(w, "Created: %s\n", *r.CreatedAt)
	}
	fmt.Fprintf(w, "Last Updated: %s\n", r.UpdatedAt)
}
