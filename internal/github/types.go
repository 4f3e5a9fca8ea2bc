package github

import "encoding/json"

// Repo is one starred repository as returned by the GitHub API. Raw holds
// the exact payload the fields were decoded from.
type Repo struct {
	ID          int64
	Name        string
	FullName    string
	OwnerLogin  string
	HTMLURL     string
	Description *string
	Language    *string
	Stars       int64
	Forks       *int64
	OpenIssues  *int64
	UpdatedAt   string
	CreatedAt   *string
	Raw         json.RawMessage
}
