package github

import (
	"context"
	"os"
	"os/exec"
	"strings"
)

// TokenSource names where a resolved token came from.
type TokenSource string

const (
	TokenFromFlag   TokenSource = "flag"
	TokenFromConfig TokenSource = "config"
	TokenFromEnv    TokenSource = "environment"
	TokenFromGH     TokenSource = "gh"
	TokenNone       TokenSource = "none"
)

// TokenResolver finds a GitHub token. The zero value reads the process
// environment and runs the gh CLI.
type TokenResolver struct {
	Getenv func(string) string
	// GHToken returns the token stored by the gh CLI.
	GHToken func(ctx context.Context) (string, error)
}

// ResolveToken is TokenResolver{}.Resolve.
func ResolveToken(ctx context.Context, flagToken, configToken string) (string, TokenSource) {
	return TokenResolver{}.Resolve(ctx, flagToken, configToken)
}

// Resolve returns the first non-empty token from, in order: the explicit flag,
// the config file, GH_TOKEN or GITHUB_TOKEN, and `gh auth token`. An empty
// token with TokenNone means requests go out unauthenticated.
func (r TokenResolver) Resolve(ctx context.Context, flagToken, configToken string) (string, TokenSource) {
	if t := strings.TrimSpace(flagToken); t != "" {
		return t, TokenFromFlag
	}
	if t := strings.TrimSpace(configToken); t != "" {
		return t, TokenFromConfig
	}

	getenv := r.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	for _, name := range []string{"GH_TOKEN", "GITHUB_TOKEN"} {
		if t := strings.TrimSpace(getenv(name)); t != "" {
			return t, TokenFromEnv
		}
	}

	ghToken := r.GHToken
	if ghToken == nil {
		ghToken = ghAuthToken
	}
	if t, err := ghToken(ctx); err == nil && strings.TrimSpace(t) != "" {
		return strings.TrimSpace(t), TokenFromGH
	}

	return "", TokenNone
}

func ghAuthToken(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "gh", "auth", "token").Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
