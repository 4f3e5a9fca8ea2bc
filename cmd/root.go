package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	gogithub "github.com/google/go-github/v60/github"

	"github.com/jacklau/ghstars/internal/config"
	"github.com/jacklau/ghstars/internal/freshness"
	"github.com/jacklau/ghstars/internal/github"
	"github.com/jacklau/ghstars/internal/ingest"
	"github.com/jacklau/ghstars/internal/provider"
	"github.com/jacklau/ghstars/internal/pubsub"
	"github.com/jacklau/ghstars/internal/search"
	"github.com/jacklau/ghstars/internal/store"
)

var (
	cfgFile string
	verbose bool

	// logOutput is where setupLogger writes. Tests swap it out.
	logOutput io.Writer = os.Stderr
)

var rootCmd = &cobra.Command{
	Use:   "gh-stars",
	Short: "Fetch, cache and search the repositories a GitHub user has starred",
	Long: `gh-stars downloads the repositories a GitHub user has starred, caches them
in a local SQLite database with an embedding per repository, and searches
them by keyword and by meaning.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default %s)", defaultConfigPath()))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

func defaultConfigPath() string {
	path, err := config.DefaultPath()
	if err != nil {
		return ".gh-stars/config.yaml"
	}
	return path
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(logOutput, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = defaultConfigPath()
	}
	return config.Load(path)
}

// components holds initialized components for use by subcommands. The
// caller owns Store and must close it.
type components struct {
	Config   *config.Config
	Store    store.Store
	Embedder provider.Embedder
	Logger   *slog.Logger
}

// initComponents opens the store and builds the embedding provider.
func initComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	embedder, err := provider.NewEmbedder(provider.EmbedderConfig{
		Type:      cfg.Providers.Embedding.Type,
		Model:     cfg.Providers.Embedding.Model,
		APIKey:    cfg.Providers.Embedding.APIKey,
		URL:       cfg.Providers.Embedding.URL,
		CacheSize: cfg.Defaults.CacheSize(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	return &components{
		Config:   cfg,
		Store:    db,
		Embedder: embedder,
		Logger:   logger,
	}, nil
}

// setup loads config and initializes components for a command.
func setup() (*components, error) {
	logger := setupLogger()

	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return initComponents(cfg, logger)
}

// newGitHubClient builds a client for the configured auth mode. In token
// mode the token is resolved from the flag, config, environment, and gh CLI.
func newGitHubClient(ctx context.Context, cfg *config.Config, tokenFlag string) (*gogithub.Client, github.TokenSource, error) {
	if cfg.GitHub.Auth == "app" {
		appID, err := strconv.ParseInt(cfg.GitHub.AppID, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("parsing app_id: %w", err)
		}
		installID, err := strconv.ParseInt(cfg.GitHub.InstallationID, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("parsing installation_id: %w", err)
		}
		client, err := github.NewAppClient(appID, installID, []byte(cfg.GitHub.PrivateKey), cfg.GitHub.PrivateKeyPath, cfg.GitHub.BaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("creating GitHub client: %w", err)
		}
		return client, "app", nil
	}

	token, source := github.ResolveToken(ctx, tokenFlag, cfg.GitHub.Token)
	client, err := github.NewClient(token, cfg.GitHub.BaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("creating GitHub client: %w", err)
	}
	return client, source, nil
}

// newFetcher wraps client with the configured request timeout.
func newFetcher(c *components, client *gogithub.Client, opts ...github.FetcherOption) *github.Fetcher {
	timeout, err := c.Config.Defaults.RequestTimeout()
	if err != nil {
		timeout = config.DefaultRequestTimeout
	}
	opts = append([]github.FetcherOption{
		github.WithRequestTimeout(timeout),
		github.WithLogger(c.Logger),
	}, opts...)
	return github.NewFetcher(client, opts...)
}

// newPipeline builds the ingestion pipeline writing to the store.
func newPipeline(c *components, broker *pubsub.Broker[ingest.Progress]) *ingest.Pipeline {
	return ingest.New(c.Store, c.Embedder,
		ingest.WithBatchSize(c.Config.Defaults.EmbedBatchSize),
		ingest.WithConcurrency(c.Config.Defaults.EmbedConcurrency),
		ingest.WithBroker(broker),
		ingest.WithLogger(c.Logger),
	)
}

// newFreshness builds the TTL controller.
func newFreshness(c *components) *freshness.Controller {
	ttl, err := c.Config.Defaults.TTL()
	if err != nil {
		ttl = config.DefaultTTL
	}
	return freshness.NewController(c.Store, ttl)
}

// newRanker builds the hybrid ranker.
func newRanker(c *components) *search.Ranker {
	return search.NewRanker(c.Store, c.Embedder, search.WithLogger(c.Logger))
}
