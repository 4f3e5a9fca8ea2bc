package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jacklau/ghstars/internal/config"
	"github.com/jacklau/ghstars/internal/provider"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactive setup for gh-stars configuration",
	Long:  `Creates a commented configuration file with guided prompts.`,
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	ask := func(prompt string) string {
		fmt.Fprint(out, prompt)
		answer, _ := reader.ReadString('\n')
		return strings.TrimSpace(answer)
	}

	fmt.Fprintln(out, "Welcome to gh-stars setup!")
	fmt.Fprintln(out, "This will create a configuration file for you.")
	fmt.Fprintln(out)

	configPath := cfgFile
	if configPath == "" {
		configPath = defaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(out, "Config file already exists at %s\n", configPath)
		answer := strings.ToLower(ask("Overwrite? [y/N]: "))
		if answer != "y" && answer != "yes" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	embedProvider := ask("Embedding provider (ollama/openai) [ollama]: ")
	if embedProvider == "" {
		embedProvider = "ollama"
	}
	if embedProvider != "ollama" && embedProvider != "openai" {
		return fmt.Errorf("unsupported embedding provider %q", embedProvider)
	}

	appID := ask("GitHub App ID (or press Enter to use a token): ")
	var installationID, keyPath string
	if appID != "" {
		installationID = ask("GitHub App installation ID: ")
		keyPath = ask("GitHub App private key path: ")
	}

	data := buildConfigYAML(embedProvider, appID, installationID, keyPath)

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(data), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", configPath)
	if embedProvider == "openai" {
		fmt.Fprintln(out, "Export OPENAI_API_KEY before running gh-stars.")
	}
	return nil
}

// buildConfigYAML renders a commented config file.
func buildConfigYAML(embedProvider, appID, installationID, keyPath string) string {
	var b strings.Builder

	b.WriteString("# gh-stars configuration\n")
	b.WriteString("# Values of the form ${VAR} are read from the environment.\n\n")

	b.WriteString("github:\n")
	if appID != "" {
		b.WriteString("  auth: app\n")
		fmt.Fprintf(&b, "  app_id: %q\n", appID)
		fmt.Fprintf(&b, "  installation_id: %q\n", installationID)
		fmt.Fprintf(&b, "  private_key_path: %s\n", keyPath)
	} else {
		b.WriteString("  auth: token\n")
		b.WriteString("  # Falls back to GH_TOKEN, GITHUB_TOKEN, then `gh auth token`.\n")
		b.WriteString("  # token: ${GITHUB_TOKEN}\n")
	}
	b.WriteString("  # base_url: https://github.example.com/api/v3/\n")
	b.WriteString("\n")

	model, apiKey, url := embeddingProviderDefaults(embedProvider)
	b.WriteString("providers:\n")
	b.WriteString("  embedding:\n")
	fmt.Fprintf(&b, "    type: %s\n", embedProvider)
	fmt.Fprintf(&b, "    model: %s\n", model)
	if apiKey != "" {
		fmt.Fprintf(&b, "    api_key: %s\n", apiKey)
	}
	if url != "" {
		fmt.Fprintf(&b, "    url: %s\n", url)
	}
	b.WriteString("\n")

	b.WriteString("defaults:\n")
	fmt.Fprintf(&b, "  ttl: %s\n", shortDuration(config.DefaultTTL.String()))
	fmt.Fprintf(&b, "  limit: %d\n", config.DefaultLimit)
	fmt.Fprintf(&b, "  request_timeout: %s\n", shortDuration(config.DefaultRequestTimeout.String()))
	fmt.Fprintf(&b, "  embed_batch_size: %d\n", config.DefaultEmbedBatchSize)
	fmt.Fprintf(&b, "  embed_concurrency: %d\n", config.DefaultEmbedConcurrency)
	fmt.Fprintf(&b, "  embed_cache_size: %d\n", config.DefaultEmbedCacheSize)
	b.WriteString("\n")

	b.WriteString("# store:\n")
	fmt.Fprintf(&b, "#   path: %s\n", config.DefaultStorePath())

	return b.String()
}

// embeddingProviderDefaults returns the default model, api_key placeholder
// and URL for the given embedding provider type.
func embeddingProviderDefaults(p string) (model, apiKey, url string) {
	switch p {
	case "openai":
		return provider.DefaultOpenAIModel, "${OPENAI_API_KEY}", ""
	default: // ollama
		return provider.DefaultOllamaModel, "", "http://localhost:11434"
	}
}

// shortDuration trims zero minute and second units: "24h0m0s" becomes "24h".
func shortDuration(s string) string {
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}
