package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/docsynapse-crawler/internal/config"
	"github.com/JakeFAU/docsynapse-crawler/internal/server"
)

type configKeyType string

const configKey configKeyType = "config"

// rootOptions carries flag values shared by every subcommand.
type rootOptions struct {
	cfgFile string
	envFile string
	// appOptions are passed to server.Build; tests use them to swap the
	// logger and metrics registry.
	appOptions []server.Option
}

func newRootCmd(appOptions ...server.Option) *cobra.Command {
	opts := &rootOptions{appOptions: appOptions}
	cmd := &cobra.Command{
		Use:   "docsynapse",
		Short: "Crawl documentation sites into a single Markdown file.",
		Long: `docsynapse discovers the pages of a documentation site, renders each one
in a headless browser, and merges the cleaned content into one Markdown
document suited for feeding to language models.`,
		SilenceUsage: true,

		// Config is loaded once here so every subcommand sees the same values.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnv(opts.envFile); err != nil {
				return err
			}
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML); env overrides use the DOCSYNAPSE_ prefix")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newCrawlCmd(opts))
	return cmd
}

// loadEnv reads path into the process environment. A missing file is not an
// error; variables already set win over the file.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}
