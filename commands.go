package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"sitebuild/builder"
	"sitebuild/config"
)

var opts = &options{}

type options struct {
	ConfigPath      string
	EnvFile         string
	SkipAvatar      bool
	SkipCompression bool
}

var rootCommand = &cobra.Command{
	Use:   "sitebuild",
	Short: "Prepare a built landing page for deployment",
	Long: `Runs the asset pipeline over an already built site:

1. Fetch the remote avatar, optimize it and derive WebP and sized variants
2. Rewrite the page to reference the local assets
3. Pre-compress the text artifacts with brotli, gzip and zstd

If the avatar cannot be fetched the page keeps the remote URL and the
build still succeeds.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newBuilder()
		if err != nil {
			return err
		}
		_, err = b.Build(cmd.Context())
		return err
	},
}

var compressCommand = &cobra.Command{
	Use:   "compress",
	Short: "Only pre-compress the text artifacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newBuilder()
		if err != nil {
			return err
		}
		_, err = b.Compress(cmd.Context())
		return err
	},
}

var verifyCommand = &cobra.Command{
	Use:   "verify",
	Short: "Check the output tree against asset-manifest.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newBuilder()
		if err != nil {
			return err
		}
		changed, err := b.VerifyManifest()
		if err != nil {
			return err
		}
		if len(changed) > 0 {
			return fmt.Errorf("%d assets changed since the build", len(changed))
		}
		return nil
	},
}

func init() {
	flags := rootCommand.PersistentFlags()
	flags.StringVar(&opts.ConfigPath, "config", "sitebuild.yaml",
		"Path to the YAML configuration file")
	flags.StringVar(&opts.EnvFile, "env-file", ".env",
		"Optional .env file with SITEBUILD_* overrides")
	rootCommand.Flags().BoolVar(&opts.SkipAvatar, "skip-avatar", false,
		"Leave the remote avatar URL in place")
	rootCommand.Flags().BoolVar(&opts.SkipCompression, "skip-compression", false,
		"Do not write compressed siblings")

	rootCommand.AddCommand(compressCommand, verifyCommand)
}

// newBuilder loads configuration in precedence order: defaults, file,
// then environment
func newBuilder() (*builder.Builder, error) {
	if err := config.LoadEnv(opts.EnvFile); err != nil {
		return nil, err
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := cfg.NewLogger()
	log := logrus.NewEntry(logger)
	cfg.ApplyEnv(log)

	log.WithFields(logrus.Fields{
		"config": opts.ConfigPath,
		"output": cfg.Site.OutputDir,
	}).Debug("Loaded config")

	b := builder.NewBuilder(cfg, log).
		SkipAvatar(opts.SkipAvatar).
		SkipCompression(opts.SkipCompression)
	return b, nil
}
