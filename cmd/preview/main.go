// Команда preview прогоняет источники через нормализацию, фильтр и проверку
// дублей и печатает решения. Ничего не публикует и не пишет в состояние.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maine/x_relay_bot/internal/app"
	"github.com/maine/x_relay_bot/internal/config"
	"github.com/maine/x_relay_bot/internal/logger"
)

type previewOptions struct {
	configPath string
	sources    []string
	kind       string
	logLevel   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &previewOptions{}
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show what the relay would publish without publishing",
		Long: `Preview fetches the configured accounts, runs every post through
normalization, filtering and the duplicate lookup, and prints one line per
decision. Telegram credentials are not required and state is never written.

Examples:
  # Check two accounts through the RSS mirror
  preview --kind rss --sources openai,whale_alert
`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPreview(ctx, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to relay.yaml (defaults to RELAY_CONFIG or configs/relay.yaml)")
	cmd.Flags().StringSliceVarP(&opts.sources, "sources", "s", nil, "subset of source ids to check")
	cmd.Flags().StringVarP(&opts.kind, "kind", "k", "", "override sources.kind (browser or rss)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "log level for stderr output")
	return cmd
}

func runPreview(ctx context.Context, opts *previewOptions, out io.Writer) error {
	// dry run не требует токенов Telegram
	if err := os.Setenv("DRY_RUN", "1"); err != nil {
		return fmt.Errorf("set DRY_RUN: %w", err)
	}
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return fmt.Errorf("load env config: %w", err)
	}
	if opts.configPath != "" {
		envCfg.ConfigPath = opts.configPath
	}

	rootCfg, err := config.LoadRoot(envCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", envCfg.ConfigPath, err)
	}
	applyOverrides(&rootCfg, opts)

	lg, err := logger.New(logger.Config{Level: opts.logLevel, OutputPaths: []string{"stderr"}})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	rt, err := app.Assemble(ctx, envCfg, rootCfg, lg)
	if err != nil {
		return fmt.Errorf("assemble pipeline: %w", err)
	}
	defer rt.Close()

	report, runErr := rt.Pipeline.Run(ctx)
	if err := writeReport(out, report); err != nil {
		return err
	}
	return runErr
}

func applyOverrides(cfg *config.Root, opts *previewOptions) {
	if len(opts.sources) > 0 {
		cfg.Sources.IDs = opts.sources
	}
	if opts.kind != "" {
		cfg.Sources.Kind = opts.kind
	}
	// в предпросмотре порядок должен совпадать с конфигом
	shuffle := false
	cfg.Pipeline.ShuffleSource = &shuffle
}
