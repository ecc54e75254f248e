package main

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"liverank/rankservice/internal/kvcache"
	"liverank/rankservice/internal/ranking"
	"liverank/rankservice/internal/rankings"
	"liverank/rankservice/internal/sheets"
)

// commandContext carries the flags shared by every subcommand.
type commandContext struct {
	jsonOutput bool
	timeout    time.Duration
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "rankctl",
		Short:         "Inspect Netflix Top 10 exports and cross-platform rankings offline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().BoolVar(&ctx.jsonOutput, "json", false, "Print JSON instead of tables")
	rootCmd.PersistentFlags().DurationVar(&ctx.timeout, "timeout", 2*time.Minute, "Maximum time to read a source")

	rootCmd.AddCommand(newWeeklyCommand(ctx))
	rootCmd.AddCommand(newCountryCommand(ctx))
	rootCmd.AddCommand(newPopularCommand(ctx))
	rootCmd.AddCommand(newIntegrateCommand(ctx))

	return rootCmd
}

// service builds a ranking service over a single source without enrichment.
func (c *commandContext) service(cfg rankings.Config) (*rankings.Service, error) {
	engine, err := ranking.New(ranking.DefaultWeights())
	if err != nil {
		return nil, err
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	source := sheets.NewSource(sheets.Config{Logger: quiet})
	return rankings.NewService(cfg, source, engine, kvcache.NewMemory(), rankings.WithLogger(quiet)), nil
}

func (c *commandContext) withTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.timeout)
}
