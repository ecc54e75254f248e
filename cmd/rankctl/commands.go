package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"liverank/rankservice/internal/domain"
	"liverank/rankservice/internal/integrate"
	"liverank/rankservice/internal/rankings"
)

func newWeeklyCommand(ctx *commandContext) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "weekly",
		Short: "Show the latest weekly Top 10 buckets and the unified leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service(rankings.Config{GlobalSource: source})
			if err != nil {
				return err
			}
			runCtx, cancel := ctx.withTimeout(cmd.Context())
			defer cancel()

			resp, err := svc.Weekly(runCtx, 0)
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, resp)
			}
			if resp.Status == domain.StatusEmpty {
				fmt.Fprintln(cmd.OutOrStdout(), "No weekly rows found")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Week %s to %s (%d rows dropped)\n\n", resp.WeekStart, resp.WeekEnd, resp.Dropped)
			printItems(cmd, "TV (English)", resp.Buckets.TVEnglish)
			printItems(cmd, "TV (Non-English)", resp.Buckets.TVNonEnglish)
			printItems(cmd, "Films (English)", resp.Buckets.FilmsEnglish)
			printItems(cmd, "Films (Non-English)", resp.Buckets.FilmsNonEnglish)
			printItems(cmd, "Unified", resp.UnifiedTop)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Weekly export path or URL (.xlsx, .csv, .json)")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newCountryCommand(ctx *commandContext) *cobra.Command {
	var source, code, week string
	cmd := &cobra.Command{
		Use:   "country",
		Short: "Show one country's Top 10 for a week",
		RunE: func(cmd *cobra.Command, args []string) error {
			code = strings.ToUpper(strings.TrimSpace(code))
			svc, err := ctx.service(rankings.Config{
				CountrySource:      source,
				SupportedCountries: []string{code},
			})
			if err != nil {
				return err
			}
			runCtx, cancel := ctx.withTimeout(cmd.Context())
			defer cancel()

			resp, err := svc.Country(runCtx, code, week, 0)
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, resp)
			}
			if resp.Status == domain.StatusEmpty {
				fmt.Fprintf(cmd.OutOrStdout(), "No rows found for %s\n", resp.Country)
				return nil
			}
			printItems(cmd, fmt.Sprintf("%s, week %s to %s", resp.Country, resp.WeekStart, resp.WeekEnd), resp.Items)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Country export path or URL")
	cmd.Flags().StringVar(&code, "code", "KR", "ISO 3166 alpha-2 country code")
	cmd.Flags().StringVar(&week, "week", "", "Week start date (defaults to the latest week)")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newPopularCommand(ctx *commandContext) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "popular",
		Short: "Show the 91-day most popular lists",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service(rankings.Config{PopularSource: source})
			if err != nil {
				return err
			}
			runCtx, cancel := ctx.withTimeout(cmd.Context())
			defer cancel()

			resp, err := svc.Popular(runCtx, 0)
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, resp)
			}
			printPopular(cmd, "TV (English)", resp.Buckets.TVEnglish)
			printPopular(cmd, "TV (Non-English)", resp.Buckets.TVNonEnglish)
			printPopular(cmd, "Films (English)", resp.Buckets.FilmsEnglish)
			printPopular(cmd, "Films (Non-English)", resp.Buckets.FilmsNonEnglish)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Most popular export path or URL")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newIntegrateCommand(ctx *commandContext) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "integrate",
		Short: "Score a JSON file of per-platform entries into one cross-platform ranking",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read entries: %w", err)
			}
			var entries []domain.CrossPlatformEntry
			if err := json.Unmarshal(data, &entries); err != nil {
				return fmt.Errorf("parse entries: %w", err)
			}
			for i, entry := range entries {
				platform, err := domain.ParsePlatform(string(entry.Platform))
				if err != nil {
					return fmt.Errorf("entry %d (%q): %w", i, entry.Title, err)
				}
				entries[i].Platform = platform
			}

			items := integrate.Integrate(entries)
			if ctx.jsonOutput {
				return writeJSON(cmd, items)
			}
			printIntegrated(cmd, items)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON array of {platform,title,rank,weeklyViews}")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
