package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"liverank/rankservice/internal/domain"
)

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printItems(cmd *cobra.Command, heading string, items []domain.RankedItem) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, heading)
	if len(items) == 0 {
		fmt.Fprintln(out, "  (no entries)")
		return
	}
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.Itoa(item.Rank),
			item.Title,
			string(item.Category),
			formatCount(item.WeeklyViews),
			formatCount(item.WeeklyHours),
			strconv.Itoa(item.WeeksInTop10),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Rank", "Title", "Category", "Views", "Hours", "Weeks"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight},
	))
}

func printPopular(cmd *cobra.Command, heading string, items []domain.PopularRow) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, heading)
	if len(items) == 0 {
		fmt.Fprintln(out, "  (no entries)")
		return
	}
	rows := make([][]string, 0, len(items))
	for i, item := range items {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			item.Title,
			formatCount(item.Views91d),
			formatCount(item.Hours91d),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"#", "Title", "Views (91d)", "Hours (91d)"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight},
	))
}

func printIntegrated(cmd *cobra.Command, items []domain.IntegratedEntry) {
	out := cmd.OutOrStdout()
	if len(items) == 0 {
		fmt.Fprintln(out, "(no entries)")
		return
	}
	rows := make([][]string, 0, len(items))
	for i, item := range items {
		platforms := make([]string, 0, len(item.Platforms))
		for _, p := range item.Platforms {
			platforms = append(platforms, string(p))
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			item.Title,
			strconv.Itoa(item.Score),
			string(item.MainPlatform),
			strings.Join(platforms, ", "),
			formatCount(item.TotalViews),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"#", "Title", "Score", "Main", "Platforms", "Views"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft, alignRight},
	))
}

func formatCount(v float64) string {
	if v == 0 {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
