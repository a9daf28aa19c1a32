// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/pdf2md/internal/ledger"
	"github.com/pdiddy/pdf2md/pkg/types"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show conversion history and spend",
	Long: `Stats reads the conversion ledger and prints aggregate token and cost
totals plus the most recent runs. The ledger lives in ~/.pdf2md/ and is
appended to after every successful conversion.`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().String("doc", "", "show runs for one document only")
	statsCmd.Flags().IntP("limit", "n", 10, "number of recent runs to list (0: all)")
	statsCmd.Flags().String("db", "", "ledger database path (default: ~/.pdf2md/ledger.db)")
	statsCmd.Flags().String("export", "", "write the full run history to a file (.json or .yaml)")

	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		dbPath = ledger.DefaultPath()
	}
	store, err := ledger.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	if exportPath, _ := cmd.Flags().GetString("export"); exportPath != "" {
		if err := store.Export(ctx, exportPath); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", exportPath)
		return nil
	}

	doc, _ := cmd.Flags().GetString("doc")
	limit, _ := cmd.Flags().GetInt("limit")

	var runs []ledger.Run
	if doc != "" {
		runs, err = store.ByDocument(ctx, doc)
	} else {
		runs, err = store.Recent(ctx, limit)
	}
	if err != nil {
		return err
	}

	totals, err := store.Summarize(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Runs: %d   Documents: %d   Pages: %d\n", totals.Runs, totals.Documents, totals.Pages)
	fmt.Printf("Tokens: %d in / %d out   Cost: $%.2f   Time: %s\n",
		totals.Usage.TotalInput(), totals.Usage.OutputTokens, totals.CostUSD, types.FormatDuration(totals.Elapsed))

	if len(runs) == 0 {
		return nil
	}

	fmt.Println()
	fmt.Printf("%-20s %-25s %-20s %5s %6s %9s %8s\n",
		"Finished", "Document", "Model", "Pages", "Chunks", "Cost", "Time")
	fmt.Println(strings.Repeat("-", 100))
	for _, r := range runs {
		fmt.Printf("%-20s %-25s %-20s %5d %6d $%8.2f %8s\n",
			r.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			truncateName(r.DocName, 25), r.ModelID, r.Pages, r.Chunks,
			r.CostUSD, types.FormatDuration(r.Elapsed))
	}
	return nil
}

func truncateName(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
