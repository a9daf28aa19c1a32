// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/pdiddy/pdf2md/internal/markers"
	"github.com/pdiddy/pdf2md/internal/pipeline"
	"github.com/pdiddy/pdf2md/internal/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate [pdfs...]",
	Short: "Validate converted Markdown against its source PDF",
	Long: `Validate re-runs the structural checks on an existing conversion: page
marker sequence, table and figure references, heading structure, table
rectangularity, and per-page content fidelity against the PDF text layer.

The Markdown file is located the same way convert places it: next to the
PDF, or under --output-dir.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringP("output-dir", "o", "", "directory holding the converted Markdown files")

	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	outputDir, _ := cmd.Flags().GetString("output-dir")
	reg := markers.NewRegistry()

	var totalErrors, totalWarnings, failed int
	for _, pdfPath := range args {
		if _, err := os.Stat(pdfPath); err != nil {
			fmt.Fprintf(os.Stderr, "pdf %s: %v\n", pdfPath, err)
			failed++
			continue
		}
		mdPath := pipeline.ResolveOutput(pdfPath, outputDir)
		markdown, err := os.ReadFile(mdPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "markdown %s: %v (convert the PDF first)\n", mdPath, err)
			failed++
			continue
		}

		log := slog.Default().With("doc", docName(pdfPath))
		v := validate.New(reg, log)
		res := v.Validate(string(markdown))
		v.CheckPageFidelity(pdfPath, string(markdown), res)

		fmt.Printf("%s:\n", mdPath)
		printIssuesByCategory(res)
		totalErrors += len(res.Errors())
		totalWarnings += len(res.Warnings())
	}

	fmt.Printf("\n%d error(s), %d warning(s)", totalErrors, totalWarnings)
	if failed > 0 {
		fmt.Printf(", %d document(s) not validated", failed)
	}
	fmt.Println()

	if totalErrors > 0 || failed > 0 {
		return fmt.Errorf("validation failed")
	}
	return nil
}

// printIssuesByCategory groups a document's issues under per-category
// headers, errors before warnings before info lines.
func printIssuesByCategory(res *validate.Result) {
	if len(res.Issues) == 0 {
		fmt.Println("  no issues")
		return
	}
	byCategory := map[string][]validate.Issue{}
	for _, i := range res.Issues {
		byCategory[i.Category] = append(byCategory[i.Category], i)
	}
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	severityRank := map[validate.Severity]int{
		validate.SeverityError:   0,
		validate.SeverityWarning: 1,
		validate.SeverityInfo:    2,
	}
	for _, c := range categories {
		issues := byCategory[c]
		sort.SliceStable(issues, func(a, b int) bool {
			return severityRank[issues[a].Severity] < severityRank[issues[b].Severity]
		})
		fmt.Printf("  %s:\n", c)
		for _, i := range issues {
			if i.Location != "" {
				fmt.Printf("    %s %s: %s\n", i.Severity, i.Location, i.Message)
			} else {
				fmt.Printf("    %s: %s\n", i.Severity, i.Message)
			}
		}
	}
}
