// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/pdf2md/internal/markers"
	"github.com/pdiddy/pdf2md/internal/rules"
)

var initRulesCmd = &cobra.Command{
	Use:   "init-rules [path]",
	Short: "Write a conversion rules template",
	Long: `Init-rules writes a commented rules file listing every default prompt
rule by name. Uncomment and edit a section to override it; convert picks
the file up automatically when it sits next to the PDF as ` + rules.AutoRulesFilename + `.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := rules.AutoRulesFilename
		if len(args) == 1 {
			path = args[0]
		}
		reg := markers.NewRegistry()
		if err := rules.WriteTemplate(path, reg); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initRulesCmd)
}
