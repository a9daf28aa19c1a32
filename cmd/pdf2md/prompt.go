// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/pdf2md/internal/markers"
	"github.com/pdiddy/pdf2md/internal/prompt"
	"github.com/pdiddy/pdf2md/internal/rules"
)

var showPromptCmd = &cobra.Command{
	Use:   "show-prompt",
	Short: "Print the system prompt sent to the API",
	Long: `Show-prompt prints the conversion system prompt. With --rules, the
prompt reflects the overrides and insertions from the given rules file,
exactly as convert would send it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := markers.NewRegistry()
		rulesPath, _ := cmd.Flags().GetString("rules")
		if rulesPath == "" {
			fmt.Println(prompt.System(reg))
			return nil
		}
		sys, err := rules.Load(rulesPath, reg)
		if err != nil {
			return fmt.Errorf("rules %s: %w", rulesPath, err)
		}
		fmt.Println(sys)
		return nil
	},
}

func init() {
	showPromptCmd.Flags().String("rules", "", "rules file to apply before printing")

	rootCmd.AddCommand(showPromptCmd)
}
