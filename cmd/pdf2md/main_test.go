// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestSyncFlagsFromViper(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("pages-per-chunk", 5)
	viper.Set("model", "haiku")

	cmd := &cobra.Command{Use: "sub"}
	cmd.Flags().Int("pages-per-chunk", 10, "")
	cmd.Flags().String("model", "sonnet", "")
	if err := cmd.Flags().Set("model", "opus"); err != nil {
		t.Fatal(err)
	}

	syncFlagsFromViper(cmd)

	if got, _ := cmd.Flags().GetInt("pages-per-chunk"); got != 5 {
		t.Errorf("pages-per-chunk = %d, want the config value 5", got)
	}
	if got, _ := cmd.Flags().GetString("model"); got != "opus" {
		t.Errorf("model = %q, explicit flag must win over config", got)
	}
}
