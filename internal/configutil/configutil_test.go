package configutil

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestFlagOrViperStringPrecedence(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("model", "", "")
	viper.Set("test.model", "from-viper")
	defer viper.Set("test.model", nil)

	if got := FlagOrViperString(cmd, "model", "test.model"); got != "from-viper" {
		t.Fatalf("unset flag should fall back to viper, got %q", got)
	}

	if err := cmd.Flags().Set("model", "from-flag"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := FlagOrViperString(cmd, "model", "test.model"); got != "from-flag" {
		t.Fatalf("set flag should win over viper, got %q", got)
	}
}

func TestFlagOrViperBoolPrecedence(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().Bool("disable-reaction", false, "")
	viper.Set("test.disable_reaction", true)
	defer viper.Set("test.disable_reaction", nil)

	if !FlagOrViperBool(cmd, "disable-reaction", "test.disable_reaction") {
		t.Fatalf("unset flag should fall back to viper")
	}

	if err := cmd.Flags().Set("disable-reaction", "false"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if FlagOrViperBool(cmd, "disable-reaction", "test.disable_reaction") {
		t.Fatalf("explicitly set flag should win over viper")
	}
}

func TestFlagOrViperBoolEmptyKey(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().Bool("verbose", true, "")
	if !FlagOrViperBool(cmd, "verbose", "") {
		t.Fatalf("empty key should read the flag default")
	}
}
