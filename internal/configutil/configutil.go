package configutil

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// FlagOrViperString returns the flag value when the flag was set on the
// command line, otherwise the viper value for key. An empty key skips viper.
func FlagOrViperString(cmd *cobra.Command, flag, key string) string {
	if cmd != nil && cmd.Flags().Changed(flag) {
		v, _ := cmd.Flags().GetString(flag)
		return v
	}
	if strings.TrimSpace(key) == "" {
		if cmd == nil {
			return ""
		}
		v, _ := cmd.Flags().GetString(flag)
		return v
	}
	return viper.GetString(key)
}

func FlagOrViperStringArray(cmd *cobra.Command, flag, key string) []string {
	if cmd != nil && cmd.Flags().Changed(flag) {
		v, _ := cmd.Flags().GetStringArray(flag)
		return v
	}
	if strings.TrimSpace(key) == "" {
		return nil
	}
	return viper.GetStringSlice(key)
}

func FlagOrViperBool(cmd *cobra.Command, flag, key string) bool {
	if cmd != nil && cmd.Flags().Changed(flag) {
		v, _ := cmd.Flags().GetBool(flag)
		return v
	}
	if strings.TrimSpace(key) == "" {
		if cmd == nil {
			return false
		}
		v, _ := cmd.Flags().GetBool(flag)
		return v
	}
	return viper.GetBool(key)
}

func FlagOrViperInt(cmd *cobra.Command, flag, key string) int {
	if cmd != nil && cmd.Flags().Changed(flag) {
		v, _ := cmd.Flags().GetInt(flag)
		return v
	}
	if strings.TrimSpace(key) == "" {
		return 0
	}
	return viper.GetInt(key)
}

func FlagOrViperDuration(cmd *cobra.Command, flag, key string) time.Duration {
	if cmd != nil && cmd.Flags().Changed(flag) {
		v, _ := cmd.Flags().GetDuration(flag)
		return v
	}
	if strings.TrimSpace(key) == "" {
		return 0
	}
	return viper.GetDuration(key)
}
