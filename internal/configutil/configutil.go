// Package configutil resolves settings from a cobra flag when it was
// explicitly set, falling back to the viper key otherwise.
package configutil

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func FlagOrViperString(cmd *cobra.Command, flagName, viperKey string) string {
	if cmd != nil && flagName != "" && cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetString(flagName)
		if err == nil {
			return value
		}
	}
	if viperKey == "" {
		return ""
	}
	return viper.GetString(viperKey)
}

func FlagOrViperStringArray(cmd *cobra.Command, flagName, viperKey string) []string {
	if cmd != nil && flagName != "" && cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetStringArray(flagName)
		if err == nil {
			return value
		}
	}
	if viperKey == "" {
		return nil
	}
	return viper.GetStringSlice(viperKey)
}

func FlagOrViperInt(cmd *cobra.Command, flagName, viperKey string) int {
	if cmd != nil && flagName != "" && cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetInt(flagName)
		if err == nil {
			return value
		}
	}
	if viperKey == "" {
		return 0
	}
	return viper.GetInt(viperKey)
}

func FlagOrViperBool(cmd *cobra.Command, flagName, viperKey string) bool {
	if cmd != nil && flagName != "" && cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetBool(flagName)
		if err == nil {
			return value
		}
	}
	if viperKey == "" {
		return false
	}
	return viper.GetBool(viperKey)
}

func FlagOrViperDuration(cmd *cobra.Command, flagName, viperKey string) time.Duration {
	if cmd != nil && flagName != "" && cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetDuration(flagName)
		if err == nil {
			return value
		}
	}
	if viperKey == "" {
		return 0
	}
	return viper.GetDuration(viperKey)
}
