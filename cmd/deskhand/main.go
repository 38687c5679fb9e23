package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oakpass/deskhand/cmd/deskhand/slackcmd"
)

var rootCmd = &cobra.Command{
	Use:          "deskhand",
	Short:        "Deskhand is a support assistant that lives in your team chat",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(cmd); err != nil {
			return err
		}
		initLogger()
		return nil
	},
}

func initConfig(cmd *cobra.Command) error {
	// A local .env is a convenience for development; absence is fine.
	_ = godotenv.Load()

	if configFile, _ := cmd.Flags().GetString("config"); strings.TrimSpace(configFile) != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("deskhand")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.deskhand")
		}
	}
	viper.SetEnvPrefix("DESKHAND")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func initLogger() {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(viper.GetString("log.level"))) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(viper.GetString("log.format")), "json") {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func main() {
	rootCmd.PersistentFlags().String("config", "", "Path to a config file (default: ./deskhand.yaml, then ~/.deskhand/deskhand.yaml).")
	rootCmd.AddCommand(slackcmd.New())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
