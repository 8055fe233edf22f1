package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/databothq/databot/cmd/databot/slackcmd"
)

func main() {
	cobra.OnInitialize(initConfig)

	root := &cobra.Command{
		Use:           "databot",
		Short:         "Data, a conversational Slack assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Config file path (default searches ./databot.yaml and $HOME/.databot/databot.yaml).")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error.")
	root.PersistentFlags().String("log-format", "", "Log format: text or json.")
	_ = viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(slackcmd.NewCommand(slackcmd.Dependencies{
		LoggerFromViper: loggerFromViper,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	if path := strings.TrimSpace(viper.GetString("config")); path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("databot")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.databot")
		}
	}

	viper.SetEnvPrefix("DATABOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("memory.window_size", 20)
	viper.SetDefault("memory.ttl_hours", 24)
	viper.SetDefault("memory.max_tracked_users", 10000)
	viper.SetDefault("openai.chat_model", "gpt-4o")
	viper.SetDefault("openai.image_model", "dall-e-3")
	viper.SetDefault("slack.max_concurrency", 3)
	viper.SetDefault("slack.task_timeout", "2m")
	viper.SetDefault("slack.image_timeout", "5m")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "warning: config file error:", err)
		}
	}
}

func loggerFromViper() (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(strings.TrimSpace(viper.GetString("log.level"))) {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log.level %q", viper.GetString("log.level"))
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(viper.GetString("log.format"))) {
	case "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log.format %q", viper.GetString("log.format"))
	}
	return slog.New(handler), nil
}
