// Command adaptd runs the theme adaptation service and its operator tools.
//
// Usage:
//
//	adaptd serve --config adaptd.yaml
//	adaptd map --shop soap-shop https://shop.example.com/products/soap
//	adaptd map --shop soap-shop --html page.html --url https://shop.example.com/products/soap
//	adaptd get soap-shop <fingerprint>
//	adaptd invalidate soap-shop <fingerprint>
//	adaptd regenerate soap-shop <fingerprint>
//	adaptd job job_0192…
//	adaptd preview --payload bundle.json https://shop.example.com/products/soap
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/Yozuusan/Adtest-sub000/themeadapt"
)

var (
	configPath string
	envFile    string
	logLevel   string

	logger *slog.Logger
	cfg    *themeadapt.Config
)

var rootCmd = &cobra.Command{
	Use:           "adaptd",
	Short:         "Theme adaptation service for storefront product pages",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		logger = newLogger(logLevel)
		slog.SetDefault(logger)

		cfg = &themeadapt.Config{}
		if configPath != "" {
			loaded, err := themeadapt.LoadConfigFile(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
		}
		cfg.ApplyEnv()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to adaptd.yaml config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// openService opens the service described by the loaded config.
func openService(ctx context.Context) (*themeadapt.Service, error) {
	return themeadapt.Open(ctx, cfg, logger)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger == nil {
			logger = newLogger("info")
		}
		logger.Error("adaptd: fatal", "error", err)
		os.Exit(1)
	}
}
