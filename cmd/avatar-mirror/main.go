package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/config"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "avatar-mirror",
		Short: "Resolves commenter avatars and serves them from a local cache",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newServeCommand(),
		newResolveCommand(),
		newIssueTokenCommand(),
		newPreviewCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("metadata-backend", defaults.GetString("metadata.backend"), "Metadata backend (sqlite, redis)")
	flags.String("redis-address", defaults.GetString("redis.address"), "Redis address for the redis backend")
	flags.String("cache-root", defaults.GetString("cache.root"), "Directory mirrored avatars are written to")
	flags.String("cache-public-url", defaults.GetString("cache.public_url"), "Public URL prefix of the avatar cache")
	flags.String("avatar-default", defaults.GetString("avatar.default"), "Default avatar policy (mystery, blank, identicon, URL, ...)")
	flags.Int("avatar-size", defaults.GetInt("avatar.size"), "Pixel size requested from hash-based providers")
	flags.Duration("providers-timeout", defaults.GetDuration("providers.timeout"), "Outbound provider request timeout (0 disables)")
	flags.String("signing-secret", "", "Hook token signing secret (overrides env)")
	flags.String("amqp-url", defaults.GetString("amqp.url"), "AMQP broker URL for download notifications")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "metadata.backend", "metadata-backend")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "cache.root", "cache-root")
	bindFlag(cmd, "cache.public_url", "cache-public-url")
	bindFlag(cmd, "avatar.default", "avatar-default")
	bindFlag(cmd, "avatar.size", "avatar-size")
	bindFlag(cmd, "providers.timeout", "providers-timeout")
	bindFlag(cmd, "hook.signing_secret", "signing-secret")
	bindFlag(cmd, "amqp.url", "amqp-url")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// loadRuntime parses configuration and builds the logger every subcommand needs.
func loadRuntime() (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(signalCtx, appConfig, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	handler, err := app.httpHandler()
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
