package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/parksidelabs/noteboard/internal/access"
	"github.com/parksidelabs/noteboard/internal/auth"
	"github.com/parksidelabs/noteboard/internal/config"
	"github.com/parksidelabs/noteboard/internal/database"
	"github.com/parksidelabs/noteboard/internal/link"
	"github.com/parksidelabs/noteboard/internal/logging"
	"github.com/parksidelabs/noteboard/internal/notes"
	"github.com/parksidelabs/noteboard/internal/sequencer"
	"github.com/parksidelabs/noteboard/internal/server"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "noteboard-api",
		Short: "Noteboard threaded discussion service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Bearer token TTL in minutes")
	cmd.PersistentFlags().Int("link-interval-seconds", defaults.GetInt("link.interval_seconds"), "Replication queue drain interval in seconds")
	cmd.PersistentFlags().Int("link-timeout-seconds", defaults.GetInt("link.timeout_seconds"), "Replication delivery timeout in seconds")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Bearer token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "link.interval_seconds", "link-interval-seconds")
	bindFlag(cmd, "link.timeout_seconds", "link-timeout-seconds")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
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

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "noteboard-auth",
		Audience:      "noteboard-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	resolver, err := access.NewResolver(access.ResolverConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	linkAdmin := link.NewAdmin(db)
	outbox := link.NewOutbox(logger)

	tracker, err := sequencer.NewTracker(sequencer.TrackerConfig{
		Database: db,
		Access:   resolver,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	notesService, err := notes.NewService(notes.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Grants:   resolver,
		Outbox:   outbox,
		Cleanups: []notes.FileCleanup{tracker, linkAdmin},
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	importer, err := link.NewImporter(link.ImporterConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	processor, err := link.NewProcessor(link.ProcessorConfig{
		Database:   db,
		HTTPClient: &http.Client{Timeout: appConfig.LinkTimeout},
		Interval:   appConfig.LinkInterval,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		NotesService: notesService,
		Access:       resolver,
		Tracker:      tracker,
		Importer:     importer,
		LinkAdmin:    linkAdmin,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go processor.Run(signalCtx)

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
