package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lanternlabs/keyline/internal/auth"
	"github.com/lanternlabs/keyline/internal/config"
	"github.com/lanternlabs/keyline/internal/database"
	"github.com/lanternlabs/keyline/internal/logging"
	"github.com/lanternlabs/keyline/internal/mail"
	"github.com/lanternlabs/keyline/internal/server"
	"github.com/lanternlabs/keyline/internal/storage"
	"github.com/lanternlabs/keyline/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "keyline-api",
		Short: "Keyline identity backend service",
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
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "ID token TTL in minutes")
	cmd.PersistentFlags().Int("oob-ttl-minutes", defaults.GetInt("oob.ttl_minutes"), "Out-of-band code TTL in minutes")
	cmd.PersistentFlags().String("digest-scheme", defaults.GetString("digest.scheme"), "Password digest scheme (sha256, argon2id)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "ID token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "oob.ttl_minutes", "oob-ttl-minutes")
	bindFlag(cmd, "digest.scheme", "digest-scheme")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "token.signing_secret", "signing-secret")
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

	digest, err := users.NewDigest(appConfig.DigestScheme, []byte(appConfig.DigestPepper))
	if err != nil {
		return err
	}

	idProvider := users.NewUUIDProvider()

	store, err := storage.NewStore(storage.StoreConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	tokenIssuer, err := auth.NewIDTokenIssuer(auth.IDTokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "keyline-auth",
		Audience:      "keyline-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	generator, err := auth.NewTokenGenerator(auth.DefaultTokenAlphabet)
	if err != nil {
		return err
	}

	var sender server.OobSender
	if appConfig.MailConfigured() {
		mailer, err := mail.NewMailer(mail.MailerConfig{
			Host:     appConfig.SMTPHost,
			Port:     appConfig.SMTPPort,
			Username: appConfig.SMTPUsername,
			Password: appConfig.SMTPPassword,
			From:     appConfig.SMTPFromAddress,
		})
		if err != nil {
			return err
		}
		sender = mailer
	} else {
		logger.Warn("smtp not configured, oob codes will only be logged")
		sender = mail.LogSender{Logger: logger}
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:      store,
		Tokens:     tokenIssuer,
		Digest:     digest,
		Generator:  generator,
		IDProvider: idProvider,
		Sender:     sender,
		OobTTL:     appConfig.OobTTL,
		Logger:     logger,
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
