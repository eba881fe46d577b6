package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/config"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/database"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/media"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/server"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/social"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/store"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/users"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/videos"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	tokenIssuer   = "vyon-api"
	tokenAudience = "vyon-web"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vyon-api",
		Short: "Vyon video platform backend service",
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
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Postgres connection string")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("oidc-issuer-url", "", "OpenID Connect issuer URL (enables /auth/oidc)")
	cmd.PersistentFlags().String("oidc-client-id", "", "OpenID Connect client ID")
	cmd.PersistentFlags().String("media-backend", defaults.GetString("media.backend"), "Media backend (preset, s3)")
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("cors.allowed_origins"), "CORS allowed origins")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.oidc.issuer_url", "oidc-issuer-url")
	bindFlag(cmd, "auth.oidc.client_id", "oidc-client-id")
	bindFlag(cmd, "media.backend", "media-backend")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
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

	db, err := database.Open(database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	idProvider := ids.NewUUIDProvider()
	socialStore, err := store.NewStore(store.StoreConfig{
		Database:          db,
		Dispatcher:        realtime.NewDispatcher(),
		Clock:             time.Now,
		IDProvider:        idProvider,
		Logger:            logger,
		MaxAdjustAttempts: appConfig.MaxAdjustAttempts,
	})
	if err != nil {
		return err
	}
	socialService, err := social.NewService(social.ServiceConfig{Store: socialStore, Logger: logger})
	if err != nil {
		return err
	}
	userService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		Counters:   socialStore,
		IDProvider: idProvider,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	uploader, err := media.NewUploader(ctx, appConfig.Media, idProvider, logger)
	if err != nil {
		return err
	}
	videoService, err := videos.NewService(videos.ServiceConfig{
		Database:   db,
		Media:      uploader,
		Counters:   socialStore,
		IDProvider: idProvider,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        tokenIssuer,
		Audience:      tokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        tokenIssuer,
		Audience:      tokenAudience,
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}

	deps := server.Dependencies{
		Users:             userService,
		Social:            socialService,
		Videos:            videoService,
		Media:             uploader,
		Tokens:            tokenManager,
		Sessions:          sessionValidator,
		AllowedOrigins:    appConfig.AllowedOrigins,
		MaxUploadBytes:    appConfig.Media.MaxUploadBytes,
		HeartbeatInterval: appConfig.HeartbeatInterval,
		Logger:            logger,
	}
	if appConfig.OIDC.Enabled() {
		verifier, err := auth.NewOIDCVerifier(ctx, auth.OIDCVerifierConfig{
			IssuerURL:    appConfig.OIDC.IssuerURL,
			ClientID:     appConfig.OIDC.ClientID,
			ProviderName: appConfig.OIDC.ProviderName,
		})
		if err != nil {
			return err
		}
		deps.IdentityVerifier = verifier
		logger.Info("oidc sign-in enabled", zap.String("issuer", appConfig.OIDC.IssuerURL))
	}

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
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
