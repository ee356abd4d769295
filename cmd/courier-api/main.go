package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/courier/internal/auth"
	"github.com/MarcoPoloResearchLab/courier/internal/config"
	"github.com/MarcoPoloResearchLab/courier/internal/database"
	"github.com/MarcoPoloResearchLab/courier/internal/directory"
	"github.com/MarcoPoloResearchLab/courier/internal/events"
	"github.com/MarcoPoloResearchLab/courier/internal/logging"
	"github.com/MarcoPoloResearchLab/courier/internal/messaging"
	"github.com/MarcoPoloResearchLab/courier/internal/notifications"
	"github.com/MarcoPoloResearchLab/courier/internal/presence"
	"github.com/MarcoPoloResearchLab/courier/internal/realtime"
	"github.com/MarcoPoloResearchLab/courier/internal/server"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "courier-api",
		Short: "Courier realtime messaging service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newIssueTokenCommand())

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
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Access token signing secret (overrides env)")
	cmd.PersistentFlags().String("allowed-origins", defaults.GetString("cors.allowed_origins"), "Comma separated browser origins")
	cmd.PersistentFlags().String("presence-backend", defaults.GetString("presence.backend"), "Presence counter store (memory, redis)")
	cmd.PersistentFlags().String("redis-address", "", "Redis address for the redis presence backend")
	cmd.PersistentFlags().String("nats-url", "", "NATS URL for outbound domain events (empty disables)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
	bindFlag(cmd, "presence.backend", "presence-backend")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "nats.url", "nats-url")
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

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
	})
	if err != nil {
		return err
	}
	directoryService, err := directory.NewService(directory.ServiceConfig{Database: db})
	if err != nil {
		return err
	}
	authenticator, err := auth.NewAuthenticator(validator, directoryService)
	if err != nil {
		return err
	}

	counterStore, closeStore, err := openPresenceStore(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, closePublisher, err := openPublisher(appConfig, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	messageStore, err := messaging.NewStore(db)
	if err != nil {
		return err
	}
	hub := realtime.NewHub(realtime.HubConfig{QueueSize: appConfig.Socket.SendQueueSize, Logger: logger})
	topology := realtime.NewTopology(hub, messageStore, logger)

	tracker, err := presence.NewTracker(presence.TrackerConfig{
		Store:     counterStore,
		Emitter:   hub,
		Publisher: publisher,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	notificationService, err := notifications.NewService(notifications.ServiceConfig{
		Database:  db,
		Emitter:   hub,
		Publisher: publisher,
		Clock:     time.Now,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	coordinator, err := messaging.NewCoordinator(messaging.CoordinatorConfig{
		Store:       messageStore,
		Broadcaster: hub,
		Notifier:    notificationService,
		Publisher:   publisher,
		Clock:       time.Now,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	receipts, err := messaging.NewReceipts(messaging.ReceiptsConfig{
		Store:     messageStore,
		Emitter:   hub,
		Publisher: publisher,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	// handlers keep persisting against this until the process shuts down
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Authenticator:  authenticator,
		Topology:       topology,
		Presence:       tracker,
		Coordinator:    coordinator,
		Receipts:       receipts,
		Typing:         messaging.NewTypingRelay(hub),
		Notifications:  notificationService,
		AllowedOrigins: appConfig.AllowedOrigins,
		Socket: server.SocketConfig{
			PingInterval:    appConfig.Socket.PingInterval,
			PongTimeout:     appConfig.Socket.PongTimeout,
			MaxMessageBytes: appConfig.Socket.MaxMessageBytes,
		},
		BaseContext: baseCtx,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}
	httpServer.RegisterOnShutdown(hub.CloseAll)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("presence_backend", appConfig.PresenceBackend),
		)
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

func openPresenceStore(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (presence.CounterStore, func(), error) {
	if appConfig.PresenceBackend != config.PresenceBackendRedis {
		return presence.NewMemoryStore(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     appConfig.Redis.Address,
		Password: appConfig.Redis.Password,
		DB:       appConfig.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logger.Info("presence counters in redis", zap.String("address", appConfig.Redis.Address))
	return presence.NewRedisStore(client), func() { _ = client.Close() }, nil
}

func openPublisher(appConfig config.AppConfig, logger *zap.Logger) (events.Publisher, func(), error) {
	if appConfig.NATS.URL == "" {
		return events.NopPublisher{}, func() {}, nil
	}
	publisher, err := events.ConnectNATS(events.NATSConfig{
		URL:           appConfig.NATS.URL,
		SubjectPrefix: appConfig.NATS.SubjectPrefix,
		Logger:        logger,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("publishing domain events to nats", zap.String("url", appConfig.NATS.URL))
	return publisher, func() { _ = publisher.Close() }, nil
}
