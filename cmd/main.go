package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/streamvoice/adapters/intent"
	"github.com/satriahrh/streamvoice/adapters/stt"
	"github.com/satriahrh/streamvoice/domain/repositories"
	"github.com/satriahrh/streamvoice/internal/api"
	"github.com/satriahrh/streamvoice/internal/auth"
	"github.com/satriahrh/streamvoice/internal/config"
	"github.com/satriahrh/streamvoice/internal/metrics"
	"github.com/satriahrh/streamvoice/internal/session"
	"github.com/satriahrh/streamvoice/internal/websocket"
)

var (
	configFile string
	envFile    string
	principal  string
)

var rootCmd = &cobra.Command{
	Use:          "streamvoice",
	Short:        "Bridge browser microphone audio to streaming intent recognition",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile, envFile)
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a JWT for a principal using the configured secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile, envFile)
		if err != nil {
			return err
		}
		token, err := auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).GenerateToken(principal)
		if err != nil {
			return fmt.Errorf("failed to generate token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to a dotenv file, ignored when missing")
	tokenCmd.Flags().StringVar(&principal, "principal", "", "principal name carried by the token")
	tokenCmd.MarkFlagRequired("principal")
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(cfg *config.Config) error {
	// Initialize logger
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	recognizer, closeRecognizer, err := newRecognizer(cfg.Recognizer, logger)
	if err != nil {
		return err
	}
	defer closeRecognizer()

	m := metrics.NewMetrics()
	bridge := websocket.NewBridge(session.NewRegistry(), recognizer, websocket.BridgeConfig{
		Audio: repositories.AudioConfig{
			Encoding:        cfg.Recognizer.Encoding,
			SampleRateHertz: cfg.Recognizer.SampleRateHertz,
			LanguageCode:    cfg.Recognizer.LanguageCode,
		},
		Sentinel:            []byte(cfg.Bridge.Sentinel),
		DrainTimeout:        cfg.Bridge.DrainTimeout,
		ReportOnAbruptClose: cfg.Bridge.ReportOnAbruptClose,
	}, m, logger)

	hub := websocket.NewHub(bridge, websocket.HubConfig{
		MaxMessageSize: cfg.Server.MaxMessageSize,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger)

	var reaper *websocket.SessionReaper
	if cfg.Bridge.MaxSessionAge > 0 {
		reaper = websocket.NewSessionReaper(bridge, cfg.Bridge.MaxSessionAge, cfg.Bridge.ReaperInterval, logger)
		reaper.Start()
	}

	authn := auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if !authn.Enabled() {
		logger.Warn("JWT_SECRET not set, all callers are anonymous")
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(requestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowOrigins(cfg.Server.AllowedOrigins),
	}))

	// Initialize API routes
	api.InitRoutes(e, hub, authn, m, logger)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("addr", addr),
		zap.String("backend", recognizer.Name()),
		zap.String("languageCode", cfg.Recognizer.LanguageCode))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if reaper != nil {
		reaper.Stop()
	}

	// Stop accepting upgrades first; hijacked sockets stay open.
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	if err := hub.Shutdown(ctx); err != nil {
		logger.Error("Sessions did not finalize before the deadline",
			zap.Int("remaining", bridge.Registry().Len()),
			zap.Error(err))
	}

	logger.Info("Server exited")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

// newRecognizer builds the single backend selected by configuration.
func newRecognizer(cfg config.RecognizerConfig, logger *zap.Logger) (repositories.IntentRecognizer, func() error, error) {
	switch cfg.Backend {
	case "dialogflow":
		r := intent.NewDialogflowRecognizer(intent.Config{
			CredentialsFile: cfg.CredentialsFile,
			ProjectID:       cfg.ProjectID,
		}, logger.Named("dialogflow"))
		return r, r.Close, nil
	case "speech":
		r := stt.NewGoogleSpeechToText(stt.Config{
			CredentialsFile: cfg.CredentialsFile,
		}, logger.Named("speech"))
		return r, r.Close, nil
	case "mock":
		return stt.NewMockRecognizer(logger.Named("mock")), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown recognizer backend: %s", cfg.Backend)
	}
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURIPath:  true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remoteIP", v.RemoteIP),
			}
			if v.Error != nil {
				logger.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Info("request", fields...)
			return nil
		},
	})
}

func allowOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
