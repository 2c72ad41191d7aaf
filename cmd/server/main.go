package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carenest/authcore/internal/auth"
	"github.com/carenest/authcore/internal/config"
	"github.com/carenest/authcore/internal/database"
	"github.com/carenest/authcore/internal/email"
	"github.com/carenest/authcore/internal/handler"
	"github.com/carenest/authcore/internal/logger"
	"github.com/carenest/authcore/internal/middleware"
	"github.com/carenest/authcore/internal/repository"
	"github.com/carenest/authcore/internal/router"
	"github.com/carenest/authcore/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", handler.Version).Msg("starting authcore server")

	// Connect to the SQL database
	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Str("driver", db.Driver()).Msg("connected to database")

	// sqlite is the single-node setup; keep its schema current without a separate step
	if db.Driver() == config.DriverSQLite {
		if err := database.Migrate(db); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
	}

	// Connect to Redis
	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("connected to Redis")

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	mfaRepo := repository.NewMFARepository(db)
	blacklistRepo := repository.NewBlacklistRepository(rdb)
	challengeRepo := repository.NewChallengeRepository(rdb)

	tokenSvc, err := auth.NewTokenService(cfg.Security.Tokens, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token service")
	}

	mailer, err := email.NewSender(context.Background(), cfg.Email, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize email sender")
	}
	log.Info().Str("provider", cfg.Email.Provider).Msg("email sender initialized")

	// Initialize services
	mfaSvc := service.NewMFAService(mfaRepo, cfg, mailer, log)
	sessionSvc := service.NewSessionService(tokenSvc, blacklistRepo, userRepo, log)
	authSvc, err := service.NewAuthService(userRepo, mfaSvc, sessionSvc, challengeRepo, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize auth service")
	}

	h := handler.New(db, rdb, log, cfg, authSvc, mfaSvc, sessionSvc)
	mw := middleware.New(rdb, log, cfg)
	r := router.New(h, mw, cfg, sessionSvc)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", srv.Addr).Bool("tls", cfg.Server.TLS.Enabled).Msg("HTTP server listening")
		var err error
		if cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
