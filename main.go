package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/nabachouhan/gatishakti3.0/internal/config"
	"github.com/nabachouhan/gatishakti3.0/internal/db"
	"github.com/nabachouhan/gatishakti3.0/internal/ingest"
	"github.com/nabachouhan/gatishakti3.0/internal/layers"
	"github.com/nabachouhan/gatishakti3.0/internal/middleware"
	"github.com/nabachouhan/gatishakti3.0/internal/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "geoingest:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load(".env.local")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := cfg.NewLogger()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(gdb); err != nil {
			log.Warn("close database", "error", err)
		}
	}()

	pipeline, err := layers.Init(ctx, gdb, cfg, log)
	if err != nil {
		return err
	}

	sweeper := ingest.NewSweeper(cfg.ScratchDir, cfg.SweepMaxAge, log)
	sweeper.InUse = pipeline.Active
	if _, err := sweeper.Sweep(); err != nil {
		log.Warn("initial sweep failed", "error", err)
	}
	if err := sweeper.Start(ctx, cfg.SweepSchedule); err != nil {
		return err
	}

	var verifier middleware.TokenVerifier
	if cfg.JWTSecret != "" {
		verifier = middleware.HMACVerifier{Secret: []byte(cfg.JWTSecret)}
	} else {
		log.Warn("JWT_SECRET not set; write routes are unauthenticated")
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORSMiddleware(cfg.CORSAllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(pingCtx, gdb); err != nil {
			utils.WriteMessage(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		utils.WriteMessage(w, http.StatusOK, "ok")
	})
	r.Mount("/layers", layers.SetupRoutes(
		layers.NewHandler(pipeline, cfg.MaxUploadBytes, log),
		layers.RouteOptions{Verifier: verifier, RateRPS: cfg.UploadRateRPS, RateBurst: cfg.UploadRateBurst},
	))

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	// Loads in flight get up to the load timeout to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.LoadTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
