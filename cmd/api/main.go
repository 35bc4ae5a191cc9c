package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shinyyama/remu-backend/internal/app"
	"github.com/shinyyama/remu-backend/internal/config"
	"github.com/shinyyama/remu-backend/internal/logging"
	"github.com/shinyyama/remu-backend/internal/repository"
	"github.com/shinyyama/remu-backend/internal/server"
	"github.com/shinyyama/remu-backend/internal/service"
)

// set by -ldflags at build time
var (
	gitSHA    = "dev"
	buildTime = ""
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "json").WithError(err).Fatal("config load error")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer rt.Close()

	productRepo := repository.NewProductRepository(rt.DB)
	srv := server.New(server.Deps{
		Directory:   rt.Directory,
		Identity:    rt.Identity,
		Ledger:      rt.Ledger(),
		Accounts:    service.NewAccountService(rt.Directory, cfg.ReferralBaseURL),
		Products:    service.NewProductService(productRepo, rt.Images, log),
		ProductRepo: productRepo,
		Log:         log,
		SHA:         gitSHA,
		BuildTime:   buildTime,
	})

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).WithField("directory", cfg.DirectoryBackend).Info("starting server")
		errCh <- srv.Start(addr)
	}()

	// The catalog comes up without MySQL and starts answering once it is reachable.
	if rt.DB == nil && cfg.HasDB() {
		go func() {
			if err := rt.ConnectDB(ctx); err != nil {
				log.WithError(err).Error("product catalog disabled")
				return
			}
			srv.SetDB(rt.DB)
			log.Info("product catalog connected")
		}()
	} else if rt.DB == nil {
		log.Warn("DB_* not set; product catalog disabled")
	}

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server stopped")
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("shutdown")
		}
		log.Info("server stopped")
	}
}
