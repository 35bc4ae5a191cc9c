// Command reconcile looks for identities that have no account record, the
// leftovers of registrations whose rollback failed. It runs on an interval
// unless RECONCILE_ONCE is set.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/joho/godotenv"
	"github.com/shinyyama/remu-backend/internal/app"
	"github.com/shinyyama/remu-backend/internal/config"
	"github.com/shinyyama/remu-backend/internal/logging"
	"github.com/shinyyama/remu-backend/internal/service"
)

const runTimeout = 30 * time.Minute

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

	rec := service.NewReconcileService(rt.Identity, rt.Directory, rt.Ledger(), cfg.ReconcileRepair, log)
	sweep := func() {
		runCtx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		if _, err := rec.Run(runCtx); err != nil {
			log.WithError(err).Error("reconcile run failed")
		}
	}

	if cfg.ReconcileOnce {
		sweep()
		return
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		log.WithError(err).Fatal("scheduler")
	}
	_, err = s.NewJob(
		gocron.DurationJob(cfg.ReconcileInterval),
		gocron.NewTask(sweep),
		gocron.WithName("reconcile-orphan-identities"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		log.WithError(err).Fatal("schedule reconcile job")
	}
	log.WithField("interval", cfg.ReconcileInterval.String()).WithField("repair", cfg.ReconcileRepair).Info("reconcile scheduler started")
	s.Start()

	<-ctx.Done()
	if err := s.Shutdown(); err != nil {
		log.WithError(err).Error("scheduler shutdown")
	}
}
