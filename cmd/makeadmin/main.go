// Command makeadmin grants (or with -revoke, removes) the admin flag on an
// account record.
//
//	makeadmin [-revoke] <account-id>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shinyyama/remu-backend/internal/app"
	"github.com/shinyyama/remu-backend/internal/config"
	"github.com/shinyyama/remu-backend/internal/logging"
)

func main() {
	revoke := flag.Bool("revoke", false, "remove the admin flag instead of granting it")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: makeadmin [-revoke] <account-id>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	id := flag.Arg(0)

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").WithError(err).Fatal("config load error")
	}
	log := logging.New(cfg.LogLevel, "text")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	rt, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer rt.Close()

	acct, err := rt.Ledger().AdjustAdminFlag(ctx, "makeadmin", id, !*revoke)
	if err != nil {
		log.WithError(err).WithField("account_id", id).Fatal("could not update admin flag")
	}
	log.WithField("account_id", acct.ID).WithField("is_admin", acct.IsAdmin).Info("admin flag updated")
}
