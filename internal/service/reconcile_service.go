package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shinyyama/remu-backend/internal/identity"
	"github.com/shinyyama/remu-backend/internal/logging"
	"github.com/shinyyama/remu-backend/internal/metrics"
	"github.com/shinyyama/remu-backend/internal/repository"
	"github.com/sirupsen/logrus"
)

// ReconcileGrace is how old an identity must be before a missing record
// counts as an orphan. Younger identities may belong to a signup that has not
// written its record yet.
const ReconcileGrace = 2 * registrationTimeout

// ReconcileReport lists identities that had no account record. Recent holds
// record-less identities still inside the grace period.
type ReconcileReport struct {
	Scanned  int
	Orphans  []string
	Repaired []string
	Failed   []string
	Recent   []string
}

// ReconcileService finds identities left behind when a registration failed
// after the identity was created and its compensation failed too.
type ReconcileService struct {
	idp    identity.Provider
	dir    repository.AccountDirectory
	ledger LedgerService
	repair bool
	grace  time.Duration
	now    func() time.Time
	log    logrus.FieldLogger
}

func NewReconcileService(idp identity.Provider, dir repository.AccountDirectory, ledger LedgerService, repair bool, log logrus.FieldLogger) *ReconcileService {
	return &ReconcileService{idp: idp, dir: dir, ledger: ledger, repair: repair, grace: ReconcileGrace, now: time.Now, log: log}
}

func (s *ReconcileService) Run(ctx context.Context) (*ReconcileReport, error) {
	log := logging.FromContext(ctx, s.log)
	rep := &ReconcileReport{}
	err := s.idp.Identities(ctx, func(ident identity.Identity) error {
		rep.Scanned++
		_, err := s.dir.Get(ctx, ident.UID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("lookup %s: %w", ident.UID, err)
		}
		if !ident.CreatedAt.IsZero() && s.now().Sub(ident.CreatedAt) < s.grace {
			rep.Recent = append(rep.Recent, ident.UID)
			return nil
		}
		rep.Orphans = append(rep.Orphans, ident.UID)
		if !s.repair {
			log.WithField("account_id", ident.UID).Warn("identity has no account record")
			return nil
		}
		acct, err := s.ledger.RestoreProfile(ctx, ident)
		if errors.Is(err, repository.ErrAccountExists) {
			// the signup wrote its record after all
			rep.Orphans = rep.Orphans[:len(rep.Orphans)-1]
			return nil
		}
		if err != nil {
			rep.Failed = append(rep.Failed, ident.UID)
			log.WithError(err).WithField("account_id", ident.UID).Error("restore profile failed")
			return nil
		}
		rep.Repaired = append(rep.Repaired, ident.UID)
		log.WithFields(logrus.Fields{"account_id": ident.UID, "referral_code": acct.ReferralCode}).Info("profile restored")
		return nil
	})
	if err != nil {
		return rep, err
	}
	metrics.SetOrphanIdentities(len(rep.Orphans) - len(rep.Repaired))
	log.WithFields(logrus.Fields{
		"scanned":  rep.Scanned,
		"orphans":  len(rep.Orphans),
		"repaired": len(rep.Repaired),
	}).Info("reconcile finished")
	return rep, nil
}
