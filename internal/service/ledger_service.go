package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shinyyama/remu-backend/internal/identity"
	"github.com/shinyyama/remu-backend/internal/logging"
	"github.com/shinyyama/remu-backend/internal/metrics"
	"github.com/shinyyama/remu-backend/internal/model"
	"github.com/shinyyama/remu-backend/internal/repository"
	"github.com/sirupsen/logrus"
)

const (
	ReferrerBonus   int64 = 100
	RefereeBonus    int64 = 50
	MaxCodeAttempts       = 5

	registrationTimeout = 30 * time.Second
)

var (
	ErrCodeGenerationExhausted = errors.New("could not allocate a unique referral code")
	ErrPartialReferralFailure  = errors.New("account created but referral bonus was not applied")
	ErrNameRequired            = errors.New("name is required")
	ErrZeroAdjustment          = errors.New("points delta must not be zero")
)

type RegisterInput struct {
	Email        string
	Secret       string
	Name         string
	Phone        string
	ReferralCode string
}

// RegisterResult carries the stored record. Warning is non-nil when the
// account exists but the referral step failed; it wraps ErrPartialReferralFailure.
type RegisterResult struct {
	Account         *model.Account
	ReferralApplied bool
	Warning         error
}

// LedgerService owns every write to account records and point balances.
type LedgerService interface {
	RegisterAccount(ctx context.Context, in RegisterInput) (*RegisterResult, error)
	// RestoreProfile writes a fresh record for an identity that has none.
	RestoreProfile(ctx context.Context, ident identity.Identity) (*model.Account, error)
	AdjustAdminFlag(ctx context.Context, actorID, targetID string, isAdmin bool) (*model.Account, error)
	AdjustPoints(ctx context.Context, actorID, targetID string, delta int64) (*model.Account, error)
	DeleteAccount(ctx context.Context, actorID, targetID string) error
}

type ledgerService struct {
	dir   repository.AccountDirectory
	idp   identity.Provider
	codes *CodeGenerator
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewLedgerService(dir repository.AccountDirectory, idp identity.Provider, codes *CodeGenerator, log logrus.FieldLogger) LedgerService {
	if codes == nil {
		codes = NewCodeGenerator()
	}
	return &ledgerService{dir: dir, idp: idp, codes: codes, log: log, now: time.Now}
}

func (s *ledgerService) RegisterAccount(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		metrics.RecordRegistration("rejected")
		return nil, ErrNameRequired
	}

	// Once the identity exists the remaining steps must run to completion even
	// if the caller goes away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), registrationTimeout)
	defer cancel()
	log := logging.FromContext(ctx, s.log)

	uid, err := s.idp.CreateIdentity(ctx, in.Email, in.Secret, name)
	if err != nil {
		metrics.RecordRegistration("rejected")
		return nil, err
	}
	log = log.WithField("account_id", uid)

	acct := &model.Account{
		ID:        uid,
		Name:      name,
		Email:     strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:     FormatPhone(in.Phone),
		CreatedAt: s.now().UTC(),
	}
	err = s.storeWithFreshCode(ctx, acct)
	if errors.Is(err, repository.ErrAccountExists) {
		// A reconcile sweep restored a profile for this uid before the record
		// was written; take that record over instead of failing the signup.
		err = s.adoptRecord(ctx, acct)
		if err == nil {
			log.Warn("adopted a restored profile")
		} else if derr := s.dir.Delete(ctx, uid); derr != nil && !errors.Is(derr, repository.ErrNotFound) {
			log.WithError(derr).Error("restored profile left behind")
		}
	}
	if err != nil {
		if derr := s.idp.DeleteIdentity(ctx, uid); derr != nil {
			log.WithError(derr).Error("identity left without a record; reconcile will pick it up")
		}
		metrics.RecordRegistration("failed")
		log.WithError(err).Warn("registration rolled back")
		return nil, err
	}
	metrics.RecordRegistration("created")
	log.WithField("referral_code", acct.ReferralCode).Info("account registered")

	res := &RegisterResult{Account: acct}
	code := NormalizeCode(in.ReferralCode)
	if code == "" {
		return res, nil
	}
	applied, err := s.applyReferral(ctx, acct, code)
	if err != nil {
		metrics.RecordReferralBonus("failed")
		log.WithError(err).WithField("code", code).Warn("referral bonus not applied")
		res.Warning = fmt.Errorf("%w: %v", ErrPartialReferralFailure, err)
		return res, nil
	}
	res.ReferralApplied = applied
	return res, nil
}

func (s *ledgerService) RestoreProfile(ctx context.Context, ident identity.Identity) (*model.Account, error) {
	name := strings.TrimSpace(ident.DisplayName)
	if name == "" {
		local, _, _ := strings.Cut(ident.Email, "@")
		name = local
	}
	acct := &model.Account{
		ID:        ident.UID,
		Name:      name,
		Email:     strings.ToLower(ident.Email),
		CreatedAt: s.now().UTC(),
	}
	if err := s.storeWithFreshCode(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// adoptRecord loads the existing record for acct.ID into acct after writing
// the signup's profile fields onto it.
func (s *ledgerService) adoptRecord(ctx context.Context, acct *model.Account) error {
	err := s.dir.Update(ctx, acct.ID, map[string]interface{}{
		model.FieldName:  acct.Name,
		model.FieldPhone: acct.Phone,
	})
	if err != nil {
		return fmt.Errorf("adopt account: %w", err)
	}
	existing, err := s.dir.Get(ctx, acct.ID)
	if err != nil {
		return fmt.Errorf("adopt account: %w", err)
	}
	*acct = *existing
	return nil
}

// storeWithFreshCode draws candidates until one is free and the record is
// stored. A code taken between the lookup and the write costs an attempt.
func (s *ledgerService) storeWithFreshCode(ctx context.Context, acct *model.Account) error {
	for attempt := 0; attempt < MaxCodeAttempts; attempt++ {
		code := s.codes.Next(acct.Name, acct.Email)
		taken, err := s.dir.FindByField(ctx, model.FieldReferralCode, code)
		if err != nil {
			return fmt.Errorf("check referral code: %w", err)
		}
		if len(taken) > 0 {
			continue
		}
		acct.ReferralCode = code
		err = s.dir.Create(ctx, acct)
		if errors.Is(err, repository.ErrReferralCodeTaken) {
			continue
		}
		if err != nil {
			acct.ReferralCode = ""
			return fmt.Errorf("store account: %w", err)
		}
		return nil
	}
	acct.ReferralCode = ""
	return ErrCodeGenerationExhausted
}

// FormatPhone keeps only the digits of a phone number. Ten digits are written
// as (XXX) XXX-XXXX, longer numbers get a leading "+", shorter ones stay bare.
func FormatPhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	switch {
	case len(d) == 10:
		return "(" + d[:3] + ") " + d[3:6] + "-" + d[6:]
	case len(d) > 10:
		return "+" + d
	}
	return d
}

// applyReferral reports false without error when the code matches nobody or
// matches the new account itself; the signup then proceeds unreferred.
func (s *ledgerService) applyReferral(ctx context.Context, acct *model.Account, code string) (bool, error) {
	found, err := s.dir.FindByField(ctx, model.FieldReferralCode, code)
	if err != nil {
		return false, err
	}
	if len(found) == 0 || found[0].ID == acct.ID {
		metrics.RecordReferralBonus("ignored")
		return false, nil
	}
	referrer := found[0]
	err = s.dir.ApplyReferral(ctx, repository.ReferralGrant{
		RefereeID:     acct.ID,
		ReferrerID:    referrer.ID,
		RefereeBonus:  RefereeBonus,
		ReferrerBonus: ReferrerBonus,
	})
	if err != nil {
		return false, err
	}
	metrics.RecordReferralBonus("applied")
	acct.Points = RefereeBonus
	acct.ReferredBy = &referrer.ID
	return true, nil
}

func (s *ledgerService) AdjustAdminFlag(ctx context.Context, actorID, targetID string, isAdmin bool) (*model.Account, error) {
	if err := s.dir.Update(ctx, targetID, map[string]interface{}{model.FieldIsAdmin: isAdmin}); err != nil {
		return nil, err
	}
	logging.FromContext(ctx, s.log).WithFields(logrus.Fields{
		"actor":    actorID,
		"target":   targetID,
		"is_admin": isAdmin,
	}).Info("admin flag changed")
	return s.dir.Get(ctx, targetID)
}

func (s *ledgerService) AdjustPoints(ctx context.Context, actorID, targetID string, delta int64) (*model.Account, error) {
	if delta == 0 {
		return nil, ErrZeroAdjustment
	}
	if err := s.dir.Increment(ctx, targetID, model.FieldPoints, delta); err != nil {
		return nil, err
	}
	logging.FromContext(ctx, s.log).WithFields(logrus.Fields{
		"actor":  actorID,
		"target": targetID,
		"delta":  delta,
	}).Info("points adjusted")
	return s.dir.Get(ctx, targetID)
}

// DeleteAccount removes the record, then the identity so the user cannot sign
// in to a profile that no longer exists. Accounts that named the target as
// referrer keep the dangling id.
func (s *ledgerService) DeleteAccount(ctx context.Context, actorID, targetID string) error {
	if err := s.dir.Delete(ctx, targetID); err != nil {
		return err
	}
	log := logging.FromContext(ctx, s.log).WithFields(logrus.Fields{"actor": actorID, "target": targetID})
	if err := s.idp.DeleteIdentity(ctx, targetID); err != nil {
		log.WithError(err).Warn("account record deleted but identity remains")
	}
	log.Info("account deleted")
	return nil
}
