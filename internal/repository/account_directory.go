package repository

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/shinyyama/remu-backend/internal/model"
)

var (
	ErrNotFound          = errors.New("account not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrReferralCodeTaken = errors.New("referral code already taken")
	ErrEmailTaken        = errors.New("email already used by another account")
	ErrAlreadyReferred   = errors.New("account already has a referrer")
	ErrSelfReferral      = errors.New("account cannot refer itself")
	ErrInsufficientPoint = errors.New("insufficient points")
	ErrUnknownField      = errors.New("unknown account field")
	ErrImmutableField    = errors.New("account field is immutable")
)

// ReferralGrant is the pair of balance changes made when a signup used a
// referral code. Implementations apply it as a single atomic write.
type ReferralGrant struct {
	RefereeID     string
	ReferrerID    string
	RefereeBonus  int64
	ReferrerBonus int64
}

// ListQuery drives the admin account listing. Limit 0 means no limit.
type ListQuery struct {
	SortField  string
	Descending bool
	IsAdmin    *bool
	Limit      int
}

// AccountDirectory is the document store holding account records.
type AccountDirectory interface {
	Get(ctx context.Context, id string) (*model.Account, error)
	FindByField(ctx context.Context, field string, value interface{}) ([]model.Account, error)
	// Create stores a new record. It fails with ErrAccountExists,
	// ErrEmailTaken or ErrReferralCodeTaken without writing anything.
	Create(ctx context.Context, acct *model.Account) error
	// Update sets mutable profile fields (name, phone, isAdmin).
	Update(ctx context.Context, id string, fields map[string]interface{}) error
	// Increment atomically adds delta to a counter field. Balances never go
	// below zero.
	Increment(ctx context.Context, id, field string, delta int64) error
	ApplyReferral(ctx context.Context, g ReferralGrant) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, q ListQuery) ([]model.Account, error)
}

var mutableFields = map[string]bool{
	model.FieldName:    true,
	model.FieldPhone:   true,
	model.FieldIsAdmin: true,
}

var knownFields = map[string]string{
	model.FieldName:         "name",
	model.FieldEmail:        "email",
	model.FieldPhone:        "phone",
	model.FieldReferralCode: "referral_code",
	model.FieldReferredBy:   "referred_by",
	model.FieldPoints:       "points",
	model.FieldIsAdmin:      "is_admin",
	model.FieldCreatedAt:    "created_at",
}

func checkUpdate(fields map[string]interface{}) error {
	for f := range fields {
		if _, ok := knownFields[f]; !ok {
			return ErrUnknownField
		}
		if !mutableFields[f] {
			return ErrImmutableField
		}
	}
	return nil
}

func checkGrant(g ReferralGrant) error {
	if g.RefereeID == "" || g.ReferrerID == "" {
		return ErrNotFound
	}
	if g.RefereeID == g.ReferrerID {
		return ErrSelfReferral
	}
	return nil
}

func normalizeSortField(f string) string {
	switch f {
	case model.FieldName, model.FieldEmail, model.FieldPoints, model.FieldCreatedAt:
		return f
	}
	return model.FieldCreatedAt
}

func sortAccounts(list []model.Account, field string, desc bool) {
	field = normalizeSortField(field)
	less := func(a, b *model.Account) bool {
		switch field {
		case model.FieldName:
			return strings.ToLower(a.Name) < strings.ToLower(b.Name)
		case model.FieldEmail:
			return strings.ToLower(a.Email) < strings.ToLower(b.Email)
		case model.FieldPoints:
			return a.Points < b.Points
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		if desc {
			return less(&list[j], &list[i])
		}
		return less(&list[i], &list[j])
	})
}

func cloneAccount(a model.Account) model.Account {
	if a.ReferredBy != nil {
		ref := *a.ReferredBy
		a.ReferredBy = &ref
	}
	return a
}
