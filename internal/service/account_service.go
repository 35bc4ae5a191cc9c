package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shinyyama/remu-backend/internal/model"
	"github.com/shinyyama/remu-backend/internal/repository"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Profile is an account together with its resolved referrer. ReferrerMissing
// is set when ReferredBy names an account that has since been deleted.
type Profile struct {
	Account         *model.Account
	Referrer        *model.Account
	ReferrerMissing bool
}

type ReferralSummary struct {
	Code         string
	ShareURL     string
	Referred     []model.Account
	PointsEarned int64
}

type AccountListQuery struct {
	SortField  string
	Descending bool
	IsAdmin    *bool
	Page       int
	PageSize   int
	// Search matches name or email, case-insensitively.
	Search string
}

type AccountPage struct {
	Accounts []model.Account
	Page     int
	PageSize int
	HasMore  bool
}

type AccountStats struct {
	TotalUsers     int
	TotalPoints    int64
	TotalReferrals int
	Admins         int
}

type AccountService interface {
	Get(ctx context.Context, id string) (*model.Account, error)
	Profile(ctx context.Context, id string) (*Profile, error)
	// ResolveReferrer returns nil without error when the account has no
	// referrer or the referrer record no longer exists.
	ResolveReferrer(ctx context.Context, acct *model.Account) (*model.Account, error)
	Referrals(ctx context.Context, id string) (*ReferralSummary, error)
	List(ctx context.Context, q AccountListQuery) (*AccountPage, error)
	Stats(ctx context.Context) (*AccountStats, error)
}

type accountService struct {
	dir     repository.AccountDirectory
	baseURL string
}

func NewAccountService(dir repository.AccountDirectory, referralBaseURL string) AccountService {
	return &accountService{dir: dir, baseURL: referralBaseURL}
}

func (s *accountService) Get(ctx context.Context, id string) (*model.Account, error) {
	return s.dir.Get(ctx, id)
}

func (s *accountService) Profile(ctx context.Context, id string) (*Profile, error) {
	acct, err := s.dir.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ref, err := s.ResolveReferrer(ctx, acct)
	if err != nil {
		return nil, err
	}
	return &Profile{
		Account:         acct,
		Referrer:        ref,
		ReferrerMissing: acct.ReferredBy != nil && ref == nil,
	}, nil
}

func (s *accountService) ResolveReferrer(ctx context.Context, acct *model.Account) (*model.Account, error) {
	if acct.ReferredBy == nil {
		return nil, nil
	}
	ref, err := s.dir.Get(ctx, *acct.ReferredBy)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return ref, err
}

func (s *accountService) Referrals(ctx context.Context, id string) (*ReferralSummary, error) {
	acct, err := s.dir.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	referred, err := s.dir.FindByField(ctx, model.FieldReferredBy, id)
	if err != nil {
		return nil, err
	}
	if referred == nil {
		referred = []model.Account{}
	}
	return &ReferralSummary{
		Code:         acct.ReferralCode,
		ShareURL:     ShareURL(s.baseURL, acct.ReferralCode),
		Referred:     referred,
		PointsEarned: int64(len(referred)) * ReferrerBonus,
	}, nil
}

func ShareURL(base, code string) string {
	if base == "" || code == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/" + code
}

func (s *accountService) List(ctx context.Context, q AccountListQuery) (*AccountPage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	search := strings.ToLower(strings.TrimSpace(q.Search))

	rq := repository.ListQuery{SortField: q.SortField, Descending: q.Descending, IsAdmin: q.IsAdmin}
	if search == "" {
		// one extra row tells us whether another page exists
		rq.Limit = q.Page*q.PageSize + 1
	}
	all, err := s.dir.List(ctx, rq)
	if err != nil {
		return nil, err
	}
	if search != "" {
		filtered := all[:0]
		for _, a := range all {
			if strings.Contains(strings.ToLower(a.Name), search) || strings.Contains(strings.ToLower(a.Email), search) {
				filtered = append(filtered, a)
			}
		}
		all = filtered
	}

	start := (q.Page - 1) * q.PageSize
	end := start + q.PageSize
	page := &AccountPage{Page: q.Page, PageSize: q.PageSize, Accounts: []model.Account{}}
	if start < len(all) {
		if end > len(all) {
			end = len(all)
		}
		page.Accounts = append(page.Accounts, all[start:end]...)
	}
	page.HasMore = len(all) > q.Page*q.PageSize
	return page, nil
}

func (s *accountService) Stats(ctx context.Context) (*AccountStats, error) {
	all, err := s.dir.List(ctx, repository.ListQuery{})
	if err != nil {
		return nil, err
	}
	st := &AccountStats{TotalUsers: len(all)}
	for _, a := range all {
		st.TotalPoints += a.Points
		if a.ReferredBy != nil {
			st.TotalReferrals++
		}
		if a.IsAdmin {
			st.Admins++
		}
	}
	return st, nil
}
