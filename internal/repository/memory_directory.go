package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shinyyama/remu-backend/internal/model"
)

var errVersionConflict = errors.New("version conflict")

type memoryRecord struct {
	acct    model.Account
	version uint64
}

// memoryDirectory keeps versioned records and only offers compare-and-swap as
// its write primitive. Counter updates go through an optimistic retry loop.
type memoryDirectory struct {
	mu       sync.RWMutex
	records  map[string]memoryRecord
	codes    map[string]string
	emails   map[string]string
	maxTries uint
}

func NewMemoryDirectory() AccountDirectory {
	return &memoryDirectory{
		records:  make(map[string]memoryRecord),
		codes:    make(map[string]string),
		emails:   make(map[string]string),
		maxTries: 50,
	}
}

func (d *memoryDirectory) Get(ctx context.Context, id string) (*model.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	acct := cloneAccount(rec.acct)
	return &acct, nil
}

func (d *memoryDirectory) FindByField(ctx context.Context, field string, value interface{}) ([]model.Account, error) {
	if _, ok := knownFields[field]; !ok {
		return nil, ErrUnknownField
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if field == model.FieldReferralCode {
		code, _ := value.(string)
		id, ok := d.codes[code]
		if !ok {
			return nil, nil
		}
		return []model.Account{cloneAccount(d.records[id].acct)}, nil
	}
	var out []model.Account
	for _, rec := range d.records {
		if fieldEquals(&rec.acct, field, value) {
			out = append(out, cloneAccount(rec.acct))
		}
	}
	sortAccounts(out, model.FieldCreatedAt, false)
	return out, nil
}

func (d *memoryDirectory) Create(ctx context.Context, acct *model.Account) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.records[acct.ID]; ok {
		return ErrAccountExists
	}
	email := strings.ToLower(acct.Email)
	if _, ok := d.emails[email]; ok && email != "" {
		return ErrEmailTaken
	}
	if _, ok := d.codes[acct.ReferralCode]; ok {
		return ErrReferralCodeTaken
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now().UTC()
	}
	d.records[acct.ID] = memoryRecord{acct: cloneAccount(*acct), version: 1}
	d.codes[acct.ReferralCode] = acct.ID
	if email != "" {
		d.emails[email] = acct.ID
	}
	return nil
}

func (d *memoryDirectory) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	if err := checkUpdate(fields); err != nil {
		return err
	}
	return d.mutate(ctx, []string{id}, func(accts map[string]*model.Account) error {
		a := accts[id]
		for f, v := range fields {
			if err := setField(a, f, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *memoryDirectory) Increment(ctx context.Context, id, field string, delta int64) error {
	if field != model.FieldPoints {
		return ErrUnknownField
	}
	return d.mutate(ctx, []string{id}, func(accts map[string]*model.Account) error {
		a := accts[id]
		if a.Points+delta < 0 {
			return ErrInsufficientPoint
		}
		a.Points += delta
		return nil
	})
}

func (d *memoryDirectory) ApplyReferral(ctx context.Context, g ReferralGrant) error {
	if err := checkGrant(g); err != nil {
		return err
	}
	return d.mutate(ctx, []string{g.RefereeID, g.ReferrerID}, func(accts map[string]*model.Account) error {
		referee, referrer := accts[g.RefereeID], accts[g.ReferrerID]
		if referee.ReferredBy != nil {
			return ErrAlreadyReferred
		}
		referrer.Points += g.ReferrerBonus
		referee.Points = g.RefereeBonus
		ref := g.ReferrerID
		referee.ReferredBy = &ref
		return nil
	})
}

func (d *memoryDirectory) Delete(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.records[id]
	if !ok {
		return ErrNotFound
	}
	delete(d.codes, rec.acct.ReferralCode)
	delete(d.emails, strings.ToLower(rec.acct.Email))
	delete(d.records, id)
	return nil
}

func (d *memoryDirectory) List(ctx context.Context, q ListQuery) ([]model.Account, error) {
	d.mu.RLock()
	out := make([]model.Account, 0, len(d.records))
	for _, rec := range d.records {
		if q.IsAdmin != nil && rec.acct.IsAdmin != *q.IsAdmin {
			continue
		}
		out = append(out, cloneAccount(rec.acct))
	}
	d.mu.RUnlock()
	sortAccounts(out, q.SortField, q.Descending)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// mutate reads the named records, lets fn modify copies, and swaps them in
// only if no record changed in between. Conflicts are retried with backoff.
func (d *memoryDirectory) mutate(ctx context.Context, ids []string, fn func(map[string]*model.Account) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 20 * time.Millisecond
	b.Reset()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := d.tryMutate(ids, fn)
		if err == nil || errors.Is(err, errVersionConflict) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(d.maxTries))
	return err
}

func (d *memoryDirectory) tryMutate(ids []string, fn func(map[string]*model.Account) error) error {
	versions := make(map[string]uint64, len(ids))
	accts := make(map[string]*model.Account, len(ids))

	d.mu.RLock()
	for _, id := range ids {
		rec, ok := d.records[id]
		if !ok {
			d.mu.RUnlock()
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		a := cloneAccount(rec.acct)
		accts[id] = &a
		versions[id] = rec.version
	}
	d.mu.RUnlock()

	if err := fn(accts); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for id, v := range versions {
		rec, ok := d.records[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if rec.version != v {
			return errVersionConflict
		}
	}
	for id, a := range accts {
		d.records[id] = memoryRecord{acct: *a, version: versions[id] + 1}
	}
	return nil
}

func fieldEquals(a *model.Account, field string, value interface{}) bool {
	switch field {
	case model.FieldName:
		return a.Name == value
	case model.FieldEmail:
		return a.Email == value
	case model.FieldPhone:
		return a.Phone == value
	case model.FieldReferralCode:
		return a.ReferralCode == value
	case model.FieldReferredBy:
		return a.ReferredBy != nil && *a.ReferredBy == value
	case model.FieldIsAdmin:
		return a.IsAdmin == value
	case model.FieldPoints:
		n, ok := value.(int64)
		return ok && a.Points == n
	}
	return false
}

func setField(a *model.Account, field string, value interface{}) error {
	switch field {
	case model.FieldName:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("name: expected string, got %T", value)
		}
		a.Name = s
	case model.FieldPhone:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("phone: expected string, got %T", value)
		}
		a.Phone = s
	case model.FieldIsAdmin:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("isAdmin: expected bool, got %T", value)
		}
		a.IsAdmin = b
	default:
		return ErrImmutableField
	}
	return nil
}
