package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shinyyama/remu-backend/internal/model"
	"gorm.io/gorm"
)

type sqlDirectory struct {
	db *gorm.DB
}

// NewSQLDirectory stores accounts in the MySQL `accounts` table.
func NewSQLDirectory(db *gorm.DB) AccountDirectory {
	return &sqlDirectory{db: db}
}

func (r *sqlDirectory) Get(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *sqlDirectory) FindByField(ctx context.Context, field string, value interface{}) ([]model.Account, error) {
	col, ok := knownFields[field]
	if !ok {
		return nil, ErrUnknownField
	}
	var list []model.Account
	if err := r.db.WithContext(ctx).
		Where(fmt.Sprintf("%s = ?", col), value).
		Order("created_at ASC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *sqlDirectory) Create(ctx context.Context, acct *model.Account) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := createConflict(tx, acct); err != nil {
			return err
		}
		err := tx.Create(acct).Error
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
		// A concurrent insert won a unique index. The translated error no
		// longer names the index, so look again; a row not yet visible here
		// is most likely a code collision, which the caller retries.
		if cerr := createConflict(tx, acct); cerr != nil {
			return cerr
		}
		return ErrReferralCodeTaken
	})
}

// createConflict reports which unique key of acct is already in use.
func createConflict(tx *gorm.DB, acct *model.Account) error {
	checks := []struct {
		where string
		arg   interface{}
		err   error
	}{
		{"id = ?", acct.ID, ErrAccountExists},
		{"email = ?", acct.Email, ErrEmailTaken},
		{"referral_code = ?", acct.ReferralCode, ErrReferralCodeTaken},
	}
	for _, c := range checks {
		if c.err == ErrEmailTaken && acct.Email == "" {
			continue
		}
		var cnt int64
		if err := tx.Model(&model.Account{}).Where(c.where, c.arg).Count(&cnt).Error; err != nil {
			return err
		}
		if cnt > 0 {
			return c.err
		}
	}
	return nil
}

func (r *sqlDirectory) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	if err := checkUpdate(fields); err != nil {
		return err
	}
	cols := make(map[string]interface{}, len(fields))
	for f, v := range fields {
		cols[knownFields[f]] = v
	}
	res := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// MySQL reports 0 rows when the values are unchanged, so tell the two apart.
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *sqlDirectory) Increment(ctx context.Context, id, field string, delta int64) error {
	if field != model.FieldPoints {
		return ErrUnknownField
	}
	return r.increment(r.db.WithContext(ctx), id, delta)
}

func (r *sqlDirectory) increment(tx *gorm.DB, id string, delta int64) error {
	res := tx.Model(&model.Account{}).
		Where("id = ? AND points + ? >= 0", id, delta).
		Update("points", gorm.Expr("points + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var cnt int64
		if err := tx.Model(&model.Account{}).Where("id = ?", id).Count(&cnt).Error; err != nil {
			return err
		}
		if cnt == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return ErrInsufficientPoint
	}
	return nil
}

func (r *sqlDirectory) ApplyReferral(ctx context.Context, g ReferralGrant) error {
	if err := checkGrant(g); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Account{}).
			Where("id = ? AND referred_by IS NULL", g.RefereeID).
			Updates(map[string]interface{}{
				"points":      g.RefereeBonus,
				"referred_by": g.ReferrerID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var referee model.Account
			if err := tx.Where("id = ?", g.RefereeID).First(&referee).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: %s", ErrNotFound, g.RefereeID)
				}
				return err
			}
			return ErrAlreadyReferred
		}
		return r.increment(tx, g.ReferrerID, g.ReferrerBonus)
	})
}

func (r *sqlDirectory) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Account{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqlDirectory) List(ctx context.Context, q ListQuery) ([]model.Account, error) {
	dir := "ASC"
	if q.Descending {
		dir = "DESC"
	}
	query := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Order(fmt.Sprintf("%s %s", knownFields[normalizeSortField(q.SortField)], strings.ToUpper(dir)))
	if q.IsAdmin != nil {
		query = query.Where("is_admin = ?", *q.IsAdmin)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	var list []model.Account
	if err := query.Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
