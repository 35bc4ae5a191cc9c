package model

import "time"

// Directory field names. They match the Firestore document keys written by the
// storefront client, so both sides read the same documents.
const (
	FieldName         = "name"
	FieldEmail        = "email"
	FieldPhone        = "phone"
	FieldReferralCode = "referralCode"
	FieldReferredBy   = "referredBy"
	FieldPoints       = "points"
	FieldIsAdmin      = "isAdmin"
	FieldCreatedAt    = "createdAt"
)

// Account is the profile record kept in the account directory. ID is issued by
// the identity provider and doubles as the document key.
type Account struct {
	ID           string    `gorm:"column:id;primaryKey;size:128" firestore:"-"`
	Name         string    `gorm:"column:name;size:120" firestore:"name"`
	Email        string    `gorm:"column:email;size:255;uniqueIndex" firestore:"email"`
	Phone        string    `gorm:"column:phone;size:32" firestore:"phone"`
	ReferralCode string    `gorm:"column:referral_code;size:16;uniqueIndex;not null" firestore:"referralCode"`
	ReferredBy   *string   `gorm:"column:referred_by;size:128;index" firestore:"referredBy,omitempty"`
	Points       int64     `gorm:"column:points;not null;default:0" firestore:"points"`
	IsAdmin      bool      `gorm:"column:is_admin;not null;default:false;index" firestore:"isAdmin"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" firestore:"createdAt"`
}

func (Account) TableName() string {
	return "accounts"
}

// Referrer returns the referring account id, or "" when the account signed up
// without a referral.
func (a *Account) Referrer() string {
	if a.ReferredBy == nil {
		return ""
	}
	return *a.ReferredBy
}
