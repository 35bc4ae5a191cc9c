package repository

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shinyyama/remu-backend/internal/model"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type firestoreDirectory struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreDirectory reads and writes account documents in the given
// collection, the same one the storefront client uses ("users").
func NewFirestoreDirectory(client *firestore.Client, collection string) AccountDirectory {
	return &firestoreDirectory{client: client, collection: collection}
}

func (r *firestoreDirectory) col() *firestore.CollectionRef {
	return r.client.Collection(r.collection)
}

func (r *firestoreDirectory) Get(ctx context.Context, id string) (*model.Account, error) {
	snap, err := r.col().Doc(id).Get(ctx)
	if err != nil {
		return nil, mapFirestoreErr(err, id)
	}
	return decodeAccount(snap)
}

func (r *firestoreDirectory) FindByField(ctx context.Context, field string, value interface{}) ([]model.Account, error) {
	if _, ok := knownFields[field]; !ok {
		return nil, ErrUnknownField
	}
	docs, err := r.col().Where(field, "==", value).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	return decodeAll(docs)
}

func (r *firestoreDirectory) Create(ctx context.Context, acct *model.Account) error {
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now().UTC()
	}
	ref := r.col().Doc(acct.ID)
	return r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err == nil {
			return ErrAccountExists
		} else if status.Code(err) != codes.NotFound {
			return err
		}
		if acct.Email != "" {
			same, err := tx.Documents(r.col().Where(model.FieldEmail, "==", acct.Email).Limit(1)).GetAll()
			if err != nil {
				return err
			}
			if len(same) > 0 {
				return ErrEmailTaken
			}
		}
		taken, err := tx.Documents(r.col().Where(model.FieldReferralCode, "==", acct.ReferralCode).Limit(1)).GetAll()
		if err != nil {
			return err
		}
		if len(taken) > 0 {
			return ErrReferralCodeTaken
		}
		return tx.Create(ref, acct)
	})
}

func (r *firestoreDirectory) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	if err := checkUpdate(fields); err != nil {
		return err
	}
	updates := make([]firestore.Update, 0, len(fields))
	for f, v := range fields {
		updates = append(updates, firestore.Update{Path: f, Value: v})
	}
	if _, err := r.col().Doc(id).Update(ctx, updates); err != nil {
		return mapFirestoreErr(err, id)
	}
	return nil
}

func (r *firestoreDirectory) Increment(ctx context.Context, id, field string, delta int64) error {
	if field != model.FieldPoints {
		return ErrUnknownField
	}
	ref := r.col().Doc(id)
	if delta >= 0 {
		_, err := ref.Update(ctx, []firestore.Update{{Path: field, Value: firestore.Increment(delta)}})
		return mapFirestoreErr(err, id)
	}
	// Debits read the balance inside a transaction so it cannot go negative.
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		a, err := decodeAccount(snap)
		if err != nil {
			return err
		}
		if a.Points+delta < 0 {
			return ErrInsufficientPoint
		}
		return tx.Update(ref, []firestore.Update{{Path: field, Value: firestore.Increment(delta)}})
	})
	return mapFirestoreErr(err, id)
}

func (r *firestoreDirectory) ApplyReferral(ctx context.Context, g ReferralGrant) error {
	if err := checkGrant(g); err != nil {
		return err
	}
	refereeRef := r.col().Doc(g.RefereeID)
	referrerRef := r.col().Doc(g.ReferrerID)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(refereeRef)
		if err != nil {
			return err
		}
		referee, err := decodeAccount(snap)
		if err != nil {
			return err
		}
		if referee.ReferredBy != nil {
			return ErrAlreadyReferred
		}
		// The referrer is not read: the increment is a server-side transform,
		// so concurrent signups for one referrer do not contend on it.
		if err := tx.Update(referrerRef, []firestore.Update{
			{Path: model.FieldPoints, Value: firestore.Increment(g.ReferrerBonus)},
		}); err != nil {
			return err
		}
		return tx.Update(refereeRef, []firestore.Update{
			{Path: model.FieldPoints, Value: g.RefereeBonus},
			{Path: model.FieldReferredBy, Value: g.ReferrerID},
		})
	})
	return mapFirestoreErr(err, g.RefereeID+"/"+g.ReferrerID)
}

func (r *firestoreDirectory) Delete(ctx context.Context, id string) error {
	_, err := r.col().Doc(id).Delete(ctx, firestore.Exists)
	return mapFirestoreErr(err, id)
}

func (r *firestoreDirectory) List(ctx context.Context, q ListQuery) ([]model.Account, error) {
	query := r.col().Query
	if q.IsAdmin != nil {
		query = query.Where(model.FieldIsAdmin, "==", *q.IsAdmin)
	}
	dir := firestore.Asc
	if q.Descending {
		dir = firestore.Desc
	}
	query = query.OrderBy(normalizeSortField(q.SortField), dir)
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	return decodeAll(docs)
}

// firestoreAccount is the stored document shape. The storefront client writes
// createdAt as an ISO-8601 string, this service as a timestamp.
type firestoreAccount struct {
	Name         string      `firestore:"name"`
	Email        string      `firestore:"email"`
	Phone        string      `firestore:"phone"`
	ReferralCode string      `firestore:"referralCode"`
	ReferredBy   *string     `firestore:"referredBy"`
	Points       int64       `firestore:"points"`
	IsAdmin      bool        `firestore:"isAdmin"`
	CreatedAt    interface{} `firestore:"createdAt"`
}

func decodeAccount(snap *firestore.DocumentSnapshot) (*model.Account, error) {
	var doc firestoreAccount
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", snap.Ref.ID, err)
	}
	created, err := parseCreatedAt(doc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("decode account %s: %w", snap.Ref.ID, err)
	}
	return &model.Account{
		ID:           snap.Ref.ID,
		Name:         doc.Name,
		Email:        doc.Email,
		Phone:        doc.Phone,
		ReferralCode: doc.ReferralCode,
		ReferredBy:   doc.ReferredBy,
		Points:       doc.Points,
		IsAdmin:      doc.IsAdmin,
		CreatedAt:    created,
	}, nil
}

func parseCreatedAt(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t.UTC(), nil
	case string:
		if t == "" {
			return time.Time{}, nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("createdAt %q: %w", t, err)
		}
		return parsed.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("createdAt: unexpected %T", v)
}

func decodeAll(docs []*firestore.DocumentSnapshot) ([]model.Account, error) {
	out := make([]model.Account, 0, len(docs))
	for _, d := range docs {
		a, err := decodeAccount(d)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}

func mapFirestoreErr(err error, id string) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}
