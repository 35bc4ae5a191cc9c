package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shinyyama/remu-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAccount(t *testing.T, d AccountDirectory, id, code string, points int64) *model.Account {
	t.Helper()
	a := &model.Account{ID: id, Name: id, Email: id + "@example.com", ReferralCode: code, Points: points}
	require.NoError(t, d.Create(context.Background(), a))
	return a
}

func TestMemoryCreateAndGet(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()
	seedAccount(t, d, "u1", "ALIC0001", 0)

	got, err := d.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ALIC0001", got.ReferralCode)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = d.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCreateRejectsDuplicates(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()
	seedAccount(t, d, "u1", "ALIC0001", 0)

	err := d.Create(ctx, &model.Account{ID: "u1", ReferralCode: "OTHR0001"})
	assert.ErrorIs(t, err, ErrAccountExists)

	err = d.Create(ctx, &model.Account{ID: "u2", ReferralCode: "ALIC0001"})
	assert.ErrorIs(t, err, ErrReferralCodeTaken)

	err = d.Create(ctx, &model.Account{ID: "u2", Email: "U1@example.com", ReferralCode: "OTHR0001"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = d.Get(ctx, "u2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDeleteFreesEmailAndCode(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()
	seedAccount(t, d, "u1", "ALIC0001", 0)
	require.NoError(t, d.Delete(ctx, "u1"))

	err := d.Create(ctx, &model.Account{ID: "u2", Email: "u1@example.com", ReferralCode: "ALIC0001"})
	require.NoError(t, err)
}

func TestMemoryFindByField(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()
	seedAccount(t, d, "ref", "REFR0001", 0)
	seedAccount(t, d, "a", "AAAA0001", 0)
	require.NoError(t, d.ApplyReferral(ctx, ReferralGrant{RefereeID: "a", ReferrerID: "ref", RefereeBonus: 50, ReferrerBonus: 100}))

	byCode, err := d.FindByField(ctx, model.FieldReferralCode, "REFR0001")
	require.NoError(t, err)
	require.Len(t, byCode, 1)
	assert.Equal(t, "ref", byCode[0].ID)

	none, err := d.FindByField(ctx, model.FieldReferralCode, "NOPE0000")
	require.NoError(t, err)
	assert.Empty(t, none)

	referred, err := d.FindByField(ctx, model.FieldReferredBy, "ref")
	require.NoError(t, err)
	require.Len(t, referred, 1)
	assert.Equal(t, "a", referred[0].ID)

	_, err = d.FindByField(ctx, "password", "x")
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestMemoryApplyReferral(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()
	seedAccount(t, d, "ref", "REFR0001", 30)
	seedAccount(t, d, "new", "NEWW0001", 0)

	grant := ReferralGrant{RefereeID: "new", ReferrerID: "ref", RefereeBonus: 50, ReferrerBonus: 100}
	require.NoError(t, d.ApplyReferral(ctx, grant))

	ref, _ := d.Get(ctx, "ref")
	newAcct, _ := d.Get(ctx, "new")
	assert.Equal(t, int64(130), ref.Points)
	assert.Equal(t, int64(50), newAcct.Points)
	assert.Equal(t, "ref", newAcct.Referrer())

	// referredBy is set at most once
	assert.ErrorIs(t, d.ApplyReferral(ctx, grant), ErrAlreadyReferred)
	ref, _ = d.Get(ctx, "ref")
	assert.Equal(t, int64(130), ref.Points)
}

func TestMemoryApplyReferralErrors(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()
	seedAccount(t, d, "a", "AAAA0001", 0)

	err := d.ApplyReferral(ctx, ReferralGrant{RefereeID: "a", ReferrerID: "a", RefereeBonus: 50, ReferrerBonus: 100})
	assert.ErrorIs(t, err, ErrSelfReferral)

	err = d.ApplyReferral(ctx, ReferralGrant{RefereeID: "a", ReferrerID: "gone", RefereeBonus: 50, ReferrerBonus: 100})
	assert.ErrorIs(t, err, ErrNotFound)

	a, _ := d.Get(ctx, "a")
	assert.Equal(t, int64(0), a.Points)
	assert.Nil(t, a.ReferredBy)
}

func TestMemoryIncrementNeverNegative(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()
	seedAccount(t, d, "a", "AAAA0001", 40)

	require.NoError(t, d.Increment(ctx, "a", model.FieldPoints, -40))
	assert.ErrorIs(t, d.Increment(ctx, "a", model.FieldPoints, -1), ErrInsufficientPoint)
	assert.ErrorIs(t, d.Increment(ctx, "a", model.FieldIsAdmin, 1), ErrUnknownField)
	assert.ErrorIs(t, d.Increment(ctx, "missing", model.FieldPoints, 1), ErrNotFound)

	a, _ := d.Get(ctx, "a")
	assert.Equal(t, int64(0), a.Points)
}

func TestMemoryConcurrentIncrementsAreNotLost(t *testing.T) {
	d := NewMemoryDirectory()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	seedAccount(t, d, "ref", "REFR0001", 0)

	const n = 64
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- d.Increment(ctx, "ref", model.FieldPoints, 100)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	ref, _ := d.Get(ctx, "ref")
	assert.Equal(t, int64(100*n), ref.Points)
}

func TestMemoryUpdate(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()
	seedAccount(t, d, "a", "AAAA0001", 0)

	require.NoError(t, d.Update(ctx, "a", map[string]interface{}{model.FieldIsAdmin: true}))
	a, _ := d.Get(ctx, "a")
	assert.True(t, a.IsAdmin)

	assert.ErrorIs(t, d.Update(ctx, "a", map[string]interface{}{model.FieldReferralCode: "X"}), ErrImmutableField)
	assert.ErrorIs(t, d.Update(ctx, "a", map[string]interface{}{model.FieldPoints: int64(5)}), ErrImmutableField)
	assert.ErrorIs(t, d.Update(ctx, "a", map[string]interface{}{"nickname": "x"}), ErrUnknownField)
	assert.ErrorIs(t, d.Update(ctx, "missing", map[string]interface{}{model.FieldIsAdmin: true}), ErrNotFound)
}

func TestMemoryDeleteLeavesDanglingReference(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()
	seedAccount(t, d, "ref", "REFR0001", 0)
	seedAccount(t, d, "a", "AAAA0001", 0)
	require.NoError(t, d.ApplyReferral(ctx, ReferralGrant{RefereeID: "a", ReferrerID: "ref", RefereeBonus: 50, ReferrerBonus: 100}))

	require.NoError(t, d.Delete(ctx, "ref"))
	assert.ErrorIs(t, d.Delete(ctx, "ref"), ErrNotFound)

	a, err := d.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "ref", a.Referrer())

	// the freed code can be issued again
	seedAccount(t, d, "b", "REFR0001", 0)
}

func TestMemoryList(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"carol", "alice", "bob"} {
		a := &model.Account{
			ID:           name,
			Name:         name,
			ReferralCode: fmt.Sprintf("CODE%04d", i),
			Points:       int64(i * 10),
			IsAdmin:      name == "bob",
			CreatedAt:    base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, d.Create(ctx, a))
	}

	byName, err := d.List(ctx, ListQuery{SortField: model.FieldName})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, ids(byName))

	newest, err := d.List(ctx, ListQuery{SortField: model.FieldCreatedAt, Descending: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "alice"}, ids(newest))

	admin := true
	admins, err := d.List(ctx, ListQuery{IsAdmin: &admin})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, ids(admins))
}

func TestMemoryMutateHonoursContext(t *testing.T) {
	d := NewMemoryDirectory()
	seedAccount(t, d, "a", "AAAA0001", 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Increment(ctx, "a", model.FieldPoints, 1)
	// a cancelled context may still let the first attempt through
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected err=%v", err)
	}
}

func ids(list []model.Account) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.ID)
	}
	return out
}
