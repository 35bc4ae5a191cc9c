package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/shinyyama/remu-backend/internal/identity"
	"github.com/shinyyama/remu-backend/internal/identity/identitytest"
	"github.com/shinyyama/remu-backend/internal/logging"
	"github.com/shinyyama/remu-backend/internal/model"
	"github.com/shinyyama/remu-backend/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{1,4}[0-9]{4}$`)

type ledgerFixture struct {
	dir    repository.AccountDirectory
	idp    *identitytest.Fake
	ledger LedgerService
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	dir := repository.NewMemoryDirectory()
	idp := identitytest.New()
	return &ledgerFixture{
		dir:    dir,
		idp:    idp,
		ledger: NewLedgerService(dir, idp, NewSeededCodeGenerator(7), logging.Discard()),
	}
}

func (f *ledgerFixture) register(t *testing.T, name, code string) *RegisterResult {
	t.Helper()
	res, err := f.ledger.RegisterAccount(context.Background(), RegisterInput{
		Email:        name + "@example.com",
		Secret:       "secret123",
		Name:         name,
		ReferralCode: code,
	})
	require.NoError(t, err)
	return res
}

func TestRegisterWithoutReferral(t *testing.T) {
	f := newLedgerFixture(t)
	res := f.register(t, "Alice", "")

	acct := res.Account
	assert.Equal(t, int64(0), acct.Points)
	assert.Nil(t, acct.ReferredBy)
	assert.False(t, acct.IsAdmin)
	assert.False(t, res.ReferralApplied)
	assert.Nil(t, res.Warning)
	assert.Regexp(t, codePattern, acct.ReferralCode)
	assert.Equal(t, "ALIC", acct.ReferralCode[:4])

	stored, err := f.dir.Get(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", stored.Email)
	assert.Equal(t, acct.ReferralCode, stored.ReferralCode)
}

func TestRegisterWithReferral(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	alice := f.register(t, "Alice", "").Account

	res := f.register(t, "Bob", alice.ReferralCode)
	assert.True(t, res.ReferralApplied)
	assert.Nil(t, res.Warning)

	bob, err := f.dir.Get(ctx, res.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, RefereeBonus, bob.Points)
	assert.Equal(t, alice.ID, bob.Referrer())

	alice, err = f.dir.Get(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, ReferrerBonus, alice.Points)
}

func TestRegisterAcceptsLowerCaseCode(t *testing.T) {
	f := newLedgerFixture(t)
	alice := f.register(t, "Alice", "").Account

	res := f.register(t, "Bob", "  "+strings.ToLower(alice.ReferralCode)+" ")
	assert.True(t, res.ReferralApplied)
}

func TestRegisterWithUnknownCode(t *testing.T) {
	f := newLedgerFixture(t)
	res := f.register(t, "Carol", "ZZZZ9999")

	assert.False(t, res.ReferralApplied)
	assert.Nil(t, res.Warning)
	assert.Equal(t, int64(0), res.Account.Points)
	assert.Nil(t, res.Account.ReferredBy)
}

func TestConcurrentReferralsAreAllCredited(t *testing.T) {
	f := newLedgerFixture(t)
	alice := f.register(t, "Alice", "").Account

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.ledger.RegisterAccount(context.Background(), RegisterInput{
				Email:        fmt.Sprintf("friend%d@example.com", i),
				Secret:       "secret123",
				Name:         fmt.Sprintf("Friend %d", i),
				ReferralCode: alice.ReferralCode,
			})
			if err == nil && !res.ReferralApplied {
				err = errors.New("referral not applied")
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := f.dir.Get(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, ReferrerBonus*n, got.Points)

	referred, err := f.dir.FindByField(context.Background(), model.FieldReferredBy, alice.ID)
	require.NoError(t, err)
	assert.Len(t, referred, n)
}

func TestReferralCodesAreUnique(t *testing.T) {
	f := newLedgerFixture(t)
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		res := f.register(t, fmt.Sprintf("Name%d", i), "")
		code := res.Account.ReferralCode
		require.Regexp(t, codePattern, code)
		require.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

func TestReferralCodesUniqueAcrossTenThousandSignups(t *testing.T) {
	if testing.Short() {
		t.Skip("long")
	}
	stems := []string{
		"Alpha", "Bravo", "Charlie", "Delta", "Echo", "Foxtrot", "Golf", "Hotel",
		"India", "Juliet", "Kilo", "Lima", "Mike", "November", "Oscar", "Papa",
		"Quebec", "Romeo", "Sierra", "Tango", "Uniform", "Victor", "Whiskey", "Xray", "Yankee",
	}
	f := newLedgerFixture(t)
	seen := make(map[string]bool, 10000)
	for i := 0; i < 10000; i++ {
		res := f.register(t, fmt.Sprintf("%s%d", stems[i%len(stems)], i), "")
		code := res.Account.ReferralCode
		require.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

func TestRegisterExhaustsCodesAndCompensates(t *testing.T) {
	dir := repository.NewMemoryDirectory()
	idp := identitytest.New()
	stuck := &CodeGenerator{intn: func(int) int { return 7 }}
	ledger := NewLedgerService(dir, idp, stuck, logging.Discard())
	ctx := context.Background()

	first, err := ledger.RegisterAccount(ctx, RegisterInput{Email: "alice@example.com", Secret: "secret123", Name: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "ALIC0007", first.Account.ReferralCode)

	_, err = ledger.RegisterAccount(ctx, RegisterInput{Email: "alicia@example.com", Secret: "secret123", Name: "Alicia"})
	assert.ErrorIs(t, err, ErrCodeGenerationExhausted)

	// the identity for the failed signup was removed again
	assert.True(t, idp.Has("uid-001"))
	assert.False(t, idp.Has("uid-002"))
	_, err = dir.Get(ctx, "uid-002")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

type failingCreateDirectory struct {
	repository.AccountDirectory
}

func (failingCreateDirectory) Create(context.Context, *model.Account) error {
	return errors.New("directory unavailable")
}

func TestRegisterCompensatesWhenStoreFails(t *testing.T) {
	idp := identitytest.New()
	ledger := NewLedgerService(failingCreateDirectory{repository.NewMemoryDirectory()}, idp, nil, logging.Discard())

	_, err := ledger.RegisterAccount(context.Background(), RegisterInput{Email: "a@example.com", Secret: "secret123", Name: "A"})
	require.Error(t, err)
	assert.False(t, idp.Has("uid-001"))

	// the same email can sign up again once the store recovers
	ledger = NewLedgerService(repository.NewMemoryDirectory(), idp, nil, logging.Discard())
	_, err = ledger.RegisterAccount(context.Background(), RegisterInput{Email: "a@example.com", Secret: "secret123", Name: "A"})
	assert.NoError(t, err)
}

type failingReferralDirectory struct {
	repository.AccountDirectory
}

func (failingReferralDirectory) ApplyReferral(context.Context, repository.ReferralGrant) error {
	return errors.New("transaction aborted")
}

func TestRegisterReportsPartialReferralFailure(t *testing.T) {
	mem := repository.NewMemoryDirectory()
	idp := identitytest.New()
	ledger := NewLedgerService(failingReferralDirectory{mem}, idp, nil, logging.Discard())
	ctx := context.Background()

	alice, err := ledger.RegisterAccount(ctx, RegisterInput{Email: "alice@example.com", Secret: "secret123", Name: "Alice"})
	require.NoError(t, err)

	res, err := ledger.RegisterAccount(ctx, RegisterInput{
		Email: "bob@example.com", Secret: "secret123", Name: "Bob", ReferralCode: alice.Account.ReferralCode,
	})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Warning, ErrPartialReferralFailure)
	assert.False(t, res.ReferralApplied)

	bob, err := mem.Get(ctx, res.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bob.Points)
	assert.Nil(t, bob.ReferredBy)
	got, _ := mem.Get(ctx, alice.Account.ID)
	assert.Equal(t, int64(0), got.Points)
}

func TestRegisterRejections(t *testing.T) {
	f := newLedgerFixture(t)
	f.register(t, "Alice", "")

	tests := []struct {
		name string
		in   RegisterInput
		want error
	}{
		{"duplicate email", RegisterInput{Email: "ALICE@example.com", Secret: "secret123", Name: "Other"}, identity.ErrDuplicateAccount},
		{"weak secret", RegisterInput{Email: "new@example.com", Secret: "123", Name: "New"}, identity.ErrWeakSecret},
		{"bad email", RegisterInput{Email: "not-an-email", Secret: "secret123", Name: "New"}, identity.ErrInvalidEmail},
		{"blank name", RegisterInput{Email: "new@example.com", Secret: "secret123", Name: "  "}, ErrNameRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.ledger.RegisterAccount(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, res)
		})
	}

	all, err := f.dir.List(context.Background(), repository.ListQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRegisterSurvivesCallerCancellation(t *testing.T) {
	f := newLedgerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.ledger.RegisterAccount(ctx, RegisterInput{Email: "late@example.com", Secret: "secret123", Name: "Late"})
	require.NoError(t, err)
	_, err = f.dir.Get(context.Background(), res.Account.ID)
	assert.NoError(t, err)
}

func TestAdjustAdminFlag(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	admin := f.register(t, "Admin", "").Account
	user := f.register(t, "User", "").Account

	got, err := f.ledger.AdjustAdminFlag(ctx, admin.ID, user.ID, true)
	require.NoError(t, err)
	assert.True(t, got.IsAdmin)

	got, err = f.ledger.AdjustAdminFlag(ctx, admin.ID, user.ID, false)
	require.NoError(t, err)
	assert.False(t, got.IsAdmin)

	_, err = f.ledger.AdjustAdminFlag(ctx, admin.ID, "missing", true)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAdjustAdminFlagRepeatedValueDoesNotToggle(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	user := f.register(t, "User", "").Account

	for _, want := range []bool{true, false} {
		for i := 0; i < 2; i++ {
			got, err := f.ledger.AdjustAdminFlag(ctx, "admin", user.ID, want)
			require.NoError(t, err)
			assert.Equal(t, want, got.IsAdmin, "call %d with %v", i+1, want)

			stored, err := f.dir.Get(ctx, user.ID)
			require.NoError(t, err)
			assert.Equal(t, want, stored.IsAdmin)
		}
	}
}

func TestRegisterFormatsPhone(t *testing.T) {
	f := newLedgerFixture(t)
	res, err := f.ledger.RegisterAccount(context.Background(), RegisterInput{
		Email: "pat@example.com", Secret: "secret123", Name: "Pat", Phone: " 555.123.4567 ",
	})
	require.NoError(t, err)
	assert.Equal(t, "(555) 123-4567", res.Account.Phone)

	stored, err := f.dir.Get(context.Background(), res.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, "(555) 123-4567", stored.Phone)
}

func TestFormatPhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"12345", "12345"},
		{"555-123-4567", "(555) 123-4567"},
		{"(555) 123 4567", "(555) 123-4567"},
		{"+44 20 7946 0958", "+442079460958"},
		{"81-90-1234-5678", "+819012345678"},
		{"call me", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatPhone(tt.in), tt.in)
	}
}

func TestRegisterWithStaleEmailRecordFailsFast(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	// a record whose identity is gone still holds the address
	require.NoError(t, f.dir.Create(ctx, &model.Account{ID: "old-uid", Name: "Old", Email: "sam@example.com", ReferralCode: "OLDD0001"}))

	_, err := f.ledger.RegisterAccount(ctx, RegisterInput{Email: "sam@example.com", Secret: "secret123", Name: "Sam"})
	assert.ErrorIs(t, err, repository.ErrEmailTaken)
	assert.NotErrorIs(t, err, ErrCodeGenerationExhausted)
	assert.False(t, f.idp.Has("uid-001"))
}

func TestAdjustPoints(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	user := f.register(t, "User", "").Account

	got, err := f.ledger.AdjustPoints(ctx, "admin", user.ID, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(30), got.Points)

	_, err = f.ledger.AdjustPoints(ctx, "admin", user.ID, -31)
	assert.ErrorIs(t, err, repository.ErrInsufficientPoint)

	_, err = f.ledger.AdjustPoints(ctx, "admin", user.ID, 0)
	assert.ErrorIs(t, err, ErrZeroAdjustment)

	got, err = f.ledger.AdjustPoints(ctx, "admin", user.ID, -30)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Points)
}

func TestDeleteAccountLeavesReferralsIntact(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	alice := f.register(t, "Alice", "").Account
	bob := f.register(t, "Bob", alice.ReferralCode).Account

	require.NoError(t, f.ledger.DeleteAccount(ctx, "admin", alice.ID))
	assert.False(t, f.idp.Has(alice.ID))
	assert.ErrorIs(t, f.ledger.DeleteAccount(ctx, "admin", alice.ID), repository.ErrNotFound)

	got, err := f.dir.Get(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.Referrer())
	assert.Equal(t, RefereeBonus, got.Points)

	accounts := NewAccountService(f.dir, "")
	p, err := accounts.Profile(ctx, bob.ID)
	require.NoError(t, err)
	assert.Nil(t, p.Referrer)
	assert.True(t, p.ReferrerMissing)
}

func TestCodePrefix(t *testing.T) {
	tests := []struct {
		name, email, want string
	}{
		{"Alice", "", "ALIC"},
		{"Al", "", "AL"},
		{"José María", "", "JOSE"},
		{"  r2-d2 ", "", "R2D2"},
		{"", "kim.lee@example.com", "KIML"},
		{"!!!", "", "USER"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, CodePrefix(tt.name, tt.email))
		})
	}
}
