// Package identitytest provides an in-memory identity.Provider for tests.
package identitytest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shinyyama/remu-backend/internal/identity"
)

type user struct {
	ident  identity.Identity
	secret string
}

// Fake issues sequential uids ("uid-001", ...) and tokens of the form
// "token-<uid>".
type Fake struct {
	mu      sync.Mutex
	seq     int
	users   map[string]*user
	byEmail map[string]string
	resets  []string

	// CreateErr, when set, is returned by every CreateIdentity call.
	CreateErr error
	// DeleteErr, when set, is returned by every DeleteIdentity call.
	DeleteErr error
	// Now stamps CreatedAt on identities made by CreateIdentity.
	Now func() time.Time
}

func New() *Fake {
	return &Fake{users: make(map[string]*user), byEmail: make(map[string]string), Now: time.Now}
}

func (f *Fake) CreateIdentity(ctx context.Context, email, secret, displayName string) (string, error) {
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	email, err := identity.NormalizeEmail(email)
	if err != nil {
		return "", err
	}
	if err := identity.CheckSecret(secret); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byEmail[email]; ok {
		return "", identity.ErrDuplicateAccount
	}
	f.seq++
	uid := fmt.Sprintf("uid-%03d", f.seq)
	f.users[uid] = &user{
		ident:  identity.Identity{UID: uid, Email: email, DisplayName: strings.TrimSpace(displayName), CreatedAt: f.Now().UTC()},
		secret: secret,
	}
	f.byEmail[email] = uid
	return uid, nil
}

// Add registers an identity directly, bypassing validation.
func (f *Fake) Add(ident identity.Identity, secret string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[ident.UID] = &user{ident: ident, secret: secret}
	f.byEmail[strings.ToLower(ident.Email)] = ident.UID
}

func (f *Fake) DeleteIdentity(ctx context.Context, uid string) error {
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[uid]; ok {
		delete(f.byEmail, u.ident.Email)
		delete(f.users, uid)
	}
	return nil
}

func (f *Fake) Has(uid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.users[uid]
	return ok
}

func (f *Fake) Authenticate(ctx context.Context, email, secret string) (*identity.Session, error) {
	email, err := identity.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	uid, ok := f.byEmail[email]
	if !ok || f.users[uid].secret != secret {
		return nil, identity.ErrInvalidCredential
	}
	return &identity.Session{UID: uid, IDToken: Token(uid), RefreshToken: "refresh-" + uid, ExpiresIn: "3600"}, nil
}

func (f *Fake) IssuePasswordReset(ctx context.Context, email string) error {
	email, err := identity.NormalizeEmail(email)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byEmail[email]; !ok {
		return identity.ErrUnknownEmail
	}
	f.resets = append(f.resets, email)
	return nil
}

// Resets lists the addresses a reset mail was sent to.
func (f *Fake) Resets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.resets...)
}

func (f *Fake) VerifyToken(ctx context.Context, idToken string) (string, error) {
	uid, ok := strings.CutPrefix(idToken, "token-")
	if !ok {
		return "", identity.ErrInvalidToken
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[uid]; !ok {
		return "", identity.ErrInvalidToken
	}
	return uid, nil
}

func (f *Fake) Identities(ctx context.Context, fn func(identity.Identity) error) error {
	f.mu.Lock()
	list := make([]identity.Identity, 0, len(f.users))
	for _, u := range f.users {
		list = append(list, u.ident)
	}
	f.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].UID < list[j].UID })
	for _, ident := range list {
		if err := fn(ident); err != nil {
			return err
		}
	}
	return nil
}

func Token(uid string) string {
	return "token-" + uid
}
