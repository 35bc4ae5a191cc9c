// Package identity wraps the external identity provider that issues account
// ids and checks credentials.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	ErrDuplicateAccount  = errors.New("email already registered")
	ErrWeakSecret        = errors.New("password too weak")
	ErrInvalidCredential = errors.New("invalid email or password")
	ErrUnknownEmail      = errors.New("no account for this email")
	ErrInvalidEmail      = errors.New("invalid email address")
	ErrNetwork           = errors.New("identity provider unreachable")
	ErrInvalidToken      = errors.New("invalid id token")
)

// MinSecretLength mirrors the provider's password policy.
const MinSecretLength = 6

// Identity is the provider-side view of an account.
type Identity struct {
	UID         string
	Email       string
	DisplayName string
	// CreatedAt is zero when the provider does not report it.
	CreatedAt time.Time
}

// Session is what a successful sign-in hands back to the client.
type Session struct {
	UID          string
	IDToken      string
	RefreshToken string
	ExpiresIn    string
}

type Provider interface {
	CreateIdentity(ctx context.Context, email, secret, displayName string) (string, error)
	DeleteIdentity(ctx context.Context, uid string) error
	Authenticate(ctx context.Context, email, secret string) (*Session, error)
	IssuePasswordReset(ctx context.Context, email string) error
	VerifyToken(ctx context.Context, idToken string) (string, error)
	// Identities calls fn for every identity; returning an error stops the walk.
	Identities(ctx context.Context, fn func(Identity) error) error
}

var validate = validator.New()

// NormalizeEmail trims and lower-cases an address after checking its syntax.
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if err := validate.Var(email, "required,email"); err != nil {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(email), nil
}

func CheckSecret(secret string) error {
	if len(secret) < MinSecretLength {
		return ErrWeakSecret
	}
	return nil
}
