package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/errorutils"
	"google.golang.org/api/googleapi"
	identitytoolkit "google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// FirebaseProvider uses the Admin SDK for account management and the
// Identity Toolkit REST API (web API key) for password sign-in and reset mail,
// which the Admin SDK does not offer.
type FirebaseProvider struct {
	authClient *auth.Client
	toolkit    *identitytoolkit.Service
}

func NewFirebaseProvider(ctx context.Context, client *auth.Client, apiKey string) (*FirebaseProvider, error) {
	p := &FirebaseProvider{authClient: client}
	if apiKey != "" {
		svc, err := identitytoolkit.NewService(ctx, option.WithAPIKey(apiKey))
		if err != nil {
			return nil, fmt.Errorf("identitytoolkit: %w", err)
		}
		p.toolkit = svc
	}
	return p, nil
}

func (p *FirebaseProvider) CreateIdentity(ctx context.Context, email, secret, displayName string) (string, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return "", err
	}
	if err := CheckSecret(secret); err != nil {
		return "", err
	}
	params := (&auth.UserToCreate{}).Email(email).Password(secret)
	if displayName = strings.TrimSpace(displayName); displayName != "" {
		params = params.DisplayName(displayName)
	}
	u, err := p.authClient.CreateUser(ctx, params)
	if err != nil {
		return "", mapAdminErr(err)
	}
	return u.UID, nil
}

func (p *FirebaseProvider) DeleteIdentity(ctx context.Context, uid string) error {
	if err := p.authClient.DeleteUser(ctx, uid); err != nil {
		if auth.IsUserNotFound(err) {
			return nil
		}
		return mapAdminErr(err)
	}
	return nil
}

func (p *FirebaseProvider) Authenticate(ctx context.Context, email, secret string) (*Session, error) {
	if p.toolkit == nil {
		return nil, errors.New("FIREBASE_API_KEY is not set")
	}
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	resp, err := p.toolkit.Relyingparty.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             email,
		Password:          secret,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, mapToolkitErr(err)
	}
	return &Session{
		UID:          resp.LocalId,
		IDToken:      resp.IdToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    fmt.Sprint(resp.ExpiresIn),
	}, nil
}

func (p *FirebaseProvider) IssuePasswordReset(ctx context.Context, email string) error {
	if p.toolkit == nil {
		return errors.New("FIREBASE_API_KEY is not set")
	}
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	_, err = p.toolkit.Relyingparty.GetOobConfirmationCode(&identitytoolkit.Relyingparty{
		Email:       email,
		RequestType: "PASSWORD_RESET",
	}).Context(ctx).Do()
	if err != nil {
		return mapToolkitErr(err)
	}
	return nil
}

func (p *FirebaseProvider) VerifyToken(ctx context.Context, idToken string) (string, error) {
	token, err := p.authClient.VerifyIDToken(ctx, idToken)
	if err != nil {
		if isNetworkErr(err) {
			return "", ErrNetwork
		}
		return "", ErrInvalidToken
	}
	return token.UID, nil
}

func (p *FirebaseProvider) Identities(ctx context.Context, fn func(Identity) error) error {
	it := p.authClient.Users(ctx, "")
	for {
		u, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return mapAdminErr(err)
		}
		ident := Identity{UID: u.UID, Email: u.Email, DisplayName: u.DisplayName}
		if u.UserMetadata != nil && u.UserMetadata.CreationTimestamp > 0 {
			ident.CreatedAt = time.UnixMilli(u.UserMetadata.CreationTimestamp).UTC()
		}
		if err := fn(ident); err != nil {
			return err
		}
	}
}

func mapAdminErr(err error) error {
	switch {
	case auth.IsEmailAlreadyExists(err):
		return ErrDuplicateAccount
	case auth.IsUserNotFound(err):
		return ErrUnknownEmail
	case isNetworkErr(err):
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return err
}

// mapToolkitErr translates the REST error codes, e.g. "EMAIL_NOT_FOUND" or
// "WEAK_PASSWORD : Password should be at least 6 characters".
func mapToolkitErr(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		msg := gerr.Message
		switch {
		case strings.HasPrefix(msg, "EMAIL_NOT_FOUND"):
			return ErrUnknownEmail
		case strings.HasPrefix(msg, "INVALID_PASSWORD"),
			strings.HasPrefix(msg, "INVALID_LOGIN_CREDENTIALS"),
			strings.HasPrefix(msg, "USER_DISABLED"):
			return ErrInvalidCredential
		case strings.HasPrefix(msg, "INVALID_EMAIL"):
			return ErrInvalidEmail
		case strings.HasPrefix(msg, "EMAIL_EXISTS"):
			return ErrDuplicateAccount
		case strings.HasPrefix(msg, "WEAK_PASSWORD"):
			return ErrWeakSecret
		}
		if gerr.Code >= 500 {
			return fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		return err
	}
	if isNetworkErr(err) {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return err
}

func isNetworkErr(err error) bool {
	if errorutils.IsUnavailable(err) || errorutils.IsDeadlineExceeded(err) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}
