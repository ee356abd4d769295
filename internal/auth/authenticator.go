package auth

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrUserNotFound    = errors.New("authenticator: user not found")
	ErrAccountInactive = errors.New("authenticator: user account is not active")
	ErrTenantInactive  = errors.New("authenticator: organization is not active")
	errMissingResolver = errors.New("authenticator: identity resolver required")
	errMissingTokens   = errors.New("authenticator: token validator required")
)

// Identity is the verified principal attached to a connection.
type Identity struct {
	UserID    string
	TenantID  string
	Role      string
	Email     string
	FirstName string
	LastName  string
	AvatarURL string
}

// DisplayName joins first and last name, falling back to the email address.
func (i Identity) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(i.FirstName) + " " + strings.TrimSpace(i.LastName))
	if name == "" {
		return i.Email
	}
	return name
}

// IdentityResolver looks up a user and reports the active status of the user and its tenant.
// Implementations return ErrUserNotFound, ErrAccountInactive or ErrTenantInactive.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, userID string) (Identity, error)
}

// TokenValidator verifies an access token.
type TokenValidator interface {
	ValidateToken(token string) (AccessClaims, error)
}

// Authenticator gates connection establishment.
type Authenticator struct {
	tokens   TokenValidator
	resolver IdentityResolver
}

// NewAuthenticator wires a token validator to an identity resolver.
func NewAuthenticator(tokens TokenValidator, resolver IdentityResolver) (*Authenticator, error) {
	if tokens == nil {
		return nil, errMissingTokens
	}
	if resolver == nil {
		return nil, errMissingResolver
	}
	return &Authenticator{tokens: tokens, resolver: resolver}, nil
}

// Authenticate verifies the raw bearer token and resolves the active identity behind it.
func (a *Authenticator) Authenticate(ctx context.Context, rawToken string) (Identity, error) {
	claims, err := a.tokens.ValidateToken(rawToken)
	if err != nil {
		return Identity{}, err
	}
	identity, err := a.resolver.ResolveIdentity(ctx, claims.UserID)
	if err != nil {
		return Identity{}, err
	}
	if identity.Email == "" {
		identity.Email = claims.Email
	}
	return identity, nil
}

// FailureCode maps an authentication error onto the stable code reported to clients.
func FailureCode(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "missing_token"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrMissingSessionSubject):
		return "invalid_token"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrAccountInactive):
		return "account_inactive"
	case errors.Is(err, ErrTenantInactive):
		return "tenant_inactive"
	default:
		return "authentication_failed"
	}
}
