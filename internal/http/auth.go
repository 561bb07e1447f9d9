package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/H51976/roombox-fyp/internal/domain"

	"github.com/golang-jwt/jwt/v4"
)

// ErrUnauthenticated no usable credentials on the request
var ErrUnauthenticated = errors.New("authentication required")

// AccessClaims access token issued by the account service (HS256)
type AccessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator resolves the caller of a request. Tokens are only verified here, never issued.
type Authenticator struct {
	secret       []byte
	trustHeaders bool
}

func NewAuthenticator(secret string, trustHeaders bool) *Authenticator {
	return &Authenticator{secret: []byte(secret), trustHeaders: trustHeaders}
}

// Principal reads "Authorization: Bearer <jwt>"; with trustHeaders it falls back to
// X-User-Id / X-User-Role set by a gateway in front of the API.
func (a *Authenticator) Principal(r *http.Request) (domain.Principal, error) {
	if authz := r.Header.Get("Authorization"); authz != "" {
		raw, ok := strings.CutPrefix(authz, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			return domain.Principal{}, ErrUnauthenticated
		}
		return a.parseToken(strings.TrimSpace(raw))
	}
	if a.trustHeaders {
		userID := r.Header.Get("X-User-Id")
		role := r.Header.Get("X-User-Role")
		if userID == "" || role == "" {
			return domain.Principal{}, ErrUnauthenticated
		}
		p, err := domain.NewPrincipal(userID, role)
		if err != nil {
			return domain.Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
		return p, nil
	}
	return domain.Principal{}, ErrUnauthenticated
}

func (a *Authenticator) parseToken(raw string) (domain.Principal, error) {
	if len(a.secret) == 0 {
		return domain.Principal{}, fmt.Errorf("%w: token verification is not configured", ErrUnauthenticated)
	}
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	p, err := domain.NewPrincipal(claims.Subject, claims.Role)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return p, nil
}
