// internal/app/auth.go
package app

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/allotter/internal/apperrors"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
)

// Claims are issued by the portal's auth service; the subject is the
// student's roll number (or the admin's login).
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

type Principal struct {
	Subject string
	Role    Role
}

type Auth struct {
	enabled      bool
	secret       []byte
	issuer       string
	tokenHeader  string
	rollNoHeader string
	roleHeader   string
}

func NewAuth(config *Config) *Auth {
	return &Auth{
		enabled:      config.Server.EnableAuth,
		secret:       []byte(config.Auth.JWTSecret),
		issuer:       config.Auth.Issuer,
		tokenHeader:  config.Auth.TokenHeader,
		rollNoHeader: config.Auth.RollNoHeader,
		roleHeader:   config.Auth.RoleHeader,
	}
}

// Authenticate identifies the caller. With auth disabled the identity
// headers are trusted as-is, which is only meant for local setups.
func (a *Auth) Authenticate(r *http.Request) (*Principal, error) {
	if !a.enabled {
		subject := r.Header.Get(a.rollNoHeader)
		role := Role(r.Header.Get(a.roleHeader))
		if subject == "" || role == "" {
			return nil, fmt.Errorf("%w: missing %s or %s header", apperrors.ErrUnauthorized, a.rollNoHeader, a.roleHeader)
		}
		return &Principal{Subject: subject, Role: role}, nil
	}

	authHeader := r.Header.Get(a.tokenHeader)
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, fmt.Errorf("%w: invalid authorization header format", apperrors.ErrUnauthorized)
	}
	return a.ParseToken(strings.TrimPrefix(authHeader, "Bearer "))
}

// Require authenticates the caller and checks the role.
func (a *Auth) Require(r *http.Request, role Role) (*Principal, error) {
	p, err := a.Authenticate(r)
	if err != nil {
		return nil, err
	}
	if p.Role != role {
		logger.Debug.Printf("Caller %s with role %q tried %s %s", p.Subject, p.Role, r.Method, r.URL.Path)
		return nil, fmt.Errorf("%w: %s role required", apperrors.ErrForbidden, role)
	}
	return p, nil
}

func (a *Auth) ParseToken(token string) (*Principal, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", apperrors.ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: invalid token", apperrors.ErrUnauthorized)
	}

	return &Principal{Subject: claims.Subject, Role: claims.Role}, nil
}

// IssueToken signs a token the same way the portal's auth service does.
func (a *Auth) IssueToken(subject string, role Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
