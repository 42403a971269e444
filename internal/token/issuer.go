package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"identity-service/internal/model"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// Claims are carried by both token kinds; Type tells them apart.
type Claims struct {
	jwt.RegisteredClaims
	Type       string `json:"typ"`
	Role       string `json:"role,omitempty"`
	EmployerID int64  `json:"employer_id,omitempty"`
	BranchID   int64  `json:"branch_id,omitempty"`
}

// Issuer signs HS256 access and refresh tokens for employers.
type Issuer struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewIssuer(secret, issuer, audience string, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{
		secret:     []byte(secret),
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// IssuePair returns a fresh access and refresh token for emp.
func (i *Issuer) IssuePair(emp *model.Employer) (access, refresh string, err error) {
	if emp == nil || emp.Email == "" {
		return "", "", errors.New("token: employer email required")
	}
	access, err = i.sign(emp, typeAccess, i.accessTTL)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign access token: %w", err)
	}
	refresh, err = i.sign(emp, typeRefresh, i.refreshTTL)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return access, refresh, nil
}

func (i *Issuer) sign(emp *model.Employer, typ string, ttl time.Duration) (string, error) {
	now := i.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   emp.Email,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type: typ,
	}
	if typ == typeAccess {
		claims.Role = emp.Role.String()
		claims.EmployerID = emp.EmployerID
		claims.BranchID = emp.BranchID
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// VerifySubject validates an access token and returns the employer email it
// was issued to.
func (i *Issuer) VerifySubject(tokenString string) (string, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !tok.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Type != typeAccess || claims.Subject == "" {
		return "", fmt.Errorf("%w: not an access token", ErrInvalidToken)
	}
	return claims.Subject, nil
}
