package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenMissing = errors.New("token is missing")
)

// RoleAuditAdmin gates archival and verification endpoints when auth is
// enabled.
const RoleAuditAdmin = "audit:admin"

// Claims carries the authenticated actor identity every audit operation
// is scoped by. A token without an organization is useless for tenancy
// and is rejected outright.
type Claims struct {
	ActorID        string   `json:"actor_id"`
	OrganizationID string   `json:"org_id"`
	Roles          []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry a role
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type JWTService struct {
	secretKey   []byte
	tokenExpiry time.Duration
	issuer      string
}

func NewJWTService(secretKey string, tokenExpiry time.Duration, issuer string) *JWTService {
	return &JWTService{
		secretKey:   []byte(secretKey),
		tokenExpiry: tokenExpiry,
		issuer:      issuer,
	}
}

// GenerateToken signs a token for an actor. The service issues no
// sessions of its own; this backs service tokens and tests.
func (j *JWTService) GenerateToken(actorID, orgID string, roles []string) (string, error) {
	claims := Claims{
		ActorID:        actorID,
		OrganizationID: orgID,
		Roles:          roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(j.tokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    j.issuer,
			Subject:   actorID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secretKey)
}

func (j *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrTokenMissing
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return j.secretKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.OrganizationID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
