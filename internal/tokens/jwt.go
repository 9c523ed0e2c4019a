package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2"
)

const Issuer = "arcs-server"

// DefaultExpiry matches a full day of device uptime between re-auths.
const DefaultExpiry = 24 * time.Hour

// Validated-payload cache size. Controllers re-present the same token on
// every reconnect, so signature verification is worth memoizing.
const validationCacheSize = 1024

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrTokenRevoked = errors.New("token revoked")
)

// Claims is the signed payload tying a token to a device and session.
type Claims struct {
	DeviceID    string   `json:"device_id"`
	SessionID   string   `json:"session_id"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// Manager issues and validates HS256 bearer tokens. Both sides happen
// in-process, so a symmetric key is sufficient; the revocation list
// covers explicit logout without needing short-lived tokens.
type Manager struct {
	signingKey []byte
	expiry     time.Duration
	revoked    RevocationList
	cache      *lru.Cache[string, *Claims]
}

func NewManager(signingKey string) *Manager {
	return NewManagerWithOptions(signingKey, DefaultExpiry, NewMemoryRevocationList())
}

func NewManagerWithOptions(signingKey string, expiry time.Duration, revoked RevocationList) *Manager {
	cache, _ := lru.New[string, *Claims](validationCacheSize)
	return &Manager{
		signingKey: []byte(signingKey),
		expiry:     expiry,
		revoked:    revoked,
		cache:      cache,
	}
}

// Expiry returns the configured token lifetime.
func (m *Manager) Expiry() time.Duration {
	return m.expiry
}

// Generate issues a token bound to (deviceID, sessionID).
func (m *Manager) Generate(deviceID, sessionID string, permissions []string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		DeviceID:    deviceID,
		SessionID:   sessionID,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.signingKey)
}

// Validate returns the claims iff the signature verifies, the issuer
// matches, the token has not expired, and it has not been revoked.
func (m *Manager) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	// Fail closed if the revocation backend is unreachable.
	revoked, err := m.revoked.IsRevoked(ctx, tokenString)
	if err != nil || revoked {
		return nil, ErrTokenRevoked
	}

	if claims, ok := m.cache.Get(tokenString); ok {
		if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
			return nil, ErrTokenExpired
		}
		return claims, nil
	}

	claims, err := m.parse(tokenString)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	m.cache.Add(tokenString, claims)
	return claims, nil
}

// Revoke blocks a token for its remaining lifetime.
func (m *Manager) Revoke(ctx context.Context, tokenString string) error {
	ttl := m.expiry
	if claims, err := m.parse(tokenString); err == nil && claims.ExpiresAt != nil {
		if remaining := time.Until(claims.ExpiresAt.Time); remaining > 0 {
			ttl = remaining
		}
	}
	m.cache.Remove(tokenString)
	return m.revoked.Revoke(ctx, tokenString, ttl)
}

// IsExpired checks the exp claim only; the signature is not verified.
func (m *Manager) IsExpired(tokenString string) bool {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return true
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.ExpiresAt == nil {
		return true
	}
	return time.Now().After(claims.ExpiresAt.Time)
}

func (m *Manager) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.signingKey, nil
	}, jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
