package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer            = "sitewatch"
	secretEnvVariable = "SITEWATCH_AUTH_SECRET"
)

// Roles understood by the API layer. The surrounding application resolves
// identity; this core only trusts and transports it.
const (
	RoleWorker  = "worker"
	RoleManager = "manager"
)

var (
	errMissingSecret = errors.New("auth secret is not configured")

	secretMu sync.Mutex
	secret   cachedSecret
)

type cachedSecret struct {
	value []byte
	err   error
	ready bool
}

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("invalid token")

// ErrForbidden indicates the principal lacks the required role.
var ErrForbidden = errors.New("forbidden")

// Claims are the JWT claims used across the service. Subject is the user id;
// Project scopes every subscription and publish.
type Claims struct {
	ProjectID string `json:"project"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller attached to request contexts.
type Principal struct {
	UserID    string
	ProjectID string
	Role      string
}

// IsManager reports whether the principal may review reports and publish
// administrative events.
func (p Principal) IsManager() bool { return p.Role == RoleManager }

// GenerateToken signs a JWT for the given identity using HS256.
func GenerateToken(userID, projectID, role string, ttl time.Duration) (string, error) {
	userID = strings.TrimSpace(userID)
	projectID = strings.TrimSpace(projectID)
	if userID == "" {
		return "", errors.New("userID is required")
	}
	if projectID == "" {
		return "", errors.New("projectID is required")
	}
	if role != RoleWorker && role != RoleManager {
		return "", fmt.Errorf("unknown role %q", role)
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims := Claims{
		ProjectID: projectID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secretBytes)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseAndValidate verifies the token signature and required claims.
func ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return nil, err
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return secretBytes, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authenticate converts a raw bearer token into a Principal.
func Authenticate(token string) (Principal, error) {
	claims, err := ParseAndValidate(token)
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		UserID:    claims.Subject,
		ProjectID: claims.ProjectID,
		Role:      claims.Role,
	}, nil
}

func validateClaims(claims *Claims) error {
	if claims.Issuer != issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if strings.TrimSpace(claims.ProjectID) == "" {
		return errors.New("project missing")
	}
	if claims.Role != RoleWorker && claims.Role != RoleManager {
		return fmt.Errorf("unknown role %q", claims.Role)
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := time.Now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	return nil
}

func loadSecret() ([]byte, error) {
	secretMu.Lock()
	defer secretMu.Unlock()
	if secret.ready {
		return secret.value, secret.err
	}
	raw := strings.TrimSpace(os.Getenv(secretEnvVariable))
	if raw == "" {
		secret = cachedSecret{err: errMissingSecret, ready: true}
		return nil, errMissingSecret
	}
	secret = cachedSecret{value: []byte(raw), ready: true}
	return secret.value, nil
}

// SupportsTokens reports whether a signing secret is configured. Without one
// the API runs open, which is only acceptable for local development.
func SupportsTokens() bool {
	_, err := loadSecret()
	return err == nil
}

// ResetSecretForTests clears the cached secret so tests can swap it via
// t.Setenv.
func ResetSecretForTests() {
	secretMu.Lock()
	defer secretMu.Unlock()
	secret = cachedSecret{}
}
