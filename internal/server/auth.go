package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// DefaultTokenTTL is the lifetime of tokens issued by "treewagon token"
const DefaultTokenTTL = 24 * time.Hour

// DefaultIssuer is the JWT issuer when none is configured
const DefaultIssuer = "treewagon"

// MinSecretLength is the minimum length of the JWT signing secret
const MinSecretLength = 32

// bcrypt silently truncates longer input
const maxPasswordLength = 72

// 認證錯誤
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token has expired")
	ErrSecretTooShort     = fmt.Errorf("JWT secret must be at least %d characters", MinSecretLength)
	ErrPasswordTooLong    = fmt.Errorf("password must be at most %d characters", maxPasswordLength)
)

// Claims are the JWT claims of a repository token
type Claims struct {
	jwt.RegisteredClaims
}

type contextKey string

const userContextKey contextKey = "user"

func withUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the authenticated user name ("" when anonymous)
func UserFromContext(ctx context.Context) string {
	user, _ := ctx.Value(userContextKey).(string)
	return user
}

// HashPassword creates a bcrypt hash for the users section of the config
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	if len(password) > maxPasswordLength {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// IssueToken signs an HS256 token for user
func IssueToken(secret, issuer, user string, ttl time.Duration) (string, error) {
	if len(secret) < MinSecretLength {
		return "", ErrSecretTooShort
	}
	if user == "" {
		return "", errors.New("user is required")
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   user,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Authenticator checks Basic credentials against bcrypt hashes and Bearer
// tokens against the signing secret
type Authenticator struct {
	users  map[string]string
	secret []byte
	issuer string
}

// NewAuthenticator creates an Authenticator. users maps names to bcrypt
// hashes; an empty secret disables tokens.
func NewAuthenticator(users map[string]string, secret, issuer string) (*Authenticator, error) {
	if secret != "" && len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	copied := make(map[string]string, len(users))
	for name, hash := range users {
		copied[name] = hash
	}
	return &Authenticator{users: copied, secret: []byte(secret), issuer: issuer}, nil
}

// Enabled reports whether any credential source is configured
func (a *Authenticator) Enabled() bool {
	return len(a.users) > 0 || len(a.secret) > 0
}

// ValidateToken parses and verifies a token
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(a.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// checkPassword verifies Basic credentials
func (a *Authenticator) checkPassword(user, password string) error {
	hash, ok := a.users[user]
	if !ok {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Authenticate returns the user behind the request's Authorization header.
// It returns "" without error when the request carries no credentials.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	if token := extractBearerToken(r); token != "" {
		claims, err := a.ValidateToken(token)
		if err != nil {
			return "", err
		}
		return claims.Subject, nil
	}
	if user, password, ok := r.BasicAuth(); ok {
		if err := a.checkPassword(user, password); err != nil {
			return "", err
		}
		return user, nil
	}
	return "", nil
}

// extractBearerToken extracts the token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
