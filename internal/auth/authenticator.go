package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"slices"
	"time"

	"github.com/goevery/notifier/internal/ierr"
	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	jwt.RegisteredClaims
	Scope []string `json:"scope,omitempty"`
}

type Authentication struct {
	Subject string
	Scope   []string
}

func (a *Authentication) IsPublisher() bool {
	return slices.Contains(a.Scope, "publish")
}

type contextKey string

const authenticationKey contextKey = "authentication"

func WithAuthentication(ctx context.Context, auth *Authentication) context.Context {
	return context.WithValue(ctx, authenticationKey, auth)
}

func AuthenticationFromContext(ctx context.Context) (*Authentication, bool) {
	auth, ok := ctx.Value(authenticationKey).(*Authentication)
	return auth, ok
}

// Authenticator checks callers of the webhook endpoint. With neither a JWT
// secret nor API keys configured it is disabled and every caller passes.
type Authenticator struct {
	secret    []byte
	apiKeys   []string
	jwtParser *jwt.Parser
}

func NewAuthenticator(secret string, apiKeys []string) *Authenticator {
	jwtParser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithAudience("notifier"),
	)

	keys := slices.DeleteFunc(slices.Clone(apiKeys), func(key string) bool {
		return key == ""
	})

	return &Authenticator{
		secret:    []byte(secret),
		apiKeys:   keys,
		jwtParser: jwtParser,
	}
}

func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0 || len(a.apiKeys) > 0
}

// Authenticate accepts either a configured API key or a signed JWT.
func (a *Authenticator) Authenticate(token string) (*Authentication, error) {
	if token == "" {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("missing credentials"))
	}

	auth, err := a.AuthenticateAPIKey(token)
	if err == nil {
		return auth, nil
	}

	if len(a.secret) == 0 {
		return nil, err
	}

	return a.AuthenticateJWT(token)
}

func (a *Authenticator) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("unexpected signing method"))
	}
	return a.secret, nil
}

func (a *Authenticator) AuthenticateJWT(tokenString string) (*Authentication, error) {
	claims := Claims{}

	_, err := a.jwtParser.ParseWithClaims(tokenString, &claims, a.keyFunc)
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, err)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid subject claim"))
	}

	return &Authentication{
		Subject: subject,
		Scope:   claims.Scope,
	}, nil
}

func (a *Authenticator) AuthenticateAPIKey(apiKey string) (*Authentication, error) {
	for _, key := range a.apiKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			return &Authentication{
				Subject: "api",
				Scope:   []string{"publish"},
			}, nil
		}
	}

	return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("invalid api key"))
}
