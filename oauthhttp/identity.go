package oauthhttp

import (
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rush86999/atomagent/errors"
	"google.golang.org/grpc/codes"
)

// IdentityCookieName carries the identity token for browser navigations,
// where an Authorization header cannot be set.
const IdentityCookieName = "atom-id"

// Leeway for JWT expiration checks.
const jwtLeeway = 5 * time.Second

var (
	// ErrNoIdentity is returned when the request carries no identity token.
	ErrNoIdentity = errors.NewC("oauthhttp: no identity on request", codes.Unauthenticated).
			WithPublicMessage("Please sign in.")

	// ErrInvalidIdentity is returned for a malformed, expired or badly
	// signed identity token.
	ErrInvalidIdentity = errors.NewC("oauthhttp: invalid identity token", codes.Unauthenticated).
				WithPublicMessage("Your session has expired, please sign in again.")
)

// IdentityClaims are issued by the application's session service. Only the
// subject is used: it is the user id tokens are stored under.
type IdentityClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// IdentityToken signs an HS256 identity token for userID.
func IdentityToken(secret []byte, userID string, now time.Time, ttl time.Duration) (string, error) {
	claims := &IdentityClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	ss, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", errors.Wrap(err, 0).WithCode(codes.Internal)
	}
	return ss, nil
}

// ParseIdentityToken validates token and returns the user id it was issued
// for.
func ParseIdentityToken(secret []byte, token string, now func() time.Time) (string, error) {
	claims := &IdentityClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(jwtLeeway),
		jwt.WithTimeFunc(now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", errors.Mark(ErrInvalidIdentity, 0).Append(err.Error())
	}
	if claims.Subject == "" {
		return "", errors.Mark(ErrInvalidIdentity, 0).Append("missing subject")
	}
	return claims.Subject, nil
}

// userFromRequest reads the identity token from the Authorization header,
// falling back to the identity cookie.
func userFromRequest(r *http.Request, secret []byte, now func() time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.Mark(ErrInvalidIdentity, 0).Append("identity secret not configured")
	}
	if h := r.Header.Get("Authorization"); h != "" {
		return ParseIdentityToken(secret, bearerToken(h), now)
	}
	if c, err := r.Cookie(IdentityCookieName); err == nil && c.Value != "" {
		return ParseIdentityToken(secret, c.Value, now)
	}
	return "", errors.Mark(ErrNoIdentity, 0)
}

func bearerToken(header string) string {
	scheme, value, ok := strings.Cut(header, " ")
	if !ok {
		// Tokens may be sent without a scheme.
		return header
	}
	if strings.EqualFold(scheme, "basic") {
		// curl style: the token is the username and the password is empty.
		payload, _ := base64.StdEncoding.DecodeString(value)
		user, pass, _ := strings.Cut(string(payload), ":")
		if pass != "" {
			return ""
		}
		return user
	}
	return value
}
