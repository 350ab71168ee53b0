package oauthhttp

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rush86999/atomagent/errors"
	"google.golang.org/grpc/codes"
)

// DefaultStateTTL bounds the time between initiate and callback.
const DefaultStateTTL = 10 * time.Minute

// ErrInvalidState is returned for a state parameter that was not issued by
// this server for the integration and user, or that has expired.
var ErrInvalidState = errors.NewC("oauthhttp: invalid oauth state", codes.InvalidArgument)

// ErrNoStateSecret is returned when state cannot be signed because
// app.stateSecret is not set.
var ErrNoStateSecret = errors.NewC("oauthhttp: state secret not configured", codes.FailedPrecondition).
	WithPublicMessage("This integration is not available right now.")

// stateClaims bind an authorization request to a user and integration.
type stateClaims struct {
	jwt.RegisteredClaims
	Integration string `json:"int"`
}

func newState(secret []byte, userID, integration string, now time.Time, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.Mark(ErrNoStateSecret, 0)
	}
	claims := &stateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Integration: integration,
	}
	ss, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", errors.Wrap(err, 0).WithCode(codes.Internal)
	}
	return ss, nil
}

// parseState verifies s and returns the user id it was issued to.
func parseState(secret []byte, s, integration string, now func() time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.Mark(ErrInvalidState, 0).Append("state secret not configured")
	}
	if s == "" {
		return "", errors.Mark(ErrInvalidState, 0).Append("state is empty")
	}
	claims := &stateClaims{}
	_, err := jwt.ParseWithClaims(s, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(jwtLeeway),
		jwt.WithTimeFunc(now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", errors.Mark(ErrInvalidState, 0).Append(err.Error())
	}
	if claims.Integration != integration {
		return "", errors.Mark(ErrInvalidState, 0).Append("issued for " + claims.Integration)
	}
	return claims.Subject, nil
}
