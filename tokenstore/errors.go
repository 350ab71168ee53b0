package tokenstore

import (
	"github.com/rush86999/atomagent/errors"
	"google.golang.org/grpc/codes"
)

var (
	// ErrConfig is returned before any network call when the backend or the
	// cipher is not configured.
	ErrConfig = errors.NewC("tokenstore: configuration missing or invalid", codes.FailedPrecondition)

	// ErrEncryption is returned by Save when a token could not be encrypted.
	// Nothing is written.
	ErrEncryption = errors.NewC("tokenstore: encryption failed", codes.Internal)

	// ErrBackend is returned when the backend reported application errors or
	// answered with an unexpected shape.
	ErrBackend = errors.NewC("tokenstore: backend error", codes.Internal)

	// ErrNetwork wraps transport failures reaching the backend.
	ErrNetwork = errors.NewC("tokenstore: network error", codes.Unavailable)

	// ErrAuthRequired means there is no usable token and the user has to
	// connect the integration again.
	ErrAuthRequired = errors.NewC("tokenstore: authentication required", codes.Unauthenticated).
			WithPublicMessage("Please reconnect your account.")

	// ErrInvalidTokenSet is returned by Save for incomplete input.
	ErrInvalidTokenSet = errors.NewC("tokenstore: invalid token set", codes.InvalidArgument)
)

// classify keeps errors that already carry a store kind and reports anything
// else as a backend error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrConfig, ErrBackend, ErrNetwork} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return errors.Mark(ErrBackend, 1).Append(err.Error())
}
