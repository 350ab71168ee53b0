package refresher

// Code classifies a failed call.
type Code string

const (
	// CodeAuthRequired means there is no usable token. The user has to
	// connect the integration again.
	CodeAuthRequired Code = "AUTH_REQUIRED"

	// CodeRefreshFailed means the refresh grant failed for a reason other
	// than a dead refresh token. The stored token is untouched.
	CodeRefreshFailed Code = "REFRESH_FAILED"

	// CodeProviderError means the provider API call itself failed.
	CodeProviderError Code = "PROVIDER_ERROR"

	// CodeConfigError means client credentials or storage are not configured.
	CodeConfigError Code = "CONFIG_ERROR"
)

// Failure describes why a call did not succeed. Message is safe to show to
// the user.
type Failure struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return string(f.Code) + ": " + f.Err.Error()
	}
	return string(f.Code) + ": " + f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Result is the outcome of Call. Exactly one of Value (with OK) or Failure is
// meaningful.
type Result[T any] struct {
	OK      bool     `json:"ok"`
	Value   T        `json:"data,omitempty"`
	Failure *Failure `json:"error,omitempty"`
}

// Err returns the failure as an error, or nil.
func (r Result[T]) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

func success[T any](v T) Result[T] {
	return Result[T]{OK: true, Value: v}
}

func failed[T any](f *Failure) Result[T] {
	return Result[T]{Failure: f}
}
