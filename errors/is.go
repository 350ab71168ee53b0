package errors

import (
	baseErrors "errors"
)

// Is detects whether the error is equal to a given error. Errors are
// considered equal by this function if they are matched by errors.Is or if
// their contained errors are matched through errors.Is. Marked copies of a
// sentinel therefore match the sentinel.
func Is(e error, original error) bool {
	if e == original {
		return true
	}
	if e == nil || original == nil {
		return false
	}

	if baseErrors.Is(e, original) {
		return true
	}

	if e, ok := e.(*Error); ok {
		return Is(e.Err, original)
	}

	if original, ok := original.(*Error); ok {
		return Is(e, original.Err)
	}

	return false
}

// As finds the first error in err's chain that matches target, and if one is
// found, sets target to that error value and returns true. Otherwise, it
// returns false.
//
// For more information see stdlib errors.As.
func As(err error, target interface{}) bool {
	return baseErrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err, if err's
// type contains an Unwrap method returning error. Otherwise, Unwrap returns
// nil.
//
// For more information see stdlib errors.Unwrap.
func Unwrap(err error) error {
	return baseErrors.Unwrap(err)
}

// Join returns an error that wraps the given errors.
//
// For more information see stdlib errors.Join.
func Join(errs ...error) error {
	return baseErrors.Join(errs...)
}
