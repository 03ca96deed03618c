package jobs

import "errors"

// nonRetryableError marks a failure retrying cannot fix (malformed payload,
// rejected request). The harness dead-letters these immediately instead of
// burning the remaining attempts.
type nonRetryableError struct {
	err error
}

func (e nonRetryableError) Error() string { return e.err.Error() }
func (e nonRetryableError) Unwrap() error { return e.err }

// NonRetryable wraps err so the worker harness dead-letters the job without
// further attempts.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return nonRetryableError{err: err}
}

// IsNonRetryable reports whether err (anywhere in its chain) was marked
// non-retryable.
func IsNonRetryable(err error) bool {
	var target nonRetryableError
	return errors.As(err, &target)
}
