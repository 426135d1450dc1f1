package bot

import "errors"

// Handler results. Each has already been reported to the chat when it is
// returned; callers only log them.
var (
	ErrInvalidInput     = errors.New("empty query or username")
	ErrNoResults        = errors.New("no results")
	ErrSessionExpired   = errors.New("session expired")
	ErrInvalidIndex     = errors.New("track index out of range")
	ErrMalformedPayload = errors.New("malformed callback payload")
	ErrListingFailed    = errors.New("listing failed")
	ErrUnexpected       = errors.New("unexpected failure")
)

// IsUserError reports whether err is an expected, user-caused outcome that
// does not need more than debug logging.
func IsUserError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNoResults) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrInvalidIndex)
}
