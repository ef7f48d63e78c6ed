package subscription

import "errors"

var (
	// ErrValidation marks a rejected hour/minute. No state was changed.
	ErrValidation = errors.New("invalid push time")
	// ErrNotSubscribed is returned when disabling a group that has no subscription.
	ErrNotSubscribed = errors.New("group not subscribed")
	// ErrStorage wraps persistence failures. The mutation was aborted.
	ErrStorage = errors.New("subscription storage failed")
)
