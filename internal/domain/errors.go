package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrProviderFailure  = errors.New("provider failure")
	ErrAssetUnavailable = errors.New("asset unavailable")
	ErrTimedOut         = errors.New("polling timed out")
	ErrCancelled        = errors.New("polling cancelled")
)

// Error codes synthesised locally. None of them collides with a code the
// provider uses, so a timeout is never mistaken for a provider failure.
const (
	CodePollTimeout       = "poll_timeout"
	CodePollCancelled     = "poll_cancelled"
	CodeAssetUnavailable  = "asset_unavailable"
	CodeStatusCheckFailed = "status_check_failed"
)
