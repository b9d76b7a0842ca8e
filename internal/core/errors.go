package core

import "errors"

// Sentinel error kinds callers branch on with errors.Is. Providers wrap
// these with %w so the original upstream error stays inspectable.
var (
	// ErrThrottled means a local per-minute budget was exhausted. Retrying
	// immediately cannot help; callers surface it to the user.
	ErrThrottled = errors.New("rate budget exhausted")

	// ErrQuota means the upstream model provider rejected the call for
	// quota/billing reasons (HTTP 429). Never retried with backoff; the
	// generator falls through to the next model on the ladder instead.
	ErrQuota = errors.New("provider quota exhausted")
)

func IsThrottled(err error) bool { return errors.Is(err, ErrThrottled) }

func IsQuota(err error) bool { return errors.Is(err, ErrQuota) }
