package generation

import "context"

// Options tune a single Generate call. Zero values mean provider defaults.
type Options struct {
	Model       string
	Temperature float64
}

// Provider is a text-generation capability.
//
// Generate returns an error wrapping ErrTransientFailure when the call may
// succeed on retry (rate limits, timeouts, unavailable upstream). Any other
// error is treated as permanent for the prompt.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}
