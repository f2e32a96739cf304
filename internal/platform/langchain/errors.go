package langchain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/phrazzld/synthgen/internal/generation"
)

// langchaingo surfaces backend failures as formatted strings, so transient
// conditions are recognized by their message.
var transientMarkers = []string{
	"429",
	"rate limit",
	"too many requests",
	"overloaded",
	"500",
	"502",
	"503",
	"504",
	"timeout",
	"connection refused",
	"connection reset",
	"eof",
}

var blockedMarkers = []string{
	"content_filter",
	"content management policy",
	"safety",
}

// classifyError maps a langchaingo error onto the generation error taxonomy.
func classifyError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", generation.ErrTransientFailure, provider, err)
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range blockedMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %s: %v", generation.ErrContentBlocked, provider, err)
		}
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %s: %v", generation.ErrTransientFailure, provider, err)
		}
	}
	return fmt.Errorf("%s: %w", provider, err)
}
