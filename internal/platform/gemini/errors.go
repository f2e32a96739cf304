package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/phrazzld/synthgen/internal/generation"
)

// Error definitions for the gemini package.
var (
	// ErrEmptyPrompt is returned when there is nothing to send to the model.
	ErrEmptyPrompt = errors.New("prompt cannot be empty")
)

// classifyError maps a Gemini client error onto the generation error taxonomy.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}

	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return fmt.Errorf("%w: gemini status %d: %v", generation.ErrTransientFailure, code, err)
	case code != 0:
		return fmt.Errorf("gemini status %d: %w", code, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", generation.ErrTransientFailure, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		// Transport failures carry no status code and are usually network blips.
		return fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
	}
}
