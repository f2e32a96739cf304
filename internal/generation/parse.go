package generation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SampleDraft is one instruction/response pair proposed by a provider.
type SampleDraft struct {
	Instruction string `json:"instruction"`
	Response    string `json:"response"`
}

// responseSchema represents the expected structure of a provider response
type responseSchema struct {
	Samples []SampleDraft `json:"samples"`
}

// ParseSamples decodes a provider response. Markdown code fences around the
// JSON are tolerated. Every error matches ErrInvalidResponse.
func ParseSamples(text string) ([]SampleDraft, error) {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}

	var resp responseSchema
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	if len(resp.Samples) == 0 {
		return nil, fmt.Errorf("%w: no samples in response", ErrInvalidResponse)
	}

	for i, s := range resp.Samples {
		if strings.TrimSpace(s.Instruction) == "" {
			return nil, fmt.Errorf("%w: sample %d missing instruction", ErrInvalidResponse, i)
		}
		if strings.TrimSpace(s.Response) == "" {
			return nil, fmt.Errorf("%w: sample %d missing response", ErrInvalidResponse, i)
		}
	}

	return resp.Samples, nil
}
