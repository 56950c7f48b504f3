// Package convert normalizes incoming wire-format requests (OpenAI chat
// completions, Anthropic messages) into the internal UnifiedRequest.
// Conversion is total on well-typed input: fields a target cannot represent
// become warnings, never errors. Only structural problems (no messages,
// out-of-range sampling parameters) reject the request.
package convert

import (
	"fmt"

	plexus "github.com/plexushq/plexus/internal"
)

// validate applies the structural checks shared by both converters.
func validate(req *plexus.UnifiedRequest) error {
	if len(req.Messages) == 0 {
		return fmt.Errorf("%w: At least one message is required", plexus.ErrInvalidRequest)
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return fmt.Errorf("%w: temperature must be between 0 and 2", plexus.ErrInvalidRequest)
	}
	if req.TopP != nil && (*req.TopP < 0 || *req.TopP > 1) {
		return fmt.Errorf("%w: top_p must be between 0 and 1", plexus.ErrInvalidRequest)
	}
	if req.MaxOutputTokens != nil && *req.MaxOutputTokens < 1 {
		return fmt.Errorf("%w: max tokens must be positive", plexus.ErrInvalidRequest)
	}
	return nil
}

func warnf(req *plexus.UnifiedRequest, format string, args ...any) {
	req.Warnings = append(req.Warnings, fmt.Sprintf(format, args...))
}
