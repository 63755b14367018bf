package claude

import (
	"strings"

	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
)

// ClassifyStderr maps raw CLI stderr text to an error code and a
// user-facing message. Matching is case-insensitive substring, checked
// in precedence order: terms acceptance first, then login, then the
// raw text passes through as a generic stderr error.
func ClassifyStderr(text string) (code, message string) {
	lower := strings.ToLower(text)

	if strings.Contains(lower, "action required") && strings.Contains(lower, "consumer terms") {
		return apperrors.ErrCodeTermsRequired,
			"Claude requires accepting updated consumer terms. Run 'claude' in a terminal to accept them."
	}

	if strings.Contains(lower, "claude login") ||
		(strings.Contains(lower, "login") && strings.Contains(lower, "claude")) {
		return apperrors.ErrCodeLoginRequired,
			"Claude CLI is not authenticated. Run 'claude login' in a terminal."
	}

	if strings.Contains(lower, "not authenticated") || strings.Contains(lower, "authentication required") {
		return apperrors.ErrCodeLoginRequired,
			"Claude CLI is not authenticated. Run 'claude login' in a terminal."
	}

	return apperrors.ErrCodeCLIStderr, text
}
