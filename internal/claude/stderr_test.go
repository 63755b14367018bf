package claude

import (
	"testing"

	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
)

func TestClassifyStderr(t *testing.T) {
	cases := []struct {
		name string
		text string
		code string
	}{
		{"terms required", "ACTION REQUIRED: please review the updated Consumer Terms", apperrors.ErrCodeTermsRequired},
		{"terms mixed case", "Action Required before continuing: consumer terms have changed", apperrors.ErrCodeTermsRequired},
		{"explicit login command", "Please run `claude login` to continue", apperrors.ErrCodeLoginRequired},
		{"login plus tool name", "You must login to Claude first", apperrors.ErrCodeLoginRequired},
		{"not authenticated", "Error: not authenticated", apperrors.ErrCodeLoginRequired},
		{"authentication required", "authentication required to proceed", apperrors.ErrCodeLoginRequired},
		{"unrelated text", "warning: unknown flag --frobnicate", apperrors.ErrCodeCLIStderr},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, msg := ClassifyStderr(tc.text)
			if code != tc.code {
				t.Errorf("expected code %s, got %s", tc.code, code)
			}
			if msg == "" {
				t.Error("expected non-empty message")
			}
		})
	}
}

// Terms classification outranks login when both phrases appear
func TestClassifyStderrPrecedence(t *testing.T) {
	code, _ := ClassifyStderr("action required: accept the consumer terms, then run claude login")
	if code != apperrors.ErrCodeTermsRequired {
		t.Errorf("expected terms classification to win, got %s", code)
	}
}

// Unclassified text passes through verbatim
func TestClassifyStderrPassthrough(t *testing.T) {
	raw := "some diagnostic nobody recognizes"
	code, msg := ClassifyStderr(raw)
	if code != apperrors.ErrCodeCLIStderr {
		t.Errorf("expected CLI_STDERR, got %s", code)
	}
	if msg != raw {
		t.Errorf("expected raw text passthrough, got %q", msg)
	}
}
