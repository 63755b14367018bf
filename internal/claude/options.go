package claude

import (
	"strconv"
	"strings"
)

// Permission modes accepted by the CLI
const (
	PermissionDefault     = "default"
	PermissionAcceptEdits = "acceptEdits"
	PermissionPlan        = "plan"
	PermissionBypass      = "bypassPermissions"
)

// Options describes one CLI launch. Built fresh per request from agent
// and project configuration and never mutated afterwards.
type Options struct {
	WorkDir            string
	ResumeSessionID    string
	ContinueRecent     bool
	PermissionMode     string
	Model              string
	AppendSystemPrompt string
	AllowedTools       []string
	DisallowedTools    []string
	AddDirs            []string
	MaxTurns           int
	SkipPermissions    bool
}

// BuildArgs produces the CLI argument list for a prompt. Streaming
// output requires --verbose or the CLI refuses to run. Continue and
// resume are mutually exclusive; continue wins when both are set.
func (o *Options) BuildArgs(prompt string) []string {
	args := []string{"-p", prompt, "--output-format", "stream-json", "--verbose"}

	if o.ContinueRecent {
		args = append(args, "--continue")
	} else if o.ResumeSessionID != "" {
		args = append(args, "--resume", o.ResumeSessionID)
	}

	if len(o.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(o.AllowedTools, ","))
	}
	if len(o.DisallowedTools) > 0 {
		args = append(args, "--disallowedTools", strings.Join(o.DisallowedTools, ","))
	}
	if o.PermissionMode != "" {
		args = append(args, "--permission-mode", o.PermissionMode)
	}
	if o.Model != "" {
		args = append(args, "--model", o.Model)
	}
	for _, dir := range o.AddDirs {
		args = append(args, "--add-dir", dir)
	}
	if o.AppendSystemPrompt != "" {
		args = append(args, "--append-system-prompt", o.AppendSystemPrompt)
	}
	if o.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(o.MaxTurns))
	}
	if o.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}

	return args
}
