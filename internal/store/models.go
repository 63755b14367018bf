// Package store provides persistence for users, projects and agents.
package store

import "time"

// User is an account that owns projects and agents
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Project maps a conversation workspace to a directory on disk
type Project struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	WorkDir   string    `json:"work_dir"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Agent is a named conversation slot within a project. ClaudeSessionID
// holds the resumable session handle issued by the CLI; TotalTokens and
// TotalCostUSD accumulate across completed operations.
type Agent struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	ProjectID       string    `json:"project_id"`
	Name            string    `json:"name"`
	SystemPrompt    string    `json:"system_prompt,omitempty"`
	Model           string    `json:"model,omitempty"`
	ClaudeSessionID string    `json:"claude_session_id,omitempty"`
	TotalTokens     int64     `json:"total_tokens"`
	TotalCostUSD    float64   `json:"total_cost_usd"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
