package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record does not exist or is not owned
// by the requesting user.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when a unique constraint is violated.
var ErrDuplicate = errors.New("record already exists")

// Repository provides storage operations for users, projects and agents.
// Project and agent reads are scoped to the owning user; a lookup with
// the wrong user returns ErrNotFound, never another user's record.
type Repository interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)

	// Projects
	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, id, userID string) (*Project, error)
	ListProjects(ctx context.Context, userID string) ([]*Project, error)
	UpdateProject(ctx context.Context, project *Project) error
	DeleteProject(ctx context.Context, id, userID string) error

	// Agents
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id, userID string) (*Agent, error)
	ListAgents(ctx context.Context, projectID, userID string) ([]*Agent, error)
	UpdateAgent(ctx context.Context, agent *Agent) error
	DeleteAgent(ctx context.Context, id, userID string) error

	// UpdateAgentSession performs a partial update limited to the stored
	// session handle field.
	UpdateAgentSession(ctx context.Context, agentID, sessionID string) error

	// AddAgentUsage adds a completed operation's token and cost totals
	// to the agent's accumulated counters.
	AddAgentUsage(ctx context.Context, agentID string, tokens int64, costUSD float64) error

	Close() error
}
