package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository used in tests
type MemoryRepository struct {
	mu       sync.RWMutex
	users    map[string]*User
	projects map[string]*Project
	agents   map[string]*Agent
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:    make(map[string]*User),
		projects: make(map[string]*Project),
		agents:   make(map[string]*Agent),
	}
}

func (r *MemoryRepository) Close() error { return nil }

func (r *MemoryRepository) CreateUser(ctx context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Username == user.Username {
			return ErrDuplicate
		}
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	copied := *user
	r.users[user.ID] = &copied
	return nil
}

func (r *MemoryRepository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) GetUser(ctx context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *MemoryRepository) CreateProject(ctx context.Context, project *Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if project.ID == "" {
		project.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	project.CreatedAt = now
	project.UpdatedAt = now

	copied := *project
	r.projects[project.ID] = &copied
	return nil
}

func (r *MemoryRepository) GetProject(ctx context.Context, id, userID string) (*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.projects[id]
	if !ok || p.UserID != userID {
		return nil, ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (r *MemoryRepository) ListProjects(ctx context.Context, userID string) ([]*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Project
	for _, p := range r.projects {
		if p.UserID == userID {
			copied := *p
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (r *MemoryRepository) UpdateProject(ctx context.Context, project *Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.projects[project.ID]
	if !ok || existing.UserID != project.UserID {
		return ErrNotFound
	}
	project.CreatedAt = existing.CreatedAt
	project.UpdatedAt = time.Now().UTC()

	copied := *project
	r.projects[project.ID] = &copied
	return nil
}

func (r *MemoryRepository) DeleteProject(ctx context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.projects[id]
	if !ok || p.UserID != userID {
		return ErrNotFound
	}
	delete(r.projects, id)
	for agentID, a := range r.agents {
		if a.ProjectID == id {
			delete(r.agents, agentID)
		}
	}
	return nil
}

func (r *MemoryRepository) CreateAgent(ctx context.Context, agent *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now

	copied := *agent
	r.agents[agent.ID] = &copied
	return nil
}

func (r *MemoryRepository) GetAgent(ctx context.Context, id, userID string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[id]
	if !ok || a.UserID != userID {
		return nil, ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (r *MemoryRepository) ListAgents(ctx context.Context, projectID, userID string) ([]*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Agent
	for _, a := range r.agents {
		if a.ProjectID == projectID && a.UserID == userID {
			copied := *a
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (r *MemoryRepository) UpdateAgent(ctx context.Context, agent *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.agents[agent.ID]
	if !ok || existing.UserID != agent.UserID {
		return ErrNotFound
	}
	existing.Name = agent.Name
	existing.SystemPrompt = agent.SystemPrompt
	existing.Model = agent.Model
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) DeleteAgent(ctx context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok || a.UserID != userID {
		return ErrNotFound
	}
	delete(r.agents, id)
	return nil
}

func (r *MemoryRepository) UpdateAgentSession(ctx context.Context, agentID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[agentID]
	if !ok {
		return ErrNotFound
	}
	a.ClaudeSessionID = sessionID
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) AddAgentUsage(ctx context.Context, agentID string, tokens int64, costUSD float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[agentID]
	if !ok {
		return ErrNotFound
	}
	a.TotalTokens += tokens
	a.TotalCostUSD += costUSD
	a.UpdatedAt = time.Now().UTC()
	return nil
}
