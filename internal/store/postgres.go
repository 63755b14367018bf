package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository provides pgx-based storage operations
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// Ensure PostgresRepository implements Repository interface
var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository connects to Postgres and initializes the schema
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &PostgresRepository{pool: pool}

	if err := repo.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// initSchema creates the database tables if they don't exist
func (r *PostgresRepository) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		work_dir TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		system_prompt TEXT DEFAULT '',
		model TEXT DEFAULT '',
		claude_session_id TEXT DEFAULT '',
		total_tokens BIGINT DEFAULT 0,
		total_cost_usd DOUBLE PRECISION DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_projects_user_id ON projects(user_id);
	CREATE INDEX IF NOT EXISTS idx_agents_user_id ON agents(user_id);
	CREATE INDEX IF NOT EXISTS idx_agents_project_id ON agents(project_id);
	`

	_, err := r.pool.Exec(ctx, schema)
	return err
}

// Close closes the connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// User operations

// CreateUser creates a new user
func (r *PostgresRepository) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, username, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Username, user.PasswordHash, user.CreatedAt, user.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return ErrDuplicate
	}
	return err
}

// GetUserByUsername retrieves a user by username
func (r *PostgresRepository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	user := &User{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, created_at, updated_at
		FROM users WHERE username = $1
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return user, err
}

// GetUser retrieves a user by ID
func (r *PostgresRepository) GetUser(ctx context.Context, id string) (*User, error) {
	user := &User{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, created_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return user, err
}

// Project operations

// CreateProject creates a new project
func (r *PostgresRepository) CreateProject(ctx context.Context, project *Project) error {
	if project.ID == "" {
		project.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	project.CreatedAt = now
	project.UpdatedAt = now

	_, err := r.pool.Exec(ctx, `
		INSERT INTO projects (id, user_id, name, work_dir, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, project.ID, project.UserID, project.Name, project.WorkDir, project.CreatedAt, project.UpdatedAt)
	return err
}

// GetProject retrieves a project by ID, scoped to the owning user
func (r *PostgresRepository) GetProject(ctx context.Context, id, userID string) (*Project, error) {
	project := &Project{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, name, work_dir, created_at, updated_at
		FROM projects WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&project.ID, &project.UserID, &project.Name, &project.WorkDir, &project.CreatedAt, &project.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return project, err
}

// ListProjects returns all projects for a user
func (r *PostgresRepository) ListProjects(ctx context.Context, userID string) ([]*Project, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, name, work_dir, created_at, updated_at
		FROM projects WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Project
	for rows.Next() {
		project := &Project{}
		err := rows.Scan(&project.ID, &project.UserID, &project.Name, &project.WorkDir, &project.CreatedAt, &project.UpdatedAt)
		if err != nil {
			return nil, err
		}
		result = append(result, project)
	}
	return result, rows.Err()
}

// UpdateProject updates an existing project
func (r *PostgresRepository) UpdateProject(ctx context.Context, project *Project) error {
	project.UpdatedAt = time.Now().UTC()

	tag, err := r.pool.Exec(ctx, `
		UPDATE projects SET name = $1, work_dir = $2, updated_at = $3
		WHERE id = $4 AND user_id = $5
	`, project.Name, project.WorkDir, project.UpdatedAt, project.ID, project.UserID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProject deletes a project by ID, scoped to the owning user
func (r *PostgresRepository) DeleteProject(ctx context.Context, id, userID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Agent operations

// CreateAgent creates a new agent
func (r *PostgresRepository) CreateAgent(ctx context.Context, agent *Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now

	_, err := r.pool.Exec(ctx, `
		INSERT INTO agents (id, user_id, project_id, name, system_prompt, model, claude_session_id, total_tokens, total_cost_usd, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, agent.ID, agent.UserID, agent.ProjectID, agent.Name, agent.SystemPrompt, agent.Model, agent.ClaudeSessionID, agent.TotalTokens, agent.TotalCostUSD, agent.CreatedAt, agent.UpdatedAt)
	return err
}

// GetAgent retrieves an agent by ID, scoped to the owning user
func (r *PostgresRepository) GetAgent(ctx context.Context, id, userID string) (*Agent, error) {
	agent := &Agent{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, project_id, name, system_prompt, model, claude_session_id, total_tokens, total_cost_usd, created_at, updated_at
		FROM agents WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&agent.ID, &agent.UserID, &agent.ProjectID, &agent.Name, &agent.SystemPrompt, &agent.Model, &agent.ClaudeSessionID, &agent.TotalTokens, &agent.TotalCostUSD, &agent.CreatedAt, &agent.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return agent, err
}

// ListAgents returns all agents for a project
func (r *PostgresRepository) ListAgents(ctx context.Context, projectID, userID string) ([]*Agent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, project_id, name, system_prompt, model, claude_session_id, total_tokens, total_cost_usd, created_at, updated_at
		FROM agents WHERE project_id = $1 AND user_id = $2 ORDER BY created_at
	`, projectID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Agent
	for rows.Next() {
		agent := &Agent{}
		err := rows.Scan(&agent.ID, &agent.UserID, &agent.ProjectID, &agent.Name, &agent.SystemPrompt, &agent.Model, &agent.ClaudeSessionID, &agent.TotalTokens, &agent.TotalCostUSD, &agent.CreatedAt, &agent.UpdatedAt)
		if err != nil {
			return nil, err
		}
		result = append(result, agent)
	}
	return result, rows.Err()
}

// UpdateAgent updates an existing agent
func (r *PostgresRepository) UpdateAgent(ctx context.Context, agent *Agent) error {
	agent.UpdatedAt = time.Now().UTC()

	tag, err := r.pool.Exec(ctx, `
		UPDATE agents SET name = $1, system_prompt = $2, model = $3, updated_at = $4
		WHERE id = $5 AND user_id = $6
	`, agent.Name, agent.SystemPrompt, agent.Model, agent.UpdatedAt, agent.ID, agent.UserID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAgent deletes an agent by ID, scoped to the owning user
func (r *PostgresRepository) DeleteAgent(ctx context.Context, id, userID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAgentSession updates only the stored session handle
func (r *PostgresRepository) UpdateAgentSession(ctx context.Context, agentID, sessionID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE agents SET claude_session_id = $1, updated_at = $2 WHERE id = $3
	`, sessionID, time.Now().UTC(), agentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddAgentUsage accumulates token and cost totals
func (r *PostgresRepository) AddAgentUsage(ctx context.Context, agentID string, tokens int64, costUSD float64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE agents SET total_tokens = total_tokens + $1, total_cost_usd = total_cost_usd + $2, updated_at = $3
		WHERE id = $4
	`, tokens, costUSD, time.Now().UTC(), agentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
