package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteRepository provides SQLite-based storage operations
type SQLiteRepository struct {
	db *sql.DB
}

// Ensure SQLiteRepository implements Repository interface
var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a new SQLite repository
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	repo := &SQLiteRepository{db: db}

	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// initSchema creates the database tables if they don't exist
func (r *SQLiteRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		work_dir TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		system_prompt TEXT DEFAULT '',
		model TEXT DEFAULT '',
		claude_session_id TEXT DEFAULT '',
		total_tokens INTEGER DEFAULT 0,
		total_cost_usd REAL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_projects_user_id ON projects(user_id);
	CREATE INDEX IF NOT EXISTS idx_agents_user_id ON agents(user_id);
	CREATE INDEX IF NOT EXISTS idx_agents_project_id ON agents(project_id);
	`

	_, err := r.db.Exec(schema)
	return err
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// User operations

// CreateUser creates a new user
func (r *SQLiteRepository) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.ID, user.Username, user.PasswordHash, user.CreatedAt, user.UpdatedAt)
	if err != nil && isSQLiteConstraintError(err) {
		return ErrDuplicate
	}
	return err
}

// GetUserByUsername retrieves a user by username
func (r *SQLiteRepository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	user := &User{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at, updated_at
		FROM users WHERE username = ?
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return user, err
}

// GetUser retrieves a user by ID
func (r *SQLiteRepository) GetUser(ctx context.Context, id string) (*User, error) {
	user := &User{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at, updated_at
		FROM users WHERE id = ?
	`, id).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return user, err
}

// Project operations

// CreateProject creates a new project
func (r *SQLiteRepository) CreateProject(ctx context.Context, project *Project) error {
	if project.ID == "" {
		project.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	project.CreatedAt = now
	project.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects (id, user_id, name, work_dir, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, project.ID, project.UserID, project.Name, project.WorkDir, project.CreatedAt, project.UpdatedAt)
	return err
}

// GetProject retrieves a project by ID, scoped to the owning user
func (r *SQLiteRepository) GetProject(ctx context.Context, id, userID string) (*Project, error) {
	project := &Project{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, work_dir, created_at, updated_at
		FROM projects WHERE id = ? AND user_id = ?
	`, id, userID).Scan(&project.ID, &project.UserID, &project.Name, &project.WorkDir, &project.CreatedAt, &project.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return project, err
}

// ListProjects returns all projects for a user
func (r *SQLiteRepository) ListProjects(ctx context.Context, userID string) ([]*Project, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, name, work_dir, created_at, updated_at
		FROM projects WHERE user_id = ? ORDER BY created_at DESC
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
func (r *SQLiteRepository) UpdateProject(ctx context.Context, project *Project) error {
	project.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE projects SET name = ?, work_dir = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, project.Name, project.WorkDir, project.UpdatedAt, project.ID, project.UserID)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProject deletes a project by ID, scoped to the owning user
func (r *SQLiteRepository) DeleteProject(ctx context.Context, id, userID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Agent operations

// CreateAgent creates a new agent
func (r *SQLiteRepository) CreateAgent(ctx context.Context, agent *Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agents (id, user_id, project_id, name, system_prompt, model, claude_session_id, total_tokens, total_cost_usd, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, agent.ID, agent.UserID, agent.ProjectID, agent.Name, agent.SystemPrompt, agent.Model, agent.ClaudeSessionID, agent.TotalTokens, agent.TotalCostUSD, agent.CreatedAt, agent.UpdatedAt)
	return err
}

// GetAgent retrieves an agent by ID, scoped to the owning user
func (r *SQLiteRepository) GetAgent(ctx context.Context, id, userID string) (*Agent, error) {
	agent := &Agent{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, project_id, name, system_prompt, model, claude_session_id, total_tokens, total_cost_usd, created_at, updated_at
		FROM agents WHERE id = ? AND user_id = ?
	`, id, userID).Scan(&agent.ID, &agent.UserID, &agent.ProjectID, &agent.Name, &agent.SystemPrompt, &agent.Model, &agent.ClaudeSessionID, &agent.TotalTokens, &agent.TotalCostUSD, &agent.CreatedAt, &agent.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return agent, err
}

// ListAgents returns all agents for a project
func (r *SQLiteRepository) ListAgents(ctx context.Context, projectID, userID string) ([]*Agent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, project_id, name, system_prompt, model, claude_session_id, total_tokens, total_cost_usd, created_at, updated_at
		FROM agents WHERE project_id = ? AND user_id = ? ORDER BY created_at
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
func (r *SQLiteRepository) UpdateAgent(ctx context.Context, agent *Agent) error {
	agent.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE agents SET name = ?, system_prompt = ?, model = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, agent.Name, agent.SystemPrompt, agent.Model, agent.UpdatedAt, agent.ID, agent.UserID)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAgent deletes an agent by ID, scoped to the owning user
func (r *SQLiteRepository) DeleteAgent(ctx context.Context, id, userID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAgentSession updates only the stored session handle
func (r *SQLiteRepository) UpdateAgentSession(ctx context.Context, agentID, sessionID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE agents SET claude_session_id = ?, updated_at = ? WHERE id = ?
	`, sessionID, time.Now().UTC(), agentID)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// AddAgentUsage accumulates token and cost totals
func (r *SQLiteRepository) AddAgentUsage(ctx context.Context, agentID string, tokens int64, costUSD float64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE agents SET total_tokens = total_tokens + ?, total_cost_usd = total_cost_usd + ?, updated_at = ?
		WHERE id = ?
	`, tokens, costUSD, time.Now().UTC(), agentID)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func isSQLiteConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
