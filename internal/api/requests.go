package api

// RegisterRequest creates a new user account
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

// LoginRequest exchanges credentials for a token
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// CreateProjectRequest registers a working directory as a project
type CreateProjectRequest struct {
	Name    string `json:"name" binding:"required,max=128"`
	WorkDir string `json:"workDir" binding:"required"`
}

// UpdateProjectRequest modifies a project. Empty fields are left
// unchanged.
type UpdateProjectRequest struct {
	Name    string `json:"name" binding:"omitempty,max=128"`
	WorkDir string `json:"workDir"`
}

// CreateAgentRequest adds an agent to a project
type CreateAgentRequest struct {
	ProjectID    string `json:"projectId" binding:"required"`
	Name         string `json:"name" binding:"required,max=128"`
	SystemPrompt string `json:"systemPrompt"`
	Model        string `json:"model"`
}

// UpdateAgentRequest modifies an agent. Empty fields are left
// unchanged.
type UpdateAgentRequest struct {
	Name         string `json:"name" binding:"omitempty,max=128"`
	SystemPrompt string `json:"systemPrompt"`
	Model        string `json:"model"`
}
