// Package api exposes the REST endpoints for accounts, projects, and
// agents. The conversation path itself runs over the WebSocket
// gateway, not these handlers.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/auth"
	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/store"
)

// TokenIssuer signs a token for an authenticated user
type TokenIssuer interface {
	IssueToken(userID, username string) (string, error)
}

// Handler holds the REST endpoint implementations
type Handler struct {
	repo   store.Repository
	tokens TokenIssuer
	log    *logger.Logger
}

// NewHandler creates the REST handler set
func NewHandler(repo store.Repository, tokens TokenIssuer, log *logger.Logger) *Handler {
	return &Handler{repo: repo, tokens: tokens, log: log}
}

// Register creates an account and returns a token for it
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperrors.BadRequest(err.Error()))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.fail(c, "failed to hash password", err)
		return
	}

	user := &store.User{Username: req.Username, PasswordHash: hash}
	if err := h.repo.CreateUser(c.Request.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			abortWithError(c, apperrors.Conflict("username already taken"))
			return
		}
		h.fail(c, "failed to create user", err)
		return
	}

	token, err := h.tokens.IssueToken(user.ID, user.Username)
	if err != nil {
		h.fail(c, "failed to issue token", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token": token,
		"user":  publicUser(user),
	})
}

// Login exchanges credentials for a token
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperrors.BadRequest(err.Error()))
		return
	}

	user, err := h.repo.GetUserByUsername(c.Request.Context(), req.Username)
	if err != nil {
		// Same response for unknown user and wrong password
		abortWithError(c, apperrors.Unauthorized("invalid credentials"))
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		abortWithError(c, apperrors.Unauthorized("invalid credentials"))
		return
	}

	token, err := h.tokens.IssueToken(user.ID, user.Username)
	if err != nil {
		h.fail(c, "failed to issue token", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  publicUser(user),
	})
}

// CreateProject registers a working directory
func (h *Handler) CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperrors.BadRequest(err.Error()))
		return
	}

	project := &store.Project{
		UserID:  userID(c),
		Name:    req.Name,
		WorkDir: req.WorkDir,
	}
	if err := h.repo.CreateProject(c.Request.Context(), project); err != nil {
		h.fail(c, "failed to create project", err)
		return
	}

	c.JSON(http.StatusCreated, project)
}

// ListProjects returns the caller's projects
func (h *Handler) ListProjects(c *gin.Context) {
	projects, err := h.repo.ListProjects(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, "failed to list projects", err)
		return
	}
	if projects == nil {
		projects = []*store.Project{}
	}
	c.JSON(http.StatusOK, projects)
}

// GetProject returns one project by id
func (h *Handler) GetProject(c *gin.Context) {
	project, err := h.repo.GetProject(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			abortWithError(c, apperrors.NotFound("project", c.Param("id")))
			return
		}
		h.fail(c, "failed to get project", err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// UpdateProject modifies a project's name or working directory
func (h *Handler) UpdateProject(c *gin.Context) {
	var req UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperrors.BadRequest(err.Error()))
		return
	}

	ctx := c.Request.Context()
	project, err := h.repo.GetProject(ctx, c.Param("id"), userID(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			abortWithError(c, apperrors.NotFound("project", c.Param("id")))
			return
		}
		h.fail(c, "failed to get project", err)
		return
	}

	if req.Name != "" {
		project.Name = req.Name
	}
	if req.WorkDir != "" {
		project.WorkDir = req.WorkDir
	}
	if err := h.repo.UpdateProject(ctx, project); err != nil {
		h.fail(c, "failed to update project", err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// DeleteProject removes a project and its agents
func (h *Handler) DeleteProject(c *gin.Context) {
	err := h.repo.DeleteProject(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			abortWithError(c, apperrors.NotFound("project", c.Param("id")))
			return
		}
		h.fail(c, "failed to delete project", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CreateAgent adds an agent to one of the caller's projects
func (h *Handler) CreateAgent(c *gin.Context) {
	var req CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperrors.BadRequest(err.Error()))
		return
	}

	ctx := c.Request.Context()

	// The project must exist and belong to the caller
	if _, err := h.repo.GetProject(ctx, req.ProjectID, userID(c)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			abortWithError(c, apperrors.NotFound("project", req.ProjectID))
			return
		}
		h.fail(c, "failed to get project", err)
		return
	}

	agent := &store.Agent{
		UserID:       userID(c),
		ProjectID:    req.ProjectID,
		Name:         req.Name,
		SystemPrompt: req.SystemPrompt,
		Model:        req.Model,
	}
	if err := h.repo.CreateAgent(ctx, agent); err != nil {
		h.fail(c, "failed to create agent", err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

// ListAgents returns the agents of one project
func (h *Handler) ListAgents(c *gin.Context) {
	agents, err := h.repo.ListAgents(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		h.fail(c, "failed to list agents", err)
		return
	}
	if agents == nil {
		agents = []*store.Agent{}
	}
	c.JSON(http.StatusOK, agents)
}

// GetAgent returns one agent by id
func (h *Handler) GetAgent(c *gin.Context) {
	agent, err := h.repo.GetAgent(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			abortWithError(c, apperrors.NotFound("agent", c.Param("id")))
			return
		}
		h.fail(c, "failed to get agent", err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// UpdateAgent modifies an agent's name, prompt, or model
func (h *Handler) UpdateAgent(c *gin.Context) {
	var req UpdateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperrors.BadRequest(err.Error()))
		return
	}

	ctx := c.Request.Context()
	agent, err := h.repo.GetAgent(ctx, c.Param("id"), userID(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			abortWithError(c, apperrors.NotFound("agent", c.Param("id")))
			return
		}
		h.fail(c, "failed to get agent", err)
		return
	}

	if req.Name != "" {
		agent.Name = req.Name
	}
	if req.SystemPrompt != "" {
		agent.SystemPrompt = req.SystemPrompt
	}
	if req.Model != "" {
		agent.Model = req.Model
	}
	if err := h.repo.UpdateAgent(ctx, agent); err != nil {
		h.fail(c, "failed to update agent", err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// DeleteAgent removes an agent
func (h *Handler) DeleteAgent(c *gin.Context) {
	err := h.repo.DeleteAgent(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			abortWithError(c, apperrors.NotFound("agent", c.Param("id")))
			return
		}
		h.fail(c, "failed to delete agent", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Health reports liveness
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	h.log.Error(msg, zap.Error(err), zap.String("path", c.Request.URL.Path))
	abortWithError(c, apperrors.InternalError(msg, err))
}

// publicUser strips credential fields from API responses
func publicUser(u *store.User) gin.H {
	return gin.H{
		"id":        u.ID,
		"username":  u.Username,
		"createdAt": u.CreatedAt,
	}
}
