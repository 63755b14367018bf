package ws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/claude"
	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/events"
	"github.com/agentdeck/agentdeck/internal/events/bus"
	"github.com/agentdeck/agentdeck/internal/store"
	"github.com/agentdeck/agentdeck/pkg/wire"
)

// TokenWarningThreshold is the cumulative token count at which an
// operation's completion gains an advisory warning frame.
const TokenWarningThreshold = 120_000

const eventSubject = "agentdeck.operations"

// Launcher starts a claude process for a prompt
type Launcher interface {
	Launch(ctx context.Context, prompt string, opts *claude.Options) (claude.Process, string)
}

// Streamer drives a process to completion against a client
type Streamer interface {
	Stream(proc claude.Process, sender claude.Sender, opID string, onComplete func(*claude.Event))
}

// HistoryReader loads stored transcripts
type HistoryReader interface {
	Read(sessionID, workDir string) ([]wire.HistoryEntry, error)
}

// Coordinator serializes operations per connection: idle, then busy
// while exactly one process runs, then idle again on any outcome.
type Coordinator struct {
	repo     store.Repository
	launcher Launcher
	streamer Streamer
	history  HistoryReader
	registry *claude.Registry
	bus      bus.EventBus
	log      *logger.Logger
}

// NewCoordinator wires the coordinator's collaborators. The event bus
// may be nil when NATS is not configured.
func NewCoordinator(repo store.Repository, launcher Launcher, streamer Streamer, history HistoryReader, registry *claude.Registry, eventBus bus.EventBus, log *logger.Logger) *Coordinator {
	return &Coordinator{
		repo:     repo,
		launcher: launcher,
		streamer: streamer,
		history:  history,
		registry: registry,
		bus:      eventBus,
		log:      log,
	}
}

// HandleMessage dispatches one inbound frame. Malformed input and
// unexpected failures are answered with error frames; the connection
// itself stays open.
func (co *Coordinator) HandleMessage(c *Client, data []byte) {
	msg, err := wire.ParseInbound(data)
	if err != nil {
		c.Send(wire.NewError(apperrors.ErrCodeInvalidMessage, err.Error(), ""))
		return
	}

	switch msg.Type {
	case wire.TypeQuery:
		co.handleQuery(c, msg)
	case wire.TypePing:
		c.Send(wire.NewPong())
	case wire.TypeCancel:
		co.handleCancel(c, msg)
	case wire.TypeHistory:
		co.handleHistory(c, msg)
	}
}

// HandleClose terminates any in-flight process when the connection
// goes away. No orphaned processes survive a closed connection.
func (co *Coordinator) HandleClose(c *Client) {
	proc, opID := c.session.take()
	if proc == nil {
		return
	}
	co.log.Info("terminating process for closed connection",
		zap.String("user_id", c.UserID),
		zap.String("operation_id", opID))
	proc.Terminate()
}

// Shutdown force-stops every tracked process across all connections
func (co *Coordinator) Shutdown() {
	co.registry.KillAll()
}

func (co *Coordinator) handleQuery(c *Client, msg *wire.Inbound) {
	if !c.session.tryBegin(msg.SessionID) {
		c.Send(wire.NewError(apperrors.ErrCodeSessionBusy,
			"a query is already running on this connection", msg.SessionID))
		return
	}

	ctx := context.Background()

	project, err := co.repo.GetProject(ctx, msg.ProjectID, c.UserID)
	if err != nil {
		c.session.clear(msg.SessionID)
		if errors.Is(err, store.ErrNotFound) {
			c.Send(wire.NewError(apperrors.ErrCodeProjectNotFound,
				fmt.Sprintf("project %s not found", msg.ProjectID), msg.SessionID))
		} else {
			co.internalError(c, msg.SessionID, "project lookup failed", err)
		}
		return
	}

	agent, err := co.repo.GetAgent(ctx, msg.AgentID, c.UserID)
	if err != nil {
		c.session.clear(msg.SessionID)
		if errors.Is(err, store.ErrNotFound) {
			c.Send(wire.NewError(apperrors.ErrCodeAgentNotFound,
				fmt.Sprintf("agent %s not found", msg.AgentID), msg.SessionID))
		} else {
			co.internalError(c, msg.SessionID, "agent lookup failed", err)
		}
		return
	}

	opts := &claude.Options{
		WorkDir:            project.WorkDir,
		ResumeSessionID:    agent.ClaudeSessionID,
		AppendSystemPrompt: agent.SystemPrompt,
		Model:              agent.Model,
		PermissionMode:     claude.PermissionAcceptEdits,
		SkipPermissions:    true,
	}

	go co.runOperation(c, msg, agent, opts)
}

// runOperation owns the busy state from launch to completion. The
// clear runs in a deferred cleanup so every path, including a panic in
// a collaborator, returns the connection to idle.
func (co *Coordinator) runOperation(c *Client, msg *wire.Inbound, agent *store.Agent, opts *claude.Options) {
	defer func() {
		if r := recover(); r != nil {
			co.log.Error("panic during operation",
				zap.String("operation_id", msg.SessionID),
				zap.Any("panic", r))
			c.Send(wire.NewError(apperrors.ErrCodeInternalError,
				"internal error while running query", msg.SessionID))
		}
		c.session.clear(msg.SessionID)
	}()

	ctx := context.Background()

	co.publish(events.OperationStarted, map[string]interface{}{
		"operation_id": msg.SessionID,
		"agent_id":     agent.ID,
		"user_id":      c.UserID,
	})

	proc, claudeSessionID := co.launcher.Launch(ctx, msg.Prompt, opts)
	c.session.setProcess(msg.SessionID, proc)

	if claudeSessionID != "" && claudeSessionID != agent.ClaudeSessionID {
		if err := co.repo.UpdateAgentSession(ctx, agent.ID, claudeSessionID); err != nil {
			co.log.Error("failed to persist session handle",
				zap.String("agent_id", agent.ID),
				zap.Error(err))
		}
	}

	var result *claude.Event
	co.streamer.Stream(proc, c, msg.SessionID, func(ev *claude.Event) {
		result = ev
	})

	if result == nil {
		co.publish(events.OperationFailed, map[string]interface{}{
			"operation_id": msg.SessionID,
			"agent_id":     agent.ID,
		})
		return
	}

	totalTokens := result.Usage.Total()
	if err := co.repo.AddAgentUsage(ctx, agent.ID, totalTokens, result.CostUSD); err != nil {
		co.log.Error("failed to record usage",
			zap.String("agent_id", agent.ID),
			zap.Error(err))
	}

	if totalTokens >= TokenWarningThreshold {
		c.Send(&wire.TokenWarning{
			Type:        wire.TypeTokenWarning,
			SessionID:   msg.SessionID,
			TotalTokens: totalTokens,
			Threshold:   TokenWarningThreshold,
			Message:     "context is getting large, consider starting a fresh session",
		})
	}

	co.publish(events.OperationCompleted, map[string]interface{}{
		"operation_id": msg.SessionID,
		"agent_id":     agent.ID,
		"tokens":       totalTokens,
		"cost_usd":     result.CostUSD,
		"is_error":     result.IsError,
	})
}

// handleCancel terminates the in-flight process only when the
// correlation id matches. A stale id is silently ignored; the
// operation it referred to may simply have finished already.
func (co *Coordinator) handleCancel(c *Client, msg *wire.Inbound) {
	proc, ok := c.session.match(msg.SessionID)
	if !ok {
		return
	}
	co.log.Info("cancelling operation",
		zap.String("user_id", c.UserID),
		zap.String("operation_id", msg.SessionID))
	if proc != nil {
		proc.Terminate()
	}
	c.session.clear(msg.SessionID)

	co.publish(events.OperationCancelled, map[string]interface{}{
		"operation_id": msg.SessionID,
		"user_id":      c.UserID,
	})
}

func (co *Coordinator) handleHistory(c *Client, msg *wire.Inbound) {
	ctx := context.Background()

	project, err := co.repo.GetProject(ctx, msg.ProjectID, c.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.Send(wire.NewError(apperrors.ErrCodeProjectNotFound,
				fmt.Sprintf("project %s not found", msg.ProjectID), ""))
		} else {
			co.internalError(c, "", "project lookup failed", err)
		}
		return
	}

	agent, err := co.repo.GetAgent(ctx, msg.AgentID, c.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.Send(wire.NewError(apperrors.ErrCodeAgentNotFound,
				fmt.Sprintf("agent %s not found", msg.AgentID), ""))
		} else {
			co.internalError(c, "", "agent lookup failed", err)
		}
		return
	}

	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = agent.ClaudeSessionID
	}

	reply := &wire.History{
		Type:      wire.TypeHistoryReply,
		AgentID:   agent.ID,
		SessionID: sessionID,
		Messages:  []wire.HistoryEntry{},
	}

	if sessionID == "" {
		c.Send(reply)
		return
	}

	entries, err := co.history.Read(sessionID, project.WorkDir)
	if err != nil {
		co.internalError(c, "", "failed to read history", err)
		return
	}
	if entries != nil {
		reply.Messages = entries
	}
	c.Send(reply)
}

func (co *Coordinator) internalError(c *Client, opID, msg string, err error) {
	co.log.Error(msg, zap.Error(err))
	c.Send(wire.NewError(apperrors.ErrCodeInternalError, msg, opID))
}

// publish emits a lifecycle event, tolerating a missing bus
func (co *Coordinator) publish(eventType string, data map[string]interface{}) {
	if co.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ev := bus.NewEvent(eventType, "agentdeck", data)
	if err := co.bus.Publish(ctx, eventSubject, ev); err != nil {
		co.log.Warn("failed to publish event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
