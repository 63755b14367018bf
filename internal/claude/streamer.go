package claude

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/pkg/wire"
)

// Sender delivers one outbound frame to a client. Send reports whether
// the frame was accepted; a false return means the connection is gone
// and further sends are pointless but harmless.
type Sender interface {
	Send(v any) bool
}

// Streamer drives a live process to completion, translating its events
// into client frames. Exactly one terminal outcome reaches the client:
// a complete frame, a timeout error, an exit-code error, or a spawn
// error.
type Streamer struct {
	timeout  time.Duration
	registry *Registry
	log      *logger.Logger
}

// NewStreamer creates a streamer with the given operation timeout
func NewStreamer(timeout time.Duration, registry *Registry, log *logger.Logger) *Streamer {
	return &Streamer{timeout: timeout, registry: registry, log: log}
}

// Stream forwards every event from proc to sender, tagged with the
// client's correlation id opID, until the process exits. onComplete is
// invoked with the result event when one arrives, before the complete
// frame's terminal status is decided. Blocks until the process is done.
func (s *Streamer) Stream(proc Process, sender Sender, opID string, onComplete func(*Event)) {
	s.registry.Add(proc)
	defer func() {
		// Cleanup runs exactly once regardless of outcome
		if s.registry.Remove(proc.ID()) {
			s.log.Debug("process removed from registry", zap.String("process_id", proc.ID()))
		}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	events := proc.Events()
	stderr := proc.Stderr()

	var completed, timedOut bool

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Kind == KindResult {
				completed = true
				timer.Stop()
				if onComplete != nil {
					onComplete(&ev)
				}
			}
			s.forward(&ev, sender, opID)

		case text, ok := <-stderr:
			if !ok {
				stderr = nil
				continue
			}
			code, msg := ClassifyStderr(text)
			s.log.Warn("claude stderr",
				zap.String("process_id", proc.ID()),
				zap.String("code", code),
				zap.String("text", truncate(text, 500)))
			sender.Send(wire.NewError(code, msg, opID))

		case <-timer.C:
			if completed || timedOut {
				continue
			}
			timedOut = true
			proc.Terminate()
			seconds := int(s.timeout / time.Second)
			s.log.Warn("claude process timed out",
				zap.String("process_id", proc.ID()),
				zap.Int("timeout_seconds", seconds))
			sender.Send(wire.NewError(apperrors.ErrCodeCLITimeout,
				fmt.Sprintf("Claude CLI timed out after %d seconds", seconds), opID))

		case res := <-proc.Done():
			// Drain any events that raced with process exit
			for events != nil || stderr != nil {
				select {
				case ev, ok := <-events:
					if !ok {
						events = nil
						continue
					}
					if ev.Kind == KindResult {
						completed = true
						timer.Stop()
						if onComplete != nil {
							onComplete(&ev)
						}
					}
					s.forward(&ev, sender, opID)
				case text, ok := <-stderr:
					if !ok {
						stderr = nil
						continue
					}
					code, msg := ClassifyStderr(text)
					sender.Send(wire.NewError(code, msg, opID))
				}
			}

			s.finish(proc, res, sender, opID, completed, timedOut)
			return
		}
	}
}

// finish reports a terminal error when the process died without a
// result event.
func (s *Streamer) finish(proc Process, res ExitResult, sender Sender, opID string, completed, timedOut bool) {
	if res.SpawnErr != nil {
		s.log.Error("failed to start claude process",
			zap.String("process_id", proc.ID()),
			zap.Error(res.SpawnErr))
		sender.Send(wire.NewError(apperrors.ErrCodeSpawnFailed,
			fmt.Sprintf("failed to start claude: %v", res.SpawnErr), opID))
		return
	}

	if res.Code != 0 && !completed && !timedOut {
		s.log.Warn("claude process exited with error",
			zap.String("process_id", proc.ID()),
			zap.Int("exit_code", res.Code))
		sender.Send(wire.NewError(apperrors.ErrCodeCLIExitError,
			fmt.Sprintf("claude exited with code %d", res.Code), opID))
		return
	}

	s.log.Info("claude process finished",
		zap.String("process_id", proc.ID()),
		zap.Int("exit_code", res.Code),
		zap.Duration("elapsed", time.Since(proc.StartedAt())))
}

// forward translates one event into its client frame
func (s *Streamer) forward(ev *Event, sender Sender, opID string) {
	switch ev.Kind {
	case KindInit:
		sender.Send(&wire.Connected{
			Type:      wire.TypeConnected,
			SessionID: opID,
			ClaudeID:  ev.SessionID,
			Model:     ev.Model,
			Tools:     ev.Tools,
			WorkDir:   ev.WorkDir,
		})
	case KindText:
		sender.Send(&wire.Stream{
			Type:      wire.TypeStream,
			SessionID: opID,
			Content:   ev.Text,
			Usage:     ev.Usage,
		})
	case KindToolUse:
		sender.Send(&wire.ToolUse{
			Type:      wire.TypeToolUse,
			SessionID: opID,
			ToolID:    ev.ToolID,
			ToolName:  ev.ToolName,
			Input:     ev.ToolInput,
		})
	case KindToolResult:
		sender.Send(&wire.ToolResult{
			Type:      wire.TypeToolResult,
			SessionID: opID,
			ToolID:    ev.ToolID,
			Output:    ev.ToolOutput,
			IsError:   ev.ToolIsError,
		})
	case KindResult:
		sender.Send(&wire.Complete{
			Type:       wire.TypeComplete,
			SessionID:  opID,
			Result:     ev.Result,
			Usage:      ev.Usage,
			CostUSD:    ev.CostUSD,
			DurationMS: ev.DurationMS,
			NumTurns:   ev.NumTurns,
			IsError:    ev.IsError,
		})
	}
}
