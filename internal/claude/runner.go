package claude

import (
	"context"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// sessionWaitTimeout bounds how long a launch waits for the CLI to
// report its session id. Independent of the overall operation timeout.
const sessionWaitTimeout = 5 * time.Second

// ExitResult is the terminal state of a process. SpawnErr is set when
// the binary could not be started at all; Code is the exit code
// otherwise.
type ExitResult struct {
	Code     int
	SpawnErr error
}

// Process is one live CLI invocation. Events and Stderr are closed
// when the underlying pipes drain; Done then yields exactly one
// ExitResult.
type Process interface {
	ID() string
	Events() <-chan Event
	Stderr() <-chan string
	Done() <-chan ExitResult
	Terminate()
	Kill()
	StartedAt() time.Time
}

// Launcher starts CLI processes
type Launcher struct {
	binary string
	log    *logger.Logger
}

// NewLauncher creates a launcher for the given binary name, which must
// be resolvable on PATH.
func NewLauncher(binary string, log *logger.Logger) *Launcher {
	if binary == "" {
		binary = "claude"
	}
	return &Launcher{binary: binary, log: log}
}

// Launch starts the CLI with the given prompt and waits up to
// sessionWaitTimeout for the session id carried by the first init
// event. The returned id is empty if none arrived in time. A spawn
// failure is not returned here; it surfaces as ExitResult.SpawnErr on
// the process's Done channel so callers handle it on the same path as
// any other process death.
func (l *Launcher) Launch(ctx context.Context, prompt string, opts *Options) (Process, string) {
	proc := newCLIProcess()

	args := opts.BuildArgs(prompt)
	cmd := exec.Command(l.binary, args...)
	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		proc.failSpawn(err)
		return proc, ""
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		proc.failSpawn(err)
		return proc, ""
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		proc.failSpawn(err)
		return proc, ""
	}

	if err := cmd.Start(); err != nil {
		proc.failSpawn(err)
		return proc, ""
	}

	// No input is ever sent to the CLI
	stdin.Close()

	proc.cmd = cmd
	proc.startedAt = time.Now()
	proc.readers.Add(2)

	l.log.Info("claude process started",
		zap.String("process_id", proc.id),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("work_dir", opts.WorkDir))

	go proc.readStdout(stdout, l.log)
	go proc.readStderr(stderr)
	go proc.wait()

	select {
	case sid := <-proc.sessionCh:
		return proc, sid
	case <-time.After(sessionWaitTimeout):
		return proc, ""
	case <-ctx.Done():
		return proc, ""
	}
}

type cliProcess struct {
	id        string
	cmd       *exec.Cmd
	startedAt time.Time

	events chan Event
	stderr chan string
	done   chan ExitResult

	sessionOnce sync.Once
	sessionCh   chan string

	// Wait must not run until both pipe readers have drained
	readers sync.WaitGroup
}

func newCLIProcess() *cliProcess {
	return &cliProcess{
		id:        uuid.New().String(),
		events:    make(chan Event, 64),
		stderr:    make(chan string, 16),
		done:      make(chan ExitResult, 1),
		sessionCh: make(chan string, 1),
	}
}

func (p *cliProcess) ID() string              { return p.id }
func (p *cliProcess) Events() <-chan Event    { return p.events }
func (p *cliProcess) Stderr() <-chan string   { return p.stderr }
func (p *cliProcess) Done() <-chan ExitResult { return p.done }
func (p *cliProcess) StartedAt() time.Time    { return p.startedAt }

// Terminate asks the process to exit gracefully
func (p *cliProcess) Terminate() {
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Signal(syscall.SIGTERM)
	}
}

// Kill force-stops the process
func (p *cliProcess) Kill() {
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
}

// failSpawn reports a startup failure through the normal exit path
func (p *cliProcess) failSpawn(err error) {
	close(p.events)
	close(p.stderr)
	p.done <- ExitResult{SpawnErr: err}
	close(p.done)
}

// readStdout feeds raw chunks through the stream parser and forwards
// every event, capturing the first init event's session id on the way.
func (p *cliProcess) readStdout(r interface{ Read([]byte) (int, error) }, log *logger.Logger) {
	defer p.readers.Done()
	defer close(p.events)
	// A process that dies without an init event resolves the session
	// wait immediately instead of running out the clock
	defer p.sessionOnce.Do(func() { close(p.sessionCh) })

	parser := NewStreamParser(log)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, ev := range parser.Feed(buf[:n]) {
				p.observe(ev)
				p.events <- ev
			}
		}
		if err != nil {
			for _, ev := range parser.Flush() {
				p.observe(ev)
				p.events <- ev
			}
			return
		}
	}
}

// observe resolves the session wait exactly once, on the first init
// event that carries a session id.
func (p *cliProcess) observe(ev Event) {
	if ev.Kind == KindInit && ev.SessionID != "" {
		p.sessionOnce.Do(func() {
			p.sessionCh <- ev.SessionID
		})
	}
}

func (p *cliProcess) readStderr(r interface{ Read([]byte) (int, error) }) {
	defer p.readers.Done()
	defer close(p.stderr)

	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.stderr <- string(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (p *cliProcess) wait() {
	p.readers.Wait()
	err := p.cmd.Wait()

	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if err != nil {
		code = -1
	}

	p.done <- ExitResult{Code: code}
	close(p.done)
}
