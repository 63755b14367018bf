package ws

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentdeck/agentdeck/internal/claude"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/store"
	"github.com/agentdeck/agentdeck/pkg/wire"
)

type stubProcess struct {
	id         string
	terminated atomic.Int32
	killed     atomic.Int32
}

func (s *stubProcess) ID() string                     { return s.id }
func (s *stubProcess) Events() <-chan claude.Event    { return nil }
func (s *stubProcess) Stderr() <-chan string          { return nil }
func (s *stubProcess) Done() <-chan claude.ExitResult { return nil }
func (s *stubProcess) Terminate()                     { s.terminated.Add(1) }
func (s *stubProcess) Kill()                          { s.killed.Add(1) }
func (s *stubProcess) StartedAt() time.Time           { return time.Time{} }

type stubLauncher struct {
	proc      *stubProcess
	sessionID string
	prompts   []string
}

func (l *stubLauncher) Launch(ctx context.Context, prompt string, opts *claude.Options) (claude.Process, string) {
	l.prompts = append(l.prompts, prompt)
	return l.proc, l.sessionID
}

// stubStreamer blocks inside Stream until released, then reports the
// configured result event.
type stubStreamer struct {
	started chan struct{}
	release chan struct{}
	result  *claude.Event
}

func newStubStreamer(result *claude.Event) *stubStreamer {
	return &stubStreamer{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
		result:  result,
	}
}

func (s *stubStreamer) Stream(proc claude.Process, sender claude.Sender, opID string, onComplete func(*claude.Event)) {
	s.started <- struct{}{}
	<-s.release
	if s.result != nil && onComplete != nil {
		onComplete(s.result)
	}
}

type stubHistory struct {
	entries  []wire.HistoryEntry
	lastID   string
	lastDir  string
	readErr  error
	numReads int
}

func (h *stubHistory) Read(sessionID, workDir string) ([]wire.HistoryEntry, error) {
	h.numReads++
	h.lastID = sessionID
	h.lastDir = workDir
	return h.entries, h.readErr
}

func newTestClient(userID string) *Client {
	return &Client{
		UserID: userID,
		send:   make(chan []byte, 64),
		closed: make(chan struct{}),
		log:    logger.Default(),
	}
}

// nextFrame pops one outbound frame as a generic map
func nextFrame(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case data := <-c.send:
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func expectNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected frame: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

type fixture struct {
	repo     *store.MemoryRepository
	launcher *stubLauncher
	streamer *stubStreamer
	history  *stubHistory
	co       *Coordinator
	client   *Client
	agent    *store.Agent
	project  *store.Project
}

func newFixture(t *testing.T, result *claude.Event) *fixture {
	t.Helper()
	repo := store.NewMemoryRepository()
	ctx := context.Background()

	project := &store.Project{UserID: "user-1", Name: "deck", WorkDir: "/srv/deck"}
	if err := repo.CreateProject(ctx, project); err != nil {
		t.Fatal(err)
	}
	agent := &store.Agent{UserID: "user-1", ProjectID: project.ID, Name: "builder", SystemPrompt: "be careful"}
	if err := repo.CreateAgent(ctx, agent); err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		repo:     repo,
		launcher: &stubLauncher{proc: &stubProcess{id: "proc-1"}, sessionID: "sess-new"},
		streamer: newStubStreamer(result),
		history:  &stubHistory{},
		client:   newTestClient("user-1"),
		agent:    agent,
		project:  project,
	}
	f.co = NewCoordinator(repo, f.launcher, f.streamer, f.history, claude.NewRegistry(), nil, logger.Default())
	return f
}

func (f *fixture) query(opID string) []byte {
	return []byte(`{"type":"query","prompt":"hi","sessionId":"` + opID + `","agentId":"` + f.agent.ID + `","projectId":"` + f.project.ID + `"}`)
}

func waitIdle(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.session.mu.Lock()
		idle := c.session.opID == ""
		c.session.mu.Unlock()
		if idle {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("connection never returned to idle")
}

func TestCoordinatorRejectsConcurrentQuery(t *testing.T) {
	f := newFixture(t, &claude.Event{Kind: claude.KindResult, Result: "ok"})

	f.co.HandleMessage(f.client, f.query("op-1"))
	<-f.streamer.started

	// Second query while busy is rejected without queuing
	f.co.HandleMessage(f.client, f.query("op-2"))
	frame := nextFrame(t, f.client)
	if frame["code"] != "SESSION_BUSY" {
		t.Fatalf("expected SESSION_BUSY, got %v", frame)
	}
	if frame["sessionId"] != "op-2" {
		t.Errorf("busy error should carry the rejected correlation id, got %v", frame["sessionId"])
	}

	close(f.streamer.release)
	waitIdle(t, f.client)

	// A new query is accepted once the first completes; the closed
	// release channel lets it finish immediately
	f.co.HandleMessage(f.client, f.query("op-3"))
	select {
	case <-f.streamer.started:
	case <-time.After(2 * time.Second):
		t.Fatal("expected third query to start")
	}
	waitIdle(t, f.client)
}

func TestCoordinatorCancelMismatchIsNoop(t *testing.T) {
	f := newFixture(t, nil)

	f.co.HandleMessage(f.client, f.query("op-1"))
	<-f.streamer.started

	f.co.HandleMessage(f.client, []byte(`{"type":"cancel","sessionId":"op-wrong"}`))

	if n := f.launcher.proc.terminated.Load(); n != 0 {
		t.Errorf("mismatched cancel must not terminate, got %d", n)
	}
	expectNoFrame(t, f.client)

	close(f.streamer.release)
	waitIdle(t, f.client)
}

func TestCoordinatorCancelMatching(t *testing.T) {
	f := newFixture(t, nil)

	f.co.HandleMessage(f.client, f.query("op-1"))
	<-f.streamer.started

	// Launch has already attached the process by the time Stream runs
	f.co.HandleMessage(f.client, []byte(`{"type":"cancel","sessionId":"op-1"}`))

	if n := f.launcher.proc.terminated.Load(); n != 1 {
		t.Errorf("expected exactly one terminate, got %d", n)
	}
	close(f.streamer.release)
	waitIdle(t, f.client)
}

func TestCoordinatorOwnershipLookups(t *testing.T) {
	f := newFixture(t, nil)

	f.co.HandleMessage(f.client, []byte(`{"type":"query","prompt":"hi","sessionId":"op-1","agentId":"`+f.agent.ID+`","projectId":"nope"}`))
	if frame := nextFrame(t, f.client); frame["code"] != "PROJECT_NOT_FOUND" {
		t.Fatalf("expected PROJECT_NOT_FOUND, got %v", frame)
	}

	f.co.HandleMessage(f.client, []byte(`{"type":"query","prompt":"hi","sessionId":"op-2","agentId":"nope","projectId":"`+f.project.ID+`"}`))
	if frame := nextFrame(t, f.client); frame["code"] != "AGENT_NOT_FOUND" {
		t.Fatalf("expected AGENT_NOT_FOUND, got %v", frame)
	}

	// Failed validation releases the busy slot
	f.co.HandleMessage(f.client, f.query("op-3"))
	select {
	case <-f.streamer.started:
	case <-time.After(2 * time.Second):
		t.Fatal("expected query after failed lookups to start")
	}
	close(f.streamer.release)
	waitIdle(t, f.client)
}

func TestCoordinatorPersistsNewSessionHandle(t *testing.T) {
	f := newFixture(t, &claude.Event{Kind: claude.KindResult, Result: "ok"})
	close(f.streamer.release)

	f.co.HandleMessage(f.client, f.query("op-1"))
	waitIdle(t, f.client)

	agent, err := f.repo.GetAgent(context.Background(), f.agent.ID, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if agent.ClaudeSessionID != "sess-new" {
		t.Errorf("expected persisted handle sess-new, got %q", agent.ClaudeSessionID)
	}
}

func TestCoordinatorRecordsUsageAndWarns(t *testing.T) {
	f := newFixture(t, &claude.Event{
		Kind:    claude.KindResult,
		Result:  "ok",
		CostUSD: 1.25,
		Usage:   &wire.Usage{InputTokens: 100_000, OutputTokens: 25_000},
	})
	close(f.streamer.release)

	f.co.HandleMessage(f.client, f.query("op-1"))
	waitIdle(t, f.client)

	frame := nextFrame(t, f.client)
	if frame["type"] != "token_warning" {
		t.Fatalf("expected token_warning, got %v", frame)
	}
	if frame["totalTokens"].(float64) != 125_000 {
		t.Errorf("expected totalTokens 125000, got %v", frame["totalTokens"])
	}

	agent, err := f.repo.GetAgent(context.Background(), f.agent.ID, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if agent.TotalTokens != 125_000 {
		t.Errorf("expected usage recorded, got %d", agent.TotalTokens)
	}
	if agent.TotalCostUSD != 1.25 {
		t.Errorf("expected cost recorded, got %f", agent.TotalCostUSD)
	}
}

func TestCoordinatorNoWarningBelowThreshold(t *testing.T) {
	f := newFixture(t, &claude.Event{
		Kind:  claude.KindResult,
		Usage: &wire.Usage{InputTokens: 100, OutputTokens: 50},
	})
	close(f.streamer.release)

	f.co.HandleMessage(f.client, f.query("op-1"))
	waitIdle(t, f.client)
	expectNoFrame(t, f.client)
}

func TestCoordinatorPing(t *testing.T) {
	f := newFixture(t, nil)
	f.co.HandleMessage(f.client, []byte(`{"type":"ping","timestamp":123}`))
	if frame := nextFrame(t, f.client); frame["type"] != "pong" {
		t.Fatalf("expected pong, got %v", frame)
	}
}

func TestCoordinatorMalformedMessage(t *testing.T) {
	f := newFixture(t, nil)

	f.co.HandleMessage(f.client, []byte(`{"type":"query"}`))
	if frame := nextFrame(t, f.client); frame["code"] != "INVALID_MESSAGE" {
		t.Fatalf("expected INVALID_MESSAGE, got %v", frame)
	}

	f.co.HandleMessage(f.client, []byte(`not json`))
	if frame := nextFrame(t, f.client); frame["code"] != "INVALID_MESSAGE" {
		t.Fatalf("expected INVALID_MESSAGE, got %v", frame)
	}
}

func TestCoordinatorHistoryWithoutHandle(t *testing.T) {
	f := newFixture(t, nil)

	f.co.HandleMessage(f.client, []byte(`{"type":"history","agentId":"`+f.agent.ID+`","projectId":"`+f.project.ID+`"}`))
	frame := nextFrame(t, f.client)
	if frame["type"] != "history" {
		t.Fatalf("expected history frame, got %v", frame)
	}
	msgs, ok := frame["messages"].([]any)
	if !ok || len(msgs) != 0 {
		t.Errorf("expected empty messages, got %v", frame["messages"])
	}
	if f.history.numReads != 0 {
		t.Error("expected no transcript read without a session handle")
	}
}

func TestCoordinatorHistoryWithHandle(t *testing.T) {
	f := newFixture(t, nil)
	f.history.entries = []wire.HistoryEntry{
		{ID: "u1", Role: "user", Content: "hello", Timestamp: "2026-08-30T10:00:00Z"},
	}
	if err := f.repo.UpdateAgentSession(context.Background(), f.agent.ID, "sess-old"); err != nil {
		t.Fatal(err)
	}

	f.co.HandleMessage(f.client, []byte(`{"type":"history","agentId":"`+f.agent.ID+`","projectId":"`+f.project.ID+`"}`))
	frame := nextFrame(t, f.client)
	if frame["sessionId"] != "sess-old" {
		t.Errorf("expected stored handle used, got %v", frame["sessionId"])
	}
	msgs, _ := frame["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if f.history.lastDir != "/srv/deck" {
		t.Errorf("expected project work dir passed to reader, got %s", f.history.lastDir)
	}
}

func TestCoordinatorHistoryExplicitHandleWins(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.repo.UpdateAgentSession(context.Background(), f.agent.ID, "sess-old"); err != nil {
		t.Fatal(err)
	}

	f.co.HandleMessage(f.client, []byte(`{"type":"history","agentId":"`+f.agent.ID+`","projectId":"`+f.project.ID+`","sessionId":"sess-explicit"}`))
	nextFrame(t, f.client)
	if f.history.lastID != "sess-explicit" {
		t.Errorf("expected explicit handle to win, got %s", f.history.lastID)
	}
}

func TestCoordinatorHandleCloseTerminatesInflight(t *testing.T) {
	f := newFixture(t, nil)

	f.co.HandleMessage(f.client, f.query("op-1"))
	<-f.streamer.started

	f.co.HandleClose(f.client)
	if n := f.launcher.proc.terminated.Load(); n != 1 {
		t.Errorf("expected process terminated on close, got %d", n)
	}
	close(f.streamer.release)
}
