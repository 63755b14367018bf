package claude

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentdeck/agentdeck/pkg/wire"
)

// HistoryLimit bounds how many transcript entries a history request
// returns, newest last.
const HistoryLimit = 50

// HistoryReader loads past conversation transcripts from the CLI's
// on-disk session logs. Read-only.
type HistoryReader struct {
	baseDir string
}

// NewHistoryReader creates a reader rooted at the CLI's project log
// directory, defaulting to ~/.claude/projects.
func NewHistoryReader(baseDir string) *HistoryReader {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			baseDir = filepath.Join(home, ".claude", "projects")
		}
	}
	return &HistoryReader{baseDir: baseDir}
}

// transcriptPath resolves the session log file. The CLI names each
// project directory by replacing every path separator in the working
// directory with a dash.
func (h *HistoryReader) transcriptPath(sessionID, workDir string) string {
	project := strings.ReplaceAll(workDir, "/", "-")
	return filepath.Join(h.baseDir, project, sessionID+".jsonl")
}

// transcriptLine mirrors one record of the CLI's session log
type transcriptLine struct {
	Type      string      `json:"type"`
	UUID      string      `json:"uuid"`
	Timestamp string      `json:"timestamp"`
	Message   *logMessage `json:"message"`
}

type logMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Usage   *wire.Usage     `json:"usage"`
}

// Read returns the most recent HistoryLimit messages of a session, in
// chronological order. A missing transcript yields an empty slice, not
// an error; the session may simply never have run in this working
// directory.
func (h *HistoryReader) Read(sessionID, workDir string) ([]wire.HistoryEntry, error) {
	path := h.transcriptPath(sessionID, workDir)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer f.Close()

	var entries []wire.HistoryEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec transcriptLine
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.Message == nil || (rec.Type != "user" && rec.Type != "assistant") {
			continue
		}

		content := messageText(rec.Message.Content)
		if content == "" {
			continue
		}

		entries = append(entries, wire.HistoryEntry{
			ID:        rec.UUID,
			Role:      rec.Message.Role,
			Content:   content,
			Timestamp: rec.Timestamp,
			Usage:     rec.Message.Usage,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}

	if len(entries) > HistoryLimit {
		entries = entries[len(entries)-HistoryLimit:]
	}
	return entries, nil
}

// messageText flattens a transcript message's content, which the CLI
// stores either as a plain string or as an array of typed blocks.
func messageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []rawContent
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}
