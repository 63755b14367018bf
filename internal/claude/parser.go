package claude

import (
	"bytes"
	"strings"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// StreamParser reassembles NDJSON records from raw output chunks. The
// CLI writes one JSON record per line but the pipe delivers bytes at
// arbitrary boundaries, so a partial trailing line is buffered until
// the next chunk completes it.
type StreamParser struct {
	buf bytes.Buffer
	log *logger.Logger
}

// NewStreamParser creates a parser with an empty line buffer
func NewStreamParser(log *logger.Logger) *StreamParser {
	return &StreamParser{log: log}
}

// Feed consumes one chunk and returns the events decoded from every
// complete line it closes. Lines that fail to parse are logged and
// skipped; the CLI occasionally interleaves truncated diagnostic text
// on stdout and one bad line must not kill the stream.
func (p *StreamParser) Feed(chunk []byte) []Event {
	p.buf.Write(chunk)

	var events []Event
	for {
		data := p.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := make([]byte, idx)
		copy(line, data[:idx])
		p.buf.Next(idx + 1)

		trimmed := strings.TrimSpace(string(line))
		if trimmed == "" {
			continue
		}

		parsed, err := decodeLine([]byte(trimmed))
		if err != nil {
			if p.log != nil {
				p.log.Debug("skipping unparseable output line", zap.String("line", truncate(trimmed, 200)), zap.Error(err))
			}
			continue
		}
		events = append(events, parsed...)
	}
	return events
}

// Flush decodes whatever remains in the buffer as a final line. Called
// once after the output pipe closes.
func (p *StreamParser) Flush() []Event {
	rest := strings.TrimSpace(p.buf.String())
	p.buf.Reset()
	if rest == "" {
		return nil
	}

	parsed, err := decodeLine([]byte(rest))
	if err != nil {
		if p.log != nil {
			p.log.Debug("skipping unparseable trailing output", zap.String("line", truncate(rest, 200)), zap.Error(err))
		}
		return nil
	}
	return parsed
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
