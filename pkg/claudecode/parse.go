package claudecode

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// MaxLineBytes bounds a single stream-json line.
const MaxLineBytes = 1024 * 1024

// ParseLine classifies one line of CLI stdout.
//
// Framing-only events return (nil, nil) and are dropped by callers: empty
// lines, partial stream_event updates and the control request/response
// handshake (the engine runs the CLI non-interactively). A non-JSON line is
// wrapped as plain assistant text so providers that do not speak stream-json
// still stream. Malformed JSON returns an error.
func ParseLine(line []byte) (*CLIMessage, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] != '{' {
		return plainTextMessage(trimmed), nil
	}

	var msg CLIMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, fmt.Errorf("malformed stream-json line: %w", err)
	}

	switch msg.Type {
	case MessageTypeSystem, MessageTypeAssistant, MessageTypeUser, MessageTypeResult:
		msg.RawContent = append(json.RawMessage(nil), trimmed...)
		return &msg, nil
	case MessageTypeStreamEvent, MessageTypeControlRequest, MessageTypeControlResponse:
		return nil, nil
	default:
		// Unknown envelope, keep the payload as assistant content
		return plainTextMessage(trimmed), nil
	}
}

func plainTextMessage(line []byte) *CLIMessage {
	return &CLIMessage{
		Type: MessageTypeAssistant,
		Message: &AssistantMessage{
			Role:    "assistant",
			Content: []ContentBlock{{Type: "text", Text: string(line)}},
		},
		RawContent: append(json.RawMessage(nil), line...),
	}
}

// MessageHandler handles parsed messages from a CLI stream.
type MessageHandler func(msg *CLIMessage)

// Stream reads stream-json lines from a CLI's stdout and forwards parsed
// messages to a handler. Framing-only lines are dropped, malformed lines
// are logged and skipped.
type Stream struct {
	r       io.Reader
	logger  *logger.Logger
	handler MessageHandler
}

// NewStream creates a stream decoder over the CLI's stdout.
func NewStream(r io.Reader, handler MessageHandler, log *logger.Logger) *Stream {
	return &Stream{
		r:       r,
		logger:  log.WithFields(zap.String("component", "claudecode-stream")),
		handler: handler,
	}
}

// Run consumes the stream until EOF or context cancellation. Returns the
// scanner error, if any; EOF is a clean nil return.
func (s *Stream) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := ParseLine(scanner.Bytes())
		if err != nil {
			s.logger.Warn("skipping unparseable line",
				zap.Error(err),
				zap.Int("length", len(scanner.Bytes())))
			continue
		}
		if msg == nil {
			continue
		}
		if s.handler != nil {
			s.handler(msg)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read failed: %w", err)
	}
	return nil
}
