package proxy

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent is one dispatched server-sent event.
type sseEvent struct {
	Name string
	Data string
}

// sseStream is a pull-based iterator over a text/event-stream body.
// event: and data: lines accumulate until a blank line dispatches them.
type sseStream struct {
	r *bufio.Reader
}

func newSSEStream(r io.Reader) *sseStream {
	return &sseStream{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next blocks until one complete event is read. Returns io.EOF when the
// stream ends; a partial event at EOF is still dispatched.
func (s *sseStream) Next() (*sseEvent, error) {
	var name string
	var data strings.Builder
	pending := false

	flush := func() *sseEvent {
		if name == "" {
			// Events without an event: field are "message" per the protocol.
			name = "message"
		}
		return &sseEvent{Name: name, Data: data.String()}
	}

	for {
		line, err := s.r.ReadString('\n')
		if len(line) > 0 {
			trimmed := strings.TrimRight(line, "\r\n")
			switch {
			case trimmed == "":
				if pending {
					return flush(), nil
				}
			case strings.HasPrefix(trimmed, ":"):
				// comment / keep-alive
			case strings.HasPrefix(trimmed, "event:"):
				name = strings.TrimSpace(strings.TrimPrefix(trimmed, "event:"))
				pending = true
			case strings.HasPrefix(trimmed, "data:"):
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))
				pending = true
			}
		}
		if err != nil {
			if err == io.EOF && pending {
				return flush(), nil
			}
			return nil, err
		}
	}
}
