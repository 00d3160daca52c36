package sse

import (
	"bufio"
	"io"
	"iter"
	"strings"
)

const (
	ContentType = "text/event-stream"
	DoneMarker  = "[DONE]"

	maxLineSize = 4 * 1024 * 1024
)

// Event is one parsed SSE frame. Multi-line data is joined with "\n".
type Event struct {
	Event string
	Data  string
	ID    string
}

// Read yields the events of r in order. Comments and unknown fields are
// skipped; a trailing frame without a blank line is still yielded.
func Read(r io.Reader) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

		var (
			ev      Event
			data    []string
			pending bool
		)
		flush := func() bool {
			if !pending {
				return true
			}
			ev.Data = strings.Join(data, "\n")
			out := ev
			ev, data, pending = Event{}, nil, false
			return yield(out, nil)
		}

		for scanner.Scan() {
			line := strings.TrimSuffix(scanner.Text(), "\r")
			if line == "" {
				if !flush() {
					return
				}
				continue
			}
			if strings.HasPrefix(line, ":") {
				continue
			}

			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				ev.Event = value
				pending = true
			case "data":
				data = append(data, value)
				pending = true
			case "id":
				ev.ID = value
				pending = true
			}
		}
		if err := scanner.Err(); err != nil {
			yield(Event{}, err)
			return
		}
		flush()
	}
}

// IsDone reports whether the event is the OpenAI terminal marker.
func (e Event) IsDone() bool {
	return strings.TrimSpace(e.Data) == DoneMarker
}
