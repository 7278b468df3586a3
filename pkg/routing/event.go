package routing

import (
	"bytes"
	"strings"
	"time"
)

// Event is a routed stanza as stored in a mailbox and streamed to subscribers.
type Event struct {
	ID        string
	Sequence  uint64
	Timestamp time.Time
	Name      string
	Data      []byte
}

// SerializeSSE converts an event to Server-Sent Events wire format.
func SerializeSSE(event *Event) []byte {
	if event == nil {
		return []byte{}
	}

	var buffer bytes.Buffer
	if event.Name != "" {
		buffer.WriteString("event: ")
		buffer.WriteString(event.Name)
		buffer.WriteString("\n")
	}
	if event.ID != "" {
		buffer.WriteString("id: ")
		buffer.WriteString(event.ID)
		buffer.WriteString("\n")
	}

	if len(event.Data) > 0 {
		for _, line := range strings.Split(string(event.Data), "\n") {
			buffer.WriteString("data: ")
			buffer.WriteString(line)
			buffer.WriteString("\n")
		}
	} else {
		// at least one data line keeps the event dispatchable
		buffer.WriteString("data: \n")
	}

	buffer.WriteString("\n")
	return buffer.Bytes()
}

// ParseSSE parses one serialized event. Unknown fields and comments are ignored.
func ParseSSE(data []byte) *Event {
	event := &Event{}
	var dataLines []string

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSuffix(line, "\r")
		field, value, ok := strings.Cut(line, ":")
		if !ok || field == "" {
			continue
		}
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			event.Name = value
		case "id":
			event.ID = value
		case "data":
			dataLines = append(dataLines, value)
		}
	}

	if len(dataLines) > 0 {
		event.Data = []byte(strings.Join(dataLines, "\n"))
	}
	return event
}
